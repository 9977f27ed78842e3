package grouping_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/grouping"
	"huddle/internal/naming"
)

type stubNamer struct {
	names    []string
	err      error
	ice      string
	iceErr   error
	mu       sync.Mutex
	requests []int
}

func (s *stubNamer) TeamNames(ctx context.Context, count int) ([]string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, count)
	s.mu.Unlock()
	return s.names, s.err
}

func (s *stubNamer) IceBreaker(ctx context.Context, names []string) (string, error) {
	return s.ice, s.iceErr
}

type slowNamer struct{}

func (slowNamer) TeamNames(ctx context.Context, count int) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowNamer) IceBreaker(ctx context.Context, names []string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func people(n int) []domain.Participant {
	out := make([]domain.Participant, n)
	for i := range out {
		out[i] = domain.Participant{ID: fmt.Sprintf("id-%d", i), Name: fmt.Sprintf("P%d", i)}
	}
	return out
}

func newEngine(n grouping.Namer, seed uint64) *grouping.Engine {
	e := grouping.New(n, grouping.NewLabels("en"))
	e.Rand = rand.New(rand.NewPCG(seed, seed^0x5eed))
	return e
}

func TestGroupPartitionProperties(t *testing.T) {
	for n := 1; n <= 17; n++ {
		for s := 1; s <= 7; s++ {
			e := newEngine(naming.Offline{}, uint64(n*100+s))
			ps := people(n)
			groups, err := e.Group(context.Background(), ps, s)
			require.NoError(t, err)
			require.Len(t, groups, (n+s-1)/s, "n=%d s=%d", n, s)

			var all []domain.Participant
			for i, g := range groups {
				assert.Equal(t, i+1, g.ID)
				assert.NotEmpty(t, g.Members)
				if i < len(groups)-1 {
					assert.Len(t, g.Members, s)
				} else {
					assert.LessOrEqual(t, len(g.Members), s)
				}
				all = append(all, g.Members...)
			}
			assert.ElementsMatch(t, ps, all, "n=%d s=%d", n, s)
		}
	}
}

func TestGroupFiveByTwo(t *testing.T) {
	e := newEngine(naming.Offline{}, 1)
	groups, err := e.Group(context.Background(), people(5), 2)
	require.NoError(t, err)
	var sizes []int
	for _, g := range groups {
		sizes = append(sizes, len(g.Members))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestGroupSizeLargerThanRoster(t *testing.T) {
	e := newEngine(naming.Offline{}, 1)
	groups, err := e.Group(context.Background(), people(3), 10)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 3)
}

func TestGroupRejectsEmptyAndBadSize(t *testing.T) {
	e := newEngine(naming.Offline{}, 1)
	groups, err := e.Group(context.Background(), nil, 3)
	assert.ErrorIs(t, err, grouping.ErrInvalidGroupSize)
	assert.Nil(t, groups)

	_, err = e.Group(context.Background(), people(3), 0)
	assert.ErrorIs(t, err, grouping.ErrInvalidGroupSize)
}

func TestGroupNamesFallBackWhenServiceFails(t *testing.T) {
	namer := &stubNamer{err: &naming.ServiceError{Op: naming.OpTeamNames, Err: errors.New("down")}}
	e := newEngine(namer, 1)
	var fallbacks []string
	e.OnFallback = func(op string) { fallbacks = append(fallbacks, op) }

	groups, err := e.Group(context.Background(), people(6), 2)
	require.NoError(t, err)
	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"Group 1", "Group 2", "Group 3"}, names)
	assert.Equal(t, []int{3}, namer.requests)
	assert.Equal(t, []string{"team_names"}, fallbacks)
}

func TestGroupNamesFallBackPerSlot(t *testing.T) {
	namer := &stubNamer{names: []string{"Rockets", "  ", "Owls", "Extra", "More"}}
	e := newEngine(namer, 2)
	groups, err := e.Group(context.Background(), people(7), 2)
	require.NoError(t, err)
	require.Len(t, groups, 4)
	assert.Equal(t, "Rockets", groups[0].Name)
	assert.Equal(t, "Group 2", groups[1].Name)
	assert.Equal(t, "Owls", groups[2].Name)
	assert.Equal(t, "Extra", groups[3].Name)

	short := &stubNamer{names: []string{"Solo"}}
	groups, err = newEngine(short, 3).Group(context.Background(), people(6), 2)
	require.NoError(t, err)
	assert.Equal(t, "Solo", groups[0].Name)
	assert.Equal(t, "Group 2", groups[1].Name)
	assert.Equal(t, "Group 3", groups[2].Name)
}

func TestGroupDoesNotBlockOnSlowNamer(t *testing.T) {
	e := newEngine(slowNamer{}, 1)
	e.Timeout = 20 * time.Millisecond
	start := time.Now()
	groups, err := e.Group(context.Background(), people(4), 2)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "Group 1", groups[0].Name)
	assert.Equal(t, e.Labels.IceBreaker(), e.IceBreaker(context.Background(), []string{"A"}))
}

func TestLocalizedFallbackLabels(t *testing.T) {
	zh := grouping.NewLabels("zh-TW")
	assert.Equal(t, "第 1 組", zh.Group(0))
	assert.Equal(t, "Group 3", grouping.NewLabels("").Group(2))
	assert.Equal(t, "Group 1", grouping.NewLabels("not a locale!").Group(0))
	assert.Equal(t, "Share a fun fact about yourself!", grouping.NewLabels("en").IceBreaker())
}

func TestIceBreaker(t *testing.T) {
	ok := &stubNamer{ice: " Name your dream holiday. "}
	assert.Equal(t, "Name your dream holiday.", newEngine(ok, 1).IceBreaker(context.Background(), []string{"A"}))

	failing := &stubNamer{iceErr: errors.New("quota")}
	assert.Equal(t, "Share a fun fact about yourself!", newEngine(failing, 1).IceBreaker(context.Background(), []string{"A"}))

	blank := &stubNamer{ice: "  "}
	assert.Equal(t, "Share a fun fact about yourself!", newEngine(blank, 1).IceBreaker(context.Background(), []string{"A"}))
}

func TestIceBreakersAlignWithGroups(t *testing.T) {
	e := newEngine(&stubNamer{ice: "Two truths and a lie"}, 1)
	groups, err := e.Group(context.Background(), people(9), 2)
	require.NoError(t, err)
	texts := e.IceBreakers(context.Background(), groups)
	require.Len(t, texts, len(groups))
	for _, text := range texts {
		assert.Equal(t, "Two truths and a lie", text)
	}
}

func TestPartitionAndShuffle(t *testing.T) {
	assert.Nil(t, grouping.Partition(nil, 3))
	assert.Nil(t, grouping.Partition(people(3), 0))
	chunks := grouping.Partition(people(5), 2)
	assert.Equal(t, [][]domain.Participant{people(5)[0:2], people(5)[2:4], people(5)[4:5]}, chunks)

	ps := people(10)
	shuffled := grouping.Shuffle(rand.New(rand.NewPCG(1, 2)), ps)
	assert.ElementsMatch(t, ps, shuffled)
	assert.Equal(t, people(10), ps, "input must not be modified")
}
