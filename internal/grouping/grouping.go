// Package grouping splits a roster into randomly shuffled teams of a target
// size and names each team, falling back to local labels whenever the naming
// service cannot help.
package grouping

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"huddle/internal/domain"
)

// ErrInvalidGroupSize is returned when the group size is below one or there is
// nobody to group.
var ErrInvalidGroupSize = errors.New("invalid group size")

// Namer is the naming collaborator. Implementations may fail; the engine
// always recovers with fallback text.
type Namer interface {
	TeamNames(ctx context.Context, count int) ([]string, error)
	IceBreaker(ctx context.Context, names []string) (string, error)
}

// Shuffler permutes n elements. *rand.Rand from math/rand/v2 satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

const DefaultTimeout = 15 * time.Second

type Engine struct {
	Namer   Namer
	Rand    Shuffler
	Labels  Labels
	Timeout time.Duration
	Logger  *slog.Logger
	// OnFallback is called with the naming op each time fallback text is used.
	OnFallback func(op string)
}

func New(namer Namer, labels Labels) *Engine {
	return &Engine{
		Namer:   namer,
		Rand:    globalShuffler{},
		Labels:  labels,
		Timeout: DefaultTimeout,
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) fellBack(op string, err error) {
	e.logger().Warn("naming service unavailable, using fallback", "op", op, "error", err)
	if e.OnFallback != nil {
		e.OnFallback(op)
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Timeout)
}

// Group shuffles participants, cuts them into ceil(n/size) contiguous chunks
// and names each chunk. Only the last chunk may be short.
func (e *Engine) Group(ctx context.Context, participants []domain.Participant, size int) ([]domain.Group, error) {
	if len(participants) == 0 || size < 1 {
		return nil, ErrInvalidGroupSize
	}
	shuffler := e.Rand
	if shuffler == nil {
		shuffler = globalShuffler{}
	}
	chunks := Partition(Shuffle(shuffler, participants), size)
	labels := e.teamNames(ctx, len(chunks))

	groups := make([]domain.Group, len(chunks))
	for i, chunk := range chunks {
		groups[i] = domain.Group{ID: i + 1, Name: labels[i], Members: chunk}
	}
	e.logger().Debug("grouping complete", "participants", len(participants), "size", size, "groups", len(groups))
	return groups, nil
}

// teamNames always returns exactly count labels.
func (e *Engine) teamNames(ctx context.Context, count int) []string {
	var got []string
	if e.Namer != nil {
		callCtx, cancel := e.callContext(ctx)
		names, err := e.Namer.TeamNames(callCtx, count)
		cancel()
		if err != nil {
			e.fellBack("team_names", err)
		} else {
			got = names
		}
	}
	labels := make([]string, count)
	missing := 0
	for i := range labels {
		if i < len(got) {
			if name := strings.TrimSpace(got[i]); name != "" {
				labels[i] = name
				continue
			}
		}
		labels[i] = e.Labels.Group(i)
		missing++
	}
	if got != nil && missing > 0 {
		e.logger().Info("naming service returned too few labels", "want", count, "missing", missing)
	}
	return labels
}

// IceBreaker asks for a prompt for one group's members and returns the local
// fallback on any failure.
func (e *Engine) IceBreaker(ctx context.Context, members []string) string {
	if e.Namer == nil {
		return e.Labels.IceBreaker()
	}
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	text, err := e.Namer.IceBreaker(callCtx, members)
	if err == nil {
		text = strings.TrimSpace(text)
	}
	if err != nil || text == "" {
		if err == nil {
			err = errors.New("empty ice breaker")
		}
		e.fellBack("ice_breaker", err)
		return e.Labels.IceBreaker()
	}
	return text
}

const iceBreakerConcurrency = 4

// IceBreakers fetches one ice breaker per group, a few at a time. The result
// is index-aligned with groups.
func (e *Engine) IceBreakers(ctx context.Context, groups []domain.Group) []string {
	out := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(iceBreakerConcurrency)
	for i, grp := range groups {
		g.Go(func() error {
			out[i] = e.IceBreaker(gctx, grp.MemberNames())
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Shuffle returns a uniformly permuted copy of participants.
func Shuffle(r Shuffler, participants []domain.Participant) []domain.Participant {
	out := append([]domain.Participant(nil), participants...)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Partition cuts ps into contiguous chunks of size; the last chunk holds the
// remainder. size must be at least 1.
func Partition(ps []domain.Participant, size int) [][]domain.Participant {
	if size < 1 || len(ps) == 0 {
		return nil
	}
	count := (len(ps) + size - 1) / size
	chunks := make([][]domain.Participant, 0, count)
	for start := 0; start < len(ps); start += size {
		end := min(start+size, len(ps))
		chunks = append(chunks, ps[start:end:end])
	}
	return chunks
}
