// Package session keeps draw and grouping sessions in memory for the API
// server. Sessions live as long as the process; the audit log is write-only.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"huddle/internal/domain"
	"huddle/internal/draw"
	"huddle/internal/events"
	"huddle/internal/grouping"
	"huddle/internal/metrics"
	"huddle/internal/roster"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrGroupNotFound = errors.New("group not found")
)

const defaultActor = "local-user"

type Options struct {
	Grouping  *grouping.Engine
	Events    events.Writer
	Metrics   *metrics.Metrics
	Scheduler draw.Scheduler
	Ticks     int
	Logger    *slog.Logger
	Now       func() time.Time
	// NewRand builds the draw randomness for each session. Nil uses math/rand/v2.
	NewRand func() draw.Rand
}

type Manager struct {
	opts     Options
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Session is one roster with its draw state and latest grouping.
type Session struct {
	id     string
	mu     sync.Mutex
	roster []domain.Participant
	dupes  []string
	engine *draw.Engine
	reel   *draw.Reel
	groups []domain.Group

	createdAt time.Time
	updatedAt time.Time
}

func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Scheduler == nil {
		opts.Scheduler = draw.IntervalScheduler{Interval: draw.DefaultInterval}
	}
	if opts.Ticks < 0 {
		opts.Ticks = 0
	}
	if opts.Grouping == nil {
		opts.Grouping = grouping.New(nil, grouping.NewLabels(""))
	}
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

func (m *Manager) logger() *slog.Logger {
	if m.opts.Logger != nil {
		return m.opts.Logger
	}
	return slog.Default()
}

// record writes to the audit log. Failures are logged and never surface to
// the caller.
func (m *Manager) record(ctx context.Context, evtType, sessionID, entityKind, entityID string, payload events.EventPayload) {
	if err := m.opts.Events.Record(ctx, evtType, sessionID, entityKind, entityID, defaultActor, payload); err != nil {
		m.logger().Warn("audit log write failed", "type", evtType, "session", sessionID, "error", err)
	}
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) newEngine(ps []domain.Participant, allowRepeat bool) *draw.Engine {
	opts := []draw.Option{draw.WithRepeat(allowRepeat)}
	if m.opts.NewRand != nil {
		opts = append(opts, draw.WithRand(m.opts.NewRand()))
	}
	return draw.New(ps, opts...)
}

// Create builds a session from raw names. Duplicate names are kept and
// reported.
func (m *Manager) Create(ctx context.Context, names []string, allowRepeat bool) (domain.SessionInfo, error) {
	ps := roster.Participants(names)
	now := m.opts.Now().UTC()
	s := &Session{
		id:        uuid.NewString(),
		roster:    ps,
		dupes:     roster.Duplicates(roster.Names(ps)),
		engine:    m.newEngine(ps, allowRepeat),
		createdAt: now,
		updatedAt: now,
	}
	s.reel = draw.NewReel(s.engine, m.opts.Scheduler, m.opts.Ticks)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.record(ctx, events.SessionCreated, s.id, "session", s.id, events.EventPayload{
		"participants": len(ps),
		"allow_repeat": allowRepeat,
	})
	if len(s.dupes) > 0 {
		m.logger().Warn("duplicate names in roster", "session", s.id, "names", s.dupes)
	}
	return s.info(), nil
}

func (m *Manager) Get(id string) (domain.SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []domain.SessionInfo {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()
	out := make([]domain.SessionInfo, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.record(ctx, events.SessionDeleted, id, "session", id, nil)
	return nil
}

// ReplaceRoster swaps the participant set. Pool and history are reinitialised
// and the previous grouping is dropped.
func (m *Manager) ReplaceRoster(ctx context.Context, id string, names []string) (domain.SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.mu.Lock()
	if s.reel.Phase() == draw.PhaseSpinning {
		s.mu.Unlock()
		return domain.SessionInfo{}, draw.ErrDrawInProgress
	}
	s.roster = roster.Participants(names)
	s.dupes = roster.Duplicates(roster.Names(s.roster))
	s.engine.Initialize(s.roster)
	s.reel.Idle()
	s.groups = nil
	s.updatedAt = m.opts.Now().UTC()
	info := s.info()
	s.mu.Unlock()

	m.record(ctx, events.RosterReplaced, id, "session", id, events.EventPayload{"participants": len(info.Roster)})
	return info, nil
}

func (m *Manager) SetRepeat(ctx context.Context, id string, allowed bool) (domain.SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.mu.Lock()
	s.engine.SetRepeatAllowed(allowed)
	s.updatedAt = m.opts.Now().UTC()
	info := s.info()
	s.mu.Unlock()

	m.record(ctx, events.SettingsChanged, id, "session", id, events.EventPayload{"allow_repeat": allowed})
	return info, nil
}

// Draw picks a winner without animation.
func (m *Manager) Draw(ctx context.Context, id string) (domain.Participant, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.Participant{}, err
	}
	winner, err := s.reel.DrawNow()
	return m.afterDraw(ctx, s, winner, err, metrics.ModeInstant)
}

// Spin runs the reel, calling onFrame for every frame, and returns the winner.
// The session lock is not held while spinning so reads stay responsive.
func (m *Manager) Spin(ctx context.Context, id string, onFrame func(draw.Frame)) (domain.Participant, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.Participant{}, err
	}
	winner, err := s.reel.Spin(ctx, onFrame)
	return m.afterDraw(ctx, s, winner, err, metrics.ModeSpin)
}

func (m *Manager) afterDraw(ctx context.Context, s *Session, winner domain.Participant, err error, mode string) (domain.Participant, error) {
	if err != nil {
		if errors.Is(err, draw.ErrEmptyPool) {
			m.opts.Metrics.ObserveEmptyPool()
		}
		return domain.Participant{}, err
	}
	s.mu.Lock()
	s.updatedAt = m.opts.Now().UTC()
	remaining := s.engine.PoolSize()
	s.mu.Unlock()

	m.opts.Metrics.ObserveDraw(mode)
	m.record(ctx, events.DrawCompleted, s.id, "participant", winner.ID, events.EventPayload{
		"name":      winner.Name,
		"mode":      mode,
		"remaining": remaining,
	})
	m.logger().Info("draw completed", "session", s.id, "winner", winner.Name, "mode", mode, "remaining", remaining)
	return winner, nil
}

// Reset restores the full roster to the pool and clears history.
func (m *Manager) Reset(ctx context.Context, id string) (domain.SessionInfo, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.mu.Lock()
	if s.reel.Phase() == draw.PhaseSpinning {
		s.mu.Unlock()
		return domain.SessionInfo{}, draw.ErrDrawInProgress
	}
	s.engine.Reset(s.roster)
	s.reel.Idle()
	s.updatedAt = m.opts.Now().UTC()
	info := s.info()
	s.mu.Unlock()

	m.record(ctx, events.DrawReset, id, "session", id, events.EventPayload{"pool_size": info.PoolSize})
	return info, nil
}

// Group partitions the full roster and replaces the session's groups. When
// withIceBreakers is set each group also gets a prompt.
func (m *Manager) Group(ctx context.Context, id string, size int, withIceBreakers bool) ([]domain.Group, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	ps := append([]domain.Participant(nil), s.roster...)
	s.mu.Unlock()

	groups, err := m.opts.Grouping.Group(ctx, ps, size)
	if err != nil {
		return nil, err
	}
	if withIceBreakers {
		for i, text := range m.opts.Grouping.IceBreakers(ctx, groups) {
			groups[i].IceBreaker = text
		}
	}

	s.mu.Lock()
	s.groups = groups
	s.updatedAt = m.opts.Now().UTC()
	s.mu.Unlock()

	m.opts.Metrics.ObserveGrouping()
	m.record(ctx, events.GroupingCompleted, id, "session", id, events.EventPayload{
		"size":         size,
		"groups":       len(groups),
		"participants": len(ps),
	})
	return cloneGroups(groups), nil
}

// Groups returns the latest grouping.
func (m *Manager) Groups(id string) ([]domain.Group, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGroups(s.groups), nil
}

// IceBreaker generates a prompt for one group of the latest grouping and
// stores it on the group.
func (m *Manager) IceBreaker(ctx context.Context, id string, groupID int) (domain.Group, error) {
	s, err := m.get(id)
	if err != nil {
		return domain.Group{}, err
	}
	s.mu.Lock()
	idx := -1
	for i, g := range s.groups {
		if g.ID == groupID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return domain.Group{}, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
	}
	names := s.groups[idx].MemberNames()
	s.mu.Unlock()

	text := m.opts.Grouping.IceBreaker(ctx, names)

	s.mu.Lock()
	// The grouping may have been replaced while the prompt was generated.
	if idx >= len(s.groups) || s.groups[idx].ID != groupID {
		s.mu.Unlock()
		return domain.Group{}, fmt.Errorf("%w: %d", ErrGroupNotFound, groupID)
	}
	s.groups[idx].IceBreaker = text
	g := cloneGroups(s.groups[idx : idx+1])[0]
	s.mu.Unlock()

	m.record(ctx, events.IceBreakerGenerated, id, "group", fmt.Sprintf("%d", groupID), events.EventPayload{"text": text})
	return g, nil
}

// info must be called with s.mu held.
func (s *Session) info() domain.SessionInfo {
	info := domain.SessionInfo{
		ID:          s.id,
		AllowRepeat: s.engine.RepeatAllowed(),
		Roster:      append([]domain.Participant{}, s.roster...),
		Pool:        s.engine.Pool(),
		PoolSize:    s.engine.PoolSize(),
		History:     s.engine.History(),
		Groups:      cloneGroups(s.groups),
		Duplicates:  append([]string(nil), s.dupes...),
		CreatedAt:   s.createdAt.Format(time.RFC3339Nano),
		UpdatedAt:   s.updatedAt.Format(time.RFC3339Nano),
	}
	if last, ok := s.engine.Last(); ok {
		info.LastWinner = &last
	}
	if info.Pool == nil {
		info.Pool = []domain.Participant{}
	}
	if info.History == nil {
		info.History = []domain.Participant{}
	}
	return info
}

func cloneGroups(in []domain.Group) []domain.Group {
	out := make([]domain.Group, len(in))
	for i, g := range in {
		g.Members = append([]domain.Participant(nil), g.Members...)
		out[i] = g
	}
	return out
}
