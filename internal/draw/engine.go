// Package draw implements the prize draw: a pool of candidates, one uniform
// pick per draw, optional removal of the winner, and a most-recent-first
// history of winners.
package draw

import (
	"errors"
	"math/rand/v2"
	"sync"

	"huddle/internal/domain"
)

// ErrEmptyPool is returned by Draw when no candidates remain.
var ErrEmptyPool = errors.New("pool is empty")

// Rand is the random source used for the authoritative pick.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Engine holds one draw session. All methods are safe for concurrent use, but
// callers are expected to serialise draws (see Reel).
type Engine struct {
	mu            sync.Mutex
	pool          []domain.Participant
	history       []domain.Participant
	repeatAllowed bool
	rand          Rand
}

type Option func(*Engine)

// WithRand overrides the random source.
func WithRand(r Rand) Option {
	return func(e *Engine) { e.rand = r }
}

// WithRepeat sets whether drawn participants stay in the pool.
func WithRepeat(allowed bool) Option {
	return func(e *Engine) { e.repeatAllowed = allowed }
}

func New(participants []domain.Participant, opts ...Option) *Engine {
	e := &Engine{rand: globalRand{}}
	for _, opt := range opts {
		opt(e)
	}
	e.Initialize(participants)
	return e
}

// Initialize replaces the pool with a copy of participants and clears history.
func (e *Engine) Initialize(participants []domain.Participant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool = append([]domain.Participant(nil), participants...)
	e.history = nil
}

// Reset is Initialize under the name the UI uses.
func (e *Engine) Reset(participants []domain.Participant) {
	e.Initialize(participants)
}

// Draw picks one participant uniformly from the pool, records it at the front
// of the history and, unless repeats are allowed, removes it from the pool.
func (e *Engine) Draw() (domain.Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pool) == 0 {
		return domain.Participant{}, ErrEmptyPool
	}
	winner := e.pool[e.rand.IntN(len(e.pool))]
	e.history = append([]domain.Participant{winner}, e.history...)
	if !e.repeatAllowed {
		e.pool = removeByID(e.pool, winner.ID)
	}
	return winner, nil
}

func removeByID(pool []domain.Participant, id string) []domain.Participant {
	out := pool[:0:0]
	for _, p := range pool {
		if p.ID == id {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) SetRepeatAllowed(allowed bool) {
	e.mu.Lock()
	e.repeatAllowed = allowed
	e.mu.Unlock()
}

func (e *Engine) RepeatAllowed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repeatAllowed
}

// Pool returns a copy of the remaining candidates.
func (e *Engine) Pool() []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Participant(nil), e.pool...)
}

func (e *Engine) PoolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pool)
}

// History returns a copy of the winners, most recent first.
func (e *Engine) History() []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Participant(nil), e.history...)
}

// Last returns the most recent winner.
func (e *Engine) Last() (domain.Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return domain.Participant{}, false
	}
	return e.history[0], true
}
