package draw

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/domain"
)

// ErrDrawInProgress is returned when a spin is requested while another one on
// the same reel has not settled yet.
var ErrDrawInProgress = errors.New("draw already in progress")

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSpinning Phase = "spinning"
	PhaseSettled  Phase = "settled"
)

// Frame is one step of the reel animation. While spinning, Candidate is only
// for display; the settled frame carries the real winner.
type Frame struct {
	Phase     Phase              `json:"phase" enum:"idle,spinning,settled"`
	Tick      int                `json:"tick"`
	Ticks     int                `json:"ticks"`
	Candidate domain.Participant `json:"candidate"`
}

// Scheduler paces the reel between frames.
type Scheduler interface {
	Wait(ctx context.Context) error
}

// IntervalScheduler waits a fixed interval per tick.
type IntervalScheduler struct {
	Interval time.Duration
}

func (s IntervalScheduler) Wait(ctx context.Context) error {
	if s.Interval <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InstantScheduler never waits.
type InstantScheduler struct{}

func (InstantScheduler) Wait(ctx context.Context) error { return ctx.Err() }

const (
	DefaultTicks    = 25
	DefaultInterval = 80 * time.Millisecond
)

// Reel runs the idle -> spinning -> settled sequence around a single
// authoritative Engine.Draw. Spinning frames cycle through a snapshot of the
// pool and never touch engine state.
type Reel struct {
	engine    *Engine
	scheduler Scheduler
	ticks     int

	busy  atomic.Bool
	mu    sync.Mutex
	phase Phase
}

func NewReel(e *Engine, s Scheduler, ticks int) *Reel {
	if s == nil {
		s = InstantScheduler{}
	}
	return &Reel{engine: e, scheduler: s, ticks: ticks, phase: PhaseIdle}
}

func (r *Reel) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Reel) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

// Spin animates and then draws. onFrame may be nil. If ctx is cancelled before
// the final tick nothing is drawn and the reel returns to idle.
func (r *Reel) Spin(ctx context.Context, onFrame func(Frame)) (domain.Participant, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return domain.Participant{}, ErrDrawInProgress
	}
	defer r.busy.Store(false)
	if onFrame == nil {
		onFrame = func(Frame) {}
	}

	snapshot := r.engine.Pool()
	if len(snapshot) == 0 {
		return domain.Participant{}, ErrEmptyPool
	}

	r.setPhase(PhaseSpinning)
	for tick := 0; tick < r.ticks; tick++ {
		if tick > 0 {
			if err := r.scheduler.Wait(ctx); err != nil {
				r.setPhase(PhaseIdle)
				return domain.Participant{}, err
			}
		}
		onFrame(Frame{
			Phase:     PhaseSpinning,
			Tick:      tick + 1,
			Ticks:     r.ticks,
			Candidate: snapshot[tick%len(snapshot)],
		})
	}
	if err := ctx.Err(); err != nil {
		r.setPhase(PhaseIdle)
		return domain.Participant{}, err
	}

	winner, err := r.engine.Draw()
	if err != nil {
		r.setPhase(PhaseIdle)
		return domain.Participant{}, err
	}
	r.setPhase(PhaseSettled)
	onFrame(Frame{Phase: PhaseSettled, Tick: r.ticks, Ticks: r.ticks, Candidate: winner})
	return winner, nil
}

// DrawNow draws without animation. It shares the in-flight guard with Spin so
// an instant draw cannot land in the middle of a spin.
func (r *Reel) DrawNow() (domain.Participant, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return domain.Participant{}, ErrDrawInProgress
	}
	defer r.busy.Store(false)
	winner, err := r.engine.Draw()
	if err != nil {
		return domain.Participant{}, err
	}
	r.setPhase(PhaseSettled)
	return winner, nil
}

// Idle returns the reel to its resting phase, e.g. after a reset.
func (r *Reel) Idle() {
	if r.busy.Load() {
		return
	}
	r.setPhase(PhaseIdle)
}
