package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler is a single-threaded, cooperative event loop. spec.md §5
// gives each control-plane component its own loop, communicating with
// the rest of the node only by message passing; Scheduler is that loop,
// generalized from the teacher's node-wide Env.Dispatch/RepeatTask into
// a per-component primitive. All state a component owns must only be
// touched from functions dispatched through this Scheduler.
type Scheduler struct {
	// Clock is a benbjohnson/clock.Clock so tests can advance timers
	// deterministically instead of racing against wall time.
	Clock  clock.Clock
	Log    *slog.Logger
	Ctx    context.Context
	Cancel context.CancelCauseFunc

	dispatch chan func()
	drained  chan struct{}
}

// NewScheduler starts the event loop goroutine and returns the handle.
// Callers must call Stop to drain and release it.
func NewScheduler(ctx context.Context, log *slog.Logger, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	loopCtx, cancel := context.WithCancelCause(ctx)
	s := &Scheduler{
		Clock:    clk,
		Log:      log,
		Ctx:      loopCtx,
		Cancel:   cancel,
		dispatch: make(chan func(), 64),
		drained:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.drained)
	for {
		select {
		case fn := <-s.dispatch:
			s.runOne(fn)
		case <-s.Ctx.Done():
			// two-phase drain: stop accepting new inputs is enforced by
			// Dispatch checking Ctx.Err(); flush what is already queued.
			for {
				select {
				case fn := <-s.dispatch:
					s.runOne(fn)
				default:
					return
				}
			}
		}
	}
}

func (s *Scheduler) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.Cancel(fmt.Errorf("panic in scheduler task: %v", r))
		}
	}()
	fn()
}

// Dispatch queues fn to run on the loop without waiting for completion.
func (s *Scheduler) Dispatch(fn func()) {
	if s.Ctx.Err() != nil {
		return
	}
	select {
	case s.dispatch <- fn:
	case <-s.Ctx.Done():
	}
}

// DispatchWait queues fn and blocks until it has run, returning its result.
func (s *Scheduler) DispatchWait(fn func() (any, error)) (any, error) {
	ret := make(chan Pair[any, error], 1)
	s.Dispatch(func() {
		v, err := fn()
		ret <- Pair[any, error]{v, err}
	})
	select {
	case r := <-ret:
		return r.V1, r.V2
	case <-s.Ctx.Done():
		return nil, context.Cause(s.Ctx)
	}
}

// ScheduleTask runs fn once after delay, on the loop.
func (s *Scheduler) ScheduleTask(fn func(), delay time.Duration) {
	s.Clock.AfterFunc(delay, func() {
		s.Dispatch(fn)
	})
}

// RepeatTask runs fn on the loop every delay until the scheduler is
// stopped. The first run happens after one delay, matching the
// teacher's repeatedTask.
func (s *Scheduler) RepeatTask(fn func(), delay time.Duration) {
	go func() {
		ticker := s.Clock.Ticker(delay)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Dispatch(fn)
			case <-s.Ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and blocks until pending work has drained.
func (s *Scheduler) Stop() {
	s.Cancel(context.Canceled)
	<-s.drained
}
