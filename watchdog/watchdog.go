// Package watchdog implements spec.md §4.8: per-component liveness
// ticks with missed-tick thresholds triggering orderly shutdown, plus
// memory sampling (no CPU sampling) with a sticky memory-limit-exceeded
// flag. Liveness
// tracking is grounded on the teacher's core/entrypoint.go periodic
// health-check loop (built on state.Scheduler.RepeatTask); the memory
// sampler is grounded on github.com/raulk/go-watchdog's system-driven
// GC-pressure watchdog, pulled into this pack from dep2p-go-dep2p.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	rwatchdog "github.com/raulk/go-watchdog"

	"github.com/openr/openr-go/metrics"
	"github.com/openr/openr-go/state"
)

// Component is a named unit the watchdog expects to hear from
// periodically, e.g. "spark", "kvstore", "decision".
type Component string

type componentState struct {
	lastTick     time.Time
	missedTicks  int
	flagged      bool
}

// Watchdog tracks per-component liveness and node-wide memory pressure,
// spec.md §4.8.
type Watchdog struct {
	sched   *state.Scheduler
	log     *slog.Logger
	metrics *metrics.Sink

	cfg state.WatchdogConfig

	mu         sync.Mutex
	components map[Component]*componentState

	memLimitExceeded atomic.Bool

	stopMemWatch func()

	onShutdown func(reason string)
}

func New(sched *state.Scheduler, log *slog.Logger, sink *metrics.Sink, cfg state.WatchdogConfig, onShutdown func(reason string)) *Watchdog {
	return &Watchdog{
		sched:      sched,
		log:        log,
		metrics:    sink,
		cfg:        cfg,
		components: make(map[Component]*componentState),
		onShutdown: onShutdown,
	}
}

// Register enrolls a component for liveness tracking. Call Tick from
// that component's own scheduler loop each time it completes a work
// cycle.
func (w *Watchdog) Register(c Component) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.components[c] = &componentState{lastTick: w.now()}
}

func (w *Watchdog) now() time.Time {
	if w.sched != nil {
		return w.sched.Clock.Now()
	}
	return time.Now()
}

// Tick records a liveness heartbeat from c, clearing any missed-tick
// count.
func (w *Watchdog) Tick(c Component) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.components[c]
	if !ok {
		st = &componentState{}
		w.components[c] = st
	}
	st.lastTick = w.now()
	st.missedTicks = 0
	st.flagged = false
}

// checkLiveness runs on tickInterval, flags components that have
// missed more than MaxMissedTicks consecutive ticks, and triggers
// orderly shutdown once the number of flagged components reaches the
// configured global threshold (all registered components, in the
// absence of a separate global config field).
func (w *Watchdog) checkLiveness() {
	if !w.cfg.Enabled {
		return
	}
	tickInterval := w.tickInterval()
	deadline := w.now().Add(-tickInterval * time.Duration(w.maxMissedTicks()+1))

	w.mu.Lock()
	var flagged []Component
	for name, st := range w.components {
		if st.lastTick.Before(deadline) {
			st.missedTicks++
			if st.missedTicks >= w.maxMissedTicks() && !st.flagged {
				st.flagged = true
				w.log.Warn("watchdog: component missed liveness ticks", "component", name, "missed", st.missedTicks)
				w.metrics.Counter("watchdog.missed_ticks").Add(1)
			}
		}
		if st.flagged {
			flagged = append(flagged, name)
		}
	}
	total := len(w.components)
	w.mu.Unlock()

	if total > 0 && len(flagged) == total {
		w.trigger("all components missed liveness ticks: " + joinComponents(flagged))
	}
}

func (w *Watchdog) maxMissedTicks() int {
	if w.cfg.MaxMissedTicks <= 0 {
		return 3
	}
	return w.cfg.MaxMissedTicks
}

func (w *Watchdog) tickInterval() time.Duration {
	if w.cfg.TickIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(w.cfg.TickIntervalMs) * time.Millisecond
}

func (w *Watchdog) trigger(reason string) {
	w.log.Error("watchdog: triggering orderly shutdown", "reason", reason)
	w.metrics.Counter("watchdog.shutdowns_triggered").Add(1)
	if w.onShutdown != nil {
		w.onShutdown(reason)
	}
}

// MemoryLimitExceeded reports the sticky flag operators can act on,
// spec.md §4.8.
func (w *Watchdog) MemoryLimitExceeded() bool {
	return w.memLimitExceeded.Load()
}

// Start begins the liveness-tick loop and, if MemLimitMb is set, the
// system-driven memory watchdog.
func (w *Watchdog) Start(ctx context.Context) {
	if !w.cfg.Enabled {
		return
	}
	w.sched.RepeatTask(w.checkLiveness, w.tickInterval())

	if w.cfg.MemLimitMb > 0 {
		limit := uint64(w.cfg.MemLimitMb) * 1024 * 1024
		rwatchdog.Logger = slogAdapter{w.log}
		err, stop := rwatchdog.SystemDriven(limit, w.tickInterval(), rwatchdog.NewWatermarkPolicy(0.50, 0.70, 0.85, 0.95, 0.99))
		if err != nil {
			w.log.Warn("watchdog: memory watchdog init failed", "err", err)
			return
		}
		w.stopMemWatch = stop
		go w.pollMemory(ctx, limit)
	}
}

// pollMemory sets the sticky memLimitExceeded flag the first time a
// sample from currentRSS exceeds the configured limit. go-watchdog
// itself drives GC more aggressively as pressure rises; this loop does
// not consult its policy and only observes runtime.MemStats to latch
// the operator-facing flag.
func (w *Watchdog) pollMemory(ctx context.Context, limit uint64) {
	ticker := time.NewTicker(w.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rss := currentRSS(); rss > limit {
				if !w.memLimitExceeded.Swap(true) {
					w.log.Error("watchdog: memory limit exceeded", "rss", rss, "limit", limit)
					w.metrics.Counter("watchdog.mem_limit_exceeded").Add(1)
				}
			}
		}
	}
}

func (w *Watchdog) Stop() {
	if w.stopMemWatch != nil {
		w.stopMemWatch()
	}
}

func joinComponents(cs []Component) string {
	s := ""
	for i, c := range cs {
		if i > 0 {
			s += ","
		}
		s += string(c)
	}
	return s
}

// currentRSS reports approximate resident memory via runtime.MemStats
// (HeapSys+StackSys), a portable stand-in for reading /proc/self/status
// VmRSS that avoids a Linux-only code path in this cross-cutting sampler.
func currentRSS() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapSys + m.StackSys
}

type slogAdapter struct{ log *slog.Logger }

func (s slogAdapter) Debugf(format string, args ...interface{}) { s.log.Debug(fmt.Sprintf(format, args...)) }
func (s slogAdapter) Infof(format string, args ...interface{})  { s.log.Info(fmt.Sprintf(format, args...)) }
func (s slogAdapter) Warnf(format string, args ...interface{})  { s.log.Warn(fmt.Sprintf(format, args...)) }
func (s slogAdapter) Errorf(format string, args ...interface{}) { s.log.Error(fmt.Sprintf(format, args...)) }
