package engine

import (
	"sync"
	"time"

	"github.com/microdeck/host/internal/events"
)

// Clock is the monotonic time source rate gating runs against. Tests swap
// in a fake; production uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock (Go time carries a monotonic component).
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Host is the windowing-toolkit collaborator every integration strategy
// needs: a repaint primitive and a way to yield to host event processing.
type Host interface {
	// RequestRepaint asks the host to repaint. With previous set, the host
	// should present the last completed frame rather than the current,
	// possibly partially drawn, one.
	RequestRepaint(previous bool)
	// PollEvents lets the host process its own event queue; the busy
	// strategy calls it between ticks.
	PollEvents()
}

// IdleHost additionally supports idle-event registration. The handler
// returns whether more idle processing is wanted; hosts must re-invoke it
// until it returns false, then wait for new events.
type IdleHost interface {
	Host
	OnIdle(handler func() bool)
}

// TimerHost additionally supports periodic timer registration. OnTimer
// returns a stop function.
type TimerHost interface {
	Host
	OnTimer(interval time.Duration, fn func()) (stop func())
}

// HeadlessHost is the host used when no windowing toolkit is attached: it
// forwards repaint requests to the event bus and backs the timer strategy
// with a goroutine ticker. Every callback still funnels through the
// engine's own lock, keeping scheduler state effectively single-threaded.
type HeadlessHost struct {
	bus *events.Bus

	mu      sync.Mutex
	tickers []*time.Ticker

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHeadlessHost creates a headless host publishing frames to bus.
func NewHeadlessHost(bus *events.Bus) *HeadlessHost {
	return &HeadlessHost{
		bus:  bus,
		done: make(chan struct{}),
	}
}

func (h *HeadlessHost) RequestRepaint(previous bool) {
	if h.bus != nil {
		h.bus.Emit(events.FramePresented, previous)
	}
}

// PollEvents is a scheduling yield; a headless host has no event queue.
func (h *HeadlessHost) PollEvents() {
	time.Sleep(200 * time.Microsecond)
}

// OnIdle runs handler on its own goroutine, re-invoking it while it asks to
// stay armed. A headless host has no event queue to wake on, so a declined
// re-arm is retried after a short wait instead of parking forever.
func (h *HeadlessHost) OnIdle(handler func() bool) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.done:
				return
			default:
			}
			if !handler() {
				select {
				case <-h.done:
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
	}()
}

// OnTimer fires fn on a dedicated ticker goroutine until Close.
func (h *HeadlessHost) OnTimer(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	h.mu.Lock()
	h.tickers = append(h.tickers, ticker)
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Close stops all timers and idle loops registered on this host. It blocks
// until any in-flight idle handler returns.
func (h *HeadlessHost) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	for _, t := range h.tickers {
		t.Stop()
	}
	h.tickers = nil
	h.mu.Unlock()
	h.wg.Wait()
}
