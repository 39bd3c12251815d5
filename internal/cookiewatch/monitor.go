// Package cookiewatch waits for the advertising platform's attribution
// cookies to appear, buffering events raised before that point and replaying
// them once, in order, at the readiness transition.
package cookiewatch

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ivyaspire/leadtrack/internal/attribution"
)

// Attribution cookie names set by the platform pixel script.
const (
	FBPCookie = "_fbp"
	FBCCookie = "_fbc"
)

const (
	defaultInterval  = 100 * time.Millisecond
	defaultMaxChecks = 20
)

// ErrAlreadyReady is returned by Enqueue once the monitor has resolved;
// callers must dispatch directly instead.
var ErrAlreadyReady = eris.New("cookiewatch: monitor already ready, dispatch directly")

// CookieSource reads a cookie value by exact name.
type CookieSource interface {
	Cookie(name string) (string, bool)
}

// CookieSourceFunc adapts a function to the CookieSource interface.
type CookieSourceFunc func(name string) (string, bool)

// Cookie calls f.
func (f CookieSourceFunc) Cookie(name string) (string, bool) { return f(name) }

// Event is an outbound analytics event buffered until cookies resolve.
type Event struct {
	Name      string
	UserData  attribution.UserData
	SourceURL string
	CreatedAt time.Time
}

// Option configures the monitor.
type Option func(*Monitor)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithMaxChecks overrides the poll attempt budget.
func WithMaxChecks(n int) Option {
	return func(m *Monitor) { m.maxChecks = n }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// Monitor owns the readiness flag and the pre-readiness event queue.
// Readiness is sticky: once resolved, by cookie presence or by exhausting
// the poll budget, it never reverts within the monitor's lifetime.
type Monitor struct {
	source    CookieSource
	interval  time.Duration
	maxChecks int
	log       *zap.Logger

	mu      sync.Mutex
	ready   bool
	polling bool
	stop    chan struct{}
	queue   []Event
}

// NewMonitor creates a monitor over the given cookie source.
func NewMonitor(source CookieSource, opts ...Option) *Monitor {
	m := &Monitor{
		source:    source,
		interval:  defaultInterval,
		maxChecks: defaultMaxChecks,
		log:       zap.L(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Ready reports whether the monitor has resolved.
func (m *Monitor) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Cookies returns the current attribution cookie values, empty when absent.
func (m *Monitor) Cookies() (fbp, fbc string) {
	if v, ok := m.source.Cookie(FBPCookie); ok {
		fbp = v
	}
	if v, ok := m.source.Cookie(FBCCookie); ok {
		fbc = v
	}
	return fbp, fbc
}

func (m *Monitor) cookiesPresent() bool {
	fbp, fbc := m.Cookies()
	return fbp != "" || fbc != ""
}

// EnsureReady resolves readiness. If a cookie is already readable the
// monitor resolves synchronously and invokes onReady before returning.
// Otherwise a bounded poll starts and onReady fires on the polling
// goroutine, either when a cookie appears or when the attempt budget is
// exhausted (fail-open: losing attribution beats losing events). The
// callback fires at most once per lifetime; repeated calls after resolution
// or while polling are no-ops.
func (m *Monitor) EnsureReady(onReady func()) {
	m.mu.Lock()
	if m.ready || m.polling {
		m.mu.Unlock()
		return
	}

	if m.cookiesPresent() {
		m.ready = true
		m.mu.Unlock()
		m.log.Debug("attribution cookies already present")
		onReady()
		return
	}

	m.polling = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go m.poll(stop, onReady)
}

func (m *Monitor) poll(stop chan struct{}, onReady func()) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for checks := 1; ; checks++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		found := m.cookiesPresent()
		if !found && checks < m.maxChecks {
			continue
		}

		m.mu.Lock()
		if !m.polling {
			// Reset raced with the final tick.
			m.mu.Unlock()
			return
		}
		m.polling = false
		m.ready = true
		m.mu.Unlock()

		if found {
			m.log.Debug("attribution cookies found", zap.Int("checks", checks))
		} else {
			m.log.Warn("cookie poll exhausted, proceeding without attribution",
				zap.Int("checks", checks))
		}
		onReady()
		return
	}
}

// Enqueue buffers an event while the monitor has not yet resolved. Once
// ready it refuses the event so the caller dispatches immediately.
func (m *Monitor) Enqueue(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return ErrAlreadyReady
	}
	m.queue = append(m.queue, ev)
	m.log.Debug("event queued awaiting cookies",
		zap.String("event", ev.Name), zap.Int("queue_len", len(m.queue)))
	return nil
}

// Drain returns the buffered events in FIFO order and clears the queue.
// It is meant to be called exactly once, from inside the readiness callback.
func (m *Monitor) Drain() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// QueueLen reports the number of buffered events.
func (m *Monitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Reset stops any poll in flight and returns the monitor to its initial
// state. It exists for test isolation.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.polling {
		close(m.stop)
		m.polling = false
	}
	m.stop = nil
	m.ready = false
	m.queue = nil
}
