// Package timer broadcasts aligned 10-second wall-clock boundaries to attached listeners.
//
// A Timer owns one goroutine. It sleeps until the next boundary (…10, …20, …),
// then sends the boundary's Unix timestamp to every attached channel, and
// repeats until it finds the listener registry empty.
//
// Example usage:
//
//	t, err := timer.New(timer.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	ticks := make(chan uint64, 1)
//	if err := t.AttachListener(ticks); err != nil {
//		return err
//	}
//	for ts := range ticks {
//		// ts is a multiple of 10
//	}
//
// Delivery is best-effort: a listener whose channel is full, unread or closed
// misses that boundary and nothing else happens.
//
// Shutdown is driven by DropListeners, not by Wait. New registers a
// placeholder listener, so the goroutine keeps running until DropListeners
// is called even if no caller ever attaches. The goroutine notices the empty
// registry at the next boundary. A listener attached after that check is
// accepted but never served; attaching does not restart a stopped Timer.
package timer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNilClock is returned by New when WithClock is given a nil Clock.
var ErrNilClock = errors.New("clock is required")

// Timer fires at every 10-second boundary and fans the boundary timestamp out
// to its listeners.
type Timer struct {
	registry *registry
	clock    Clock
	logger   zerolog.Logger
	metrics  *Metrics

	done  chan struct{}
	errMu sync.Mutex
	err   error
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(t *Timer) {
		t.clock = c
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Timer) {
		t.logger = logger
	}
}

// WithMetrics records tick and delivery metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Timer) {
		t.metrics = m
	}
}

// New creates a Timer, registers the placeholder listener and starts the
// background goroutine.
func New(opts ...Option) (*Timer, error) {
	t := &Timer{
		registry: &registry{},
		clock:    SystemClock{},
		logger:   zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		return nil, ErrNilClock
	}
	t.logger = t.logger.With().Str("component", "timer").Logger()

	// Nobody reads from this channel. It keeps the registry non-empty until
	// DropListeners is called.
	placeholder := make(chan uint64)
	if err := t.registry.attach(placeholder); err != nil {
		return nil, fmt.Errorf("failed to register placeholder listener: %w", err)
	}
	t.metrics.setListeners(1)

	go t.run()

	return t, nil
}

// AttachListener adds ch to the set of channels that receive boundary timestamps.
func (t *Timer) AttachListener(ch chan<- uint64) error {
	if ch == nil {
		return ErrNilListener
	}
	if err := t.registry.attach(ch); err != nil {
		return fmt.Errorf("failed to attach listener: %w", err)
	}
	t.refreshListenerGauge()

	if t.stopped() {
		t.logger.Debug().Msg("Listener attached to a stopped timer, it will not receive boundaries")
	}
	return nil
}

// DropListeners removes every listener, including the placeholder. The
// goroutine exits when it next checks the registry.
func (t *Timer) DropListeners() error {
	if err := t.registry.clear(); err != nil {
		return fmt.Errorf("failed to drop listeners: %w", err)
	}
	t.metrics.setListeners(0)
	t.logger.Debug().Msg("Listeners dropped, timer will stop at the next boundary")
	return nil
}

// ListenerCount returns the number of attached listeners, placeholder included.
func (t *Timer) ListenerCount() (int, error) {
	n, err := t.registry.len()
	if err != nil {
		return 0, fmt.Errorf("failed to count listeners: %w", err)
	}
	return n, nil
}

// Done is closed once the background goroutine has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the background goroutine exits and returns its result:
// nil after a DropListeners shutdown, or the error that stopped it.
func (t *Timer) Wait() error {
	<-t.done
	return t.Err()
}

// Err returns the error that stopped the goroutine, or nil while it is
// running or after a clean shutdown.
func (t *Timer) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *Timer) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Timer) run() {
	err := t.loop()

	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
	close(t.done)

	t.logger.Debug().Msg("Timer stopped")
}

func (t *Timer) loop() error {
	var last uint64

	for {
		wait, err := UntilNextBoundary(t.clock)
		if err != nil {
			return err
		}
		<-t.clock.After(wait)

		n, err := t.registry.len()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		boundary, err := CurrentBoundary(t.clock, 0)
		if err != nil {
			return err
		}
		// Woke again inside the boundary just delivered. A backward clock
		// step yields an older boundary, which is still delivered.
		if boundary == last {
			continue
		}
		last = boundary

		delivered, missed, err := t.registry.broadcast(boundary)
		if err != nil {
			return err
		}
		t.metrics.observeTick(boundary, delivered, missed)

		t.logger.Debug().
			Uint64("boundary", boundary).
			Int("delivered", delivered).
			Int("missed", missed).
			Msg("Boundary broadcast")
	}
}

func (t *Timer) refreshListenerGauge() {
	if t.metrics == nil {
		return
	}
	if n, err := t.registry.len(); err == nil {
		t.metrics.setListeners(n)
	}
}
