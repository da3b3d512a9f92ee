// Package dispatcher routes named events to handlers that run inline or on
// their own buffered worker goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event is one unit of work addressed to the handler registered as Command.
type Event struct {
	Command   string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrQueueFull is returned when a non-blocking queue has no room.
	ErrQueueFull = errors.New("queue full")
)

// Queued is the result of an event accepted by a buffered handler.
const Queued = "queued"

// Option configures handler registration.
type Option func(*route)

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(r *route) { r.size = size }
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

// route is one registered command.
type route struct {
	handle   HandlerFunc
	size     int
	blocking bool
	logged   bool
	queue    chan Event // nil for inline handlers
	attrs    metric.MeasurementOption
}

type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger Logger
	inst   instruments

	// mu guards routes and closed. Enqueuing holds the read lock so Close
	// never closes a queue mid-send.
	mu     sync.RWMutex
	routes map[string]*route
	closed bool

	workers sync.WaitGroup
	errMu   sync.Mutex
	errs    []error
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		routes: make(map[string]*route),
		logger: logger,
	}
	if err := d.instrument(otel.Meter("github.com/OCAP2/markers/internal/dispatcher")); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dispatcher) instrument(m metric.Meter) error {
	var err error

	d.inst.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for cmd, r := range d.routes {
			if r.queue != nil {
				o.ObserveInt64(d.inst.queueSize, int64(len(r.queue)),
					metric.WithAttributes(attribute.String("command", cmd)))
			}
		}
		return nil
	}, d.inst.queueSize)
	if err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	d.inst.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return fmt.Errorf("creating processed counter: %w", err)
	}

	d.inst.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	return nil
}

// Register adds a handler for the given command. A buffered handler gets
// its own worker goroutine, which Close drains.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	r := &route{handle: h, attrs: metric.WithAttributes(attribute.String("command", command))}
	for _, opt := range opts {
		opt(r)
	}
	if r.logged {
		r.handle = d.withLogging(command, r.handle)
	}

	if r.size > 0 {
		r.queue = make(chan Event, r.size)
		d.workers.Add(1)
		go d.work(command, r)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.routes[command]; ok && old.queue != nil && !d.closed {
		close(old.queue)
	}
	if d.closed && r.queue != nil {
		close(r.queue)
	}
	d.routes[command] = r
}

// Dispatch routes an event to its handler. Buffered handlers return Queued
// once the event is enqueued; their errors are reported by Close.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.RLock()
	r, ok := d.routes[e.Command]
	closed := d.closed
	if !ok || closed || r.queue == nil {
		d.mu.RUnlock()
		switch {
		case !ok:
			return nil, fmt.Errorf("unknown command: %s", e.Command)
		case closed:
			return nil, ErrClosed
		}
		// inline handlers run without the lock so they may dispatch again
		return r.handle(e)
	}
	defer d.mu.RUnlock()

	if r.blocking {
		r.queue <- e
		return Queued, nil
	}
	select {
	case r.queue <- e:
		return Queued, nil
	default:
		d.inst.dropped.Add(context.Background(), 1, r.attrs)
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, e.Command)
	}
}

func (d *Dispatcher) work(command string, r *route) {
	defer d.workers.Done()
	for e := range r.queue {
		if _, err := r.handle(e); err != nil {
			d.errMu.Lock()
			d.errs = append(d.errs, fmt.Errorf("%s: %w", command, err))
			d.errMu.Unlock()
		}
		d.inst.processed.Add(context.Background(), 1, r.attrs)
	}
}

// Close stops accepting events, waits for every buffered handler to drain
// its queue and returns the errors those handlers reported.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, r := range d.routes {
			if r.queue != nil {
				close(r.queue)
			}
		}
	}
	d.mu.Unlock()

	d.workers.Wait()

	d.errMu.Lock()
	defer d.errMu.Unlock()
	return errors.Join(d.errs...)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[command]
	return ok
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", fmt.Sprintf("%T", e.Payload))

		result, err := h(e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}
		return result, err
	}
}
