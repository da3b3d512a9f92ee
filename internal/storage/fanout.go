// internal/storage/fanout.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/OCAP2/markers/internal/dispatcher"
	"github.com/OCAP2/markers/internal/profile"
)

// fanoutQueueSize bounds the threads waiting on one slow backend.
const fanoutQueueSize = 64

// Named pairs a backend with the name it is registered under.
type Named struct {
	Name    string
	Backend Backend
}

// Fanout hands every thread to several backends. Each backend drains its
// own queue, so a slow one only delays itself.
type Fanout struct {
	backends []Named
	disp     *dispatcher.Dispatcher
}

// NewFanout registers one blocking, buffered handler per backend.
func NewFanout(logger dispatcher.Logger, backends ...Named) (*Fanout, error) {
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	for _, nb := range backends {
		b := nb.Backend
		d.Register(nb.Name, func(e dispatcher.Event) (any, error) {
			job, ok := e.Payload.(saveJob)
			if !ok {
				return nil, fmt.Errorf("unexpected payload %T", e.Payload)
			}
			return nil, b.SaveThread(job.ctx, job.result)
		}, dispatcher.Buffered(fanoutQueueSize), dispatcher.Blocking(), dispatcher.Logged())
	}

	return &Fanout{backends: backends, disp: d}, nil
}

type saveJob struct {
	ctx    context.Context
	result profile.ThreadResult
}

// Init initializes every backend, stopping at the first failure.
func (f *Fanout) Init() error {
	for _, nb := range f.backends {
		if err := nb.Backend.Init(); err != nil {
			return fmt.Errorf("init %s: %w", nb.Name, err)
		}
	}
	return nil
}

// SaveThread queues r for every backend. Backend failures surface on Close.
func (f *Fanout) SaveThread(ctx context.Context, r profile.ThreadResult) error {
	for _, nb := range f.backends {
		if _, err := f.disp.Dispatch(dispatcher.Event{
			Command: nb.Name,
			Payload: saveJob{ctx: ctx, result: r},
		}); err != nil {
			return fmt.Errorf("queue %s: %w", nb.Name, err)
		}
	}
	return nil
}

// Close drains every queue, then closes every backend.
func (f *Fanout) Close() error {
	errs := []error{f.disp.Close()}
	for _, nb := range f.backends {
		if err := nb.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", nb.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Backends returns the wrapped backends in registration order.
func (f *Fanout) Backends() []Named {
	return f.backends
}

// Uploadables returns the wrapped backends that produce an upload file.
func Uploadables(b Backend) []Uploadable {
	var out []Uploadable
	if f, ok := b.(*Fanout); ok {
		for _, nb := range f.backends {
			out = append(out, Uploadables(nb.Backend)...)
		}
		return out
	}
	if u, ok := b.(Uploadable); ok {
		out = append(out, u)
	}
	return out
}
