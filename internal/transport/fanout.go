// Package transport moves telemetry frames off the spacecraft and
// telecommands onto it: the UDP space link plus optional NATS, Redis and
// WebSocket sinks fed from the same tick.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// Frame is one tick's output: the encoded TM packet and the decoded state
// it was built from.
type Frame struct {
	Packet   []byte
	Snapshot model.Snapshot
}

// Sink consumes frames.
type Sink interface {
	Name() string
	Publish(ctx context.Context, f Frame) error
	Close() error
}

// SinkRecorder counts sink failures.
type SinkRecorder interface {
	SinkError(sink string)
}

// Fanout publishes every frame to all attached sinks. A failing sink is
// logged and counted without affecting the others.
type Fanout struct {
	mu       sync.RWMutex
	sinks    []Sink
	log      logging.Logger
	recorder SinkRecorder
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithSinkRecorder reports per-sink publish failures.
func WithSinkRecorder(r SinkRecorder) FanoutOption {
	return func(f *Fanout) { f.recorder = r }
}

// NewFanout returns a Fanout with no sinks.
func NewFanout(log logging.Logger, opts ...FanoutOption) *Fanout {
	if log == nil {
		log = logging.Noop()
	}
	f := &Fanout{log: log}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add attaches a sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Len returns the number of attached sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Publish sends fr to every sink and returns the joined failures.
func (f *Fanout) Publish(ctx context.Context, fr Frame) error {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, fr); err != nil {
			f.log.Warn(ctx, "telemetry sink publish failed",
				logging.String("sink", s.Name()),
				logging.Err(err),
			)
			if f.recorder != nil {
				f.recorder.SinkError(s.Name())
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	f.mu.Lock()
	sinks := f.sinks
	f.sinks = nil
	f.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
