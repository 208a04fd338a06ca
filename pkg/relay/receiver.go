// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package relay receives Sabertooth frames from a host link, validates them,
// and forwards the valid ones to an actuator.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"go.uber.org/zap"
)

// DefaultPollInterval is how long Run waits between polls when no frame is buffered
const DefaultPollInterval = time.Millisecond

var (
	// ErrActuator wraps errors returned by the actuator
	ErrActuator = errors.New("relay: actuator failed")
	// ErrChannelClosed wraps the error of a channel that can no longer deliver frames
	ErrChannelClosed = errors.New("relay: channel closed")
)

// Actuator applies a validated command
type Actuator interface {
	Apply(command, value uint8) error
}

// ActuatorFunc adapts a function to the Actuator interface
type ActuatorFunc func(command, value uint8) error

// Apply implements Actuator
func (f ActuatorFunc) Apply(command, value uint8) error {
	return f(command, value)
}

// Outcome is the result of one polling cycle
type Outcome int

const (
	// OutcomeWaiting means fewer than FrameSize bytes were buffered; nothing was read
	OutcomeWaiting Outcome = iota
	// OutcomeDispatched means a valid frame was handed to the actuator
	OutcomeDispatched
	// OutcomeRejected means a frame failed its checksum and was dropped
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWaiting:
		return "waiting"
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one polling cycle
type Result struct {
	Outcome Outcome
	Frame   sabertooth.Frame
	// Err is a *sabertooth.ChecksumMismatchError for rejected frames, or the
	// actuator error for a dispatched frame that failed to apply
	Err  error
	Time time.Time
}

// Observer is notified of every frame the receiver reads
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(Result)

// Observe implements Observer
func (f ObserverFunc) Observe(r Result) {
	f(r)
}

// Config configures a Receiver
type Config struct {
	// PollInterval bounds how long Run sleeps when no frame is buffered
	PollInterval time.Duration
}

// Option configures optional Receiver collaborators
type Option func(*Receiver)

// WithLogger sets the logger used for diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithObserver adds observers notified after every read frame
func WithObserver(observers ...Observer) Option {
	return func(r *Receiver) {
		r.observers = append(r.observers, observers...)
	}
}

// Receiver turns a byte stream into actuator commands.
//
// Every cycle either does nothing (fewer than four bytes buffered) or reads
// exactly one frame. Frames are taken back to back from the stream; after a
// checksum failure the next four bytes are read as the next frame, with no
// search for a new boundary.
type Receiver struct {
	ch        Channel
	act       Actuator
	cfg       Config
	logger    *zap.Logger
	observers []Observer

	// held across a whole cycle so dispatches never interleave
	mu sync.Mutex
}

// NewReceiver creates a receiver reading from ch and dispatching to act
func NewReceiver(ch Channel, act Actuator, cfg Config, opts ...Option) *Receiver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	r := &Receiver{
		ch:     ch,
		act:    act,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Poll runs one polling cycle.
//
// A checksum mismatch is reported in the Result and logged, but is not
// returned as an error. The returned error is non-nil only when the channel
// has failed or the actuator rejected a valid command.
func (r *Receiver) Poll() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch.Available() < sabertooth.FrameSize {
		if f, ok := r.ch.(Failer); ok {
			if err := f.Err(); err != nil {
				return Result{Outcome: OutcomeWaiting}, fmt.Errorf("%w: %w", ErrChannelClosed, err)
			}
		}
		return Result{Outcome: OutcomeWaiting}, nil
	}

	var raw [sabertooth.FrameSize]byte
	if _, err := io.ReadFull(r.ch, raw[:]); err != nil {
		return Result{Outcome: OutcomeWaiting}, fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}

	frame := sabertooth.Frame{Address: raw[0], Command: raw[1], Value: raw[2], Checksum: raw[3]}
	res := Result{Frame: frame, Time: time.Now()}

	if err := frame.Verify(); err != nil {
		fields := []zap.Field{
			zap.Uint8("address", frame.Address),
			zap.Uint8("command", frame.Command),
			zap.Uint8("value", frame.Value),
		}
		var mismatch *sabertooth.ChecksumMismatchError
		if errors.As(err, &mismatch) {
			fields = append(fields,
				zap.Uint8("received", mismatch.Received),
				zap.Uint8("calculated", mismatch.Calculated))
		}
		r.logger.Warn(err.Error(), fields...)

		res.Outcome = OutcomeRejected
		res.Err = err
		r.notify(res)
		return res, nil
	}

	res.Outcome = OutcomeDispatched
	res.Err = r.act.Apply(frame.Command, frame.Value)
	r.notify(res)

	if res.Err != nil {
		return res, fmt.Errorf("%w: %w", ErrActuator, res.Err)
	}

	r.logger.Debug("frame dispatched",
		zap.String("command", sabertooth.FormatCommand(frame.Command)),
		zap.Uint8("value", frame.Value))
	return res, nil
}

func (r *Receiver) notify(res Result) {
	for _, o := range r.observers {
		o.Observe(res)
	}
}

// Run polls until ctx is cancelled, the channel fails, or the actuator fails.
// Buffered frames are drained back to back; when waiting, Run sleeps until
// the poll interval passes or the channel signals new data.
func (r *Receiver) Run(ctx context.Context) error {
	var ready <-chan struct{}
	if n, ok := r.ch.(Notifier); ok {
		ready = n.Ready()
	}

	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := r.Poll()
		if err != nil {
			return err
		}
		if res.Outcome != OutcomeWaiting {
			continue
		}

		timer.Reset(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		case <-timer.C:
		}
	}
}
