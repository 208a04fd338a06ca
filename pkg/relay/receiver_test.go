// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type applyCall struct {
	command, value uint8
}

// recordingActuator remembers every Apply call
type recordingActuator struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
}

func (a *recordingActuator) Apply(command, value uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applyCall{command, value})
	return a.err
}

func (a *recordingActuator) Calls() []applyCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]applyCall(nil), a.calls...)
}

func newTestReceiver(data []byte, opts ...Option) (*Receiver, *BytesChannel, *recordingActuator) {
	ch := NewBytesChannel(data)
	act := &recordingActuator{}
	return NewReceiver(ch, act, Config{}, opts...), ch, act
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestPoll_ValidFrameDispatched(t *testing.T) {
	logger, logs := observedLogger()
	r, _, act := newTestReceiver([]byte{128, 0, 100, 100}, WithLogger(logger))

	res, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, []applyCall{{0, 100}}, act.Calls())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "no diagnostic for a valid frame")
}

func TestPoll_SecondScenario(t *testing.T) {
	r, _, act := newTestReceiver([]byte{128, 1, 200, 73})

	res, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, []applyCall{{1, 200}}, act.Calls())
}

func TestPoll_ChecksumMismatch(t *testing.T) {
	logger, logs := observedLogger()
	r, _, act := newTestReceiver([]byte{128, 4, 50, 0}, WithLogger(logger))

	res, err := r.Poll()
	require.NoError(t, err, "a checksum mismatch is not fatal")
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Empty(t, act.Calls())

	var mismatch *sabertooth.ChecksumMismatchError
	require.ErrorAs(t, res.Err, &mismatch)
	assert.Equal(t, uint8(0), mismatch.Received)
	assert.Equal(t, uint8(54), mismatch.Calculated)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.EqualValues(t, 0, fields["received"])
	assert.EqualValues(t, 54, fields["calculated"])
	assert.EqualValues(t, 128, fields["address"])
	assert.EqualValues(t, 4, fields["command"])
	assert.EqualValues(t, 50, fields["value"])
	assert.Equal(t, sabertooth.Frame{Address: 128, Command: 4, Value: 50, Checksum: 0}, res.Frame)
	assert.Contains(t, warnings[0].Message, "received 0x00")
	assert.Contains(t, warnings[0].Message, "calculated 0x36")
}

func TestPoll_PartialFrameStalls(t *testing.T) {
	r, ch, act := newTestReceiver([]byte{128, 0})

	for i := 0; i < 3; i++ {
		res, err := r.Poll()
		require.NoError(t, err)
		assert.Equal(t, OutcomeWaiting, res.Outcome)
	}
	assert.Zero(t, ch.Reads(), "no read while fewer than four bytes are buffered")
	assert.Equal(t, 2, ch.Available())
	assert.Empty(t, act.Calls())

	// The rest of the frame arrives
	ch.Write([]byte{100, 100})
	res, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Equal(t, []applyCall{{0, 100}}, act.Calls())
}

func TestPoll_OrderPreserved(t *testing.T) {
	var stream []byte
	stream = append(stream, sabertooth.Encode(128, 0, 100)...)
	stream = append(stream, sabertooth.Encode(128, 5, 30)...)
	r, _, act := newTestReceiver(stream)

	for i := 0; i < 3; i++ {
		_, err := r.Poll()
		require.NoError(t, err)
	}
	assert.Equal(t, []applyCall{{0, 100}, {5, 30}}, act.Calls())
}

func TestPoll_ExactlyOnceForEveryChecksum(t *testing.T) {
	// For one frame, try every possible checksum byte: only the right one dispatches
	for checksum := 0; checksum < 256; checksum++ {
		r, _, act := newTestReceiver([]byte{129, 6, 90, byte(checksum)})
		res, err := r.Poll()
		require.NoError(t, err)

		if uint8(checksum) == sabertooth.Checksum(129, 6, 90) {
			assert.Equal(t, OutcomeDispatched, res.Outcome)
			assert.Equal(t, []applyCall{{6, 90}}, act.Calls())
		} else {
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Empty(t, act.Calls(), "checksum %d must not dispatch", checksum)
		}
	}
}

func TestPoll_NoResyncAfterMismatch(t *testing.T) {
	// A dropped byte misaligns the stream: the receiver keeps reading 4-byte
	// groups from where it is rather than hunting for a boundary
	stream := []byte{128, 0, 100} // first frame lost its checksum byte
	stream = append(stream, sabertooth.Encode(128, 5, 30)...)
	stream = append(stream, sabertooth.Encode(128, 0, 10)...)
	r, ch, act := newTestReceiver(stream)

	res, err := r.Poll()
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, sabertooth.Frame{Address: 128, Command: 0, Value: 100, Checksum: 128}, res.Frame)

	res, err = r.Poll()
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)

	assert.Equal(t, 3, ch.Available())
	assert.Empty(t, act.Calls())
}

func TestPoll_ActuatorError(t *testing.T) {
	ch := NewBytesChannel(sabertooth.Encode(128, 0, 10))
	act := &recordingActuator{err: errors.New("controller unplugged")}
	r := NewReceiver(ch, act, Config{})

	res, err := r.Poll()
	require.ErrorIs(t, err, ErrActuator)
	assert.Equal(t, OutcomeDispatched, res.Outcome)
	assert.Error(t, res.Err)
	assert.Len(t, act.Calls(), 1)
}

func TestPoll_ClosedChannel(t *testing.T) {
	r, ch, _ := newTestReceiver([]byte{1, 2})
	ch.Close()

	_, err := r.Poll()
	require.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPoll_ClosedChannelDrainsFirst(t *testing.T) {
	r, ch, act := newTestReceiver(sabertooth.Encode(128, 4, 1))
	ch.Close()

	_, err := r.Poll()
	require.NoError(t, err)
	assert.Len(t, act.Calls(), 1)

	_, err = r.Poll()
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestPoll_Observers(t *testing.T) {
	var results []Result
	obs := ObserverFunc(func(r Result) { results = append(results, r) })

	stream := append(sabertooth.Encode(128, 0, 1), 128, 4, 50, 0)
	r, _, _ := newTestReceiver(stream, WithObserver(obs))

	for i := 0; i < 3; i++ {
		r.Poll()
	}

	require.Len(t, results, 2, "waiting cycles are not observed")
	assert.Equal(t, OutcomeDispatched, results[0].Outcome)
	assert.Equal(t, OutcomeRejected, results[1].Outcome)
	assert.False(t, results[0].Time.IsZero())
}

func TestRun_DrainsAndStops(t *testing.T) {
	ch := NewBytesChannel(nil)
	act := &recordingActuator{}
	r := NewReceiver(ch, act, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	ch.Write(sabertooth.Encode(128, 0, 100))
	ch.Write([]byte{128, 5})
	ch.Write([]byte{30, 35})

	require.Eventually(t, func() bool { return len(act.Calls()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []applyCall{{0, 100}, {5, 30}}, act.Calls())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ContinuesAfterMismatches(t *testing.T) {
	stream := []byte{128, 4, 50, 0, 128, 4, 50, 0}
	stream = append(stream, sabertooth.Encode(128, 1, 20)...)
	ch := NewBytesChannel(stream)
	ch.Close()
	act := &recordingActuator{}
	r := NewReceiver(ch, act, Config{})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, []applyCall{{1, 20}}, act.Calls())
}

func TestRun_ActuatorFailureStops(t *testing.T) {
	ch := NewBytesChannel(sabertooth.Encode(128, 0, 1))
	act := &recordingActuator{err: errors.New("write failed")}
	r := NewReceiver(ch, act, Config{})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrActuator)
}

func TestStreamChannel(t *testing.T) {
	pr, pw := io.Pipe()
	ch := NewStreamChannel(pr)
	act := &recordingActuator{}
	r := NewReceiver(ch, act, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Deliver one frame a byte at a time
	for _, b := range sabertooth.Encode(128, 4, 60) {
		_, err := pw.Write([]byte{b})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(act.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []applyCall{{4, 60}}, act.Calls())

	pw.CloseWithError(errors.New("link down"))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the stream failed")
	}
}

func TestStreamChannel_ReadEmpty(t *testing.T) {
	pr, _ := io.Pipe()
	ch := NewStreamChannel(pr)
	_, err := ch.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrNoData)
	assert.NoError(t, ch.Err())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "waiting", OutcomeWaiting.String())
	assert.Equal(t, "dispatched", OutcomeDispatched.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
