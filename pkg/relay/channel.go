// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrNoData is returned when reading from a channel with nothing buffered
var ErrNoData = errors.New("relay: no buffered data")

// Channel is the byte stream frames arrive on.
// Available must not block; the receiver only reads once a whole frame is
// buffered.
type Channel interface {
	io.Reader
	Available() int
}

// Notifier is implemented by channels that can signal newly buffered bytes
type Notifier interface {
	Ready() <-chan struct{}
}

// Failer is implemented by channels that can fail permanently
type Failer interface {
	Err() error
}

// StreamChannel buffers an io.Reader (serial port, WebSocket) so that the
// number of available bytes can be checked without blocking.
type StreamChannel struct {
	r     io.Reader
	mu    sync.Mutex
	buf   bytes.Buffer
	err   error
	ready chan struct{}
}

// NewStreamChannel starts pumping r into the channel buffer.
// The pump stops when r returns an error, typically after r is closed.
func NewStreamChannel(r io.Reader) *StreamChannel {
	c := &StreamChannel{
		r:     r,
		ready: make(chan struct{}, 1),
	}
	go c.pump()
	return c
}

func (c *StreamChannel) pump() {
	buf := make([]byte, 128)
	for {
		n, err := c.r.Read(buf)
		c.mu.Lock()
		if n > 0 {
			c.buf.Write(buf[:n])
		}
		if err != nil {
			c.err = err
		}
		c.mu.Unlock()

		if n > 0 || err != nil {
			c.signal()
		}
		if err != nil {
			return
		}
	}
}

func (c *StreamChannel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Available returns the number of buffered bytes
func (c *StreamChannel) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// Read reads buffered bytes; it never waits for more to arrive
func (c *StreamChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, ErrNoData
	}
	return c.buf.Read(p)
}

// Ready implements Notifier
func (c *StreamChannel) Ready() <-chan struct{} {
	return c.ready
}

// Err implements Failer
func (c *StreamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// BytesChannel is an in-memory Channel fed with Write
type BytesChannel struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	reads  int
	ready  chan struct{}
}

// NewBytesChannel creates a channel holding data
func NewBytesChannel(data []byte) *BytesChannel {
	c := &BytesChannel{ready: make(chan struct{}, 1)}
	c.buf.Write(data)
	return c
}

// Write appends bytes as if they had just arrived
func (c *BytesChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	n, err := c.buf.Write(p)
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return n, err
}

// Available returns the number of buffered bytes
func (c *BytesChannel) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// Read reads buffered bytes
func (c *BytesChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.buf.Read(p)
}

// Reads returns how many times Read has been called
func (c *BytesChannel) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Ready implements Notifier
func (c *BytesChannel) Ready() <-chan struct{} {
	return c.ready
}

// Close marks the channel as finished; Err returns io.EOF afterwards
func (c *BytesChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// Err implements Failer
func (c *BytesChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	return nil
}
