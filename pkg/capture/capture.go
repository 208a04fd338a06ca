// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records the frames a relay reads to a CBOR stream and reads
// them back for replay.
//
// A capture is a Header item followed by one Record item per frame.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/relay"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the capture format version written by Recorder
const Version = 1

// ErrUnsupportedVersion is returned for captures written by a newer format
var ErrUnsupportedVersion = errors.New("capture: unsupported version")

// Header starts every capture
type Header struct {
	Version int       `cbor:"1,keyasint"`
	Session string    `cbor:"2,keyasint"`
	Started time.Time `cbor:"3,keyasint"`
	Source  string    `cbor:"4,keyasint,omitempty"`
}

// Record is one frame as read from the host link
type Record struct {
	Seq     uint64    `cbor:"1,keyasint"`
	Time    time.Time `cbor:"2,keyasint"`
	Raw     []byte    `cbor:"3,keyasint"`
	Outcome string    `cbor:"4,keyasint"`
}

// Frame parses the record's raw bytes
func (r Record) Frame() (sabertooth.Frame, error) {
	return sabertooth.ParseFrame(r.Raw)
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encode mode: %v", err))
	}
	return em
}()

// Recorder writes receiver results to a capture. It implements relay.Observer.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	header  Header
	seq     uint64
	err     error
	session uuid.UUID
}

// NewRecorder writes a capture header to w and returns a recorder for it
func NewRecorder(w io.Writer, source string) (*Recorder, error) {
	session := uuid.New()
	header := Header{
		Version: Version,
		Session: session.String(),
		Started: time.Now().UTC(),
		Source:  source,
	}

	enc := encMode.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}

	return &Recorder{enc: enc, header: header, session: session}, nil
}

// Session returns the id written in the capture header
func (r *Recorder) Session() uuid.UUID {
	return r.session
}

// Observe implements relay.Observer. Write errors are kept and reported by Err;
// after the first one nothing more is written.
func (r *Recorder) Observe(res relay.Result) {
	if res.Outcome == relay.OutcomeWaiting {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}

	raw := res.Frame.Bytes()
	ts := res.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	r.seq++
	rec := Record{
		Seq:     r.seq,
		Time:    ts.UTC(),
		Raw:     raw[:],
		Outcome: res.Outcome.String(),
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("failed to write capture record %d: %w", r.seq, err)
	}
}

// Count returns the number of records written
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Reader reads a capture written by Recorder
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the capture header
func NewReader(rd io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(rd)

	var header Header
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if header.Version < 1 || header.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if _, err := uuid.Parse(header.Session); err != nil {
		return nil, fmt.Errorf("invalid capture session %q: %w", header.Session, err)
	}

	return &Reader{dec: dec, header: header}, nil
}

// Header returns the capture header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	if len(rec.Raw) != sabertooth.FrameSize {
		return Record{}, fmt.Errorf("capture record %d: %w", rec.Seq, sabertooth.ErrShortFrame)
	}
	return rec, nil
}

// Stream returns the raw bytes of all remaining records in order
func (r *Reader) Stream() ([]byte, error) {
	var out []byte
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec.Raw...)
	}
}
