// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/sabrelay/internal/config"
	"github.com/Thermoquad/sabrelay/pkg/capture"
	"github.com/Thermoquad/sabrelay/pkg/relay"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ============================================================
// Frame Helpers
// ============================================================

func TestBuildFrame(t *testing.T) {
	frame, err := buildFrame(128, "drive_forward_m1", "100", false)
	require.NoError(t, err)
	assert.Equal(t, sabertooth.Frame{Address: 128, Command: 0, Value: 100, Checksum: 100}, frame)
	assert.NoError(t, frame.Verify())

	frame, err = buildFrame(128, "4", "50", true)
	require.NoError(t, err)
	assert.True(t, sabertooth.IsChecksumMismatch(frame.Verify()))

	_, err = buildFrame(128, "WARP_DRIVE", "1", false)
	assert.Error(t, err)

	_, err = buildFrame(128, "0", "256", false)
	assert.Error(t, err)
}

func TestLogFrames(t *testing.T) {
	stream := append(sabertooth.Encode(128, 0, 100), 128, 4, 50, 0)
	stream = append(stream, 0x80) // partial frame is never printed

	var out bytes.Buffer
	require.NoError(t, logFrames(bytes.NewReader(stream), &out, true))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "DRIVE_FORWARD_M1")
	assert.Contains(t, lines[0], "bytes: 80 00 64 64")
	assert.NotContains(t, lines[0], "INVALID")
	assert.Contains(t, lines[1], "INVALID (checksum mismatch: received 0x00, calculated 0x36)")
}

func TestReadFrames(t *testing.T) {
	stream := append(sabertooth.Encode(128, 0, 100), 128, 4, 50, 0)
	stream = append(stream, sabertooth.Encode(140, 30, 10)...)

	var msgs []frameMsg
	err := readFrames(bytes.NewReader(stream), func(m frameMsg) { msgs = append(msgs, m) })
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, msgs, 3)
	assert.NoError(t, msgs[0].decodeErr)
	assert.Empty(t, msgs[0].validationErrors)
	assert.True(t, sabertooth.IsChecksumMismatch(msgs[1].decodeErr))
	assert.Nil(t, msgs[1].validationErrors)
	assert.Len(t, msgs[2].validationErrors, 2) // bad address and unknown command
}

// ============================================================
// Replay
// ============================================================

func TestReplayCapture(t *testing.T) {
	var file bytes.Buffer
	rec, err := capture.NewRecorder(&file, "/dev/ttyAMA0")
	require.NoError(t, err)

	stream := append(sabertooth.Encode(128, sabertooth.CmdDriveForwardMotor1, 40), 128, 4, 50, 0)
	stream = append(stream, sabertooth.Encode(128, sabertooth.CmdDriveBackwardMotor2, 10)...)

	live := relay.NewReceiver(relay.NewBytesChannel(stream), relay.ActuatorFunc(func(c, v uint8) error { return nil }),
		relay.Config{}, relay.WithObserver(rec))
	for i := 0; i < 3; i++ {
		_, err := live.Poll()
		require.NoError(t, err)
	}
	require.NoError(t, rec.Err())

	type applied struct{ command, value uint8 }
	var got []applied
	act := relay.ActuatorFunc(func(c, v uint8) error {
		got = append(got, applied{c, v})
		return nil
	})

	var out bytes.Buffer
	stats, err := replayCapture(&file, act, &out, false)
	require.NoError(t, err)

	assert.Equal(t, []applied{{0, 40}, {5, 10}}, got)
	assert.Equal(t, uint64(3), stats.TotalFrames)
	assert.Equal(t, uint64(2), stats.ValidFrames)
	assert.Equal(t, uint64(1), stats.ChecksumErrors)
	assert.Contains(t, out.String(), "from /dev/ttyAMA0")
	assert.Contains(t, out.String(), "-> dropped: checksum mismatch")
}

func TestReplayCapture_NotACapture(t *testing.T) {
	_, err := replayCapture(strings.NewReader("not cbor"), relay.ActuatorFunc(func(c, v uint8) error { return nil }), io.Discard, false)
	assert.Error(t, err)
}

// ============================================================
// Config Output
// ============================================================

func TestMarshalConfig(t *testing.T) {
	testChdir(t, t.TempDir())
	c, err := config.Load(config.New(), "")
	require.NoError(t, err)

	out, err := marshalConfig(c)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))

	input := decoded["input"].(map[string]interface{})
	assert.Equal(t, 115200, input["baud"])
	assert.Equal(t, "N", input["parity"])

	controller := decoded["controller"].(map[string]interface{})
	assert.Equal(t, 128, controller["address"])
	assert.Contains(t, string(out), "poll_interval: 1ms")
}

// ============================================================
// Monitor TUI Model
// ============================================================

func TestMonitorModel_ProcessFrames(t *testing.T) {
	m := initialModel("test", false)

	valid, _ := sabertooth.ParseFrame(sabertooth.Encode(128, sabertooth.CmdDriveBackwardMotor2, 30))
	next, _ := m.Update(frameMsg{frame: valid})
	m = next.(model)

	assert.Equal(t, uint64(1), m.stats.ValidFrames)
	require.Contains(t, m.motors, sabertooth.Motor2)
	assert.Equal(t, -30, m.motors[sabertooth.Motor2].speed)

	bad := sabertooth.Frame{Address: 128, Command: 4, Value: 50, Checksum: 0}
	for i := 0; i < misalignmentStreak; i++ {
		next, _ = m.Update(frameMsg{frame: bad, decodeErr: bad.Verify()})
		m = next.(model)
	}

	assert.Equal(t, uint64(misalignmentStreak), m.stats.ChecksumErrors)
	assert.Contains(t, m.View(), "stream may be misaligned")

	next, _ = m.Update(linkClosedMsg{err: io.EOF})
	m = next.(model)
	assert.Contains(t, m.View(), "Connection lost: EOF")
}

func TestSpeedBar(t *testing.T) {
	assert.Equal(t, "····|····", speedBar(0, 8))
	assert.Equal(t, "····|████", speedBar(127, 8))
	assert.Equal(t, "████|····", speedBar(-127, 8))
	assert.Equal(t, "····|██··", speedBar(64, 8))
}

// ============================================================
// Control TUI Model
// ============================================================

type fakeControllerPort struct {
	mu      sync.Mutex
	written []byte
}

func (p *fakeControllerPort) Read(b []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakeControllerPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakeControllerPort) Close() error { return nil }

func (p *fakeControllerPort) frames() []sabertooth.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var frames []sabertooth.Frame
	for i := 0; i+sabertooth.FrameSize <= len(p.written); i += sabertooth.FrameSize {
		f, _ := sabertooth.ParseFrame(p.written[i : i+sabertooth.FrameSize])
		frames = append(frames, f)
	}
	return frames
}

func newTestControlModel() (controlModel, *fakeControllerPort) {
	port := &fakeControllerPort{}
	driver := sabertooth.NewDriver(port, sabertooth.DefaultDriverConfig(), nil)
	return initialControlModel(newControllerManager(driver, "fake"), "fake"), port
}

func pressKeys(m controlModel, keys ...tea.KeyMsg) controlModel {
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(controlModel)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestControlModel_Drive(t *testing.T) {
	m, port := newTestControlModel()

	m = pressKeys(m,
		tea.KeyMsg{Type: tea.KeyDown}, // select motor 2
		tea.KeyMsg{Type: tea.KeyTab},  // speed input
		runes("-"), runes("4"), runes("0"),
		tea.KeyMsg{Type: tea.KeyEnter},
	)

	frames := port.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, sabertooth.NewFrame(128, sabertooth.CmdDriveBackwardMotor2, 40), frames[0])
	assert.Equal(t, -40, m.speeds[sabertooth.Motor2])
	assert.Equal(t, 1, m.sent)
}

func TestControlModel_RejectsOutOfRangeSpeed(t *testing.T) {
	m, port := newTestControlModel()

	m = pressKeys(m,
		tea.KeyMsg{Type: tea.KeyTab},
		runes("200"),
		tea.KeyMsg{Type: tea.KeyEnter},
	)

	assert.Empty(t, port.frames())
	assert.Contains(t, m.eventLog[len(m.eventLog)-1].message, "Speed must be between")
}

func TestControlModel_EmergencyStopLatch(t *testing.T) {
	m, port := newTestControlModel()

	m = pressKeys(m, tea.KeyMsg{Type: tea.KeySpace})
	assert.True(t, m.connMgr.getDriver().Stopped())
	assert.Len(t, port.frames(), 2)

	// Drive is refused while latched
	m = pressKeys(m, tea.KeyMsg{Type: tea.KeyTab}, runes("50"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, port.frames(), 2)

	// Leave the input, resume, and drive again
	m = pressKeys(m, tea.KeyMsg{Type: tea.KeyTab}, runes("r"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.connMgr.getDriver().Stopped())
	frames := port.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, sabertooth.NewFrame(128, sabertooth.CmdDriveForwardMotor1, 50), frames[2])
}

func TestControlModel_LatchSurvivesReconnect(t *testing.T) {
	m, _ := newTestControlModel()
	m = pressKeys(m, tea.KeyMsg{Type: tea.KeySpace})

	latched := m.connMgr.getDriver().Stopped()
	require.True(t, latched)

	newPort := &fakeControllerPort{}
	newDriver := sabertooth.NewDriver(newPort, sabertooth.DefaultDriverConfig(), nil)
	require.NoError(t, m.connMgr.swapDriver(newDriver, "fake-2", latched))
	next, _ := m.Update(reconnectedMsg{connInfo: "fake-2"})
	m = next.(controlModel)

	assert.True(t, m.connMgr.getDriver().Stopped())
	stops := newPort.frames()
	require.Len(t, stops, 2)
	for _, f := range stops {
		assert.Zero(t, f.Value)
	}

	// Non-zero drives stay suppressed on the new controller
	m = pressKeys(m, tea.KeyMsg{Type: tea.KeyTab}, runes("100"), tea.KeyMsg{Type: tea.KeyEnter})
	require.NoError(t, newDriver.Drive(sabertooth.Motor1, 100))
	assert.Len(t, newPort.frames(), 2)
	assert.Contains(t, m.eventLog[len(m.eventLog)-1].message, "press r to resume")
}

func TestControlModel_ReconnectWithoutLatch(t *testing.T) {
	m, _ := newTestControlModel()

	newPort := &fakeControllerPort{}
	newDriver := sabertooth.NewDriver(newPort, sabertooth.DefaultDriverConfig(), nil)
	require.NoError(t, m.connMgr.swapDriver(newDriver, "fake-2", false))

	assert.False(t, newDriver.Stopped())
	assert.Empty(t, newPort.frames())
}

func TestControlModel_ControllerOutput(t *testing.T) {
	m, _ := newTestControlModel()

	next, _ := m.Update(controllerLineMsg{line: "Sabertooth 2x25"})
	m = next.(controlModel)
	assert.Equal(t, "controller: Sabertooth 2x25", m.eventLog[len(m.eventLog)-1].message)

	next, _ = m.Update(connectionLostMsg{err: io.ErrUnexpectedEOF})
	m = next.(controlModel)
	assert.True(t, m.connectionLost)
	assert.Contains(t, m.View(), "RECONNECTING")
}

// testChdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
