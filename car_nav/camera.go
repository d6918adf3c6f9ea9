package car_nav

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoFrame reports that a camera had no new frame this cycle.
	ErrNoFrame = errors.New("camera: no frame")
	// ErrSourceClosed reports that a camera can never produce frames again.
	ErrSourceClosed = errors.New("camera: source closed")
)

// Frame is one camera sample handed to the pose oracle.
type Frame struct {
	Camera  string
	T       time.Time
	Payload []byte
}

// Camera produces frames from one fixed viewpoint.
type Camera interface {
	Read() (Frame, error)
	Close() error
}

// PoseOracle extracts a marker pose from a frame, if one is visible.
type PoseOracle interface {
	Estimate(Frame) (CameraPose, bool)
}

// UDPCamera receives detector output for one camera as UDP datagrams.
type UDPCamera struct {
	name    string
	conn    *net.UDPConn
	timeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	last   Frame
	seq    uint64
	read   uint64
	closed bool
}

// NewUDPCamera listens on addr and starts the receive goroutine.
func NewUDPCamera(name string, cfg CameraConfig) (*UDPCamera, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.UDPAddr)
	if err != nil {
		return nil, fmt.Errorf("camera %s: resolve %q: %w", name, cfg.UDPAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("camera %s: listen %q: %w", name, cfg.UDPAddr, err)
	}

	bufSize := cfg.ReadBuffer
	if bufSize <= 0 {
		bufSize = 2048
	}
	timeout := cfg.FrameTimeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}

	c := &UDPCamera{name: name, conn: conn, timeout: timeout}
	c.cond = sync.NewCond(&c.mu)
	go c.receive(bufSize)
	return c, nil
}

// Addr returns the bound local address.
func (c *UDPCamera) Addr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *UDPCamera) receive(bufSize int) {
	buf := make([]byte, bufSize)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				c.mu.Lock()
				c.closed = true
				c.cond.Broadcast()
				c.mu.Unlock()
				return
			}
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])

		c.mu.Lock()
		c.last = Frame{Camera: c.name, T: time.Now(), Payload: payload}
		c.seq++
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Read returns the newest unseen datagram, waiting up to the frame timeout.
func (c *UDPCamera) Read() (Frame, error) {
	deadline := time.Now().Add(c.timeout)
	timer := time.AfterFunc(c.timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.seq == c.read && !c.closed && time.Now().Before(deadline) {
		c.cond.Wait()
	}
	if c.closed {
		return Frame{}, ErrSourceClosed
	}
	if c.seq == c.read {
		return Frame{}, ErrNoFrame
	}
	c.read = c.seq
	return c.last, nil
}

// Close stops the receive goroutine and releases the socket.
func (c *UDPCamera) Close() error {
	return c.conn.Close()
}

// ReplayCamera replays newline-separated payloads from a recording.
type ReplayCamera struct {
	name    string
	file    *os.File
	scanner *bufio.Scanner
}

// NewReplayCamera opens a recording for playback.
func NewReplayCamera(name, path string) (*ReplayCamera, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("camera %s: open replay: %w", name, err)
	}
	return &ReplayCamera{name: name, file: f, scanner: bufio.NewScanner(f)}, nil
}

// Read returns the next recorded payload; the end of the file is permanent.
func (c *ReplayCamera) Read() (Frame, error) {
	if c.scanner == nil || !c.scanner.Scan() {
		return Frame{}, ErrSourceClosed
	}
	payload := append([]byte(nil), c.scanner.Bytes()...)
	return Frame{Camera: c.name, T: time.Now(), Payload: payload}, nil
}

// Close releases the recording.
func (c *ReplayCamera) Close() error {
	c.scanner = nil
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// CSVPoseOracle parses detector payloads "detected,x,y,z,yaw" with an optional
// leading timestamp field.
type CSVPoseOracle struct{}

// Estimate returns false for undetected or malformed payloads.
func (CSVPoseOracle) Estimate(f Frame) (CameraPose, bool) {
	pose, detected, err := parseCameraPose(f.Payload)
	if err != nil || !detected {
		return CameraPose{}, false
	}
	return pose, true
}

// parseCameraPose parses CSV payloads into CameraPose values.
func parseCameraPose(b []byte) (CameraPose, bool, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return CameraPose{}, false, errors.New("empty payload")
	}

	parts := strings.Split(s, ",")
	if len(parts) != 5 && len(parts) != 6 {
		return CameraPose{}, false, fmt.Errorf("expected 5 or 6 fields, got %d", len(parts))
	}
	idx := len(parts) - 5

	detected, err := parseBoolLoose(parts[idx])
	if err != nil {
		return CameraPose{}, false, err
	}
	var vals [4]float64
	for i := range vals {
		vals[i], err = parseF64(parts[idx+1+i])
		if err != nil {
			return CameraPose{}, false, err
		}
	}
	return CameraPose{X: vals[0], Y: vals[1], Z: vals[2], Yaw: vals[3]}, detected, nil
}

// parseF64 parses a float from a CSV field.
func parseF64(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

// parseBoolLoose parses booleans from common telemetry encodings.
func parseBoolLoose(value string) (bool, error) {
	norm := strings.ToLower(strings.TrimSpace(value))
	switch norm {
	case "1", "true", "yes", "y", "t":
		return true, nil
	case "0", "false", "no", "n", "f":
		return false, nil
	default:
		f, err := strconv.ParseFloat(norm, 64)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

// openCamera builds the configured source for one camera slot.
func openCamera(ctx context.Context, name string, cfg CameraConfig) (Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.ReplayPath != "" {
		return NewReplayCamera(name, cfg.ReplayPath)
	}
	if cfg.UDPAddr == "" {
		return nil, fmt.Errorf("camera %s: udp_addr or replay_path must be set", name)
	}
	return NewUDPCamera(name, cfg)
}
