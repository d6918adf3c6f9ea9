package car_nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// Transport is an open outbound link to the actuator.
type Transport interface {
	io.Writer
	io.Closer
}

// Dialer opens a Transport to the actuator.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
	String() string
}

// TCPDialer connects to the actuator's TCP command port.
type TCPDialer struct {
	Addr         string
	Timeout      time.Duration
	WriteTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, err
	}
	if d.WriteTimeout > 0 {
		return &deadlineConn{Conn: conn, timeout: d.WriteTimeout}, nil
	}
	return conn, nil
}

func (d TCPDialer) String() string {
	return "tcp://" + d.Addr
}

// deadlineConn applies a write deadline to every Write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// SerialDialer opens a serial line to an actuator wired directly to the host.
type SerialDialer struct {
	Path    string
	Options PortOptions
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := d.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(d.Path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (d SerialDialer) String() string {
	return "serial://" + d.Path
}

// PortOptions describes the serial connection parameters.
type PortOptions struct {
	BaudRate int    `toml:"baud_rate" env:"BAUD_RATE"`
	DataBits int    `toml:"data_bits" env:"DATA_BITS"`
	StopBits int    `toml:"stop_bits" env:"STOP_BITS"`
	Parity   string `toml:"parity" env:"PARITY"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch parity := strings.TrimSpace(strings.ToUpper(opts.Parity)); parity {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay" env:"INITIAL_DELAY"`
	Multiplier   float64       `toml:"multiplier" env:"MULTIPLIER"`
	MaxDelay     time.Duration `toml:"max_delay" env:"MAX_DELAY"`
	Jitter       bool          `toml:"jitter" env:"JITTER"`
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// FormatCommand encodes one pulse as "<COMMAND>,<seconds>" with three decimals.
func FormatCommand(cmd Command, d time.Duration) string {
	return fmt.Sprintf("%s,%.3f", cmd, d.Seconds())
}

// CommandChannel streams pulse commands to the actuator without waiting for
// replies. Any transport failure collapses it to DISCONNECTED.
type CommandChannel struct {
	dialer        Dialer
	log           zerolog.Logger
	backoff       BackoffConfig
	autoReconnect bool
	rng           *rand.Rand
	now           func() time.Time

	conn      Transport
	state     ChannelState
	attempts  int
	nextRetry time.Time
	sent      uint64
}

// NewCommandChannel creates a disconnected channel for dialer.
func NewCommandChannel(dialer Dialer, cfg ChannelConfig, log zerolog.Logger) *CommandChannel {
	return &CommandChannel{
		dialer:        dialer,
		log:           log.With().Str("component", "channel").Str("peer", dialer.String()).Logger(),
		backoff:       cfg.Backoff,
		autoReconnect: cfg.AutoReconnect,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
	}
}

// State reports the current connection state.
func (c *CommandChannel) State() ChannelState {
	return c.state
}

// Sent reports how many payloads were written successfully.
func (c *CommandChannel) Sent() uint64 {
	return c.sent
}

// Connect performs one dial attempt. Failure leaves the channel disconnected.
func (c *CommandChannel) Connect(ctx context.Context) error {
	c.release()
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("actuator connect failed")
		return fmt.Errorf("connect %s: %w", c.dialer, err)
	}
	c.conn = conn
	c.state = ChannelConnected
	c.attempts = 0
	c.log.Info().Msg("actuator connected")
	return nil
}

// MaybeReconnect retries a dropped link, at most once per backoff delay.
func (c *CommandChannel) MaybeReconnect(ctx context.Context) {
	if !c.autoReconnect || c.state == ChannelConnected {
		return
	}
	now := c.now()
	if now.Before(c.nextRetry) {
		return
	}
	if err := c.Connect(ctx); err != nil {
		c.attempts++
		c.nextRetry = now.Add(NextBackoffDelay(c.backoff, c.attempts, c.rng))
	}
}

// Send writes one command. It is a no-op while disconnected and never
// reports transport errors to the caller.
func (c *CommandChannel) Send(cmd Command, d time.Duration) {
	if c.state != ChannelConnected || c.conn == nil {
		return
	}
	payload := FormatCommand(cmd, d)
	if _, err := io.WriteString(c.conn, payload); err != nil {
		c.log.Warn().Err(err).Str("payload", payload).Msg("send failed, dropping link")
		c.release()
		c.nextRetry = c.now()
		return
	}
	c.sent++
	c.log.Debug().Str("payload", payload).Msg("sent")
}

// Close releases the transport. Safe to call repeatedly.
func (c *CommandChannel) Close() error {
	return c.release()
}

func (c *CommandChannel) release() error {
	c.state = ChannelDisconnected
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
