package car_nav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MotorDriver executes drive commands on the vehicle.
type MotorDriver interface {
	Forward()
	Backward()
	Left()
	Right()
	Stop()
}

// LogDriver is a MotorDriver that only logs, for bench runs without motors.
type LogDriver struct {
	Log   zerolog.Logger
	Power float64
}

func (d LogDriver) Forward()  { d.Log.Info().Float64("power", d.Power).Msg("motor forward") }
func (d LogDriver) Backward() { d.Log.Info().Float64("power", d.Power).Msg("motor backward") }
func (d LogDriver) Left()     { d.Log.Info().Float64("power", d.Power).Msg("motor left") }
func (d LogDriver) Right()    { d.Log.Info().Float64("power", d.Power).Msg("motor right") }
func (d LogDriver) Stop()     { d.Log.Info().Msg("motor stop") }

// keywordOrder is the match priority applied to each received payload.
var keywordOrder = []Command{CommandForward, CommandBack, CommandLeft, CommandRight, CommandStop}

// MatchKeyword finds the first command keyword contained in msg.
// Matching is case-sensitive.
func MatchKeyword(msg string) (Command, bool) {
	for _, cmd := range keywordOrder {
		if strings.Contains(msg, cmd.String()) {
			return cmd, true
		}
	}
	return CommandStop, false
}

// ParsePulse decodes "<COMMAND>,<seconds>". A missing or malformed duration
// yields zero.
func ParsePulse(msg string) (Command, time.Duration, bool) {
	cmd, ok := MatchKeyword(msg)
	if !ok {
		return CommandStop, 0, false
	}
	_, rest, found := strings.Cut(strings.TrimSpace(msg), ",")
	if !found {
		return cmd, 0, true
	}
	secs, err := parseF64(rest)
	if err != nil || secs < 0 {
		return cmd, 0, true
	}
	return cmd, time.Duration(secs * float64(time.Second)), true
}

// ActuatorServer accepts one controller connection at a time and drives the
// motors from received pulses. The motors stop when a pulse expires or the
// connection drops.
type ActuatorServer struct {
	Addr   string
	Driver MotorDriver
	Log    zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
	pulse uint64
}

// ListenAndServe listens on Addr and serves until ctx is cancelled.
func (s *ActuatorServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("actuator listen %q: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln sequentially.
func (s *ActuatorServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	s.Log.Info().Str("addr", ln.Addr().String()).Msg("actuator waiting for controller")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.handle(ctx, conn)
	}
}

func (s *ActuatorServer) handle(ctx context.Context, conn net.Conn) {
	log := s.Log.With().Str("peer", conn.RemoteAddr().String()).Logger()
	log.Info().Msg("controller connected")
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		s.apply(CommandStop, 0)
		log.Info().Msg("controller disconnected")
	}()

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msg := strings.TrimSpace(string(buf[:n]))
			if cmd, d, ok := ParsePulse(msg); ok {
				s.apply(cmd, d)
			} else {
				log.Debug().Str("payload", msg).Msg("ignored payload")
			}
		}
		if err != nil {
			return
		}
	}
}

// apply drives the motors and arms the pulse timer.
func (s *ActuatorServer) apply(cmd Command, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulse++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	switch cmd {
	case CommandForward:
		s.Driver.Forward()
	case CommandBack:
		s.Driver.Backward()
	case CommandLeft:
		s.Driver.Left()
	case CommandRight:
		s.Driver.Right()
	default:
		s.Driver.Stop()
		return
	}

	if d > 0 {
		pulse := s.pulse
		s.timer = time.AfterFunc(d, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pulse == pulse {
				s.Driver.Stop()
			}
		})
	}
}
