package car_nav

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// OperatorEventKind names an operator request.
type OperatorEventKind int

const (
	EventSetTarget OperatorEventKind = iota + 1
	EventStop
	EventResetOrigin
	EventQuit
)

func (k OperatorEventKind) String() string {
	switch k {
	case EventSetTarget:
		return "SET_TARGET"
	case EventStop:
		return "STOP"
	case EventResetOrigin:
		return "RESET_ORIGIN"
	case EventQuit:
		return "QUIT"
	default:
		return fmt.Sprintf("OperatorEventKind(%d)", int(k))
	}
}

// OperatorEvent is one request from the operator.
type OperatorEvent struct {
	Kind   OperatorEventKind
	Target Target
}

// Mailbox is a single-slot hand-off between operator input and the loop.
// A newer event replaces an unconsumed one, except that QUIT is sticky.
type Mailbox struct {
	mu   sync.Mutex
	slot *OperatorEvent
}

// Post stores ev without blocking.
func (m *Mailbox) Post(ev OperatorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot != nil && m.slot.Kind == EventQuit {
		return
	}
	m.slot = &ev
}

// Take removes and returns the pending event, if any.
func (m *Mailbox) Take() (OperatorEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil {
		return OperatorEvent{}, false
	}
	ev := *m.slot
	m.slot = nil
	return ev, true
}

// PixelMapper converts a pixel on the camera A view into a target using
// independent linear scales around the principal point.
type PixelMapper struct {
	ScaleX float64
	ScaleZ float64
	CX     float64
	CY     float64
}

// NewPixelMapper builds a mapper from operator config.
func NewPixelMapper(cfg OperatorConfig) PixelMapper {
	return PixelMapper{ScaleX: cfg.ScaleX, ScaleZ: cfg.ScaleZ, CX: cfg.CX, CY: cfg.CY}
}

// Target maps pixel (px, py) to a target position.
func (p PixelMapper) Target(px, py float64) Target {
	return Target{X: (px - p.CX) / p.ScaleX, Z: (py - p.CY) / p.ScaleZ}
}

// ParseOperatorLine parses one operator command:
//
//	goto <x> <z>
//	click <px> <py>
//	stop | reset | quit
func ParseOperatorLine(line string, mapper PixelMapper) (OperatorEvent, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return OperatorEvent{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "goto", "click":
		if len(fields) != 3 {
			return OperatorEvent{}, fmt.Errorf("%s expects 2 arguments, got %d", fields[0], len(fields)-1)
		}
		a, err := parseF64(fields[1])
		if err != nil {
			return OperatorEvent{}, fmt.Errorf("%s: %w", fields[0], err)
		}
		b, err := parseF64(fields[2])
		if err != nil {
			return OperatorEvent{}, fmt.Errorf("%s: %w", fields[0], err)
		}
		target := Target{X: a, Z: b}
		if fields[0] == "click" {
			target = mapper.Target(a, b)
		}
		return OperatorEvent{Kind: EventSetTarget, Target: target}, nil
	case "stop", "cancel", "space":
		return OperatorEvent{Kind: EventStop}, nil
	case "reset", "origin":
		return OperatorEvent{Kind: EventResetOrigin}, nil
	case "quit", "q", "exit":
		return OperatorEvent{Kind: EventQuit}, nil
	default:
		return OperatorEvent{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// ReadOperatorCommands posts one event per valid line of r until EOF or ctx
// is done. EOF posts QUIT.
func ReadOperatorCommands(ctx context.Context, r io.Reader, box *Mailbox, mapper PixelMapper, log zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := ParseOperatorLine(line, mapper)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("ignored operator input")
			continue
		}
		if ev.Kind == EventSetTarget {
			log.Info().Float64("x", ev.Target.X).Float64("z", ev.Target.Z).Msg("target selected")
		}
		box.Post(ev)
	}
	if ctx.Err() == nil {
		box.Post(OperatorEvent{Kind: EventQuit})
	}
}
