package car_nav

import (
	"fmt"
	"time"
)

// Pose is the fused 2D position and heading of the tracked marker.
//
// Conventions:
//   - x, z in length units of the camera calibration (meters on the reference rig).
//   - yaw in degrees, normalized to (-180, 180].
type Pose struct {
	X   float64
	Z   float64
	Yaw float64
}

// CameraPose is one camera's marker estimate in that camera's own frame.
type CameraPose struct {
	X   float64
	Y   float64
	Z   float64
	Yaw float64
}

// OriginOffset is the reference pose subtracted from raw poses.
type OriginOffset struct {
	RefX   float64
	RefZ   float64
	RefYaw float64
}

// Target is the operator-selected goal position.
type Target struct {
	X float64
	Z float64
}

// Command is a discrete drive instruction understood by the actuator.
type Command int

const (
	CommandStop Command = iota
	CommandForward
	CommandBack
	CommandLeft
	CommandRight
)

func (c Command) String() string {
	switch c {
	case CommandStop:
		return "STOP"
	case CommandForward:
		return "FORWARD"
	case CommandBack:
		return "BACK"
	case CommandLeft:
		return "LEFT"
	case CommandRight:
		return "RIGHT"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Action classifies one navigation decision or loop event.
type Action int

const (
	ActionNone Action = iota
	ActionArrived
	ActionNearMiss
	ActionTurn
	ActionForward
	ActionLost
	ActionUserStop
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionArrived:
		return "ARRIVED"
	case ActionNearMiss:
		return "NEAR_MISS"
	case ActionTurn:
		return "TURN"
	case ActionForward:
		return "FORWARD"
	case ActionLost:
		return "LOST"
	case ActionUserStop:
		return "USER_STOP"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Terminal reports whether the action ends the active target.
func (a Action) Terminal() bool {
	switch a {
	case ActionArrived, ActionNearMiss, ActionLost, ActionUserStop:
		return true
	default:
		return false
	}
}

// NavigationResult is the decision engine output for one cycle.
type NavigationResult struct {
	Distance      float64
	BearingError  float64 // (-180, 180]
	TargetBearing float64
	Heading       float64
	Action        Action
	Command       Command
	Duration      time.Duration
}

// Label is the value written to the command column of the event log.
func (r NavigationResult) Label() string {
	if r.Action.Terminal() {
		return r.Action.String()
	}
	return r.Command.String()
}

// ChannelState is the observable connection state of the command channel.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnected
)

func (s ChannelState) String() string {
	switch s {
	case ChannelDisconnected:
		return "DISCONNECTED"
	case ChannelConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// LogRecord is one immutable event log row.
type LogRecord struct {
	Time       time.Time
	Target     Target
	Current    Pose
	Distance   float64
	AngleError float64
	Label      string
	Duration   time.Duration
}
