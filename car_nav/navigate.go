package car_nav

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// Tolerances bundles the decision thresholds and pulse durations.
type Tolerances struct {
	Distance         float64 `toml:"distance" env:"DISTANCE"`
	Angle            float64 `toml:"angle" env:"ANGLE"`
	NearMissDistance float64 `toml:"near_miss_distance" env:"NEAR_MISS_DISTANCE"`
	NearMissAngle    float64 `toml:"near_miss_angle" env:"NEAR_MISS_ANGLE"`
	BigTurnAngle     float64 `toml:"big_turn_angle" env:"BIG_TURN_ANGLE"`
	TieBreakAngle    float64 `toml:"tie_break_angle" env:"TIE_BREAK_ANGLE"`
	AngleOffset      float64 `toml:"angle_offset" env:"ANGLE_OFFSET"`

	TurnBig   time.Duration `toml:"turn_big" env:"TURN_BIG"`
	TurnSmall time.Duration `toml:"turn_small" env:"TURN_SMALL"`
	Forward   time.Duration `toml:"forward" env:"FORWARD"`
}

// DefaultTolerances returns the thresholds tuned on the reference rig.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Distance:         0.02,
		Angle:            20,
		NearMissDistance: 0.08,
		NearMissAngle:    45,
		BigTurnAngle:     40,
		TieBreakAngle:    160,
		AngleOffset:      0,
		TurnBig:          50 * time.Millisecond,
		TurnSmall:        20 * time.Millisecond,
		Forward:          100 * time.Millisecond,
	}
}

// NormalizeAngle wraps degrees into (-180, 180].
//
// Exactly -180 maps to +180.
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	for deg > 180 {
		deg -= 360
	}
	for deg <= -180 {
		deg += 360
	}
	return deg
}

// Navigate classifies the next pulse for current toward target.
//
// Rules are evaluated in order and the first match wins:
//   - ARRIVED: distance < Distance.
//   - NEAR_MISS: distance < NearMissDistance and |error| > NearMissAngle.
//   - TURN: |error| > Angle.
//   - FORWARD otherwise.
func Navigate(current Pose, target Target, tol Tolerances) NavigationResult {
	delta := r2.Sub(r2.Vec{X: target.X, Y: target.Z}, r2.Vec{X: current.X, Y: current.Z})
	distance := r2.Norm(delta)
	targetBearing := math.Atan2(delta.Y, delta.X) * 180 / math.Pi
	heading := current.Yaw + tol.AngleOffset
	bearingError := NormalizeAngle(targetBearing - heading)

	res := NavigationResult{
		Distance:      distance,
		BearingError:  bearingError,
		TargetBearing: targetBearing,
		Heading:       heading,
	}
	absErr := math.Abs(bearingError)

	switch {
	case distance < tol.Distance:
		res.Action = ActionArrived
		res.Command = CommandStop
	case distance < tol.NearMissDistance && absErr > tol.NearMissAngle:
		res.Action = ActionNearMiss
		res.Command = CommandStop
	case absErr > tol.Angle:
		res.Action = ActionTurn
		res.Command = turnDirection(bearingError, tol.TieBreakAngle)
		if absErr > tol.BigTurnAngle {
			res.Duration = tol.TurnBig
		} else {
			res.Duration = tol.TurnSmall
		}
	default:
		res.Action = ActionForward
		res.Command = CommandForward
		res.Duration = tol.Forward
	}
	return res
}

// turnDirection returns LEFT whenever |bearingError| exceeds tieBreak.
func turnDirection(bearingError, tieBreak float64) Command {
	if math.Abs(bearingError) > tieBreak {
		return CommandLeft
	}
	if bearingError > 0 {
		return CommandLeft
	}
	return CommandRight
}
