package car_nav

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAngleRange(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{-1080, -720.5, -540, -360, -181, -180, -179.9, -1, 0, 1, 179.9, 180, 181, 359, 360, 540, 1e6, -1e6} {
		got := NormalizeAngle(deg)
		assert.Greater(t, got, -180.0, "normalize(%v)", deg)
		assert.LessOrEqual(t, got, 180.0, "normalize(%v)", deg)
	}
}

func TestNormalizeAngleBoundaries(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 180.0, NormalizeAngle(-180))
	assert.Equal(t, 180.0, NormalizeAngle(180))
	assert.Equal(t, 180.0, NormalizeAngle(540))
	assert.Equal(t, -170.0, NormalizeAngle(190))
	assert.Equal(t, 0.0, NormalizeAngle(360))
}

func TestNormalizeAnglePeriodic(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{-179, -90, -45, 0, 30, 90, 170, 180} {
		base := NormalizeAngle(deg)
		for k := -5; k <= 5; k++ {
			assert.InDelta(t, base, NormalizeAngle(deg+360*float64(k)), 1e-9, "deg=%v k=%d", deg, k)
		}
	}
}

func TestNavigateScenarios(t *testing.T) {
	t.Parallel()
	tol := DefaultTolerances()

	t.Run("straight ahead drives forward", func(t *testing.T) {
		res := Navigate(Pose{X: 0, Z: 0, Yaw: 0}, Target{X: 1, Z: 0}, tol)
		assert.InDelta(t, 1.0, res.Distance, 1e-12)
		assert.InDelta(t, 0.0, res.BearingError, 1e-12)
		assert.Equal(t, ActionForward, res.Action)
		assert.Equal(t, CommandForward, res.Command)
		assert.Equal(t, tol.Forward, res.Duration)
	})

	t.Run("target behind forces left big turn", func(t *testing.T) {
		res := Navigate(Pose{X: 0, Z: 0, Yaw: 170}, Target{X: 1, Z: 0}, tol)
		assert.InDelta(t, 0.0, res.TargetBearing, 1e-12)
		assert.InDelta(t, -170.0, res.BearingError, 1e-12)
		assert.Equal(t, ActionTurn, res.Action)
		assert.Equal(t, CommandLeft, res.Command)
		assert.Equal(t, tol.TurnBig, res.Duration)
	})

	t.Run("within tolerance arrives", func(t *testing.T) {
		res := Navigate(Pose{X: 0.99, Z: 0, Yaw: 0}, Target{X: 1, Z: 0}, tol)
		assert.InDelta(t, 0.01, res.Distance, 1e-9)
		assert.Equal(t, ActionArrived, res.Action)
		assert.Equal(t, CommandStop, res.Command)
		assert.Zero(t, res.Duration)
		assert.Equal(t, "ARRIVED", res.Label())
	})
}

func TestNavigateArrivedBeatsTurn(t *testing.T) {
	t.Parallel()

	for _, yaw := range []float64{-179, -90, 0, 45, 90, 180} {
		res := Navigate(Pose{X: 0, Z: 0, Yaw: yaw}, Target{X: 0, Z: 0.01}, DefaultTolerances())
		assert.Equal(t, ActionArrived, res.Action, "yaw=%v", yaw)
	}
}

func TestNavigateNearMiss(t *testing.T) {
	t.Parallel()
	tol := DefaultTolerances()

	res := Navigate(Pose{Yaw: -46}, Target{X: 0.079, Z: 0}, tol)
	assert.InDelta(t, 46.0, res.BearingError, 1e-9)
	assert.Equal(t, ActionNearMiss, res.Action)
	assert.Equal(t, CommandStop, res.Command)
	assert.Equal(t, "NEAR_MISS", res.Label())

	// distance exactly at the threshold is not a near miss
	res = Navigate(Pose{Yaw: -46}, Target{X: 0.08, Z: 0}, tol)
	assert.Equal(t, 0.08, res.Distance)
	assert.Equal(t, ActionTurn, res.Action)

	// close but aligned keeps driving
	res = Navigate(Pose{Yaw: 0}, Target{X: 0.05, Z: 0}, tol)
	assert.Equal(t, ActionForward, res.Action)
}

func TestNavigateTurnDurationsAndBoundaries(t *testing.T) {
	t.Parallel()
	tol := DefaultTolerances()

	tests := []struct {
		name     string
		err      float64
		action   Action
		command  Command
		duration float64
	}{
		{"big left", 41, ActionTurn, CommandLeft, tol.TurnBig.Seconds()},
		{"big right", -41, ActionTurn, CommandRight, tol.TurnBig.Seconds()},
		{"small left", 25, ActionTurn, CommandLeft, tol.TurnSmall.Seconds()},
		{"small right", -25, ActionTurn, CommandRight, tol.TurnSmall.Seconds()},
		{"big threshold is exclusive", 40, ActionTurn, CommandLeft, tol.TurnSmall.Seconds()},
		{"angle tolerance is exclusive", 20, ActionForward, CommandForward, tol.Forward.Seconds()},
		{"negative tolerance is exclusive", -20, ActionForward, CommandForward, tol.Forward.Seconds()},
		{"tie break positive", 170, ActionTurn, CommandLeft, tol.TurnBig.Seconds()},
		{"tie break negative", -170, ActionTurn, CommandLeft, tol.TurnBig.Seconds()},
		{"tie break threshold exclusive", -160, ActionTurn, CommandRight, tol.TurnBig.Seconds()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// target on +x so bearing error = -yaw
			res := Navigate(Pose{Yaw: -tc.err}, Target{X: 1, Z: 0}, tol)
			require.InDelta(t, tc.err, res.BearingError, 1e-9)
			assert.Equal(t, tc.action, res.Action)
			assert.Equal(t, tc.command, res.Command)
			assert.InDelta(t, tc.duration, res.Duration.Seconds(), 1e-12)
		})
	}
}

func TestNavigateAngleOffset(t *testing.T) {
	t.Parallel()
	tol := DefaultTolerances()
	tol.AngleOffset = 90

	res := Navigate(Pose{Yaw: -90}, Target{X: 1, Z: 0}, tol)
	assert.InDelta(t, 0.0, res.Heading, 1e-12)
	assert.Equal(t, ActionForward, res.Action)
}

func TestNavigateBearingUsesZAxis(t *testing.T) {
	t.Parallel()

	res := Navigate(Pose{}, Target{X: 0, Z: 1}, DefaultTolerances())
	assert.InDelta(t, 90.0, res.TargetBearing, 1e-12)
	assert.Equal(t, CommandLeft, res.Command)
	assert.False(t, math.IsNaN(res.BearingError))
}
