package car_nav

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCamera replays scripted reads; once the script is exhausted it repeats
// the last entry.
type fakeCamera struct {
	name     string
	reads    []fakeRead
	idx      int
	closed   int
	closeErr error
}

type fakeRead struct {
	payload string
	err     error
}

func (c *fakeCamera) Read() (Frame, error) {
	if len(c.reads) == 0 {
		return Frame{}, ErrNoFrame
	}
	r := c.reads[c.idx]
	if c.idx < len(c.reads)-1 {
		c.idx++
	}
	if r.err != nil {
		return Frame{}, r.err
	}
	return Frame{Camera: c.name, Payload: []byte(r.payload)}, nil
}

func (c *fakeCamera) Close() error {
	c.closed++
	return c.closeErr
}

func seeing(payloads ...string) *fakeCamera {
	cam := &fakeCamera{}
	for _, p := range payloads {
		cam.reads = append(cam.reads, fakeRead{payload: p})
	}
	return cam
}

func TestFusionRequiresBothCameras(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b *fakeCamera
	}{
		{"a only", seeing("1,0.5,0,1.2,10"), seeing("0,0,0,0,0")},
		{"b only", seeing("0,0,0,0,0"), seeing("1,0.3,0,1.1,0")},
		{"a has no frame", &fakeCamera{reads: []fakeRead{{err: ErrNoFrame}}}, seeing("1,0.3,0,1.1,0")},
		{"b has no frame", seeing("1,0.5,0,1.2,10"), &fakeCamera{reads: []fakeRead{{err: ErrNoFrame}}}},
		{"a malformed", seeing("garbage"), seeing("1,0.3,0,1.1,0")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewDualCameraFusion(tc.a, tc.b, CSVPoseOracle{})
			s, err := f.Sample()
			require.NoError(t, err)
			assert.False(t, s.Detected)
			assert.Equal(t, Pose{}, s.Relative)
			assert.Equal(t, Pose{}, s.Raw)
		})
	}
}

func TestFusionTakesXFromAAndZFromB(t *testing.T) {
	t.Parallel()

	f := NewDualCameraFusion(seeing("1,0.5,0.1,1.2,30"), seeing("1,0.25,0.2,2.0,-80"), CSVPoseOracle{})
	s, err := f.Sample()
	require.NoError(t, err)
	require.True(t, s.Detected)
	assert.True(t, s.HasFrames)
	assert.Equal(t, Pose{X: 0.5, Z: 0.25, Yaw: 30}, s.Raw)
	assert.Equal(t, s.Raw, s.Relative)
}

func TestFusionNormalizesYaw(t *testing.T) {
	t.Parallel()

	f := NewDualCameraFusion(seeing("1,0,0,0,270"), seeing("1,0,0,0,0"), CSVPoseOracle{})
	s, err := f.Sample()
	require.NoError(t, err)
	assert.Equal(t, -90.0, s.Raw.Yaw)
}

func TestFusionResetOrigin(t *testing.T) {
	t.Parallel()

	f := NewDualCameraFusion(seeing("1,0.5,0,0,170"), seeing("1,0.25,0,0,0"), CSVPoseOracle{})
	origin := Pose{X: 0.25, Z: 0.05, Yaw: -170}

	f.ResetOrigin(origin)
	first := f.Relative(Pose{X: 0.5, Z: 0.25, Yaw: 170})
	f.ResetOrigin(origin)
	second := f.Relative(Pose{X: 0.5, Z: 0.25, Yaw: 170})
	assert.Equal(t, first, second)
	assert.Equal(t, OriginOffset{RefX: 0.25, RefZ: 0.05, RefYaw: -170}, f.Offset())

	s, err := f.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.25, s.Relative.X, 1e-12)
	assert.InDelta(t, 0.20, s.Relative.Z, 1e-12)
	// 170 - (-170) = 340 wraps to -20
	assert.InDelta(t, -20.0, s.Relative.Yaw, 1e-12)
	assert.Equal(t, Pose{X: 0.5, Z: 0.25, Yaw: 170}, s.Raw)
}

func TestFusionTerminalSourceError(t *testing.T) {
	t.Parallel()

	f := NewDualCameraFusion(seeing("1,0,0,0,0"), &fakeCamera{reads: []fakeRead{{err: ErrSourceClosed}}}, CSVPoseOracle{})
	_, err := f.Sample()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestFusionCloseAttemptsBoth(t *testing.T) {
	t.Parallel()

	a := &fakeCamera{closeErr: errors.New("busy")}
	b := &fakeCamera{}
	f := NewDualCameraFusion(a, b, CSVPoseOracle{})

	err := f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera a")
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}
