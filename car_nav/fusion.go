package car_nav

import (
	"errors"
	"fmt"
)

// Sample is one fused reading of both cameras.
type Sample struct {
	Relative  Pose
	Raw       Pose
	Detected  bool
	// HasFrames is false when either camera produced no frame.
	HasFrames bool
	FrameA    Frame
	FrameB    Frame
}

// DualCameraFusion combines two fixed cameras into one planar pose.
//
// Rig constraint: camera A looks along the z axis and provides x and yaw;
// camera B looks along the x axis and its horizontal reading provides z.
// Both cameras must see the marker in the same cycle.
type DualCameraFusion struct {
	camA   Camera
	camB   Camera
	oracle PoseOracle
	offset OriginOffset
}

// NewDualCameraFusion constructs fusion over two camera sources.
func NewDualCameraFusion(camA, camB Camera, oracle PoseOracle) *DualCameraFusion {
	return &DualCameraFusion{camA: camA, camB: camB, oracle: oracle}
}

// Offset returns the current origin offset.
func (f *DualCameraFusion) Offset() OriginOffset {
	return f.offset
}

// ResetOrigin makes raw the new (0, 0, 0) reference.
func (f *DualCameraFusion) ResetOrigin(raw Pose) {
	f.offset = OriginOffset{RefX: raw.X, RefZ: raw.Z, RefYaw: raw.Yaw}
}

// Relative applies the origin offset to a raw pose.
func (f *DualCameraFusion) Relative(raw Pose) Pose {
	return Pose{
		X:   raw.X - f.offset.RefX,
		Z:   raw.Z - f.offset.RefZ,
		Yaw: NormalizeAngle(raw.Yaw - f.offset.RefYaw),
	}
}

// Sample reads camera A then camera B and fuses the two estimates.
//
// A missing frame or a missing marker in either camera yields Detected=false
// with zeroed poses. The error is non-nil only when a source is permanently
// gone.
func (f *DualCameraFusion) Sample() (Sample, error) {
	frameA, errA := f.camA.Read()
	frameB, errB := f.camB.Read()
	if err := terminalSourceError(errA, errB); err != nil {
		return Sample{}, err
	}
	if errA != nil || errB != nil {
		return Sample{}, nil
	}

	poseA, okA := f.oracle.Estimate(frameA)
	poseB, okB := f.oracle.Estimate(frameB)
	if !okA || !okB {
		return Sample{HasFrames: true, FrameA: frameA, FrameB: frameB}, nil
	}

	raw := Pose{X: poseA.X, Z: poseB.X, Yaw: NormalizeAngle(poseA.Yaw)}
	return Sample{
		Relative:  f.Relative(raw),
		Raw:       raw,
		Detected:  true,
		HasFrames: true,
		FrameA:    frameA,
		FrameB:    frameB,
	}, nil
}

// Close releases both cameras, attempting each even if one fails.
func (f *DualCameraFusion) Close() error {
	var errs []error
	if err := f.camA.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera a: %w", err))
	}
	if err := f.camB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera b: %w", err))
	}
	return errors.Join(errs...)
}

func terminalSourceError(errA, errB error) error {
	if errors.Is(errA, ErrSourceClosed) {
		return fmt.Errorf("camera a: %w", errA)
	}
	if errors.Is(errB, ErrSourceClosed) {
		return fmt.Errorf("camera b: %w", errB)
	}
	return nil
}
