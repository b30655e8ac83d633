package depth

import (
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestCameraModelPxToMM(t *testing.T) {
	cam := DefaultCameraModel()

	// Principal point maps to the origin.
	x, y := cam.PxToMM(256, 212)
	if !approxEqual(x, 0, 1e-9) || !approxEqual(y, 0, 1e-9) {
		t.Errorf("principal point -> (%f, %f), want (0, 0)", x, y)
	}

	// Displacement scales linearly with the pixel offset.
	x1, _ := cam.PxToMM(266, 212)
	x2, _ := cam.PxToMM(276, 212)
	if !approxEqual(x2, 2*x1, 1e-6) {
		t.Errorf("projection not linear: %f vs 2*%f", x2, x1)
	}
	if x1 <= 0 {
		t.Errorf("rightward offset gave non-positive mm: %f", x1)
	}
}

func TestComputeScalarsConstantVelocity(t *testing.T) {
	// Blob advancing one column per frame.
	n := 10
	b := blobBatch(n, 80, 80, 30, 20, 10, 0, 1, 40)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	s := ComputeScalars(b, tf, DefaultScalarConfig())

	if s.Len() != n {
		t.Fatalf("Len = %d, want %d", s.Len(), n)
	}
	for i := 0; i < n; i++ {
		if !approxEqual(s.Velocity2DPx[i], 1, 0.2) {
			t.Errorf("frame %d velocity_2d_px = %f, want ~1", i, s.Velocity2DPx[i])
		}
		if !approxEqual(s.AreaPx[i], 100, 10) {
			t.Errorf("frame %d area_px = %f, want ~100", i, s.AreaPx[i])
		}
		if s.HeightAveMM[i] < 30 || s.HeightAveMM[i] > 50 {
			t.Errorf("frame %d height_ave_mm = %f, want ~40", i, s.HeightAveMM[i])
		}
		if s.AreaMM[i] <= 0 {
			t.Errorf("frame %d area_mm = %f, want positive", i, s.AreaMM[i])
		}
	}

	// Purely horizontal motion: velocity_theta ~ 0, and the 3D velocity
	// matches the 2D one because height is constant.
	for i := 1; i < n; i++ {
		if !approxEqual(math.Abs(s.VelocityTheta[i]), 0, 0.3) {
			t.Errorf("frame %d velocity_theta = %f, want ~0", i, s.VelocityTheta[i])
		}
		if !approxEqual(s.Velocity3DPx[i], s.Velocity2DPx[i], 0.5) {
			t.Errorf("frame %d velocity_3d_px = %f vs 2d %f", i, s.Velocity3DPx[i], s.Velocity2DPx[i])
		}
	}
}

func TestComputeScalarsFirstFrameForwardDifference(t *testing.T) {
	n := 5
	b := blobBatch(n, 80, 80, 30, 20, 10, 0, 2, 40)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	s := ComputeScalars(b, tf, DefaultScalarConfig())

	// The first sample borrows the first forward difference instead of
	// being zero or NaN.
	if !approxEqual(s.Velocity2DPx[0], s.Velocity2DPx[1], 0.3) {
		t.Errorf("velocity_2d_px[0] = %f, want ~%f", s.Velocity2DPx[0], s.Velocity2DPx[1])
	}
}

func TestComputeScalarsWidthLengthOrdering(t *testing.T) {
	// Elongated blob: length must be the larger axis.
	wide := NewEmptyBatch(1, 80, 80, gocv.MatTypeCV8U)
	defer wide.Close()
	fillRectU8(wide.At(0), 35, 45, 15, 65, 40)

	tf := SegmentBatch(wide, DefaultSegmentConfig())
	s := ComputeScalars(wide, tf, DefaultScalarConfig())

	if s.LengthPx[0] <= s.WidthPx[0] {
		t.Errorf("length %f not greater than width %f", s.LengthPx[0], s.WidthPx[0])
	}
	if s.LengthMM[0] <= s.WidthMM[0] {
		t.Errorf("length_mm %f not greater than width_mm %f", s.LengthMM[0], s.WidthMM[0])
	}
}

func TestChannelsExposesAllSeries(t *testing.T) {
	s := NewScalarFeatures(3)
	ch := s.Channels()
	want := []string{
		"centroid_x_px", "centroid_y_px", "velocity_2d_px", "velocity_3d_px",
		"width_px", "length_px", "area_px",
		"centroid_x_mm", "centroid_y_mm", "velocity_2d_mm", "velocity_3d_mm",
		"width_mm", "length_mm", "area_mm",
		"height_ave_mm", "angle", "velocity_theta",
	}
	if len(ch) != len(want) {
		t.Fatalf("Channels() has %d entries, want %d", len(ch), len(want))
	}
	for _, name := range want {
		series, ok := ch[name]
		if !ok {
			t.Errorf("missing channel %q", name)
			continue
		}
		if len(series) != 3 {
			t.Errorf("channel %q length = %d, want 3", name, len(series))
		}
	}
}

func TestComputeScalarsNaNTrackStillCountsBandPixels(t *testing.T) {
	b := NewEmptyBatch(1, 80, 80, gocv.MatTypeCV8U)
	defer b.Close()
	m := b.At(0)
	fillRectU8(m, 30, 40, 20, 30, 40)

	s := ComputeScalars(b, NewTrackFeatures(1), DefaultScalarConfig())

	// In-band pixels count even when segmentation found nothing.
	if s.AreaPx[0] != 100 {
		t.Errorf("area_px = %f, want 100", s.AreaPx[0])
	}
	if s.HeightAveMM[0] != 40 {
		t.Errorf("height_ave_mm = %f, want 40", s.HeightAveMM[0])
	}
	if !math.IsNaN(s.CentroidXPx[0]) || !math.IsNaN(s.Angle[0]) {
		t.Errorf("centroid/angle = %f/%f, want NaN", s.CentroidXPx[0], s.Angle[0])
	}
}

func TestComputeScalarsAllZeroBatch(t *testing.T) {
	n := 3
	b := NewEmptyBatch(n, 40, 40, gocv.MatTypeCV8U)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	s := ComputeScalars(b, tf, DefaultScalarConfig())

	for i := 0; i < n; i++ {
		if !math.IsNaN(s.CentroidXPx[i]) || !math.IsNaN(s.CentroidYPx[i]) {
			t.Errorf("frame %d centroid = (%f, %f), want NaN", i, s.CentroidXPx[i], s.CentroidYPx[i])
		}
		if s.AreaPx[i] != 0 || s.HeightAveMM[i] != 0 {
			t.Errorf("frame %d area/height = %f/%f, want 0", i, s.AreaPx[i], s.HeightAveMM[i])
		}
		// NaN centroids propagate into the velocity channels.
		if !math.IsNaN(s.Velocity2DPx[i]) || !math.IsNaN(s.Velocity2DMM[i]) {
			t.Errorf("frame %d velocity = %f/%f, want NaN", i, s.Velocity2DPx[i], s.Velocity2DMM[i])
		}
		if !math.IsNaN(s.VelocityTheta[i]) {
			t.Errorf("frame %d velocity_theta = %f, want NaN", i, s.VelocityTheta[i])
		}
	}
}
