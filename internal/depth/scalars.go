package depth

import (
	"math"

	"gocv.io/x/gocv"
)

// CameraModel is the pinhole depth-to-metric projection of the recording
// camera. The default is a Kinect v2 mounted at the usual rig height.
type CameraModel struct {
	ResolutionX  int
	ResolutionY  int
	FieldOfViewX float64 // degrees
	FieldOfViewY float64 // degrees
	TrueDepth    float64 // camera-to-floor distance in mm
}

// DefaultCameraModel matches the Kinect v2 sensor.
func DefaultCameraModel() CameraModel {
	return CameraModel{
		ResolutionX:  512,
		ResolutionY:  424,
		FieldOfViewX: 70.6,
		FieldOfViewY: 60,
		TrueDepth:    673.1,
	}
}

// PxToMM projects a pixel coordinate into millimetres on the floor plane.
func (c CameraModel) PxToMM(x, y float64) (float64, float64) {
	cx := float64(c.ResolutionX / 2)
	cy := float64(c.ResolutionY / 2)
	fw := float64(c.ResolutionX) / (2 * c.FieldOfViewX * math.Pi / 360)
	fh := float64(c.ResolutionY) / (2 * c.FieldOfViewY * math.Pi / 360)
	return c.TrueDepth * (x - cx) / fw, c.TrueDepth * (y - cy) / fh
}

// ScalarConfig controls scalar feature derivation.
type ScalarConfig struct {
	MinHeight float64 // lower bound of the subject height band (mm)
	MaxHeight float64 // upper bound of the subject height band (mm)
	Camera    CameraModel
}

// DefaultScalarConfig uses the 10-100mm mouse height band.
func DefaultScalarConfig() ScalarConfig {
	return ScalarConfig{MinHeight: 10, MaxHeight: 100, Camera: DefaultCameraModel()}
}

// ScalarFeatures is the per-frame scalar channel set in both pixel and
// physical units. Every channel has length equal to the frame count.
type ScalarFeatures struct {
	CentroidXPx   []float64
	CentroidYPx   []float64
	Velocity2DPx  []float64
	Velocity3DPx  []float64
	WidthPx       []float64
	LengthPx      []float64
	AreaPx        []float64
	CentroidXMM   []float64
	CentroidYMM   []float64
	Velocity2DMM  []float64
	Velocity3DMM  []float64
	WidthMM       []float64
	LengthMM      []float64
	AreaMM        []float64
	HeightAveMM   []float64
	Angle         []float64
	VelocityTheta []float64
}

// NewScalarFeatures allocates zeroed channels for n frames.
func NewScalarFeatures(n int) *ScalarFeatures {
	return &ScalarFeatures{
		CentroidXPx:   make([]float64, n),
		CentroidYPx:   make([]float64, n),
		Velocity2DPx:  make([]float64, n),
		Velocity3DPx:  make([]float64, n),
		WidthPx:       make([]float64, n),
		LengthPx:      make([]float64, n),
		AreaPx:        make([]float64, n),
		CentroidXMM:   make([]float64, n),
		CentroidYMM:   make([]float64, n),
		Velocity2DMM:  make([]float64, n),
		Velocity3DMM:  make([]float64, n),
		WidthMM:       make([]float64, n),
		LengthMM:      make([]float64, n),
		AreaMM:        make([]float64, n),
		HeightAveMM:   make([]float64, n),
		Angle:         make([]float64, n),
		VelocityTheta: make([]float64, n),
	}
}

// Len returns the frame count.
func (s *ScalarFeatures) Len() int { return len(s.Angle) }

// Channels returns the named channel map in the persisted naming scheme.
// The slices are shared with the receiver, not copied.
func (s *ScalarFeatures) Channels() map[string][]float64 {
	return map[string][]float64{
		"centroid_x_px":  s.CentroidXPx,
		"centroid_y_px":  s.CentroidYPx,
		"velocity_2d_px": s.Velocity2DPx,
		"velocity_3d_px": s.Velocity3DPx,
		"width_px":       s.WidthPx,
		"length_px":      s.LengthPx,
		"area_px":        s.AreaPx,
		"centroid_x_mm":  s.CentroidXMM,
		"centroid_y_mm":  s.CentroidYMM,
		"velocity_2d_mm": s.Velocity2DMM,
		"velocity_3d_mm": s.Velocity3DMM,
		"width_mm":       s.WidthMM,
		"length_mm":      s.LengthMM,
		"area_mm":        s.AreaMM,
		"height_ave_mm":  s.HeightAveMM,
		"angle":          s.Angle,
		"velocity_theta": s.VelocityTheta,
	}
}

// Clone deep-copies every channel.
func (s *ScalarFeatures) Clone() *ScalarFeatures {
	out := NewScalarFeatures(s.Len())
	dst := out.Channels()
	for name, src := range s.Channels() {
		copy(dst[name], src)
	}
	return out
}

// ComputeScalars derives the scalar channel set from CV8U height frames and
// the segmentation features. Height and area are taken over pixels inside
// the configured height band; frames with no such pixels leave the height
// channel at zero. Velocities are finite differences with the first frame
// defined by its own forward difference.
func ComputeScalars(batch *FrameBatch, tf *TrackFeatures, cfg ScalarConfig) *ScalarFeatures {
	n := batch.Len()
	s := NewScalarFeatures(n)
	if n == 0 {
		return s
	}

	for i := 0; i < n; i++ {
		cx, cy := tf.Centroid[i][0], tf.Centroid[i][1]
		s.CentroidXPx[i] = cx
		s.CentroidYPx[i] = cy

		mmX, mmY := cfg.Camera.PxToMM(cx, cy)
		s.CentroidXMM[i] = mmX
		s.CentroidYMM[i] = mmY

		// The projection is depth dependent, so the local px-to-mm scale is
		// the finite difference at the adjacent pixel.
		mmX1, mmY1 := cfg.Camera.PxToMM(cx+1, cy+1)
		pxToMMX := math.Abs(mmX1 - mmX)
		pxToMMY := math.Abs(mmY1 - mmY)

		s.WidthPx[i] = math.Min(tf.AxisLength[i][0], tf.AxisLength[i][1])
		s.LengthPx[i] = math.Max(tf.AxisLength[i][0], tf.AxisLength[i][1])
		s.WidthMM[i] = s.WidthPx[i] * pxToMMY
		s.LengthMM[i] = s.LengthPx[i] * pxToMMX
		s.Angle[i] = tf.Orientation[i]

		area, heightSum := bandStats(batch.At(i), cfg.MinHeight, cfg.MaxHeight)
		s.AreaPx[i] = float64(area)
		s.AreaMM[i] = float64(area) * (pxToMMX + pxToMMY) / 2
		if area > 0 {
			s.HeightAveMM[i] = heightSum / float64(area)
		}
	}

	velXPx := diffSeries(s.CentroidXPx)
	velYPx := diffSeries(s.CentroidYPx)
	velZ := diffSeries(s.HeightAveMM)
	velXMM := diffSeries(s.CentroidXMM)
	velYMM := diffSeries(s.CentroidYMM)
	for i := 0; i < n; i++ {
		s.Velocity2DPx[i] = math.Hypot(velXPx[i], velYPx[i])
		s.Velocity3DPx[i] = math.Sqrt(velXPx[i]*velXPx[i] + velYPx[i]*velYPx[i] + velZ[i]*velZ[i])
		s.Velocity2DMM[i] = math.Hypot(velXMM[i], velYMM[i])
		s.Velocity3DMM[i] = math.Sqrt(velXMM[i]*velXMM[i] + velYMM[i]*velYMM[i] + velZ[i]*velZ[i])
		s.VelocityTheta[i] = math.Atan2(velYMM[i], velXMM[i])
	}
	return s
}

// bandStats counts pixels inside (min, max) and sums their heights.
func bandStats(frame gocv.Mat, minH, maxH float64) (int, float64) {
	data, err := frame.DataPtrUint8()
	if err != nil {
		return 0, 0
	}
	count := 0
	sum := 0.0
	for _, v := range data {
		h := float64(v)
		if h > minH && h < maxH {
			count++
			sum += h
		}
	}
	return count, sum
}

// diffSeries returns backward differences, with the first element defined by
// the forward difference so every frame carries a velocity.
func diffSeries(x []float64) []float64 {
	n := len(x)
	d := make([]float64, n)
	for i := 1; i < n; i++ {
		d[i] = x[i] - x[i-1]
	}
	if n > 1 {
		d[0] = x[1] - x[0]
	}
	return d
}
