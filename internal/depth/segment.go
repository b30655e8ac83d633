package depth

import (
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// TrackFeatures holds the per-frame geometry emitted by segmentation. NaN is
// the explicit "no detection this frame" sentinel; downstream stages must
// propagate it rather than fail.
type TrackFeatures struct {
	Centroid    [][2]float64 // x, y in pixels
	Orientation []float64    // radians
	AxisLength  [][2]float64 // major, minor
}

// NewTrackFeatures allocates n NaN-filled feature rows.
func NewTrackFeatures(n int) *TrackFeatures {
	tf := &TrackFeatures{
		Centroid:    make([][2]float64, n),
		Orientation: make([]float64, n),
		AxisLength:  make([][2]float64, n),
	}
	nan := math.NaN()
	for i := 0; i < n; i++ {
		tf.Centroid[i] = [2]float64{nan, nan}
		tf.Orientation[i] = nan
		tf.AxisLength[i] = [2]float64{nan, nan}
	}
	return tf
}

// Len returns the frame count.
func (tf *TrackFeatures) Len() int { return len(tf.Orientation) }

// Valid reports whether frame i carries a detection.
func (tf *TrackFeatures) Valid(i int) bool {
	return !math.IsNaN(tf.Centroid[i][0]) && !math.IsNaN(tf.Centroid[i][1])
}

// Clone deep-copies the features.
func (tf *TrackFeatures) Clone() *TrackFeatures {
	out := &TrackFeatures{
		Centroid:    append([][2]float64(nil), tf.Centroid...),
		Orientation: append([]float64(nil), tf.Orientation...),
		AxisLength:  append([][2]float64(nil), tf.AxisLength...),
	}
	return out
}

// SegmentConfig controls per-frame foreground extraction from CV8U
// height-above-floor frames.
type SegmentConfig struct {
	FrameThreshold float64 // min height (mm) separating floor from subject

	// Largest-connected-component gate: intersect the height mask with the
	// biggest 4-connected blob of a coarser threshold.
	UseCC       bool
	CCThreshold float64

	// Object-removal mode: dual height bands restricted to the floor and box
	// masks, plus an enclosing-circle radius cap that rejects oversized
	// shadow contours.
	ObjectRemoval bool
	FloorMask     gocv.Mat // cropped to the ROI by the caller
	BoxMask       gocv.Mat
	MeanBoxHeight float64
	BoxPad        float64 // extra clearance above the box surface
	RadiusCap     float64 // max enclosing-circle radius for the subject
}

// DefaultSegmentConfig uses the standard 10mm floor threshold.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		FrameThreshold: 10,
		CCThreshold:    10,
		BoxPad:         5,
		RadiusCap:      50,
	}
}

// SegmentBatch extracts centroid, orientation and axis lengths for every
// frame of the batch via image moments of the dominant contour. Frames with
// no surviving contour yield NaN rows; the batch itself is not modified.
func SegmentBatch(batch *FrameBatch, cfg SegmentConfig) *TrackFeatures {
	n := batch.Len()
	tf := NewTrackFeatures(n)

	for i := 0; i < n; i++ {
		frame := batch.At(i)
		mask := frameMask(frame, cfg, cfg.FrameThreshold, cfg.FrameThreshold+math.Abs(cfg.MeanBoxHeight)+cfg.BoxPad)

		if cfg.UseCC {
			var coarse gocv.Mat
			if cfg.ObjectRemoval {
				coarse = frameMask(frame, cfg, cfg.CCThreshold, cfg.CCThreshold+cfg.MeanBoxHeight)
			} else {
				coarse = thresholdMask(frame, cfg.CCThreshold)
			}
			cc := largestComponent(coarse)
			coarse.Close()
			gated := gocv.NewMat()
			gocv.BitwiseAnd(mask, cc, &gated)
			cc.Close()
			mask.Close()
			mask = gated
		}

		fillFeatures(mask, cfg, tf, i)
		mask.Close()
	}
	return tf
}

// frameMask builds the foreground mask for one frame: a single global
// threshold normally, or the union of floor and box height bands when object
// removal is active.
func frameMask(frame gocv.Mat, cfg SegmentConfig, floorThresh, boxThresh float64) gocv.Mat {
	if !cfg.ObjectRemoval || cfg.FloorMask.Empty() {
		return thresholdMask(frame, floorThresh)
	}
	floorBand := thresholdMask(frame, floorThresh)
	gocv.BitwiseAnd(floorBand, cfg.FloorMask, &floorBand)
	boxBand := thresholdMask(frame, boxThresh)
	gocv.BitwiseAnd(boxBand, cfg.BoxMask, &boxBand)
	gocv.BitwiseOr(floorBand, boxBand, &floorBand)
	boxBand.Close()
	return floorBand
}

// thresholdMask returns frame > thresh as a 0/255 mask.
func thresholdMask(frame gocv.Mat, thresh float64) gocv.Mat {
	mask := gocv.NewMat()
	gocv.Threshold(frame, &mask, float32(thresh), 255, gocv.ThresholdBinary)
	return mask
}

// largestComponent keeps the biggest 4-connected nonzero blob of a mask.
// An all-zero mask yields an all-zero result.
func largestComponent(mask gocv.Mat) gocv.Mat {
	labels := gocv.NewMat()
	stats := gocv.NewMat()
	centroids := gocv.NewMat()
	defer labels.Close()
	defer stats.Close()
	defer centroids.Close()
	nLabels := gocv.ConnectedComponentsWithStatsWithParams(mask, &labels, &stats, &centroids,
		4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	rows, cols := mask.Rows(), mask.Cols()
	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC1)
	if nLabels <= 1 {
		return out
	}
	best, bestArea := 0, -1
	for l := 1; l < nLabels; l++ {
		if area := int(stats.GetIntAt(l, 4)); area > bestArea {
			best, bestArea = l, area
		}
	}
	data, _ := out.DataPtrUint8()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if int(labels.GetIntAt(r, c)) == best {
				data[r*cols+c] = 255
			}
		}
	}
	return out
}

// fillFeatures picks the dominant external contour of the mask and derives
// centroid, orientation and axis lengths from its image moments.
func fillFeatures(mask gocv.Mat, cfg SegmentConfig, tf *TrackFeatures, i int) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return
	}

	chosen := -1
	bestArea := -1.0
	for c := 0; c < contours.Size(); c++ {
		area := gocv.ContourArea(contours.At(c))
		if cfg.ObjectRemoval {
			// Shadows under the box produce huge contours; the subject's
			// enclosing circle stays small.
			_, _, radius := gocv.MinEnclosingCircle(contours.At(c))
			if float64(radius) >= cfg.RadiusCap {
				continue
			}
		}
		if area > bestArea {
			bestArea = area
			chosen = c
		}
	}
	if chosen < 0 {
		return // no acceptable contour this frame
	}

	blob := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer blob.Close()
	gocv.DrawContours(&blob, contours, chosen, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	m := gocv.Moments(blob, true)
	m00 := m["m00"]
	if m00 == 0 {
		return
	}
	mu20, mu11, mu02 := m["mu20"], m["mu11"], m["mu02"]
	num := 2 * mu11
	den := mu20 - mu02
	common := math.Sqrt(4*mu11*mu11 + den*den)

	tf.Centroid[i] = [2]float64{m["m10"] / m00, m["m01"] / m00}
	// Half-angle of the principal axis from the second-order central moments.
	tf.Orientation[i] = -0.5 * math.Atan2(num, den)
	tf.AxisLength[i] = [2]float64{
		2 * math.Sqrt2 * math.Sqrt((mu20+mu02+common)/m00),
		2 * math.Sqrt2 * math.Sqrt((mu20+mu02-common)/m00),
	}
}
