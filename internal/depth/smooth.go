package depth

import (
	"math"
)

// HampelConfig controls sliding-window outlier correction of the centroid
// and orientation channels. A span of zero disables the corresponding
// filter.
type HampelConfig struct {
	CentroidSpan int
	CentroidSig  float64
	AngleSpan    int
	AngleSig     float64
}

// HampelFilter returns a copy of the features with centroid and orientation
// outliers replaced by their local window median. A sample is an outlier
// when it deviates from the window median by more than sig median absolute
// deviations.
func HampelFilter(tf *TrackFeatures, cfg HampelConfig) *TrackFeatures {
	out := tf.Clone()
	n := out.Len()

	if cfg.CentroidSpan > 0 {
		for col := 0; col < 2; col++ {
			series := make([]float64, n)
			for i := 0; i < n; i++ {
				series[i] = out.Centroid[i][col]
			}
			hampel(series, cfg.CentroidSpan, cfg.CentroidSig)
			for i := 0; i < n; i++ {
				out.Centroid[i][col] = series[i]
			}
		}
	}
	if cfg.AngleSpan > 0 {
		hampel(out.Orientation, cfg.AngleSpan, cfg.AngleSig)
	}
	return out
}

// hampel replaces outliers in place. The window is NaN-padded at the edges;
// NaNs never count toward the median or the MAD.
func hampel(series []float64, span int, sig float64) {
	n := len(series)
	if n == 0 || span <= 0 {
		return
	}
	half := span / 2
	padded := make([]float64, n+2*half)
	for i := range padded {
		padded[i] = math.NaN()
	}
	copy(padded[half:], series)

	window := make([]float64, 0, span)
	devs := make([]float64, 0, span)
	for i := 0; i < n; i++ {
		window = window[:0]
		for w := 0; w < span; w++ {
			if v := padded[i+w]; !math.IsNaN(v) {
				window = append(window, v)
			}
		}
		if len(window) == 0 {
			continue
		}
		med := median(window) // sorts window, order is irrelevant here
		devs = devs[:0]
		for _, v := range window {
			devs = append(devs, math.Abs(v-med))
		}
		mad := median(devs)
		if math.Abs(series[i]-med) > sig*mad {
			series[i] = med
		}
	}
}

// SmoothConfig bounds the confidence normalization for model smoothing.
// Smoothing is a pass-through when the bounds are non-increasing.
type SmoothConfig struct {
	ClipLow  float64
	ClipHigh float64
}

// DefaultSmoothConfig matches the usual tracking-model log-likelihood range.
func DefaultSmoothConfig() SmoothConfig { return SmoothConfig{ClipLow: -300, ClipHigh: -125} }

// ModelSmooth blends each scalar channel forward then backward with a
// per-frame confidence weight derived from the mean log-likelihood signal:
// new = (1-w)*neighbour + w*current, where the neighbour has already been
// updated by the pass. NaNs are first filled by nearest-value interpolation.
// Returns a fresh copy; pass-through when confidence is absent or the clip
// bounds are non-increasing.
func ModelSmooth(s *ScalarFeatures, confidence []float64, cfg SmoothConfig) *ScalarFeatures {
	out := s.Clone()
	if confidence == nil || len(confidence) != s.Len() || cfg.ClipLow >= cfg.ClipHigh {
		return out
	}

	w := make([]float64, len(confidence))
	for i, c := range confidence {
		v := (c - cfg.ClipLow) / (cfg.ClipHigh - cfg.ClipLow)
		w[i] = math.Max(0, math.Min(1, v))
	}

	for _, series := range out.Channels() {
		fillNearest(series)
		for i := 1; i < len(series); i++ {
			series[i] = (1-w[i])*series[i-1] + w[i]*series[i]
		}
		for i := len(series) - 2; i >= 0; i-- {
			series[i] = (1-w[i])*series[i+1] + w[i]*series[i]
		}
	}
	return out
}

// fillNearest replaces NaN runs with the nearest valid value along the time
// axis, extrapolating at both ends. A fully-NaN series is left untouched.
func fillNearest(series []float64) {
	n := len(series)
	valid := make([]int, 0, n)
	for i, v := range series {
		if !math.IsNaN(v) {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 || len(valid) == n {
		return
	}
	vi := 0
	for i := 0; i < n; i++ {
		if !math.IsNaN(series[i]) {
			continue
		}
		for vi+1 < len(valid) && absInt(valid[vi+1]-i) <= absInt(valid[vi]-i) {
			vi++
		}
		series[i] = series[valid[vi]]
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
