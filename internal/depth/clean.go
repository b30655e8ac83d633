package depth

import (
	"gocv.io/x/gocv"
)

// CleanConfig toggles the denoising filters applied before segmentation.
// Zero kernel sizes and iteration counts disable the corresponding filter.
type CleanConfig struct {
	// Cable filter: plain erosion, removes thin tether artifacts.
	CableKernel     int
	CableShape      string
	CableIterations int

	// Spatial median kernels, applied per frame in order.
	SpatialKernels []int

	// Tail filter: morphological opening, removes thin protrusions.
	TailKernel     int
	TailShape      string
	TailIterations int

	// Temporal median kernels, applied across the batch time axis in order.
	TemporalKernels []int
}

// DefaultCleanConfig matches the usual tethered-rig settings: a single 3x3
// spatial median plus one pass of a 9x9 elliptical tail filter.
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{
		CableKernel:    5,
		CableShape:     "rect",
		SpatialKernels: []int{3},
		TailKernel:     9,
		TailShape:      "ellipse",
		TailIterations: 1,
	}
}

// CleanFrames denoises a batch of CV8U height frames in place. Disabled
// filters are no-ops, not errors.
func CleanFrames(batch *FrameBatch, cfg CleanConfig) {
	var cable, tail gocv.Mat
	if cfg.CableKernel > 0 && cfg.CableIterations > 0 {
		cable = structuringElement(cfg.CableShape, cfg.CableKernel, cfg.CableKernel)
		defer cable.Close()
	}
	if cfg.TailKernel > 0 && cfg.TailIterations > 0 {
		tail = structuringElement(cfg.TailShape, cfg.TailKernel, cfg.TailKernel)
		defer tail.Close()
	}

	for i := 0; i < batch.Len(); i++ {
		frame := batch.At(i)
		if cfg.CableKernel > 0 && cfg.CableIterations > 0 {
			for it := 0; it < cfg.CableIterations; it++ {
				gocv.Erode(frame, &frame, cable)
			}
		}
		for _, k := range cfg.SpatialKernels {
			if k > 1 {
				gocv.MedianBlur(frame, &frame, k)
			}
		}
		if cfg.TailKernel > 0 && cfg.TailIterations > 0 {
			for it := 0; it < cfg.TailIterations; it++ {
				gocv.MorphologyEx(frame, &frame, gocv.MorphOpen, tail)
			}
		}
	}

	for _, k := range cfg.TemporalKernels {
		if k > 1 {
			temporalMedian(batch, k)
		}
	}
}

// temporalMedian replaces each pixel with the median over a window of k
// frames centred on it, zero-padded at the batch edges.
func temporalMedian(batch *FrameBatch, k int) {
	n := batch.Len()
	if n == 0 {
		return
	}
	rows, cols := batch.Dims()
	npx := rows * cols
	half := k / 2

	src := make([][]uint8, n)
	for i := 0; i < n; i++ {
		m := batch.At(i)
		data, err := m.DataPtrUint8()
		if err != nil {
			return
		}
		src[i] = append([]uint8(nil), data...)
	}

	window := make([]int, 0, k)
	for i := 0; i < n; i++ {
		m := batch.At(i)
		dst, _ := m.DataPtrUint8()
		for px := 0; px < npx; px++ {
			window = window[:0]
			for w := i - half; w <= i+half; w++ {
				if w < 0 || w >= n {
					window = append(window, 0)
				} else {
					window = append(window, int(src[w][px]))
				}
			}
			dst[px] = uint8(medianInt(window))
		}
	}
}

// medianInt sorts the slice in place with insertion sort; windows are tiny.
func medianInt(vals []int) int {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
	return vals[len(vals)/2]
}
