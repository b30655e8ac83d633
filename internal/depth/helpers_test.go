package depth

import (
	"math"

	"gocv.io/x/gocv"
)

// newF32 allocates a CV32F image filled with a constant.
func newF32(rows, cols int, fill float32) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(fill), 0, 0, 0), rows, cols, gocv.MatTypeCV32F)
}

// newU8 allocates a CV8U image filled with a constant.
func newU8(rows, cols int, fill uint8) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(fill), 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
}

// fillRectF32 sets a half-open rectangle of a CV32F image.
func fillRectF32(m gocv.Mat, r0, r1, c0, c1 int, v float32) {
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			m.SetFloatAt(r, c, v)
		}
	}
}

// fillRectU8 sets a half-open rectangle of a CV8U image.
func fillRectU8(m gocv.Mat, r0, r1, c0, c1 int, v uint8) {
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			m.SetUCharAt(r, c, v)
		}
	}
}

// fillDiskU8 sets a filled disk of a CV8U image.
func fillDiskU8(m gocv.Mat, cr, cc, radius int, v uint8) {
	for r := cr - radius; r <= cr+radius; r++ {
		for c := cc - radius; c <= cc+radius; c++ {
			if r < 0 || c < 0 || r >= m.Rows() || c >= m.Cols() {
				continue
			}
			dr, dc := float64(r-cr), float64(c-cc)
			if math.Hypot(dr, dc) <= float64(radius) {
				m.SetUCharAt(r, c, v)
			}
		}
	}
}

// fillDiskF32 sets a filled disk of a CV32F image.
func fillDiskF32(m gocv.Mat, cr, cc, radius int, v float32) {
	for r := cr - radius; r <= cr+radius; r++ {
		for c := cc - radius; c <= cc+radius; c++ {
			if r < 0 || c < 0 || r >= m.Rows() || c >= m.Cols() {
				continue
			}
			dr, dc := float64(r-cr), float64(c-cc)
			if math.Hypot(dr, dc) <= float64(radius) {
				m.SetFloatAt(r, c, v)
			}
		}
	}
}

// blobBatch builds a batch of CV8U frames with one square blob per frame. The
// blob's top-left corner starts at (r0, c0) and advances by (dr, dc) per
// frame.
func blobBatch(n, rows, cols, r0, c0, side, dr, dc int, height uint8) *FrameBatch {
	mats := make([]gocv.Mat, n)
	for i := range mats {
		m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
		rr, cc := r0+i*dr, c0+i*dc
		fillRectU8(m, rr, rr+side, cc, cc+side, height)
		mats[i] = m
	}
	return NewFrameBatch(mats)
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
