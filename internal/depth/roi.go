package depth

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// ROIConfig controls floor classification and candidate ranking.
type ROIConfig struct {
	Plane PlaneConfig

	// Weights for the rank-transformed area, extent and centre-distance
	// features. Area and extent rank descending, centre distance ascending,
	// so with positive weights a big, boxy, central region wins.
	Weights [3]float64

	DilateKernel     int    // strel size, 0 disables dilation
	DilateShape      string // "ellipse" or "rect"
	DilateIterations int
	ErodeKernel      int // strel size, 0 disables erosion
	ErodeShape       string
	ErodeIterations  int
	FillHoles        bool

	// Optional Sobel gradient gate applied before plane scoring; pixels with
	// a gradient magnitude above the threshold are excluded. Helps with rigs
	// where the arena wall meets the floor at a shallow angle.
	GradientFilter    bool
	GradientKernel    int
	GradientThreshold float64
}

// DefaultROIConfig mirrors the session defaults used in production rigs.
func DefaultROIConfig() ROIConfig {
	return ROIConfig{
		Plane:             DefaultPlaneConfig(),
		Weights:           [3]float64{1, 0.1, 1},
		DilateKernel:      10,
		DilateShape:       "ellipse",
		DilateIterations:  1,
		FillHoles:         true,
		GradientKernel:    7,
		GradientThreshold: 3000,
	}
}

// ROICandidate is one ranked floor region. BBox is nil when the mask came out
// empty (possible after aggressive erosion).
type ROICandidate struct {
	Mask  gocv.Mat // CV8U, 255 inside the region
	BBox  *BoundingBox
	Score float64 // lower is better
}

// Close releases the candidate mask.
func (c *ROICandidate) Close() { c.Mask.Close() }

// CloseAll releases a slice of candidates.
func CloseAll(cands []ROICandidate) {
	for i := range cands {
		cands[i].Close()
	}
}

// DetectROIs classifies floor pixels of a CV32F background image against a
// RANSAC plane, labels connected regions and returns them best first. An
// optional overlap mask drops the candidate claiming the most pixels of an
// already-selected ROI (multi-arena rigs).
func DetectROIs(bground gocv.Mat, overlap gocv.Mat, cfg ROIConfig) ([]ROICandidate, Plane, error) {
	rows, cols := bground.Rows(), bground.Cols()

	gradMask := gocv.NewMat()
	defer gradMask.Close()
	if cfg.GradientFilter {
		gm := gradientGate(bground, cfg.GradientKernel, cfg.GradientThreshold)
		gradMask.Close()
		gradMask = gm
	}

	plane, dists, err := FitPlane(bground, gradMask, cfg.Plane)
	if err != nil {
		return nil, Plane{}, fmt.Errorf("roi detection: %w", err)
	}

	// Membership: anything closer than the noise tolerance belongs to the
	// floor plane.
	bin := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	defer bin.Close()
	binData, err := bin.DataPtrUint8()
	if err != nil {
		return nil, Plane{}, err
	}
	for i, d := range dists {
		if d < cfg.Plane.NoiseTolerance {
			binData[i] = 255
		} else {
			binData[i] = 0
		}
	}

	labels := gocv.NewMat()
	stats := gocv.NewMat()
	centroids := gocv.NewMat()
	defer labels.Close()
	defer stats.Close()
	defer centroids.Close()
	nLabels := gocv.ConnectedComponentsWithStats(bin, &labels, &stats, &centroids)
	if nLabels <= 1 {
		return nil, plane, nil // background only, no floor regions
	}
	nRegions := nLabels - 1

	areas := make([]float64, nRegions)
	extents := make([]float64, nRegions)
	centerDists := make([]float64, nRegions)
	for l := 1; l < nLabels; l++ {
		area := float64(stats.GetIntAt(l, 4))   // CC_STAT_AREA
		w := float64(stats.GetIntAt(l, 2))      // CC_STAT_WIDTH
		h := float64(stats.GetIntAt(l, 3))      // CC_STAT_HEIGHT
		areas[l-1] = area
		if w*h > 0 {
			extents[l-1] = area / (w * h)
		}
	}

	// Max distance from image centre per region, from one pass over labels.
	cy, cx := float64(rows)/2, float64(cols)/2
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			l := int(labels.GetIntAt(r, c))
			if l == 0 {
				continue
			}
			d := math.Hypot(float64(r)-cy, float64(c)-cx)
			if d > centerDists[l-1] {
				centerDists[l-1] = d
			}
		}
	}

	// Rank transform keeps the score scale-invariant across sessions.
	areaRank := rankDescending(areas)
	extentRank := rankDescending(extents)
	distRank := rankAscending(centerDists)
	scores := make([]float64, nRegions)
	for i := range scores {
		scores[i] = (cfg.Weights[0]*areaRank[i] + cfg.Weights[1]*extentRank[i] + cfg.Weights[2]*distRank[i]) / 3
	}
	order := argsort(scores)

	cands := make([]ROICandidate, 0, nRegions)
	for _, idx := range order {
		label := idx + 1
		mask := regionMask(labels, label)
		morphROI(&mask, cfg)
		if cfg.FillHoles {
			fillHoles(&mask)
		}
		cands = append(cands, ROICandidate{
			Mask:  mask,
			BBox:  MaskBBox(mask),
			Score: scores[idx],
		})
	}

	if !overlap.Empty() {
		drop, most := -1, -1
		for i := range cands {
			inter := gocv.NewMat()
			gocv.BitwiseAnd(overlap, cands[i].Mask, &inter)
			n := gocv.CountNonZero(inter)
			inter.Close()
			if n > most {
				most, drop = n, i
			}
		}
		if drop >= 0 {
			cands[drop].Close()
			cands = append(cands[:drop], cands[drop+1:]...)
		}
	}

	return cands, plane, nil
}

// gradientGate returns a mask of pixels whose Sobel gradient magnitude stays
// below the threshold in both directions.
func gradientGate(img gocv.Mat, ksize int, threshold float64) gocv.Mat {
	gx := gocv.NewMat()
	gy := gocv.NewMat()
	defer gx.Close()
	defer gy.Close()
	gocv.Sobel(img, &gx, gocv.MatTypeCV64F, 1, 0, ksize, 1, 0, gocv.BorderDefault)
	gocv.Sobel(img, &gy, gocv.MatTypeCV64F, 0, 1, ksize, 1, 0, gocv.BorderDefault)

	rows, cols := img.Rows(), img.Cols()
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	data, _ := mask.DataPtrUint8()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if math.Abs(gx.GetDoubleAt(r, c)) < threshold && math.Abs(gy.GetDoubleAt(r, c)) < threshold {
				data[r*cols+c] = 255
			} else {
				data[r*cols+c] = 0
			}
		}
	}
	return mask
}

// regionMask extracts one connected-component label as a 0/255 mask.
func regionMask(labels gocv.Mat, label int) gocv.Mat {
	rows, cols := labels.Rows(), labels.Cols()
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	data, _ := mask.DataPtrUint8()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if int(labels.GetIntAt(r, c)) == label {
				data[r*cols+c] = 255
			} else {
				data[r*cols+c] = 0
			}
		}
	}
	return mask
}

func morphROI(mask *gocv.Mat, cfg ROIConfig) {
	if cfg.DilateKernel > 0 {
		kernel := structuringElement(cfg.DilateShape, cfg.DilateKernel, cfg.DilateKernel)
		iters := cfg.DilateIterations
		if iters <= 0 {
			iters = 1
		}
		for i := 0; i < iters; i++ {
			gocv.Dilate(*mask, mask, kernel)
		}
		kernel.Close()
	}
	if cfg.ErodeKernel > 0 {
		kernel := structuringElement(cfg.ErodeShape, cfg.ErodeKernel, cfg.ErodeKernel)
		iters := cfg.ErodeIterations
		if iters <= 0 {
			iters = 1
		}
		for i := 0; i < iters; i++ {
			gocv.Erode(*mask, mask, kernel)
		}
		kernel.Close()
	}
}

// fillHoles closes enclosed holes by redrawing the external contours filled.
func fillHoles(mask *gocv.Mat) {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		gocv.DrawContours(mask, contours, i, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
}

// structuringElement builds a morphology kernel from a shape name. Anything
// other than "ellipse" falls back to a rectangle.
func structuringElement(shape string, w, h int) gocv.Mat {
	s := gocv.MorphRect
	if shape == "ellipse" {
		s = gocv.MorphEllipse
	}
	return gocv.GetStructuringElement(s, image.Pt(w, h))
}

// rankDescending assigns competition ranks ("max" method) with the largest
// value ranked first.
func rankDescending(vals []float64) []float64 {
	ranks := make([]float64, len(vals))
	for i, v := range vals {
		n := 0
		for _, w := range vals {
			if w >= v {
				n++
			}
		}
		ranks[i] = float64(n)
	}
	return ranks
}

// rankAscending assigns competition ranks with the smallest value first.
func rankAscending(vals []float64) []float64 {
	ranks := make([]float64, len(vals))
	for i, v := range vals {
		n := 0
		for _, w := range vals {
			if w <= v {
				n++
			}
		}
		ranks[i] = float64(n)
	}
	return ranks
}

func argsort(vals []float64) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
	return idx
}
