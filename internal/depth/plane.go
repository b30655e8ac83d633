package depth

import (
	"errors"
	"math"
	"math/rand"

	"gocv.io/x/gocv"
)

// ErrNoPlane is returned when RANSAC exhausts its iteration budget without a
// single acceptable candidate, or when the image has no usable depth samples.
var ErrNoPlane = errors.New("plane fit did not converge")

// Plane holds the coefficients of ax + by + cz + d = 0 with (a, b, c) a unit
// normal. The depth pipeline requires c != 0 so that z can be evaluated from
// (x, y); FitPlane never returns a plane violating that.
type Plane struct {
	A, B, C, D float64
}

// EvalZ solves the plane equation for z at pixel (x, y).
func (p Plane) EvalZ(x, y float64) float64 {
	return -(p.A*x + p.B*y + p.D) / p.C
}

// Distance returns the absolute distance from the point (x, y, z) to the
// plane. The normal is unit length, so no denominator is needed.
func (p Plane) Distance(x, y, z float64) float64 {
	return math.Abs(p.A*x + p.B*y + p.C*z + p.D)
}

// PlaneConfig controls the RANSAC floor fit.
type PlaneConfig struct {
	DepthMin       float64 // lower bound of the plausible depth band
	DepthMax       float64 // upper bound of the plausible depth band
	NoiseTolerance float64 // max distance (same units as depth) for inliers
	Iterations     int     // fixed sampling budget
	MinInlierRatio float64 // candidates below this inlier fraction are ignored
	Seed           int64   // 0 seeds from the default source; tests pin this
}

// DefaultPlaneConfig matches a Kinect v2 rig roughly a metre above the floor.
func DefaultPlaneConfig() PlaneConfig {
	return PlaneConfig{
		DepthMin:       650,
		DepthMax:       750,
		NoiseTolerance: 30,
		Iterations:     1000,
		MinInlierRatio: 0.1,
	}
}

// minVerticalC rejects planes that are close to vertical; EvalZ would blow up.
const minVerticalC = 1e-6

// FitPlane runs random-sample-consensus over the valid pixels of a CV32F
// depth image and returns the winning plane together with a per-pixel
// absolute distance field (row-major, +Inf where the pixel was not eligible).
// mask, when non-empty, restricts the eligible pixels. Ties on inlier count
// keep the first plane found.
func FitPlane(img gocv.Mat, mask gocv.Mat, cfg PlaneConfig) (Plane, []float64, error) {
	data, err := img.DataPtrFloat32()
	if err != nil {
		return Plane{}, nil, err
	}
	rows, cols := img.Rows(), img.Cols()

	var maskData []uint8
	if !mask.Empty() {
		maskData, err = mask.DataPtrUint8()
		if err != nil {
			return Plane{}, nil, err
		}
	}

	// Gather eligible samples as (x, y, z) triples.
	type sample struct{ x, y, z float64 }
	valid := make([]sample, 0, len(data)/4)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			z := float64(data[i])
			if z < cfg.DepthMin || z > cfg.DepthMax || z == 0 {
				continue
			}
			if maskData != nil && maskData[i] == 0 {
				continue
			}
			valid = append(valid, sample{float64(c), float64(r), z})
		}
	}
	if len(valid) < 3 {
		return Plane{}, nil, ErrNoPlane
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	minInliers := int(cfg.MinInlierRatio * float64(len(valid)))
	best := Plane{}
	bestInliers := 0

	for it := 0; it < cfg.Iterations; it++ {
		i1 := rng.Intn(len(valid))
		i2 := rng.Intn(len(valid))
		i3 := rng.Intn(len(valid))
		if i1 == i2 || i1 == i3 || i2 == i3 {
			continue
		}
		p1, p2, p3 := valid[i1], valid[i2], valid[i3]

		// Normal from the cross product of two edge vectors.
		ux, uy, uz := p2.x-p1.x, p2.y-p1.y, p2.z-p1.z
		vx, vy, vz := p3.x-p1.x, p3.y-p1.y, p3.z-p1.z
		nx := uy*vz - uz*vy
		ny := uz*vx - ux*vz
		nz := ux*vy - uy*vx
		norm := math.Sqrt(nx*nx + ny*ny + nz*nz)
		if norm < 1e-9 {
			continue // collinear sample
		}
		nx, ny, nz = nx/norm, ny/norm, nz/norm
		if math.Abs(nz) < minVerticalC {
			continue // degenerate for depth-to-z evaluation
		}
		d := -(nx*p1.x + ny*p1.y + nz*p1.z)

		inliers := 0
		for _, s := range valid {
			if math.Abs(nx*s.x+ny*s.y+nz*s.z+d) < cfg.NoiseTolerance {
				inliers++
			}
		}
		if inliers > bestInliers && inliers >= minInliers {
			bestInliers = inliers
			best = Plane{A: nx, B: ny, C: nz, D: d}
		}
	}

	if bestInliers == 0 {
		return Plane{}, nil, ErrNoPlane
	}

	dists := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			z := float64(data[i])
			if z < cfg.DepthMin || z > cfg.DepthMax || z == 0 || (maskData != nil && maskData[i] == 0) {
				dists[i] = math.Inf(1)
				continue
			}
			dists[i] = best.Distance(float64(c), float64(r), z)
		}
	}
	return best, dists, nil
}
