package depth

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"sort"

	"gocv.io/x/gocv"
)

// ErrNoEllipse is returned when the randomized Hough search exhausts its
// retry budget without an acceptable fit.
var ErrNoEllipse = errors.New("ellipse search did not converge")

// Ellipse is an oriented ellipse in pixel coordinates. A is the semi-major
// axis, B the semi-minor axis, Theta the major-axis angle in radians.
type Ellipse struct {
	CX, CY float64
	A, B   float64
	Theta  float64
}

// Eccentricity returns sqrt(1 - b²/a²), guarding against swapped axes.
func (e Ellipse) Eccentricity() float64 {
	if e.A == 0 {
		return 1
	}
	ratio := (e.B * e.B) / (e.A * e.A)
	if ratio > 1 {
		ratio = 1 / ratio
	}
	return math.Sqrt(1 - ratio)
}

// MaskMat rasterizes the ellipse interior into a 0/255 CV8U mask.
func (e Ellipse) MaskMat(rows, cols int) gocv.Mat {
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	data, _ := mask.DataPtrUint8()
	sin, cos := math.Sincos(e.Theta)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dx := float64(c) - e.CX
			dy := float64(r) - e.CY
			// Rotate into the ellipse frame.
			u := dx*cos + dy*sin
			v := -dx*sin + dy*cos
			if (u*u)/(e.A*e.A)+(v*v)/(e.B*e.B) <= 1 {
				data[r*cols+c] = 255
			} else {
				data[r*cols+c] = 0
			}
		}
	}
	return mask
}

// EllipseConfig bounds the randomized Hough-ellipse search. The vote
// threshold backs off by ThresholdStep on every failed attempt; the search
// gives up after MaxAttempts (the source of this design had an unbounded
// backoff loop, which hangs when detection never succeeds).
type EllipseConfig struct {
	MinMajorAxis    float64 // minimum full major-axis length in pixels
	MaxEccentricity float64 // fits above this prefer the next-best candidate
	VoteThreshold   int     // initial accumulator votes required
	ThresholdStep   int     // subtracted per failed attempt
	MaxAttempts     int
	Trials          int // random axis-pair trials per attempt
	MaxEdgePoints   int // edge set subsample cap, keeps trials cheap
	Seed            int64
}

// DefaultEllipseConfig is tuned for a bucket floor seen from roughly a metre.
func DefaultEllipseConfig() EllipseConfig {
	return EllipseConfig{
		MinMajorAxis:    50,
		MaxEccentricity: 0.45,
		VoteThreshold:   120,
		ThresholdStep:   30,
		MaxAttempts:     5,
		Trials:          2000,
		MaxEdgePoints:   1500,
	}
}

type ellipseCandidate struct {
	e     Ellipse
	votes int
}

// FitFloorEllipse fits an ellipse to the outer boundary of a 0/255 floor
// mask: Canny edges feed a randomized Hough transform (major-axis point
// pairs vote on the half-minor axis). Overly eccentric winners are skipped in
// favour of the next-best candidate; if no attempt produces an acceptable
// fit the search fails with ErrNoEllipse.
func FitFloorEllipse(mask gocv.Mat, cfg EllipseConfig) (Ellipse, error) {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(mask, &edges, 50, 150)

	pts := edgePoints(edges)
	if len(pts) < 5 {
		return Ellipse{}, ErrNoEllipse
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if cfg.MaxEdgePoints > 0 && len(pts) > cfg.MaxEdgePoints {
		rng.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
		pts = pts[:cfg.MaxEdgePoints]
	}

	maxMajor := math.Hypot(float64(mask.Rows()), float64(mask.Cols()))
	threshold := cfg.VoteThreshold
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		cands := houghEllipseOnce(pts, cfg.MinMajorAxis, maxMajor, threshold, cfg.Trials, rng)
		sort.Slice(cands, func(i, j int) bool { return cands[i].votes > cands[j].votes })
		for _, cand := range cands {
			if cand.e.Eccentricity() <= cfg.MaxEccentricity {
				return cand.e, nil
			}
		}
		threshold -= cfg.ThresholdStep
		if threshold < 1 {
			threshold = 1
		}
	}
	return Ellipse{}, ErrNoEllipse
}

// houghEllipseOnce runs one randomized accumulation pass. Each trial treats a
// random point pair as the major-axis endpoints and lets every other edge
// point vote for a half-minor-axis bin.
func houghEllipseOnce(pts []image.Point, minMajor, maxMajor float64, votesNeeded, trials int, rng *rand.Rand) []ellipseCandidate {
	var cands []ellipseCandidate
	acc := make(map[int]int)

	for t := 0; t < trials; t++ {
		i := rng.Intn(len(pts))
		j := rng.Intn(len(pts))
		if i == j {
			continue
		}
		p1, p2 := pts[i], pts[j]
		dx := float64(p2.X - p1.X)
		dy := float64(p2.Y - p1.Y)
		major := math.Hypot(dx, dy)
		if major < minMajor || major > maxMajor {
			continue
		}
		cx := (float64(p1.X) + float64(p2.X)) / 2
		cy := (float64(p1.Y) + float64(p2.Y)) / 2
		a := major / 2
		theta := math.Atan2(dy, dx)

		for k := range acc {
			delete(acc, k)
		}
		for _, p := range pts {
			d := math.Hypot(float64(p.X)-cx, float64(p.Y)-cy)
			if d < 1 || d >= a {
				continue
			}
			// Xie & Ji: recover the half-minor axis from the third point.
			f := math.Hypot(float64(p.X-p2.X), float64(p.Y-p2.Y))
			cosTau := (a*a + d*d - f*f) / (2 * a * d)
			cos2 := cosTau * cosTau
			if cos2 > 1 {
				continue
			}
			sin2 := 1 - cos2
			den := a*a - d*d*cos2
			if den <= 0 {
				continue
			}
			b2 := (a * a * d * d * sin2) / den
			b := math.Sqrt(b2)
			if b < 1 || b > a {
				continue
			}
			acc[int(math.Round(b))]++
		}

		bestB, bestVotes := 0, 0
		for b, v := range acc {
			if v > bestVotes {
				bestB, bestVotes = b, v
			}
		}
		if bestVotes >= votesNeeded {
			cands = append(cands, ellipseCandidate{
				e:     Ellipse{CX: cx, CY: cy, A: a, B: float64(bestB), Theta: theta},
				votes: bestVotes,
			})
		}
	}
	return cands
}

func edgePoints(edges gocv.Mat) []image.Point {
	rows, cols := edges.Rows(), edges.Cols()
	data, err := edges.DataPtrUint8()
	if err != nil {
		return nil
	}
	var pts []image.Point
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			if data[base+c] != 0 {
				pts = append(pts, image.Pt(c, r))
			}
		}
	}
	return pts
}
