package depth

import (
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// BackgroundConfig controls static background reconstruction.
type BackgroundConfig struct {
	MedianKernel int // spatial median blur applied to each sampled frame

	// Object-removal mode: interpolate the floor underneath an occluding
	// object via an elliptical boundary fit and a RANSAC plane.
	RemoveObject        bool
	FloorPercentile     float64 // depth percentile locating the visible floor
	FloorRange          float64 // band below the percentile still counted as floor
	ErosionSize         int     // strel disk radius for mask cleanup
	PlaneIterations     int
	PlaneNoiseTolerance float64
	PlaneInlierRatio    float64
	Ellipse             EllipseConfig
	Seed                int64
}

// DefaultBackgroundConfig mirrors the empirically tuned session defaults.
// The floor/box thresholds are configuration, not invariants; rigs with
// different optics will want to revisit them.
func DefaultBackgroundConfig() BackgroundConfig {
	return BackgroundConfig{
		MedianKernel:        5,
		FloorPercentile:     99,
		FloorRange:          50,
		ErosionSize:         6,
		PlaneIterations:     1000,
		PlaneNoiseTolerance: 30,
		PlaneInlierRatio:    0.1,
		Ellipse:             DefaultEllipseConfig(),
	}
}

// BackgroundModel is the static scene: a CV32F depth image plus, when object
// removal ran, the floor/box masks and the mean height of the occluding
// object. Created once per session and never mutated afterwards.
type BackgroundModel struct {
	Image         gocv.Mat
	FloorMask     gocv.Mat // CV8U, empty unless object removal ran
	BoxMask       gocv.Mat // CV8U, empty unless object removal ran
	MeanBoxHeight float64
	ObjectRemoved bool
}

// Close releases the model's images.
func (m *BackgroundModel) Close() {
	m.Image.Close()
	if !m.FloorMask.Empty() {
		m.FloorMask.Close()
	}
	if !m.BoxMask.Empty() {
		m.BoxMask.Close()
	}
}

// BuildBackground reconstructs the static background from a sparse temporal
// sample of raw CV16U frames: per-frame spatial median blur, then a
// per-pixel temporal median. Deterministic given the same samples. The input
// batch is not modified.
func BuildBackground(samples *FrameBatch, cfg BackgroundConfig) (*BackgroundModel, error) {
	if samples.Len() == 0 {
		return nil, fmt.Errorf("background: no sampled frames")
	}
	rows, cols := samples.Dims()

	planes := make([][]float32, samples.Len())
	for i := 0; i < samples.Len(); i++ {
		sample := samples.At(i)
		var blurred gocv.Mat
		if cfg.MedianKernel > 1 {
			blurred = gocv.NewMat()
			gocv.MedianBlur(sample, &blurred, cfg.MedianKernel)
		} else {
			blurred = sample.Clone()
		}
		f32 := gocv.NewMat()
		blurred.ConvertTo(&f32, gocv.MatTypeCV32F)
		blurred.Close()
		data, err := f32.DataPtrFloat32()
		if err != nil {
			f32.Close()
			return nil, err
		}
		planes[i] = append([]float32(nil), data...)
		f32.Close()
	}

	bg := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	bgData, err := bg.DataPtrFloat32()
	if err != nil {
		bg.Close()
		return nil, err
	}
	scratch := make([]float64, len(planes))
	for px := 0; px < rows*cols; px++ {
		for s := range planes {
			scratch[s] = float64(planes[s][px])
		}
		bgData[px] = float32(median(scratch))
	}

	model := &BackgroundModel{Image: bg, FloorMask: gocv.NewMat(), BoxMask: gocv.NewMat()}
	if cfg.RemoveObject {
		if err := interpolateFloor(model, cfg); err != nil {
			model.Close()
			return nil, err
		}
	}
	return model, nil
}

// interpolateFloor replaces the occluded part of the floor with values from a
// RANSAC plane fitted to the visible floor, restricted to the fitted ellipse
// eroded by the configured margin so the walls stay intact.
func interpolateFloor(model *BackgroundModel, cfg BackgroundConfig) error {
	bg := model.Image
	rows, cols := bg.Rows(), bg.Cols()
	bgData, err := bg.DataPtrFloat32()
	if err != nil {
		return err
	}

	// Visible floor: everything inside a percentile band of the nonzero
	// depths. The object sits above (closer than) the floor.
	nonzero := make([]float64, 0, rows*cols)
	for _, v := range bgData {
		if v != 0 {
			nonzero = append(nonzero, float64(v))
		}
	}
	if len(nonzero) == 0 {
		return fmt.Errorf("object removal: background is all zero")
	}
	sort.Float64s(nonzero)
	floorVal := stat.Quantile(cfg.FloorPercentile/100, stat.Empirical, nonzero, nil)

	floor := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	floorData, _ := floor.DataPtrUint8()
	for i, v := range bgData {
		if float64(v) > floorVal-cfg.FloorRange {
			floorData[i] = 255
		} else {
			floorData[i] = 0
		}
	}

	ell, err := FitFloorEllipse(floor, cfg.Ellipse)
	if err != nil {
		floor.Close()
		return fmt.Errorf("object removal: %w", err)
	}

	// Plane through the visible floor only.
	masked := bg.Clone()
	maskedData, _ := masked.DataPtrFloat32()
	minFloor, maxFloor := math.Inf(1), math.Inf(-1)
	for i := range maskedData {
		if floorData[i] == 0 {
			maskedData[i] = 0
			continue
		}
		v := float64(maskedData[i])
		if v != 0 && v < minFloor {
			minFloor = v
		}
		if v > maxFloor {
			maxFloor = v
		}
	}
	planeCfg := PlaneConfig{
		DepthMin:       100 * math.Floor(minFloor/100),
		DepthMax:       100 * math.Ceil(maxFloor/100),
		NoiseTolerance: cfg.PlaneNoiseTolerance,
		Iterations:     cfg.PlaneIterations,
		MinInlierRatio: cfg.PlaneInlierRatio,
		Seed:           cfg.Seed,
	}
	plane, _, err := FitPlane(masked, floor, planeCfg)
	if err != nil {
		masked.Close()
		floor.Close()
		return fmt.Errorf("object removal: %w", err)
	}

	// Erode both the visible-floor mask (shadow guard) and the ellipse mask
	// (wall guard), then swap plane values into ellipse-minus-floor.
	disk := structuringElement("ellipse", 2*cfg.ErosionSize+1, 2*cfg.ErosionSize+1)
	defer disk.Close()
	floorEroded := gocv.NewMat()
	gocv.Erode(floor, &floorEroded, disk)
	ellMask := ell.MaskMat(rows, cols)
	gocv.Erode(ellMask, &ellMask, disk)

	floorErodedData, _ := floorEroded.DataPtrUint8()
	ellData, _ := ellMask.DataPtrUint8()

	region := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	regionData, _ := region.DataPtrUint8()
	var nRegion int
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if ellData[i] != 0 && floorErodedData[i] == 0 {
				maskedData[i] = float32(plane.EvalZ(float64(c), float64(r)))
				regionData[i] = 255
				nRegion++
			} else {
				regionData[i] = 0
			}
		}
	}
	if nRegion == 0 {
		masked.Close()
		floor.Close()
		ellMask.Close()
		floorEroded.Close()
		region.Close()
		return fmt.Errorf("object removal: interpolation region is empty")
	}

	// The box height is measured over the largest connected component only,
	// not the whole interpolation region.
	box := largestComponent(region)
	boxData, _ := box.DataPtrUint8()
	var sumBg, sumPlane float64
	var nBox int
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if boxData[i] != 0 {
				sumBg += float64(bgData[i])
				sumPlane += plane.EvalZ(float64(c), float64(r))
				nBox++
			}
		}
	}
	if nBox > 0 {
		model.MeanBoxHeight = math.Abs(sumBg/float64(nBox) - sumPlane/float64(nBox))
	}

	// The interpolated image replaces the original background.
	model.Image.Close()
	model.Image = masked
	model.FloorMask.Close()
	model.FloorMask = floor
	model.BoxMask.Close()
	model.BoxMask = box
	model.ObjectRemoved = true

	ellMask.Close()
	floorEroded.Close()
	region.Close()
	return nil
}

// median of a float64 slice; the slice is sorted in place.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
