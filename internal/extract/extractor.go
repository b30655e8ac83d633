// Package extract orchestrates a full session: background reconstruction,
// ROI detection, then chunked frame processing through cleaning,
// segmentation, crop-rotation, orientation correction and scalar derivation,
// with results appended to the sqlite store chunk by chunk.
package extract

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/banshee-data/depth.extract/internal/config"
	"github.com/banshee-data/depth.extract/internal/depth"
	"github.com/banshee-data/depth.extract/internal/imageio"
	"github.com/banshee-data/depth.extract/internal/store"
	"github.com/banshee-data/depth.extract/internal/video"
)

// Extractor runs extraction sessions against one tuning configuration.
type Extractor struct {
	Cfg        *config.Session
	Store      *store.Store
	Classifier depth.Classifier // nil disables orientation correction
	Force      bool             // recompute cached background and ROI

	// Confidence, when non-nil, supplies a per-frame tracking confidence
	// series for the whole recording; the scalar channels are then smoothed
	// against it.
	Confidence []float64
}

// backgroundSidecar carries the non-image parts of a cached background model.
type backgroundSidecar struct {
	MeanBoxHeight float64 `json:"mean_box_height"`
	ObjectRemoved bool    `json:"object_removed"`
}

// EnsureBackground returns the session background model, reconstructing and
// caching it under cacheDir on first use.
func (e *Extractor) EnsureBackground(info video.Info, cacheDir string) (*depth.BackgroundModel, error) {
	bgPath := filepath.Join(cacheDir, "background.png")
	sidecarPath := filepath.Join(cacheDir, "background.json")

	if !e.Force && imageio.Exists(bgPath) && imageio.Exists(sidecarPath) {
		return loadBackground(cacheDir)
	}

	indices := video.StrideIndices(info, e.Cfg.GetBgStride())
	samples, err := video.ReadFrames(info, indices)
	if err != nil {
		return nil, fmt.Errorf("background samples: %w", err)
	}
	defer samples.Close()

	model, err := depth.BuildBackground(samples, e.Cfg.BackgroundConfig())
	if err != nil {
		return nil, fmt.Errorf("build background: %w", err)
	}

	if err := saveBackground(model, cacheDir); err != nil {
		model.Close()
		return nil, err
	}
	return model, nil
}

func saveBackground(model *depth.BackgroundModel, cacheDir string) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return err
	}
	if err := imageio.WriteDepth(filepath.Join(cacheDir, "background.png"), model.Image); err != nil {
		return fmt.Errorf("cache background: %w", err)
	}
	if model.ObjectRemoved {
		if err := imageio.WriteMask(filepath.Join(cacheDir, "floor_mask.png"), model.FloorMask); err != nil {
			return fmt.Errorf("cache floor mask: %w", err)
		}
		if err := imageio.WriteMask(filepath.Join(cacheDir, "box_mask.png"), model.BoxMask); err != nil {
			return fmt.Errorf("cache box mask: %w", err)
		}
	}
	sidecar := backgroundSidecar{
		MeanBoxHeight: model.MeanBoxHeight,
		ObjectRemoved: model.ObjectRemoved,
	}
	data, err := json.Marshal(sidecar)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, "background.json"), data, 0o644)
}

func loadBackground(cacheDir string) (*depth.BackgroundModel, error) {
	img, err := imageio.ReadDepth(filepath.Join(cacheDir, "background.png"))
	if err != nil {
		return nil, fmt.Errorf("cached background: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(cacheDir, "background.json"))
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("cached background sidecar: %w", err)
	}
	var sidecar backgroundSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		img.Close()
		return nil, fmt.Errorf("cached background sidecar: %w", err)
	}

	model := &depth.BackgroundModel{
		Image:         img,
		MeanBoxHeight: sidecar.MeanBoxHeight,
		ObjectRemoved: sidecar.ObjectRemoved,
	}
	if sidecar.ObjectRemoved {
		model.FloorMask, err = imageio.ReadMask(filepath.Join(cacheDir, "floor_mask.png"))
		if err != nil {
			model.Close()
			return nil, fmt.Errorf("cached floor mask: %w", err)
		}
		model.BoxMask, err = imageio.ReadMask(filepath.Join(cacheDir, "box_mask.png"))
		if err != nil {
			model.Close()
			return nil, fmt.Errorf("cached box mask: %w", err)
		}
	}
	return model, nil
}

// EnsureROI returns the arena floor mask, detecting and caching it under
// cacheDir on first use. The caller owns the returned Mat.
func (e *Extractor) EnsureROI(model *depth.BackgroundModel, cacheDir string) (gocv.Mat, error) {
	roiPath := filepath.Join(cacheDir, "roi.png")
	if !e.Force && imageio.Exists(roiPath) {
		return imageio.ReadMask(roiPath)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return gocv.Mat{}, err
	}

	overlap := gocv.NewMat()
	defer overlap.Close()
	cands, _, err := depth.DetectROIs(model.Image, overlap, e.Cfg.ROIConfig())
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("detect roi: %w", err)
	}
	defer depth.CloseAll(cands)
	if len(cands) == 0 {
		return gocv.Mat{}, fmt.Errorf("detect roi: no candidate regions")
	}

	roi := cands[0].Mask.Clone()
	if err := imageio.WriteMask(roiPath, roi); err != nil {
		roi.Close()
		return gocv.Mat{}, fmt.Errorf("cache roi: %w", err)
	}
	return roi, nil
}

// Run extracts a whole recording and returns the run ID of the stored
// results. Intermediate artifacts (background, ROI) are cached under
// cacheDir so re-runs skip reconstruction.
func (e *Extractor) Run(inputPath, cacheDir string) (string, error) {
	info, err := video.Probe(inputPath, e.Cfg.GetFrameHeight(), e.Cfg.GetFrameWidth())
	if err != nil {
		return "", err
	}
	log.Printf("extracting %s: %d frames of %dx%d", inputPath, info.Frames, info.Cols, info.Rows)

	model, err := e.EnsureBackground(info, cacheDir)
	if err != nil {
		return "", err
	}
	defer model.Close()

	roi, err := e.EnsureROI(model, cacheDir)
	if err != nil {
		return "", err
	}
	defer roi.Close()

	// Crop the session-level images to the ROI once; every chunk reuses them.
	bgFull := depth.NewFrameBatch([]gocv.Mat{model.Image.Clone()})
	bgBatch, err := depth.ApplyROI(bgFull, roi)
	bgFull.Close()
	if err != nil {
		return "", err
	}
	defer bgBatch.Close()
	bgCropped := bgBatch.At(0)

	segCfg := e.Cfg.SegmentConfig()
	if model.ObjectRemoved {
		segCfg.ObjectRemoval = true
		segCfg.MeanBoxHeight = model.MeanBoxHeight
		if segCfg.FloorMask, err = depth.CropMaskToROI(model.FloorMask, roi); err != nil {
			return "", err
		}
		defer segCfg.FloorMask.Close()
		if segCfg.BoxMask, err = depth.CropMaskToROI(model.BoxMask, roi); err != nil {
			return "", err
		}
		defer segCfg.BoxMask.Close()
	}

	cropCfg := e.Cfg.CropConfig()
	runID, err := e.Store.CreateRun(inputPath, cropCfg.Width, cropCfg.Height)
	if err != nil {
		return "", err
	}

	chunk := e.Cfg.GetChunkSize()
	overlap := e.Cfg.GetChunkOverlap()
	step := chunk - overlap

	for start := 0; start < info.Frames; start += step {
		trim := 0
		if start > 0 {
			trim = overlap
		}
		end := start + chunk
		if end > info.Frames {
			end = info.Frames
		}
		if start+trim >= end {
			break
		}

		if err := e.processChunk(info, runID, start, end, trim, roi, bgCropped, segCfg, cropCfg); err != nil {
			return "", fmt.Errorf("chunk [%d, %d): %w", start, end, err)
		}
		log.Printf("run %s: frames %d-%d done", runID, start+trim, end)
	}
	return runID, nil
}

func (e *Extractor) processChunk(info video.Info, runID string, start, end, trim int,
	roi, bgCropped gocv.Mat, segCfg depth.SegmentConfig, cropCfg depth.CropConfig) error {

	raw, err := video.ReadFrames(info, video.FrameRange(info, start, end))
	if err != nil {
		return err
	}
	cropped, err := depth.ApplyROI(raw, roi)
	raw.Close()
	if err != nil {
		return err
	}

	scalarCfg := e.Cfg.ScalarConfig()
	frames := heightFrames(cropped, bgCropped, scalarCfg.MinHeight, scalarCfg.MaxHeight)
	cropped.Close()
	defer frames.Close()

	depth.CleanFrames(frames, e.Cfg.CleanConfig())

	tf := depth.SegmentBatch(frames, segCfg)
	tf = depth.HampelFilter(tf, e.Cfg.HampelConfig())

	patches := depth.CropRotate(frames, tf, cropCfg)
	defer patches.Close()

	if e.Classifier != nil {
		flips, err := depth.PredictFlips(patches, e.Classifier, e.Cfg.FlipConfig())
		if err != nil {
			return err
		}
		depth.ApplyFlips(patches, flips)
		for i, f := range flips {
			if f {
				tf.Orientation[i] += math.Pi
			}
		}
	}

	// Scalars come from the uncropped frames: the crop window drops in-band
	// pixels outside it and the rotation resamples heights.
	scalars := depth.ComputeScalars(frames, tf, scalarCfg)
	if e.Confidence != nil && end <= len(e.Confidence) {
		scalars = depth.ModelSmooth(scalars, e.Confidence[start:end], e.Cfg.SmoothConfig())
	}

	patches.TrimHead(trim)
	trimScalars(scalars, trim)

	if err := e.Store.AppendScalars(runID, start+trim, scalars); err != nil {
		return err
	}
	return e.Store.AppendPatches(runID, start+trim, patches)
}

// heightFrames converts masked raw CV16U frames into CV8U height-above-floor
// frames: background minus frame, zeroed outside the [minH, maxH] band so
// too-tall artifacts drop out of the foreground entirely.
func heightFrames(raw *depth.FrameBatch, bground gocv.Mat, minH, maxH float64) *depth.FrameBatch {
	mats := make([]gocv.Mat, raw.Len())
	for i := 0; i < raw.Len(); i++ {
		src := raw.At(i)
		f32 := gocv.NewMat()
		src.ConvertTo(&f32, gocv.MatTypeCV32F)

		diff := gocv.NewMat()
		gocv.Subtract(bground, f32, &diff)
		f32.Close()

		data, err := diff.DataPtrFloat32()
		if err == nil {
			for j := range data {
				v := float64(data[j])
				if v < minH || v > maxH {
					data[j] = 0
				}
			}
		}

		out := gocv.NewMat()
		diff.ConvertTo(&out, gocv.MatTypeCV8U)
		diff.Close()
		mats[i] = out
	}
	return depth.NewFrameBatch(mats)
}

// trimScalars drops the first k samples of every channel in place.
func trimScalars(s *depth.ScalarFeatures, k int) {
	if k <= 0 {
		return
	}
	if k > s.Len() {
		k = s.Len()
	}
	s.CentroidXPx = s.CentroidXPx[k:]
	s.CentroidYPx = s.CentroidYPx[k:]
	s.Velocity2DPx = s.Velocity2DPx[k:]
	s.Velocity3DPx = s.Velocity3DPx[k:]
	s.WidthPx = s.WidthPx[k:]
	s.LengthPx = s.LengthPx[k:]
	s.AreaPx = s.AreaPx[k:]
	s.CentroidXMM = s.CentroidXMM[k:]
	s.CentroidYMM = s.CentroidYMM[k:]
	s.Velocity2DMM = s.Velocity2DMM[k:]
	s.Velocity3DMM = s.Velocity3DMM[k:]
	s.WidthMM = s.WidthMM[k:]
	s.LengthMM = s.LengthMM[k:]
	s.AreaMM = s.AreaMM[k:]
	s.HeightAveMM = s.HeightAveMM[k:]
	s.Angle = s.Angle[k:]
	s.VelocityTheta = s.VelocityTheta[k:]
}
