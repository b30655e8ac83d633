// Package config loads session tuning from JSON. Every field is optional:
// fields omitted from the file keep their built-in defaults, so partial
// configs are safe to ship per rig.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/depth.extract/internal/depth"
)

// Session is the root tuning document. The schema is flat snake_case so the
// same file can drive both the extract and find-roi binaries.
type Session struct {
	// Recording geometry and chunking
	FrameWidth   *int     `json:"frame_width,omitempty"`
	FrameHeight  *int     `json:"frame_height,omitempty"`
	FPS          *float64 `json:"fps,omitempty"`
	ChunkSize    *int     `json:"chunk_size,omitempty"`
	ChunkOverlap *int     `json:"chunk_overlap,omitempty"`

	// Background model
	BgStride            *int     `json:"bg_stride,omitempty"`
	BgMedianKernel      *int     `json:"bg_median_kernel,omitempty"`
	BgRemoveObject      *bool    `json:"bg_remove_object,omitempty"`
	BgFloorPercentile   *float64 `json:"bg_floor_percentile,omitempty"`
	BgFloorRange        *float64 `json:"bg_floor_range,omitempty"`
	BgErosionSize       *int     `json:"bg_erosion_size,omitempty"`
	BgSeed              *int64   `json:"bg_seed,omitempty"`

	// ROI detection
	RoiDepthMin          *float64    `json:"roi_depth_min,omitempty"`
	RoiDepthMax          *float64    `json:"roi_depth_max,omitempty"`
	RoiNoiseTolerance    *float64    `json:"roi_noise_tolerance,omitempty"`
	RoiIterations        *int        `json:"roi_iterations,omitempty"`
	RoiWeights           *[3]float64 `json:"roi_weights,omitempty"`
	RoiDilateKernel      *int        `json:"roi_dilate_kernel,omitempty"`
	RoiDilateShape       *string     `json:"roi_dilate_shape,omitempty"`
	RoiErodeKernel       *int        `json:"roi_erode_kernel,omitempty"`
	RoiErodeShape        *string     `json:"roi_erode_shape,omitempty"`
	RoiFillHoles         *bool       `json:"roi_fill_holes,omitempty"`
	RoiGradientFilter    *bool       `json:"roi_gradient_filter,omitempty"`
	RoiGradientKernel    *int        `json:"roi_gradient_kernel,omitempty"`
	RoiGradientThreshold *float64    `json:"roi_gradient_threshold,omitempty"`

	// Frame cleaning
	CableKernel     *int    `json:"cable_kernel,omitempty"`
	CableShape      *string `json:"cable_shape,omitempty"`
	CableIterations *int    `json:"cable_iterations,omitempty"`
	SpatialKernels  *[]int  `json:"spatial_kernels,omitempty"`
	TailKernel      *int    `json:"tail_kernel,omitempty"`
	TailShape       *string `json:"tail_shape,omitempty"`
	TailIterations  *int    `json:"tail_iterations,omitempty"`
	TemporalKernels *[]int  `json:"temporal_kernels,omitempty"`

	// Segmentation
	MinHeight   *float64 `json:"min_height,omitempty"`
	MaxHeight   *float64 `json:"max_height,omitempty"`
	UseCC       *bool    `json:"use_cc,omitempty"`
	CCThreshold *float64 `json:"cc_threshold,omitempty"`
	BoxPad      *float64 `json:"box_pad,omitempty"`
	RadiusCap   *float64 `json:"radius_cap,omitempty"`

	// Crop geometry
	CropWidth  *int `json:"crop_width,omitempty"`
	CropHeight *int `json:"crop_height,omitempty"`

	// Camera projection
	CameraFOVX      *float64 `json:"camera_fov_x,omitempty"`
	CameraFOVY      *float64 `json:"camera_fov_y,omitempty"`
	CameraTrueDepth *float64 `json:"camera_true_depth,omitempty"`

	// Post-processing
	CentroidHampelSpan  *int     `json:"centroid_hampel_span,omitempty"`
	CentroidHampelSig   *float64 `json:"centroid_hampel_sig,omitempty"`
	AngleHampelSpan     *int     `json:"angle_hampel_span,omitempty"`
	AngleHampelSig      *float64 `json:"angle_hampel_sig,omitempty"`
	ModelSmoothClipLow  *float64 `json:"model_smooth_clip_low,omitempty"`
	ModelSmoothClipHigh *float64 `json:"model_smooth_clip_high,omitempty"`

	// Orientation correction
	FlipClassifierPath *string `json:"flip_classifier_path,omitempty"`
	FlipSmoothKernel   *int    `json:"flip_smooth_kernel,omitempty"`
}

// Helper functions to create pointers, used by tests and callers building
// configs in code.
func PtrFloat64(v float64) *float64 { return &v }
func PtrBool(v bool) *bool          { return &v }
func PtrString(v string) *string    { return &v }
func PtrInt(v int) *int             { return &v }
func PtrInt64(v int64) *int64       { return &v }

// EmptySession returns a Session with all fields unset, meaning every
// consumer falls back to its default.
func EmptySession() *Session {
	return &Session{}
}

// Load reads a Session from a JSON file. The path must carry a .json
// extension; fields omitted from the file keep their defaults.
func Load(path string) (*Session, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySession()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set fields carry sane values.
func (c *Session) Validate() error {
	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}
	if c.ChunkOverlap != nil {
		if *c.ChunkOverlap < 0 {
			return fmt.Errorf("chunk_overlap must be non-negative, got %d", *c.ChunkOverlap)
		}
		if c.ChunkSize != nil && *c.ChunkOverlap >= *c.ChunkSize {
			return fmt.Errorf("chunk_overlap %d must be smaller than chunk_size %d", *c.ChunkOverlap, *c.ChunkSize)
		}
	}
	if c.BgStride != nil && *c.BgStride <= 0 {
		return fmt.Errorf("bg_stride must be positive, got %d", *c.BgStride)
	}
	if c.BgFloorPercentile != nil {
		if *c.BgFloorPercentile <= 0 || *c.BgFloorPercentile > 100 {
			return fmt.Errorf("bg_floor_percentile must be in (0, 100], got %f", *c.BgFloorPercentile)
		}
	}
	if c.RoiDepthMin != nil && c.RoiDepthMax != nil && *c.RoiDepthMin >= *c.RoiDepthMax {
		return fmt.Errorf("roi_depth_min %f must be below roi_depth_max %f", *c.RoiDepthMin, *c.RoiDepthMax)
	}
	if c.MinHeight != nil && c.MaxHeight != nil && *c.MinHeight >= *c.MaxHeight {
		return fmt.Errorf("min_height %f must be below max_height %f", *c.MinHeight, *c.MaxHeight)
	}
	if c.CropWidth != nil && *c.CropWidth <= 0 {
		return fmt.Errorf("crop_width must be positive, got %d", *c.CropWidth)
	}
	if c.CropHeight != nil && *c.CropHeight <= 0 {
		return fmt.Errorf("crop_height must be positive, got %d", *c.CropHeight)
	}
	if c.ModelSmoothClipLow != nil && c.ModelSmoothClipHigh != nil &&
		*c.ModelSmoothClipLow >= *c.ModelSmoothClipHigh {
		return fmt.Errorf("model_smooth_clip_low %f must be below model_smooth_clip_high %f",
			*c.ModelSmoothClipLow, *c.ModelSmoothClipHigh)
	}
	return nil
}

// GetFrameWidth returns the frame_width value or the default.
func (c *Session) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 512
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame_height value or the default.
func (c *Session) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 424
	}
	return *c.FrameHeight
}

// GetFPS returns the fps value or the default.
func (c *Session) GetFPS() float64 {
	if c.FPS == nil {
		return 30
	}
	return *c.FPS
}

// GetChunkSize returns the chunk_size value or the default.
func (c *Session) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 1000
	}
	return *c.ChunkSize
}

// GetChunkOverlap returns the chunk_overlap value or the default.
func (c *Session) GetChunkOverlap() int {
	if c.ChunkOverlap == nil {
		return 0
	}
	return *c.ChunkOverlap
}

// GetBgStride returns the bg_stride value or the default.
func (c *Session) GetBgStride() int {
	if c.BgStride == nil {
		return 500
	}
	return *c.BgStride
}

// GetFlipClassifierPath returns the flip_classifier_path value or "".
func (c *Session) GetFlipClassifierPath() string {
	if c.FlipClassifierPath == nil {
		return ""
	}
	return *c.FlipClassifierPath
}

// BackgroundConfig builds the background reconstruction parameters, folding
// any set overrides into the defaults.
func (c *Session) BackgroundConfig() depth.BackgroundConfig {
	cfg := depth.DefaultBackgroundConfig()
	if c.BgMedianKernel != nil {
		cfg.MedianKernel = *c.BgMedianKernel
	}
	if c.BgRemoveObject != nil {
		cfg.RemoveObject = *c.BgRemoveObject
	}
	if c.BgFloorPercentile != nil {
		cfg.FloorPercentile = *c.BgFloorPercentile
	}
	if c.BgFloorRange != nil {
		cfg.FloorRange = *c.BgFloorRange
	}
	if c.BgErosionSize != nil {
		cfg.ErosionSize = *c.BgErosionSize
	}
	if c.RoiIterations != nil {
		cfg.PlaneIterations = *c.RoiIterations
	}
	if c.RoiNoiseTolerance != nil {
		cfg.PlaneNoiseTolerance = *c.RoiNoiseTolerance
	}
	if c.BgSeed != nil {
		cfg.Seed = *c.BgSeed
		cfg.Ellipse.Seed = *c.BgSeed
	}
	return cfg
}

// ROIConfig builds the floor detection parameters.
func (c *Session) ROIConfig() depth.ROIConfig {
	cfg := depth.DefaultROIConfig()
	if c.RoiDepthMin != nil {
		cfg.Plane.DepthMin = *c.RoiDepthMin
	}
	if c.RoiDepthMax != nil {
		cfg.Plane.DepthMax = *c.RoiDepthMax
	}
	if c.RoiNoiseTolerance != nil {
		cfg.Plane.NoiseTolerance = *c.RoiNoiseTolerance
	}
	if c.RoiIterations != nil {
		cfg.Plane.Iterations = *c.RoiIterations
	}
	if c.BgSeed != nil {
		cfg.Plane.Seed = *c.BgSeed
	}
	if c.RoiWeights != nil {
		cfg.Weights = *c.RoiWeights
	}
	if c.RoiDilateKernel != nil {
		cfg.DilateKernel = *c.RoiDilateKernel
	}
	if c.RoiDilateShape != nil {
		cfg.DilateShape = *c.RoiDilateShape
	}
	if c.RoiErodeKernel != nil {
		cfg.ErodeKernel = *c.RoiErodeKernel
	}
	if c.RoiErodeShape != nil {
		cfg.ErodeShape = *c.RoiErodeShape
	}
	if c.RoiFillHoles != nil {
		cfg.FillHoles = *c.RoiFillHoles
	}
	if c.RoiGradientFilter != nil {
		cfg.GradientFilter = *c.RoiGradientFilter
	}
	if c.RoiGradientKernel != nil {
		cfg.GradientKernel = *c.RoiGradientKernel
	}
	if c.RoiGradientThreshold != nil {
		cfg.GradientThreshold = *c.RoiGradientThreshold
	}
	return cfg
}

// CleanConfig builds the denoising parameters.
func (c *Session) CleanConfig() depth.CleanConfig {
	cfg := depth.DefaultCleanConfig()
	if c.CableKernel != nil {
		cfg.CableKernel = *c.CableKernel
	}
	if c.CableShape != nil {
		cfg.CableShape = *c.CableShape
	}
	if c.CableIterations != nil {
		cfg.CableIterations = *c.CableIterations
	}
	if c.SpatialKernels != nil {
		cfg.SpatialKernels = *c.SpatialKernels
	}
	if c.TailKernel != nil {
		cfg.TailKernel = *c.TailKernel
	}
	if c.TailShape != nil {
		cfg.TailShape = *c.TailShape
	}
	if c.TailIterations != nil {
		cfg.TailIterations = *c.TailIterations
	}
	if c.TemporalKernels != nil {
		cfg.TemporalKernels = *c.TemporalKernels
	}
	return cfg
}

// SegmentConfig builds the base segmentation parameters. Object-removal
// fields (masks, mean box height) are wired by the extractor once the
// background model exists.
func (c *Session) SegmentConfig() depth.SegmentConfig {
	cfg := depth.DefaultSegmentConfig()
	if c.MinHeight != nil {
		cfg.FrameThreshold = *c.MinHeight
	}
	if c.UseCC != nil {
		cfg.UseCC = *c.UseCC
	}
	if c.CCThreshold != nil {
		cfg.CCThreshold = *c.CCThreshold
	}
	if c.BoxPad != nil {
		cfg.BoxPad = *c.BoxPad
	}
	if c.RadiusCap != nil {
		cfg.RadiusCap = *c.RadiusCap
	}
	return cfg
}

// CropConfig builds the fixed patch geometry.
func (c *Session) CropConfig() depth.CropConfig {
	cfg := depth.DefaultCropConfig()
	if c.CropWidth != nil {
		cfg.Width = *c.CropWidth
	}
	if c.CropHeight != nil {
		cfg.Height = *c.CropHeight
	}
	return cfg
}

// ScalarConfig builds the scalar feature parameters including the camera
// projection.
func (c *Session) ScalarConfig() depth.ScalarConfig {
	cfg := depth.DefaultScalarConfig()
	if c.MinHeight != nil {
		cfg.MinHeight = *c.MinHeight
	}
	if c.MaxHeight != nil {
		cfg.MaxHeight = *c.MaxHeight
	}
	cfg.Camera.ResolutionX = c.GetFrameWidth()
	cfg.Camera.ResolutionY = c.GetFrameHeight()
	if c.CameraFOVX != nil {
		cfg.Camera.FieldOfViewX = *c.CameraFOVX
	}
	if c.CameraFOVY != nil {
		cfg.Camera.FieldOfViewY = *c.CameraFOVY
	}
	if c.CameraTrueDepth != nil {
		cfg.Camera.TrueDepth = *c.CameraTrueDepth
	}
	return cfg
}

// HampelConfig builds the outlier correction parameters. Spans default to
// zero, meaning the filters are off until a rig opts in.
func (c *Session) HampelConfig() depth.HampelConfig {
	cfg := depth.HampelConfig{CentroidSig: 3, AngleSig: 3}
	if c.CentroidHampelSpan != nil {
		cfg.CentroidSpan = *c.CentroidHampelSpan
	}
	if c.CentroidHampelSig != nil {
		cfg.CentroidSig = *c.CentroidHampelSig
	}
	if c.AngleHampelSpan != nil {
		cfg.AngleSpan = *c.AngleHampelSpan
	}
	if c.AngleHampelSig != nil {
		cfg.AngleSig = *c.AngleHampelSig
	}
	return cfg
}

// SmoothConfig builds the confidence-weighted smoothing parameters.
func (c *Session) SmoothConfig() depth.SmoothConfig {
	cfg := depth.DefaultSmoothConfig()
	if c.ModelSmoothClipLow != nil {
		cfg.ClipLow = *c.ModelSmoothClipLow
	}
	if c.ModelSmoothClipHigh != nil {
		cfg.ClipHigh = *c.ModelSmoothClipHigh
	}
	return cfg
}

// FlipConfig builds the orientation correction parameters.
func (c *Session) FlipConfig() depth.FlipConfig {
	cfg := depth.FlipConfig{SmoothKernel: 51}
	if c.FlipSmoothKernel != nil {
		cfg.SmoothKernel = *c.FlipSmoothKernel
	}
	return cfg
}
