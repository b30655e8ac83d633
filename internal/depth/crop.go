package depth

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// CropConfig sets the fixed output patch geometry.
type CropConfig struct {
	Width  int
	Height int
}

// DefaultCropConfig matches the standard 80x80 patch.
func DefaultCropConfig() CropConfig { return CropConfig{Width: 80, Height: 80} }

// CropRotate extracts a crop-size window centred on each frame's centroid and
// rotates it by the negative detected orientation so the subject's long axis
// points east. Frames without a valid centroid, or whose window would leave
// the padded frame, yield an all-zero patch so patch geometry stays constant
// for downstream consumers.
func CropRotate(batch *FrameBatch, tf *TrackFeatures, cfg CropConfig) *FrameBatch {
	n := batch.Len()
	patches := NewEmptyBatch(n, cfg.Height, cfg.Width, gocv.MatTypeCV8UC1)
	if n == 0 {
		return patches
	}

	halfH, halfW := cfg.Height/2, cfg.Width/2
	center := image.Pt(cfg.Width/2, cfg.Height/2)
	black := color.RGBA{}

	for i := 0; i < n; i++ {
		if !tf.Valid(i) {
			continue
		}
		cx, cy := tf.Centroid[i][0], tf.Centroid[i][1]

		// Pad by one crop size per side so a subject at the frame edge still
		// yields a full window.
		padded := gocv.NewMat()
		gocv.CopyMakeBorder(batch.At(i), &padded, cfg.Height, cfg.Height, cfg.Width, cfg.Width, gocv.BorderConstant, black)

		r0 := int(math.Floor(cy)) - halfH + cfg.Height
		c0 := int(math.Floor(cx)) - halfW + cfg.Width
		if r0 < 1 || c0 < 1 || r0+cfg.Height >= padded.Rows() || c0+cfg.Width >= padded.Cols() {
			padded.Close()
			continue
		}

		window := padded.Region(image.Rect(c0, r0, c0+cfg.Width, r0+cfg.Height))
		rot := gocv.GetRotationMatrix2D(center, -tf.Orientation[i]*180/math.Pi, 1)
		patch := gocv.NewMat()
		gocv.WarpAffine(window, &patch, rot, image.Pt(cfg.Width, cfg.Height))
		patches.Set(i, patch)

		rot.Close()
		window.Close()
		padded.Close()
	}
	return patches
}
