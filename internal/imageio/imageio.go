// Package imageio persists depth images and masks as 16-bit PNGs so
// per-session background and ROI computations can be cached across runs.
package imageio

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"
)

// WriteDepth writes a CV32F depth image as a 16-bit PNG. Depth values are in
// millimetres and fit uint16 without scaling.
func WriteDepth(path string, img gocv.Mat) error {
	u16 := gocv.NewMat()
	defer u16.Close()
	img.ConvertTo(&u16, gocv.MatTypeCV16U)
	if ok := gocv.IMWrite(path, u16); !ok {
		return fmt.Errorf("write depth image %s failed", path)
	}
	return nil
}

// ReadDepth loads a cached 16-bit PNG back into a CV32F depth image.
func ReadDepth(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("read depth image: %w", err)
	}
	raw := gocv.IMRead(path, gocv.IMReadAnyDepth)
	if raw.Empty() {
		raw.Close()
		return gocv.Mat{}, fmt.Errorf("read depth image %s: decode failed", path)
	}
	defer raw.Close()
	f32 := gocv.NewMat()
	raw.ConvertTo(&f32, gocv.MatTypeCV32F)
	return f32, nil
}

// WriteMask writes a 0/255 CV8U mask as a PNG.
func WriteMask(path string, mask gocv.Mat) error {
	if ok := gocv.IMWrite(path, mask); !ok {
		return fmt.Errorf("write mask %s failed", path)
	}
	return nil
}

// ReadMask loads a PNG mask as CV8U, re-binarized to 0/255.
func ReadMask(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("read mask: %w", err)
	}
	raw := gocv.IMRead(path, gocv.IMReadGrayScale)
	if raw.Empty() {
		raw.Close()
		return gocv.Mat{}, fmt.Errorf("read mask %s: decode failed", path)
	}
	mask := gocv.NewMat()
	gocv.Threshold(raw, &mask, 0, 255, gocv.ThresholdBinary)
	raw.Close()
	return mask, nil
}

// Exists reports whether a cached artifact is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
