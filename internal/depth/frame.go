package depth

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// FrameBatch is an ordered, index-addressable sequence of single-channel
// frames. A batch owns its Mats: Close releases every frame. Stages that
// filter in place (CleanFrames) say so; everything else returns new batches.
type FrameBatch struct {
	mats []gocv.Mat
}

// NewFrameBatch wraps a slice of Mats. The batch takes ownership.
func NewFrameBatch(mats []gocv.Mat) *FrameBatch {
	return &FrameBatch{mats: mats}
}

// NewEmptyBatch allocates n zero-filled frames of the given shape and type.
func NewEmptyBatch(n, rows, cols int, mt gocv.MatType) *FrameBatch {
	mats := make([]gocv.Mat, n)
	for i := range mats {
		mats[i] = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, mt)
	}
	return &FrameBatch{mats: mats}
}

// Len returns the number of frames in the batch.
func (b *FrameBatch) Len() int { return len(b.mats) }

// At returns the i-th frame. The Mat is still owned by the batch.
func (b *FrameBatch) At(i int) gocv.Mat { return b.mats[i] }

// Set replaces the i-th frame, closing the one it displaces.
func (b *FrameBatch) Set(i int, m gocv.Mat) {
	b.mats[i].Close()
	b.mats[i] = m
}

// Dims returns the row and column count of the first frame, or zeros for an
// empty batch.
func (b *FrameBatch) Dims() (rows, cols int) {
	if len(b.mats) == 0 {
		return 0, 0
	}
	return b.mats[0].Rows(), b.mats[0].Cols()
}

// Clone deep-copies the batch.
func (b *FrameBatch) Clone() *FrameBatch {
	mats := make([]gocv.Mat, len(b.mats))
	for i := range b.mats {
		mats[i] = b.mats[i].Clone()
	}
	return &FrameBatch{mats: mats}
}

// TrimHead drops the first k frames, closing them. Used to discard the
// overlapped head of a chunk.
func (b *FrameBatch) TrimHead(k int) {
	if k <= 0 {
		return
	}
	if k > len(b.mats) {
		k = len(b.mats)
	}
	for i := 0; i < k; i++ {
		b.mats[i].Close()
	}
	b.mats = b.mats[k:]
}

// Close releases every frame in the batch.
func (b *FrameBatch) Close() {
	for i := range b.mats {
		b.mats[i].Close()
	}
	b.mats = nil
}

// BoundingBox is a half-open pixel rectangle: rows [MinRow, MaxRow), columns
// [MinCol, MaxCol).
type BoundingBox struct {
	MinRow, MinCol int
	MaxRow, MaxCol int
}

// Height returns the row extent of the box.
func (bb BoundingBox) Height() int { return bb.MaxRow - bb.MinRow }

// Width returns the column extent of the box.
func (bb BoundingBox) Width() int { return bb.MaxCol - bb.MinCol }

// Rect converts the box to an image.Rectangle (x = column, y = row).
func (bb BoundingBox) Rect() image.Rectangle {
	return image.Rect(bb.MinCol, bb.MinRow, bb.MaxCol, bb.MinRow+bb.Height())
}

// MaskBBox returns the tight bounding box of the nonzero pixels of an 8-bit
// mask, or nil if the mask has none.
func MaskBBox(mask gocv.Mat) *BoundingBox {
	data, err := mask.DataPtrUint8()
	if err != nil {
		return nil
	}
	rows, cols := mask.Rows(), mask.Cols()
	bb := BoundingBox{MinRow: rows, MinCol: cols, MaxRow: -1, MaxCol: -1}
	for r := 0; r < rows; r++ {
		base := r * cols
		for c := 0; c < cols; c++ {
			if data[base+c] == 0 {
				continue
			}
			if r < bb.MinRow {
				bb.MinRow = r
			}
			if r > bb.MaxRow {
				bb.MaxRow = r
			}
			if c < bb.MinCol {
				bb.MinCol = c
			}
			if c > bb.MaxCol {
				bb.MaxCol = c
			}
		}
	}
	if bb.MaxRow < 0 {
		return nil
	}
	bb.MaxRow++
	bb.MaxCol++
	return &bb
}

// ApplyROI masks every frame with roi and crops the result to the ROI
// bounding box, returning a new batch. The input batch is left untouched.
func ApplyROI(b *FrameBatch, roi gocv.Mat) (*FrameBatch, error) {
	bb := MaskBBox(roi)
	if bb == nil {
		return nil, fmt.Errorf("apply roi: empty roi mask")
	}
	rect := image.Rect(bb.MinCol, bb.MinRow, bb.MaxCol, bb.MaxRow)
	mats := make([]gocv.Mat, b.Len())
	for i := 0; i < b.Len(); i++ {
		src := b.At(i)
		masked := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), src.Type())
		src.CopyToWithMask(&masked, roi)
		region := masked.Region(rect)
		mats[i] = region.Clone()
		region.Close()
		masked.Close()
	}
	return NewFrameBatch(mats), nil
}

// CropMaskToROI shrinks a session-level mask to the ROI bounding box.
func CropMaskToROI(mask, roi gocv.Mat) (gocv.Mat, error) {
	bb := MaskBBox(roi)
	if bb == nil {
		return gocv.Mat{}, fmt.Errorf("crop mask: empty roi mask")
	}
	region := mask.Region(image.Rect(bb.MinCol, bb.MinRow, bb.MaxCol, bb.MaxRow))
	out := region.Clone()
	region.Close()
	return out, nil
}
