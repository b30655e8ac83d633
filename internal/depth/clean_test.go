package depth

import (
	"testing"

	"gocv.io/x/gocv"
)

func TestCleanFramesDisabledIsNoOp(t *testing.T) {
	b := blobBatch(3, 40, 40, 10, 10, 8, 0, 0, 50)
	defer b.Close()
	want := b.Clone()
	defer want.Close()

	CleanFrames(b, CleanConfig{})

	for i := 0; i < b.Len(); i++ {
		got, ref := b.At(i), want.At(i)
		diff := gocv.NewMat()
		gocv.AbsDiff(got, ref, &diff)
		nz := gocv.CountNonZero(diff)
		diff.Close()
		if nz != 0 {
			t.Errorf("frame %d changed by disabled cleaner (%d px)", i, nz)
		}
	}
}

func TestCleanFramesTailFilterRemovesProtrusion(t *testing.T) {
	// A solid body with a 1px-wide tail. Opening with a 9x9 ellipse keeps
	// the body and erases the tail.
	mats := []gocv.Mat{newU8(60, 60, 0)}
	fillRectU8(mats[0], 15, 40, 15, 40, 50) // body
	fillRectU8(mats[0], 27, 28, 40, 55, 50) // tail
	b := NewFrameBatch(mats)
	defer b.Close()

	cfg := CleanConfig{TailKernel: 9, TailShape: "ellipse", TailIterations: 1}
	CleanFrames(b, cfg)

	frame := b.At(0)
	if got := frame.GetUCharAt(27, 50); got != 0 {
		t.Errorf("tail pixel survived opening: %d", got)
	}
	if got := frame.GetUCharAt(27, 27); got == 0 {
		t.Error("body center erased by opening")
	}
}

func TestCleanFramesCableErosionShrinksBlob(t *testing.T) {
	b := blobBatch(1, 40, 40, 10, 10, 12, 0, 0, 50)
	defer b.Close()
	before := gocv.CountNonZero(b.At(0))

	cfg := CleanConfig{CableKernel: 5, CableShape: "rect", CableIterations: 1}
	CleanFrames(b, cfg)

	after := gocv.CountNonZero(b.At(0))
	if after >= before {
		t.Errorf("erosion did not shrink blob: %d -> %d", before, after)
	}
	if after == 0 {
		t.Error("erosion erased the whole blob")
	}
}

func TestTemporalMedianSuppressesFlicker(t *testing.T) {
	// Pixel flickers on in frame 1 only; a 3-frame temporal median kills it.
	mats := make([]gocv.Mat, 3)
	for i := range mats {
		mats[i] = newU8(8, 8, 0)
	}
	mats[1].SetUCharAt(4, 4, 80)
	b := NewFrameBatch(mats)
	defer b.Close()

	CleanFrames(b, CleanConfig{TemporalKernels: []int{3}})

	frame := b.At(1)
	if got := frame.GetUCharAt(4, 4); got != 0 {
		t.Errorf("flicker pixel after temporal median = %d, want 0", got)
	}
}
