package imageio

import (
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func TestDepthRoundTrip(t *testing.T) {
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV32F)
	defer img.Close()
	for r := 0; r < 32; r++ {
		for c := 0; c < 32; c++ {
			img.SetFloatAt(r, c, float32(600+r+c))
		}
	}

	path := filepath.Join(t.TempDir(), "background.png")
	if err := WriteDepth(path, img); err != nil {
		t.Fatalf("WriteDepth: %v", err)
	}

	back, err := ReadDepth(path)
	if err != nil {
		t.Fatalf("ReadDepth: %v", err)
	}
	defer back.Close()

	if back.Rows() != 32 || back.Cols() != 32 {
		t.Fatalf("dims = %dx%d, want 32x32", back.Rows(), back.Cols())
	}
	if back.Type() != gocv.MatTypeCV32F {
		t.Fatalf("type = %v, want CV32F", back.Type())
	}
	// Depth values are integral millimetres and survive the uint16 round trip.
	for _, pt := range [][2]int{{0, 0}, {10, 20}, {31, 31}} {
		want := float32(600 + pt[0] + pt[1])
		if got := back.GetFloatAt(pt[0], pt[1]); got != want {
			t.Errorf("pixel %v = %f, want %f", pt, got, want)
		}
	}
}

func TestMaskRoundTrip(t *testing.T) {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 16, 16, gocv.MatTypeCV8U)
	defer mask.Close()
	for r := 4; r < 12; r++ {
		for c := 4; c < 12; c++ {
			mask.SetUCharAt(r, c, 255)
		}
	}

	path := filepath.Join(t.TempDir(), "roi.png")
	if err := WriteMask(path, mask); err != nil {
		t.Fatalf("WriteMask: %v", err)
	}

	back, err := ReadMask(path)
	if err != nil {
		t.Fatalf("ReadMask: %v", err)
	}
	defer back.Close()

	if got := back.GetUCharAt(8, 8); got != 255 {
		t.Errorf("inside pixel = %d, want 255", got)
	}
	if got := back.GetUCharAt(0, 0); got != 0 {
		t.Errorf("outside pixel = %d, want 0", got)
	}
	if nz := gocv.CountNonZero(back); nz != 64 {
		t.Errorf("nonzero count = %d, want 64", nz)
	}
}

func TestReadDepthMissingFile(t *testing.T) {
	if _, err := ReadDepth(filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(filepath.Join(dir, "absent.png")) {
		t.Error("Exists = true for absent file")
	}

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8U)
	defer img.Close()
	path := filepath.Join(dir, "present.png")
	if err := WriteMask(path, img); err != nil {
		t.Fatal(err)
	}
	if !Exists(path) {
		t.Error("Exists = false for written file")
	}
}
