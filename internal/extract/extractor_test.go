package extract

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/banshee-data/depth.extract/internal/config"
	"github.com/banshee-data/depth.extract/internal/depth"
	"github.com/banshee-data/depth.extract/internal/store"
	"github.com/banshee-data/depth.extract/internal/video"
)

// writeSyntheticSession writes a raw recording of a circular arena floor at
// depth 700 (walls at 500) with a 10x10 subject 40mm above the floor walking
// one column per frame.
func writeSyntheticSession(t *testing.T, path string, frames, rows, cols int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	cr, cc := rows/2, cols/2
	radius := float64(rows)/2 - 15
	buf := make([]byte, 2*rows*cols)
	for i := 0; i < frames; i++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				depthVal := uint16(500)
				dr, dc := float64(r-cr), float64(c-cc)
				if math.Hypot(dr, dc) <= radius {
					depthVal = 700
				}
				binary.LittleEndian.PutUint16(buf[2*(r*cols+c):], depthVal)
			}
		}
		// Subject: 40mm above the floor, drifting right.
		r0, c0 := cr-5, 30+i
		for r := r0; r < r0+10; r++ {
			for c := c0; c < c0+10; c++ {
				binary.LittleEndian.PutUint16(buf[2*(r*cols+c):], 660)
			}
		}
		if _, err := f.Write(buf); err != nil {
			t.Fatal(err)
		}
	}
}

func sessionConfig() *config.Session {
	return &config.Session{
		FrameWidth:      config.PtrInt(128),
		FrameHeight:     config.PtrInt(128),
		BgStride:        config.PtrInt(5),
		ChunkSize:       config.PtrInt(20),
		RoiDilateKernel: config.PtrInt(0),
		TailKernel:      config.PtrInt(0),
		CableKernel:     config.PtrInt(0),
		BgSeed:          config.PtrInt64(42),
	}
}

func TestExtractorEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "session.dat")
	writeSyntheticSession(t, input, 50, 128, 128)

	db, err := store.Open(filepath.Join(dir, "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ex := &Extractor{Cfg: sessionConfig(), Store: db}
	runID, err := ex.Run(input, filepath.Join(dir, "proc"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	n, err := db.FrameCount(runID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 50 {
		t.Fatalf("stored frames = %d, want 50", n)
	}

	areas, err := db.ScalarSeries(runID, "area_px")
	if err != nil {
		t.Fatal(err)
	}
	xs, err := db.ScalarSeries(runID, "centroid_x_px")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if math.IsNaN(areas[i]) {
			t.Fatalf("frame %d has no segmented subject", i)
		}
		if areas[i] < 60 || areas[i] > 140 {
			t.Errorf("frame %d area_px = %f, want ~100", i, areas[i])
		}
	}
	// The subject advances one column per frame; the stored centroid track
	// does the same (coordinates are relative to the ROI crop).
	for i := 1; i < 50; i++ {
		step := xs[i] - xs[i-1]
		if step < 0.5 || step > 1.5 {
			t.Errorf("frame %d centroid step = %f, want ~1", i, step)
		}
	}

	// The subject is a flat 40mm plateau; heights averaged over the
	// uncropped frames stay exact, with no resampling from the patch
	// rotation in the way.
	hs, err := db.ScalarSeries(runID, "height_ave_mm")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if hs[i] != 40 {
			t.Errorf("frame %d height_ave_mm = %f, want 40", i, hs[i])
		}
	}

	// Patches stored per chunk, 20 frames at a time.
	patches, err := db.ReadPatches(runID, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer patches.Close()
	if patches.Len() != 20 {
		t.Errorf("first patch chunk has %d frames, want 20", patches.Len())
	}
	rows, cols := patches.Dims()
	if rows != 80 || cols != 80 {
		t.Errorf("patch dims = %dx%d, want 80x80", rows, cols)
	}
}

func TestExtractorReusesCachedBackground(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "session.dat")
	writeSyntheticSession(t, input, 20, 128, 128)

	cfg := sessionConfig()
	info, err := video.Probe(input, 128, 128)
	if err != nil {
		t.Fatal(err)
	}

	ex := &Extractor{Cfg: cfg}
	cacheDir := filepath.Join(dir, "proc")

	model1, err := ex.EnsureBackground(info, cacheDir)
	if err != nil {
		t.Fatalf("first EnsureBackground: %v", err)
	}
	want := model1.Image.GetFloatAt(64, 64)
	model1.Close()

	// Second call loads from cache and agrees with the first.
	model2, err := ex.EnsureBackground(info, cacheDir)
	if err != nil {
		t.Fatalf("cached EnsureBackground: %v", err)
	}
	defer model2.Close()
	got := model2.Image.GetFloatAt(64, 64)
	if got != want {
		t.Errorf("cached background pixel = %f, want %f", got, want)
	}
}

func TestExtractorChunkOverlapTrimmed(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "session.dat")
	writeSyntheticSession(t, input, 30, 128, 128)

	db, err := store.Open(filepath.Join(dir, "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := sessionConfig()
	cfg.ChunkSize = config.PtrInt(15)
	cfg.ChunkOverlap = config.PtrInt(5)

	ex := &Extractor{Cfg: cfg, Store: db}
	runID, err := ex.Run(input, filepath.Join(dir, "proc"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every frame stored exactly once despite the overlapping reads.
	n, err := db.FrameCount(runID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 30 {
		t.Errorf("stored frames = %d, want 30", n)
	}
}

func TestExtractorMissingInput(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ex := &Extractor{Cfg: config.EmptySession(), Store: db}
	if _, err := ex.Run(filepath.Join(dir, "absent.dat"), dir); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

func TestHeightFramesZeroesOutOfBand(t *testing.T) {
	raw16 := gocv.NewMatWithSize(1, 3, gocv.MatTypeCV16U)
	// Heights above a flat 700 background: 5 (too low), 40, 150 (too tall).
	raw16.SetShortAt(0, 0, 695)
	raw16.SetShortAt(0, 1, 660)
	raw16.SetShortAt(0, 2, 550)
	raw := depth.NewFrameBatch([]gocv.Mat{raw16})
	defer raw.Close()

	bg := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(700, 0, 0, 0), 1, 3, gocv.MatTypeCV32F)
	defer bg.Close()

	out := heightFrames(raw, bg, 10, 100)
	defer out.Close()

	f := out.At(0)
	want := []uint8{0, 40, 0}
	for c, w := range want {
		if got := f.GetUCharAt(0, c); got != w {
			t.Errorf("pixel %d = %d, want %d", c, got, w)
		}
	}
}
