package depth

import (
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestSegmentBatchFindsBlobCentroid(t *testing.T) {
	// 10x10 blob with top-left (20, 30): centroid (24.5, 34.5) in (row, col),
	// i.e. x = 34.5, y = 24.5.
	b := blobBatch(4, 80, 80, 20, 30, 10, 0, 0, 40)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	if tf.Len() != 4 {
		t.Fatalf("Len = %d, want 4", tf.Len())
	}
	for i := 0; i < 4; i++ {
		if !tf.Valid(i) {
			t.Fatalf("frame %d not valid", i)
		}
		if !approxEqual(tf.Centroid[i][0], 34.5, 1) || !approxEqual(tf.Centroid[i][1], 24.5, 1) {
			t.Errorf("frame %d centroid = %v, want ~(34.5, 24.5)", i, tf.Centroid[i])
		}
		if tf.AxisLength[i][0] <= 0 || tf.AxisLength[i][1] <= 0 {
			t.Errorf("frame %d axis lengths = %v, want positive", i, tf.AxisLength[i])
		}
	}
}

func TestSegmentBatchOrientationOfElongatedBlob(t *testing.T) {
	// Wide rectangle: long axis along x, orientation ~0 (mod pi).
	mats := []gocv.Mat{newU8(80, 80, 0)}
	fillRectU8(mats[0], 35, 45, 15, 65, 40)
	b := NewFrameBatch(mats)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	if !tf.Valid(0) {
		t.Fatal("frame not valid")
	}
	theta := math.Mod(math.Abs(tf.Orientation[0]), math.Pi)
	if theta > 0.1 && theta < math.Pi-0.1 {
		t.Errorf("orientation = %f, want ~0 mod pi", tf.Orientation[0])
	}
	major := math.Max(tf.AxisLength[0][0], tf.AxisLength[0][1])
	minor := math.Min(tf.AxisLength[0][0], tf.AxisLength[0][1])
	if major <= minor*2 {
		t.Errorf("axis lengths %v do not reflect a 5:1 rectangle", tf.AxisLength[0])
	}
}

func TestSegmentBatchEmptyFrameYieldsNaN(t *testing.T) {
	b := NewEmptyBatch(2, 40, 40, gocv.MatTypeCV8U)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	for i := 0; i < 2; i++ {
		if tf.Valid(i) {
			t.Errorf("frame %d valid for empty input", i)
		}
		if !math.IsNaN(tf.Centroid[i][0]) || !math.IsNaN(tf.Orientation[i]) {
			t.Errorf("frame %d features = %v/%f, want NaN", i, tf.Centroid[i], tf.Orientation[i])
		}
	}
}

func TestSegmentBatchBelowThresholdIgnored(t *testing.T) {
	// Blob height 5 is under the 10mm default threshold.
	b := blobBatch(1, 40, 40, 10, 10, 8, 0, 0, 5)
	defer b.Close()

	tf := SegmentBatch(b, DefaultSegmentConfig())
	if tf.Valid(0) {
		t.Error("sub-threshold blob segmented")
	}
}

func TestSegmentBatchLargestComponentGate(t *testing.T) {
	// Big blob plus a disconnected speck: the CC gate keeps only the blob.
	mats := []gocv.Mat{newU8(80, 80, 0)}
	fillRectU8(mats[0], 20, 40, 20, 40, 40)
	fillRectU8(mats[0], 60, 63, 60, 63, 40)
	b := NewFrameBatch(mats)
	defer b.Close()

	cfg := DefaultSegmentConfig()
	cfg.UseCC = true

	tf := SegmentBatch(b, cfg)
	if !tf.Valid(0) {
		t.Fatal("frame not valid")
	}
	// Centroid stays on the big blob, unmoved by the far speck.
	if !approxEqual(tf.Centroid[0][0], 29.5, 1.5) || !approxEqual(tf.Centroid[0][1], 29.5, 1.5) {
		t.Errorf("centroid = %v, want ~(29.5, 29.5)", tf.Centroid[0])
	}
}

func TestSegmentBatchDeterministic(t *testing.T) {
	b := blobBatch(3, 60, 60, 12, 18, 9, 1, 1, 30)
	defer b.Close()

	a := SegmentBatch(b, DefaultSegmentConfig())
	c := SegmentBatch(b, DefaultSegmentConfig())
	for i := 0; i < 3; i++ {
		if a.Centroid[i] != c.Centroid[i] || a.Orientation[i] != c.Orientation[i] {
			t.Fatalf("frame %d differs between runs", i)
		}
	}
}
