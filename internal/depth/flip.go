package depth

import (
	"fmt"
	"log"
	"math"

	"gocv.io/x/gocv"
)

// Classifier is the capability the orientation corrector needs from the
// external flip model: two-class probabilities per flattened patch (index 0
// correctly oriented, index 1 flipped) and the input dimensionality the
// model was trained for.
type Classifier interface {
	PredictProba(batch [][]float32) ([][2]float64, error)
	ExpectedInputSize() int
}

// FlipConfig controls orientation correction.
type FlipConfig struct {
	SmoothKernel int // odd median kernel over the probability series, 0 disables
}

// PredictFlips flags the frames whose predicted orientation disagrees with
// the east-facing convention. When the classifier's expected input size does
// not match the patch geometry it degrades gracefully: the required patch
// size is reported and every frame is treated as correctly oriented.
func PredictFlips(patches *FrameBatch, clf Classifier, cfg FlipConfig) ([]bool, error) {
	n := patches.Len()
	flips := make([]bool, n)
	if n == 0 || clf == nil {
		return flips, nil
	}

	rows, cols := patches.Dims()
	if want := clf.ExpectedInputSize(); want != rows*cols {
		side := int(math.Sqrt(float64(want)))
		log.Printf("flip classifier expects %d inputs (crop size %dx%d), got %dx%d patches; not flipping",
			want, side, side, cols, rows)
		return flips, nil
	}

	batch := make([][]float32, n)
	for i := 0; i < n; i++ {
		m := patches.At(i)
		data, err := m.DataPtrUint8()
		if err != nil {
			return nil, fmt.Errorf("flip prediction: %w", err)
		}
		row := make([]float32, len(data))
		for j, v := range data {
			row[j] = float32(v)
		}
		batch[i] = row
	}

	probas, err := clf.PredictProba(batch)
	if err != nil {
		return nil, fmt.Errorf("flip prediction: %w", err)
	}
	if len(probas) != n {
		return nil, fmt.Errorf("flip prediction: classifier returned %d rows for %d patches", len(probas), n)
	}

	if cfg.SmoothKernel > 1 {
		for col := 0; col < 2; col++ {
			series := make([]float64, n)
			for i := range probas {
				series[i] = probas[i][col]
			}
			medianSmooth(series, cfg.SmoothKernel)
			for i := range probas {
				probas[i][col] = series[i]
			}
		}
	}

	for i := range probas {
		flips[i] = probas[i][1] > probas[i][0]
	}
	return flips, nil
}

// ApplyFlips rotates flagged patches by 180 degrees in place so every patch
// ends up facing east.
func ApplyFlips(patches *FrameBatch, flips []bool) {
	for i := 0; i < patches.Len() && i < len(flips); i++ {
		if !flips[i] {
			continue
		}
		m := patches.At(i)
		gocv.Rotate(m, &m, gocv.Rotate180Clockwise)
	}
}

// medianSmooth is a zero-padded odd-kernel sliding median, in place.
func medianSmooth(series []float64, k int) {
	if k%2 == 0 {
		k++
	}
	half := k / 2
	src := append([]float64(nil), series...)
	window := make([]float64, 0, k)
	for i := range series {
		window = window[:0]
		for w := i - half; w <= i+half; w++ {
			if w < 0 || w >= len(src) {
				window = append(window, 0)
			} else {
				window = append(window, src[w])
			}
		}
		series[i] = median(window)
	}
}
