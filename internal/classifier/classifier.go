// Package classifier loads the external flip model used to correct
// left-right orientation errors in cropped patches. The core pipeline only
// depends on the depth.Classifier capability; this package provides the
// standard JSON-weights logistic implementation.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LogisticFlipModel is a two-class logistic regression over flattened
// patches. Class 1 means "flipped".
type LogisticFlipModel struct {
	InputSize int       `json:"input_size"`
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
}

// Load reads a model from a JSON weights file. A missing or unreadable file
// is a hard failure surfaced to the caller; it is not retried.
func Load(path string) (*LogisticFlipModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load flip classifier: %w", err)
	}
	var m LogisticFlipModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("load flip classifier %s: %w", path, err)
	}
	if m.InputSize <= 0 || len(m.Weights) != m.InputSize {
		return nil, fmt.Errorf("load flip classifier %s: %d weights for input size %d", path, len(m.Weights), m.InputSize)
	}
	return &m, nil
}

// ExpectedInputSize returns the flattened patch length the model accepts.
func (m *LogisticFlipModel) ExpectedInputSize() int { return m.InputSize }

// PredictProba returns per-row [not-flipped, flipped] probabilities.
func (m *LogisticFlipModel) PredictProba(batch [][]float32) ([][2]float64, error) {
	out := make([][2]float64, len(batch))
	for i, row := range batch {
		if len(row) != m.InputSize {
			return nil, fmt.Errorf("flip classifier: row %d has %d features, want %d", i, len(row), m.InputSize)
		}
		z := m.Bias
		for j, v := range row {
			z += m.Weights[j] * float64(v)
		}
		p := 1 / (1 + math.Exp(-z))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}
