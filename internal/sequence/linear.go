package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// LinearModel is a logistic scorer over a flattened sample window. The
// score is 100 * sigmoid(bias + sum of weighted features).
type LinearModel struct {
	Weights [][3]float64 `json:"weights"`
	Bias    float64      `json:"bias"`
}

// LoadLinearModel reads a model artifact from a JSON file.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the model shape.
func (m *LinearModel) Validate() error {
	if len(m.Weights) == 0 {
		return errors.New("model must define at least one weight row")
	}
	for i, row := range m.Weights {
		for _, w := range row {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("weight row %d is not finite", i)
			}
		}
	}
	return nil
}

// Inputs returns the window length the model was trained on.
func (m *LinearModel) Inputs() int {
	return len(m.Weights)
}

// Predict scores the window. Rows beyond the model's input length are ignored.
func (m *LinearModel) Predict(window []Sample) float64 {
	z := m.Bias
	for i, s := range window {
		if i >= len(m.Weights) {
			break
		}
		w := m.Weights[i]
		z += w[0]*s.Value + w[1]*s.Derivative + w[2]*s.DayFraction
	}
	return 100 / (1 + math.Exp(-z))
}

// LoadConfirmer loads the model at path and builds a confirmer over it. The
// window size must equal the number of samples the model was trained on.
func LoadConfirmer(path string, size int) (*Confirmer, error) {
	m, err := LoadLinearModel(path)
	if err != nil {
		return nil, err
	}
	if m.Inputs() != size {
		return nil, fmt.Errorf("model %s expects %d samples, confirmer window is %d", path, m.Inputs(), size)
	}
	return NewConfirmer(m, size), nil
}
