// Package logistic scores feature vectors with a logistic regression whose
// coefficients are exported from the trained model into a YAML file:
//
//	intercept: -4.2
//	weights:
//	  amount: 0.000012
//	  type_TRANSFER: 1.7
//	scaling:
//	  amount: {mean: 180000, std: 600000}
package logistic

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

type Scale struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
}

type Model struct {
	Intercept float64            `yaml:"intercept"`
	Weights   map[string]float64 `yaml:"weights"`
	Scaling   map[string]Scale   `yaml:"scaling"`
}

// Load reads model coefficients from path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("parse model: no weights")
	}
	known := make(map[string]bool)
	for _, name := range domain.FeatureNames() {
		known[name] = true
	}
	for name := range m.Weights {
		if !known[name] {
			return nil, fmt.Errorf("parse model: unknown feature %q", name)
		}
	}
	for name, s := range m.Scaling {
		if s.Std == 0 {
			return nil, fmt.Errorf("parse model: zero std for %q", name)
		}
	}
	return &m, nil
}

func (m *Model) PredictProba(_ context.Context, features domain.FeatureVector) (float64, error) {
	z := m.Intercept
	for name, x := range features.Map() {
		if s, ok := m.Scaling[name]; ok {
			x = (x - s.Mean) / s.Std
		}
		z += m.Weights[name] * x
	}
	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("logistic: non-finite score for %+v", features)
	}
	return math.Min(1, math.Max(0, p)), nil
}
