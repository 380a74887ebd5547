package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/rsclarke/flowtriage/internal/flow"
	"github.com/rsclarke/flowtriage/internal/model"
	"github.com/rsclarke/flowtriage/internal/schema"
)

// WidthError reports a feature matrix that does not match the width the
// artifacts expect.
type WidthError struct {
	Expected int
	Actual   int
}

func (e *WidthError) Error() string {
	return fmt.Sprintf("feature width %d does not match expected %d", e.Actual, e.Expected)
}

// Prediction is the classification of one flow.
type Prediction struct {
	Class      int
	Label      string
	Confidence float64
	// Probabilities holds one entry per class with a known label.
	Probabilities map[string]float64
}

// Engine classifies normalized flow tables.
type Engine struct {
	labels      LabelTable
	features    []string
	categorical int
}

// NewEngine creates an Engine using the canonical feature layout.
func NewEngine(labels LabelTable) *Engine {
	return &Engine{
		labels:      labels,
		features:    schema.FeatureNames(),
		categorical: len(schema.Categorical),
	}
}

// Labels returns the engine's label table.
func (e *Engine) Labels() LabelTable { return e.labels }

// Features extracts the model input matrix from t, one row per flow.
// Feature columns missing from t are skipped, which surfaces as a width
// mismatch in Predict.
func (e *Engine) Features(t *flow.Table) [][]float64 {
	cols := make([][]float64, 0, len(e.features))
	for _, name := range e.features {
		c, ok := t.Column(name)
		if !ok || c.Kind != flow.Numeric {
			continue
		}
		cols = append(cols, c.Numbers)
	}
	x := make([][]float64, t.Len())
	for i := range x {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c[i]
		}
		x[i] = row
	}
	return x
}

// Predict classifies every row of t. The feature width is checked
// against the artifacts before any of them runs.
func (e *Engine) Predict(ctx context.Context, a *model.Artifacts, t *flow.Table) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.New("no artifacts")
	}

	x := e.Features(t)
	width := len(e.features)
	if len(x) > 0 {
		width = len(x[0])
	} else if t.Len() == 0 {
		return []Prediction{}, nil
	}
	if want := a.Scaler.InputWidth(); width != want {
		return nil, &WidthError{Expected: want, Actual: width}
	}
	if err := a.Validate(width, e.categorical); err != nil {
		return nil, err
	}

	classes, proba, err := a.Forward(x, e.categorical)
	if err != nil {
		return nil, err
	}
	if len(classes) != len(x) || len(proba) != len(x) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d rows", len(classes), len(x))
	}

	out := make([]Prediction, len(x))
	for i, c := range classes {
		p := Prediction{
			Class:         c,
			Label:         e.labels.Name(c),
			Probabilities: make(map[string]float64, len(e.labels)),
		}
		for k, v := range proba[i] {
			if v > p.Confidence {
				p.Confidence = v
			}
			if k < len(e.labels) {
				p.Probabilities[e.labels[k]] = v
			}
		}
		out[i] = p
	}
	return out, nil
}

// Counts returns the number of predictions per label.
func Counts(preds []Prediction) map[string]int {
	out := make(map[string]int)
	for _, p := range preds {
		out[p.Label]++
	}
	return out
}
