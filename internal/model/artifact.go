// Package model holds the preprocessing and classification artifacts and
// keeps them loadable: artifacts that cannot be read, fail their width
// checks or fail a smoke test are replaced by a deterministic synthetic
// trio.
package model

import (
	"errors"
	"fmt"
)

// Transformer maps rows of InputWidth values to rows of OutputWidth values.
type Transformer interface {
	InputWidth() int
	OutputWidth() int
	Transform(x [][]float64) ([][]float64, error)
}

// Classifier assigns one of Classes() class indices to each row.
type Classifier interface {
	InputWidth() int
	Classes() int
	Predict(x [][]float64) ([]int, error)
	PredictProba(x [][]float64) ([][]float64, error)
}

// Origin records where an artifact trio came from.
type Origin string

const (
	Loaded      Origin = "loaded"
	Synthesized Origin = "synthesized"
)

// ErrWidth is returned when the trio's widths do not chain.
var ErrWidth = errors.New("artifact width mismatch")

// Artifacts is an immutable scaler, reducer and classifier trio.
type Artifacts struct {
	Scaler     Transformer
	Reducer    Transformer
	Classifier Classifier
	Origin     Origin
	Manifest   *Manifest
}

// Validate checks the width chain for a model input of featureWidth
// columns whose last categorical columns bypass the reducer.
func (a *Artifacts) Validate(featureWidth, categorical int) error {
	if a == nil || a.Scaler == nil || a.Reducer == nil || a.Classifier == nil {
		return fmt.Errorf("%w: incomplete artifact set", ErrWidth)
	}
	if got := a.Scaler.InputWidth(); got != featureWidth {
		return fmt.Errorf("%w: scaler expects %d features, have %d", ErrWidth, got, featureWidth)
	}
	if a.Scaler.OutputWidth() != a.Reducer.InputWidth()+categorical {
		return fmt.Errorf("%w: scaler emits %d, reducer expects %d plus %d categorical",
			ErrWidth, a.Scaler.OutputWidth(), a.Reducer.InputWidth(), categorical)
	}
	if a.Classifier.InputWidth() != a.Reducer.OutputWidth()+categorical {
		return fmt.Errorf("%w: classifier expects %d, reducer emits %d plus %d categorical",
			ErrWidth, a.Classifier.InputWidth(), a.Reducer.OutputWidth(), categorical)
	}
	return nil
}

// Forward runs rows through scaler, reducer and classifier. The last
// categorical scaled columns skip the reducer and are appended to its
// output. Panics raised inside artifact code are returned as errors.
func (a *Artifacts) Forward(x [][]float64, categorical int) (pred []int, proba [][]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("artifact panic: %v", r)
		}
	}()

	scaled, err := a.Scaler.Transform(x)
	if err != nil {
		return nil, nil, fmt.Errorf("scale: %w", err)
	}

	split := a.Scaler.OutputWidth() - categorical
	if split < 0 {
		return nil, nil, fmt.Errorf("%w: %d categorical of %d scaled", ErrWidth, categorical, a.Scaler.OutputWidth())
	}
	left := make([][]float64, len(scaled))
	for i, row := range scaled {
		left[i] = row[:split]
	}

	reduced, err := a.Reducer.Transform(left)
	if err != nil {
		return nil, nil, fmt.Errorf("reduce: %w", err)
	}

	combined := make([][]float64, len(scaled))
	for i := range scaled {
		row := make([]float64, 0, len(reduced[i])+categorical)
		row = append(row, reduced[i]...)
		row = append(row, scaled[i][split:]...)
		combined[i] = row
	}

	pred, err = a.Classifier.Predict(combined)
	if err != nil {
		return nil, nil, fmt.Errorf("predict: %w", err)
	}
	proba, err = a.Classifier.PredictProba(combined)
	if err != nil {
		return nil, nil, fmt.Errorf("predict proba: %w", err)
	}
	return pred, proba, nil
}

func checkRows(x [][]float64, width int) error {
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrWidth, i, len(row), width)
		}
	}
	return nil
}
