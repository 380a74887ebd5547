package model

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each column on its mean and divides by its
// population standard deviation. Constant columns get a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns per-column mean and scale from x.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, errors.New("fit scaler: empty input")
	}
	d := len(x[0])
	if err := checkRows(x, d); err != nil {
		return nil, err
	}

	s := &StandardScaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s, nil
}

func (s *StandardScaler) InputWidth() int  { return len(s.Mean) }
func (s *StandardScaler) OutputWidth() int { return len(s.Mean) }

func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if err := checkRows(x, len(s.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		o := make([]float64, len(row))
		for j, v := range row {
			o[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = o
	}
	return out, nil
}
