package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Softmax is a multinomial logistic regression classifier.
type Softmax struct {
	// Weights holds one row of InputWidth coefficients per class.
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// TrainOptions controls full-batch gradient descent.
type TrainOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultTrainOptions returns the options used for synthetic artifacts.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Epochs: 150, LearningRate: 0.5, L2: 1e-4}
}

// TrainSoftmax fits a classifier to rows x with class indices y in
// [0, classes).
func TrainSoftmax(x [][]float64, y []int, classes int, opts TrainOptions) (*Softmax, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, errors.New("train softmax: empty input")
	}
	if len(y) != len(x) {
		return nil, fmt.Errorf("train softmax: %d rows, %d labels", len(x), len(y))
	}
	if classes < 2 {
		return nil, fmt.Errorf("train softmax: need at least 2 classes, got %d", classes)
	}
	n, d := len(x), len(x[0])
	if err := checkRows(x, d); err != nil {
		return nil, err
	}
	for i, c := range y {
		if c < 0 || c >= classes {
			return nil, fmt.Errorf("train softmax: label %d at row %d out of range", c, i)
		}
	}

	X := mat.NewDense(n, d, flatten(x))
	W := mat.NewDense(d, classes, nil)
	bias := make([]float64, classes)

	var z, grad, reg mat.Dense
	biasGrad := make([]float64, classes)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		z.Mul(X, W)
		for i := range biasGrad {
			biasGrad[i] = 0
		}
		for i := 0; i < n; i++ {
			row := z.RawRowView(i)
			for k := range row {
				row[k] += bias[k]
			}
			softmaxInPlace(row)
			row[y[i]] -= 1
			for k, v := range row {
				biasGrad[k] += v
			}
		}

		grad.Mul(X.T(), &z)
		grad.Scale(1/float64(n), &grad)
		if opts.L2 > 0 {
			reg.Scale(opts.L2, W)
			grad.Add(&grad, &reg)
		}
		grad.Scale(opts.LearningRate, &grad)
		W.Sub(W, &grad)
		for k := range bias {
			bias[k] -= opts.LearningRate * biasGrad[k] / float64(n)
		}
	}

	s := &Softmax{Weights: make([][]float64, classes), Bias: bias}
	for k := 0; k < classes; k++ {
		s.Weights[k] = mat.Col(nil, k, W)
	}
	return s, nil
}

func (s *Softmax) InputWidth() int {
	if len(s.Weights) == 0 {
		return 0
	}
	return len(s.Weights[0])
}

func (s *Softmax) Classes() int { return len(s.Weights) }

func (s *Softmax) PredictProba(x [][]float64) ([][]float64, error) {
	if err := checkRows(x, s.InputWidth()); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		p := make([]float64, len(s.Weights))
		for k, w := range s.Weights {
			sum := s.Bias[k]
			for j, v := range row {
				sum += w[j] * v
			}
			p[k] = sum
		}
		softmaxInPlace(p)
		out[i] = p
	}
	return out, nil
}

func (s *Softmax) Predict(x [][]float64) ([]int, error) {
	proba, err := s.PredictProba(x)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, p := range proba {
		out[i] = argmax(p)
	}
	return out, nil
}

func softmaxInPlace(v []float64) {
	peak := math.Inf(-1)
	for _, x := range v {
		if x > peak {
			peak = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - peak)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
