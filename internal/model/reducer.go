package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects centered rows onto the leading principal components.
type PCA struct {
	Mean []float64 `json:"mean"`
	// Components holds one direction vector per row.
	Components [][]float64 `json:"components"`
}

// FitPCA learns k principal components of x.
func FitPCA(x [][]float64, k int) (*PCA, error) {
	if len(x) < 2 || len(x[0]) == 0 {
		return nil, errors.New("fit pca: need at least two rows")
	}
	n, d := len(x), len(x[0])
	if err := checkRows(x, d); err != nil {
		return nil, err
	}
	if k <= 0 || k > d {
		return nil, fmt.Errorf("fit pca: %d components for %d columns", k, d)
	}

	data := mat.NewDense(n, d, flatten(x))

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, errors.New("fit pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	if _, c := vecs.Dims(); k > c {
		return nil, fmt.Errorf("fit pca: only %d components available", c)
	}

	p := &PCA{Mean: make([]float64, d), Components: make([][]float64, k)}
	for j := 0; j < d; j++ {
		p.Mean[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	for i := 0; i < k; i++ {
		p.Components[i] = mat.Col(nil, i, &vecs)
	}
	return p, nil
}

func (p *PCA) InputWidth() int  { return len(p.Mean) }
func (p *PCA) OutputWidth() int { return len(p.Components) }

func (p *PCA) Transform(x [][]float64) ([][]float64, error) {
	if err := checkRows(x, len(p.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		o := make([]float64, len(p.Components))
		for k, comp := range p.Components {
			var sum float64
			for j, v := range row {
				sum += (v - p.Mean[j]) * comp[j]
			}
			o[k] = sum
		}
		out[i] = o
	}
	return out, nil
}

func flatten(x [][]float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	out := make([]float64, 0, len(x)*len(x[0]))
	for _, row := range x {
		out = append(out, row...)
	}
	return out
}
