// Package impute repairs missing and non-finite values in flow tables.
package impute

import (
	"math"
	"sort"

	"github.com/rsclarke/flowtriage/internal/flow"
)

// Report summarizes one imputation pass.
type Report struct {
	// Filled counts repaired cells per column name. Columns without
	// repairs are absent.
	Filled map[string]int
	// Medians holds the fill value used for each repaired column.
	Medians map[string]float64
}

// Total returns the number of repaired cells.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Filled {
		n += c
	}
	return n
}

// Impute returns a copy of t in which every NaN or ±Inf in a numeric
// column is replaced by the median of that column's finite values, or 0
// when the column has none. Text columns are copied unchanged. The input
// table is not modified and the call never fails.
func Impute(t *flow.Table) (*flow.Table, Report) {
	out := t.Clone()
	rep := Report{Filled: map[string]int{}, Medians: map[string]float64{}}

	for _, c := range out.Columns() {
		if c.Kind != flow.Numeric {
			continue
		}
		finite := make([]float64, 0, len(c.Numbers))
		missing := 0
		for _, v := range c.Numbers {
			if isMissing(v) {
				missing++
				continue
			}
			finite = append(finite, v)
		}
		if missing == 0 {
			continue
		}

		fill := Median(finite)
		for i, v := range c.Numbers {
			if isMissing(v) {
				c.Numbers[i] = fill
			}
		}
		rep.Filled[c.Name] = missing
		rep.Medians[c.Name] = fill
	}
	return out, rep
}

// Median returns the median of values, averaging the two middle elements
// for even counts. It returns 0 for an empty slice. values is not
// modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1]/2 + s[mid]/2
}

func isMissing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
