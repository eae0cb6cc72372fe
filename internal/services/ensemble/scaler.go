package ensemble

import (
	"gonum.org/v1/gonum/stat"
)

// scaler standardizes columns with training-fold statistics. Constant
// columns map to zero.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(X [][]float64) scaler {
	p := len(X[0])
	s := scaler{mean: make([]float64, p), scale: make([]float64, p)}
	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		m, sd := stat.MeanStdDev(col, nil)
		s.mean[j] = m
		if sd > 1e-12 {
			s.scale[j] = 1 / sd
		}
	}
	return s
}

func (s scaler) width() int { return len(s.mean) }

func (s scaler) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.mean[j]) * s.scale[j]
	}
	return out
}

func (s scaler) applyAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = s.apply(x)
	}
	return out
}
