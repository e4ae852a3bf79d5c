package cluster

import (
	"gonum.org/v1/gonum/stat"
)

// Standardize scales every column of X to zero mean and unit population
// variance. Constant columns become zero. X is not modified.
func Standardize(X [][]float64) [][]float64 {
	if len(X) == 0 {
		return nil
	}
	dims := len(X[0])
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, dims)
	}
	col := make([]float64, len(X))
	for j := 0; j < dims; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := range X {
			if std > 0 {
				out[i][j] = (col[i] - mean) / std
			}
		}
	}
	return out
}

// ChooseK returns max(1, min(kMax, n/divisor)).
func ChooseK(n, kMax, divisor int) int {
	if divisor < 1 {
		divisor = 1
	}
	return max(1, min(kMax, n/divisor))
}
