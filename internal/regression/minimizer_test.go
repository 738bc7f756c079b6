package regression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGonumMinimizerQuadratic(t *testing.T) {
	center := []float64{1.0, -2.0, 0.5}

	cost := func(x []float64) float64 {
		var sum float64
		for i, v := range x {
			d := v - center[i]
			sum += d * d
		}
		return sum
	}
	grad := func(dst, x []float64) {
		for i, v := range x {
			dst[i] = 2 * (v - center[i])
		}
	}

	tests := []struct {
		name    string
		method  string
		useGrad bool
	}{
		{name: "BFGS with gradient", method: "BFGS", useGrad: true},
		{name: "CG with gradient", method: "CG", useGrad: true},
		{name: "L-BFGS with gradient", method: "L-BFGS", useGrad: true},
		{name: "NelderMead without gradient", method: "NelderMead", useGrad: false},
		{name: "unknown method falls back", method: "simulated-annealing", useGrad: true},
		{name: "empty method defaults", method: "", useGrad: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewGonumMinimizer()

			var g GradFunc
			if tt.useGrad {
				g = grad
			}

			res, err := m.Minimize([]float64{0, 0, 0}, cost, g, tt.method)
			require.NoError(t, err)
			require.Len(t, res.X, 3)

			for i := range center {
				assert.InDelta(t, center[i], res.X[i], 1e-4)
			}
			assert.InDelta(t, 0.0, res.Cost, 1e-6)
		})
	}
}

func TestGonumMinimizerDoesNotMutateInitial(t *testing.T) {
	initial := []float64{3.0, 3.0}
	cost := func(x []float64) float64 {
		return x[0]*x[0] + x[1]*x[1]
	}
	grad := func(dst, x []float64) {
		dst[0] = 2 * x[0]
		dst[1] = 2 * x[1]
	}

	m := NewGonumMinimizer()
	_, err := m.Minimize(initial, cost, grad, "BFGS")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.0, 3.0}, initial)
}

func TestGonumMinimizerReportsFailure(t *testing.T) {
	// An objective that is NaN everywhere cannot be minimized.
	cost := func(x []float64) float64 {
		return math.NaN()
	}

	m := NewGonumMinimizer()
	_, err := m.Minimize([]float64{1.0}, cost, nil, "NelderMead")
	require.Error(t, err)
}
