package gpr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
	"github.com/driftline/kriging/internal/regression/kernels"
)

var (
	sineX  = mat.NewDense(3, 1, []float64{0.0, 1.0, 2.0})
	sineY  = []float64{0.0, 0.8415, 0.9093}
	sineHP = []float64{1.0, 0.1, 1.0}
)

// manualNLML rebuilds the likelihood from scratch with explicit loops so the
// production path is checked against an independent computation.
func manualNLML(t *testing.T, x *mat.Dense, y, hp []float64) float64 {
	t.Helper()

	n, dim := x.Dims()
	sig, noise, ls := hp[0], hp[1], hp[2:]

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var sqd float64
			for d := 0; d < dim; d++ {
				diff := ls[d] * (x.At(i, d) - x.At(j, d))
				sqd += diff * diff
			}
			v := sig * sig * math.Exp(-sqd)
			if i == j {
				v += noise * noise
			}
			sym.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	require.True(t, chol.Factorize(sym), "manual kernel matrix must factorize")

	w := mat.NewVecDense(n, nil)
	require.NoError(t, chol.SolveVecTo(w, mat.NewVecDense(n, y)))

	return 0.5*mat.Dot(mat.NewVecDense(n, y), w) +
		0.5*chol.LogDet() +
		0.5*float64(n)*math.Log(2*math.Pi)
}

func TestNegLogMarginalLikelihood(t *testing.T) {
	k := kernels.NewSquaredExponential()

	got, err := NegLogMarginalLikelihood(sineX, sineY, sineHP, k)
	require.NoError(t, err)
	require.False(t, math.IsNaN(got) || math.IsInf(got, 0), "likelihood must be finite")

	want := manualNLML(t, sineX, sineY, sineHP)
	assert.InDelta(t, want, got, 1e-10)
}

func TestGradNegLogMarginalLikelihood(t *testing.T) {
	const (
		eps = 1e-5
		tol = 1e-6
	)

	tests := []struct {
		name   string
		kernel kernels.Kernel
		hp     []float64
	}{
		{
			name:   "squared exponential",
			kernel: kernels.NewSquaredExponential(),
			hp:     []float64{1.0, 0.3, 0.8},
		},
		{
			name:   "composite",
			kernel: kernels.NewComposite(kernels.NewSquaredExponential(), kernels.NewSquaredExponential()),
			hp:     []float64{1.0, 0.3, 0.8, 0.6, 0.4, 1.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grad, err := GradNegLogMarginalLikelihood(sineX, sineY, tt.hp, tt.kernel)
			require.NoError(t, err)
			require.Len(t, grad, len(tt.hp))

			for p := range tt.hp {
				plus := append([]float64(nil), tt.hp...)
				plus[p] += eps
				minus := append([]float64(nil), tt.hp...)
				minus[p] -= eps

				fPlus, err := NegLogMarginalLikelihood(sineX, sineY, plus, tt.kernel)
				require.NoError(t, err)
				fMinus, err := NegLogMarginalLikelihood(sineX, sineY, minus, tt.kernel)
				require.NoError(t, err)

				fd := (fPlus - fMinus) / (2 * eps)
				assert.InDelta(t, fd, grad[p], tol, "gradient component %d", p)
			}
		})
	}
}

func TestNegLogMarginalLikelihoodNonPositiveDefinite(t *testing.T) {
	// Duplicate points with zero noise make the kernel matrix singular.
	x := mat.NewDense(2, 1, []float64{0.5, 0.5})
	y := []float64{1.0, 1.0}
	hp := []float64{1.0, 0.0, 1.0}
	k := kernels.NewSquaredExponential()

	_, err := NegLogMarginalLikelihood(x, y, hp, k)
	require.Error(t, err)
	assert.ErrorIs(t, err, regression.ErrNonPositiveDefinite)

	regErr, ok := regression.IsRegressionError(err)
	require.True(t, ok)
	assert.Equal(t, hp, regErr.Hyperparameters, "error must carry the offending hyperparameters")

	_, err = GradNegLogMarginalLikelihood(x, y, hp, k)
	assert.ErrorIs(t, err, regression.ErrNonPositiveDefinite)
}

func TestLikelihoodShapeMismatch(t *testing.T) {
	k := kernels.NewSquaredExponential()

	_, err := NegLogMarginalLikelihood(sineX, sineY, []float64{1.0, 0.1}, k)
	assert.ErrorIs(t, err, regression.ErrShapeMismatch)

	_, err = GradNegLogMarginalLikelihood(sineX, sineY, []float64{1.0, 0.1, 1.0, 2.0}, k)
	assert.ErrorIs(t, err, regression.ErrShapeMismatch)
}
