// Package kernels implements composable covariance kernels for Gaussian
// process regression, with analytic hyperparameter gradients and support for
// batches of independent evaluations.
package kernels

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
)

// Kernel represents a covariance function for Gaussian processes.
//
// A kernel owns no state: hyperparameters are passed on every call and must
// match the shape contract returned by ParamShape for the given samples.
type Kernel interface {
	// ParamShape returns the hyperparameter shape the kernel expects for the
	// batch structure of x. It is a pure function of that structure and does
	// not read hyperparameter values.
	ParamShape(x SampleBatch) Shape

	// Evaluate computes the covariance matrix between xp and x, one (m, n)
	// matrix per batch element. A nil xp requests the self-covariance of x,
	// which includes the noise term on the diagonal; the cross covariance
	// between distinct point sets never does.
	Evaluate(hp ParamBatch, x SampleBatch, xp *SampleBatch) (MatrixBatch, error)

	// EvaluateWithGradient computes the self-covariance of x together with
	// its gradient with respect to every hyperparameter, one (n, n) slice
	// per hyperparameter in hyperparameter order.
	EvaluateWithGradient(hp ParamBatch, x SampleBatch) (MatrixBatch, GradBatch, error)
}

// checkShape verifies the hyperparameter shape contract before any
// computation happens.
func checkShape(op string, hp ParamBatch, want Shape) error {
	got := hp.Shape()
	if got != want {
		return regression.NewErrorf(regression.KindShapeMismatch,
			"hyperparameter shape %v does not match kernel parameter shape %v", got, want).
			WithComponent("kernels").WithOperation(op)
	}
	return nil
}

// checkCross verifies the batch discipline of a cross-covariance call:
// at most one of the two point sets may carry a batch dimension, and both
// must live in the same input space.
func checkCross(op string, x SampleBatch, xp *SampleBatch) error {
	if xp == nil {
		return nil
	}
	if x.Batched() && xp.Batched() {
		return regression.NewError(regression.KindBatchMismatch,
			"both point sets are batched; only one may carry a batch dimension").
			WithComponent("kernels").WithOperation(op)
	}
	if xp.Dim() != x.Dim() {
		return regression.NewErrorf(regression.KindShapeMismatch,
			"point sets differ in dimension: %d vs %d", xp.Dim(), x.Dim()).
			WithComponent("kernels").WithOperation(op)
	}
	return nil
}

// squaredDistances returns the (m, n) matrix of squared Euclidean distances
// between the rows of xp and the rows of x, computed through the expansion
// |a-b|^2 = |a|^2 + |b|^2 - 2 a.b so the cross terms reduce to one matrix
// multiply.
func squaredDistances(x, xp *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	m, _ := xp.Dims()

	xNorm := make([]float64, n)
	for j := 0; j < n; j++ {
		row := x.RawRowView(j)
		xNorm[j] = floats.Dot(row, row)
	}
	xpNorm := make([]float64, m)
	for i := 0; i < m; i++ {
		row := xp.RawRowView(i)
		xpNorm[i] = floats.Dot(row, row)
	}

	sqd := mat.NewDense(m, n, nil)
	sqd.Mul(xp, x.T())
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sqd.Set(i, j, xpNorm[i]+xNorm[j]-2*sqd.At(i, j))
		}
	}
	return sqd
}
