// Package gpr fits and evaluates Gaussian process regression models: it
// maximizes the marginal log-likelihood over kernel hyperparameters through
// an external minimizer and answers posterior predictive queries from a
// cached Cholesky factorization.
package gpr

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
	"github.com/driftline/kriging/internal/regression/kernels"
)

// factorization holds the pieces derived from one kernel matrix: the matrix
// itself, its Cholesky factor, and the weight vector K^-1 y. All three come
// from the same hyperparameter vector, so value and gradient evaluations
// stay mutually consistent.
type factorization struct {
	krn  *mat.Dense
	chol *mat.Cholesky
	wt   *mat.VecDense
}

// factorize evaluates the self-covariance of x under hp and factorizes it.
// Factorization failure reports the offending hyperparameters.
func factorize(k kernels.Kernel, x *mat.Dense, y, hp []float64) (*factorization, error) {
	krnb, err := k.Evaluate(kernels.Params(hp), kernels.Single(x), nil)
	if err != nil {
		return nil, err
	}
	return factorizeMatrix(krnb.Matrix(), y, hp)
}

// NegLogMarginalLikelihood computes the negative log marginal likelihood of
// the targets y under a zero-mean Gaussian with the kernel matrix of x as
// covariance:
//
//	0.5 y^T K^-1 y + sum(log diag(L)) + 0.5 n log(2 pi)
func NegLogMarginalLikelihood(x *mat.Dense, y, hp []float64, k kernels.Kernel) (float64, error) {
	f, err := factorize(k, x, y, hp)
	if err != nil {
		return 0, err
	}
	n := len(y)
	yv := mat.NewVecDense(n, y)
	return 0.5*mat.Dot(yv, f.wt) + 0.5*f.chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi), nil
}

// GradNegLogMarginalLikelihood computes the gradient of the negative log
// marginal likelihood with respect to every hyperparameter:
//
//	-0.5 * (w^T dK_p w - tr(K^-1 dK_p)),  w = K^-1 y
//
// Value and gradient share one factorization per hyperparameter vector.
func GradNegLogMarginalLikelihood(x *mat.Dense, y, hp []float64, k kernels.Kernel) ([]float64, error) {
	krnb, gradb, err := k.EvaluateWithGradient(kernels.Params(hp), kernels.Single(x))
	if err != nil {
		return nil, err
	}
	f, err := factorizeMatrix(krnb.Matrix(), y, hp)
	if err != nil {
		return nil, err
	}

	n := len(y)
	pool := NewMatrixPool()
	grad := make([]float64, gradb.NParams())
	for p := range grad {
		dk := gradb.Slice(p)

		v := pool.GetVecDense(n)
		v.MulVec(dk, f.wt)
		quad := mat.Dot(f.wt, v)
		pool.PutVecDense(v)

		m := pool.GetDense(n, n)
		if err := f.chol.SolveTo(m, dk); err != nil {
			return nil, regression.WrapError(err, "triangular solve failed").
				WithComponent("gpr").WithOperation("gpr.GradNegLogMarginalLikelihood").
				WithHyperparameters(hp)
		}
		tr := mat.Trace(m)
		pool.PutDense(m)

		grad[p] = -0.5 * (quad - tr)
	}
	return grad, nil
}

// factorizeMatrix factorizes an already computed kernel matrix.
func factorizeMatrix(krn *mat.Dense, y, hp []float64) (*factorization, error) {
	const op = "gpr.factorize"

	n, _ := krn.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, krn.At(i, j))
		}
	}

	chol := &mat.Cholesky{}
	if ok := chol.Factorize(sym); !ok {
		return nil, regression.NewError(regression.KindNonPositiveDefinite,
			"kernel matrix failed Cholesky factorization").
			WithComponent("gpr").WithOperation(op).WithHyperparameters(hp)
	}

	wt := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(wt, mat.NewVecDense(n, y)); err != nil {
		return nil, regression.WrapError(err, "triangular solve failed").
			WithComponent("gpr").WithOperation(op).WithHyperparameters(hp)
	}

	return &factorization{krn: krn, chol: chol, wt: wt}, nil
}
