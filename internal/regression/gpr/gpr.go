package gpr

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
	"github.com/driftline/kriging/internal/regression/kernels"
)

// GPR is a Gaussian process regression model. It owns copies of the
// training data, the current hyperparameters, and a lazily recomputed
// factorization cache with two observable states: stale (hyperparameters
// changed since the last factorization) and fresh.
//
// A GPR is driven by a single logical caller; it provides no internal
// locking.
type GPR struct {
	kernel kernels.Kernel

	// Training data, copied at construction
	x *mat.Dense
	y []float64

	// Current hyperparameters
	hp []float64

	// Cache, valid only when stale is false
	krn   *mat.Dense
	chol  *mat.Cholesky
	wt    *mat.VecDense
	stale bool

	// External optimizer collaborator
	minimizer regression.Minimizer

	// Final cost and gradient of the most recent training run
	lastTraining *regression.Result

	logger *zap.Logger
}

// New creates a GPR model over copies of x and y. hp supplies the initial
// hyperparameters; when nil, every parameter defaults to one. A nil logger
// falls back to a development logger.
func New(x *mat.Dense, y []float64, kernel kernels.Kernel, hp []float64, logger *zap.Logger) (*GPR, error) {
	const op = "GPR.New"

	if x == nil || kernel == nil {
		return nil, regression.NewError(regression.KindUnknown, "inputs and kernel must not be nil").
			WithComponent("gpr").WithOperation(op)
	}
	n, dim := x.Dims()
	if n == 0 || dim == 0 {
		return nil, regression.NewError(regression.KindUnknown, "input matrix x must not be empty").
			WithComponent("gpr").WithOperation(op)
	}
	if len(y) != n {
		return nil, regression.NewErrorf(regression.KindUnknown,
			"dimension mismatch: x has %d samples but y has length %d", n, len(y)).
			WithComponent("gpr").WithOperation(op)
	}

	shape := kernel.ParamShape(kernels.Single(x))
	if hp == nil {
		hp = make([]float64, shape.NParams)
		for i := range hp {
			hp[i] = 1.0
		}
	} else if len(hp) != shape.NParams {
		return nil, regression.NewErrorf(regression.KindShapeMismatch,
			"hyperparameter shape [%d] does not match kernel parameter shape %v", len(hp), shape).
			WithComponent("gpr").WithOperation(op)
	}

	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}

	return &GPR{
		kernel:    kernel,
		x:         mat.DenseCopyOf(x),
		y:         append([]float64(nil), y...),
		hp:        append([]float64(nil), hp...),
		stale:     true,
		minimizer: regression.NewGonumMinimizer(),
		logger:    logger.Named("gpr"),
	}, nil
}

// SetMinimizer replaces the optimizer collaborator used by Train.
func (g *GPR) SetMinimizer(m regression.Minimizer) {
	if m != nil {
		g.minimizer = m
	}
}

// Hyperparameters returns a copy of the current hyperparameters.
func (g *GPR) Hyperparameters() []float64 {
	return append([]float64(nil), g.hp...)
}

// Stale reports whether the factorization cache needs recomputation before
// the next prediction.
func (g *GPR) Stale() bool {
	return g.stale
}

// LastTraining returns the result of the most recent Train call, nil before
// the first one. The final cost and gradient are plain data for downstream
// diagnostics consumers.
func (g *GPR) LastTraining() *regression.Result {
	return g.lastTraining
}

// Train maximizes the marginal log-likelihood over the hyperparameters by
// minimizing its negative through the external optimizer. method is passed
// through opaquely. When useGradient is false the optimizer runs without the
// analytic gradient.
//
// On success the model adopts the optimized hyperparameters and the cache
// becomes stale. On failure the model is left unchanged; a factorization
// failure during the run surfaces the offending hyperparameters.
func (g *GPR) Train(method string, useGradient bool) (*regression.Result, error) {
	const op = "GPR.Train"

	var evalErr error
	cost := func(hp []float64) float64 {
		v, err := NegLogMarginalLikelihood(g.x, g.y, hp, g.kernel)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return math.Inf(1)
		}
		return v
	}

	var grad regression.GradFunc
	if useGradient {
		grad = func(dst, hp []float64) {
			gv, err := GradNegLogMarginalLikelihood(g.x, g.y, hp, g.kernel)
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				for i := range dst {
					dst[i] = math.NaN()
				}
				return
			}
			copy(dst, gv)
		}
	}

	result, err := g.minimizer.Minimize(g.hp, cost, grad, method)
	if err != nil {
		if evalErr != nil && errors.Is(evalErr, regression.ErrNonPositiveDefinite) {
			return nil, regression.WrapError(evalErr, "training aborted").
				WithComponent("gpr").WithOperation(op)
		}
		return nil, regression.WrapError(err, "training failed").
			WithComponent("gpr").WithOperation(op)
	}

	g.hp = append([]float64(nil), result.X...)
	g.stale = true
	g.lastTraining = result

	g.logger.Info("trained hyperparameters",
		zap.String("method", method),
		zap.Bool("use_gradient", useGradient),
		zap.Float64("final_cost", result.Cost),
		zap.Int("iterations", result.Iterations),
	)
	return result, nil
}

// refresh recomputes the kernel matrix, its Cholesky factor, and the weight
// vector when the cache is stale. A failed recomputation leaves the previous
// cache state untouched so callers may retry with corrected inputs.
func (g *GPR) refresh() error {
	if !g.stale {
		return nil
	}
	f, err := factorize(g.kernel, g.x, g.y, g.hp)
	if err != nil {
		return err
	}
	g.krn = f.krn
	g.chol = f.chol
	g.wt = f.wt
	g.stale = false

	g.logger.Debug("recomputed factorization cache", zap.Int("samples", len(g.y)))
	return nil
}

// Interpolate computes the posterior predictive mean at the test points xs,
// and, unless skipVariance is set, the full predictive covariance
//
//	K(xs, xs) - K(xs, x) K^-1 K(x, xs)
//
// from the cached factorization. A stale cache is recomputed first.
func (g *GPR) Interpolate(xs *mat.Dense, skipVariance bool) (*mat.VecDense, *mat.Dense, error) {
	const op = "GPR.Interpolate"

	if xs == nil {
		return nil, nil, regression.NewError(regression.KindUnknown, "test points must not be nil").
			WithComponent("gpr").WithOperation(op)
	}
	m, dim := xs.Dims()
	if _, want := g.x.Dims(); dim != want {
		return nil, nil, regression.NewErrorf(regression.KindShapeMismatch,
			"test points have dimension %d, training points have %d", dim, want).
			WithComponent("gpr").WithOperation(op)
	}

	if err := g.refresh(); err != nil {
		return nil, nil, err
	}

	xsb := kernels.Single(xs)
	krns, err := g.kernel.Evaluate(kernels.Params(g.hp), kernels.Single(g.x), &xsb)
	if err != nil {
		return nil, nil, err
	}

	mean := mat.NewVecDense(m, nil)
	mean.MulVec(krns.Matrix(), g.wt)

	if skipVariance {
		return mean, nil, nil
	}

	cov, err := g.predictiveCovariance(xs, krns.Matrix())
	if err != nil {
		return nil, nil, err
	}
	return mean, cov, nil
}

// predictiveCovariance computes K(xs, xs) - Ks K^-1 Ks^T against the cached
// factor, never forming K^-1 explicitly.
func (g *GPR) predictiveCovariance(xs, krns *mat.Dense) (*mat.Dense, error) {
	krnss, err := g.kernel.Evaluate(kernels.Params(g.hp), kernels.Single(xs), nil)
	if err != nil {
		return nil, err
	}

	n := len(g.y)
	m, _ := xs.Dims()

	lks := mat.NewDense(n, m, nil)
	if err := g.chol.SolveTo(lks, krns.T()); err != nil {
		return nil, regression.WrapError(err, "triangular solve failed").
			WithComponent("gpr").WithOperation("GPR.predictiveCovariance").
			WithHyperparameters(g.hp)
	}

	var prod mat.Dense
	prod.Mul(krns, lks)

	cov := krnss.Matrix()
	cov.Sub(cov, &prod)
	return cov, nil
}

// String describes the model for logs and error messages.
func (g *GPR) String() string {
	n, dim := g.x.Dims()
	return fmt.Sprintf("GPR(n=%d, dim=%d, nparams=%d)", n, dim, len(g.hp))
}
