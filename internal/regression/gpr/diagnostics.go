package gpr

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/driftline/kriging/internal/regression"
)

// Diagnostics summarizes how posterior predictions compare against known
// targets. It is plain data for downstream consumers; nothing here renders.
type Diagnostics struct {
	// RMSE is the root mean squared prediction error.
	RMSE float64
	// MeanStdDev is the root mean predictive variance.
	MeanStdDev float64
	// ReducedChiSq is the mean of squared errors scaled by the predictive
	// variance; values near one indicate well calibrated uncertainty.
	ReducedChiSq float64
	// Mahalanobis is the squared Mahalanobis distance of the error vector
	// under the predictive covariance, divided by the number of points.
	Mahalanobis float64
	// LogLikelihood is the log-probability of the targets under the
	// posterior predictive Gaussian.
	LogLikelihood float64
}

// Diagnose computes prediction diagnostics from a predictive mean, the full
// predictive covariance, and the actual targets.
func Diagnose(mean *mat.VecDense, cov *mat.Dense, actual []float64) (*Diagnostics, error) {
	const op = "gpr.Diagnose"

	n := mean.Len()
	if len(actual) != n {
		return nil, regression.NewErrorf(regression.KindShapeMismatch,
			"mean has length %d, actual targets have length %d", n, len(actual)).
			WithComponent("gpr").WithOperation(op)
	}
	if r, c := cov.Dims(); r != n || c != n {
		return nil, regression.NewErrorf(regression.KindShapeMismatch,
			"covariance is %dx%d, expected %dx%d", r, c, n, n).
			WithComponent("gpr").WithOperation(op)
	}

	errs := make([]float64, n)
	sqErrs := make([]float64, n)
	vars := make([]float64, n)
	chi := make([]float64, n)
	for i := 0; i < n; i++ {
		errs[i] = mean.AtVec(i) - actual[i]
		sqErrs[i] = errs[i] * errs[i]
		vars[i] = cov.At(i, i)
		chi[i] = sqErrs[i] / vars[i]
	}

	d := &Diagnostics{
		RMSE:         math.Sqrt(stat.Mean(sqErrs, nil)),
		MeanStdDev:   math.Sqrt(stat.Mean(vars, nil)),
		ReducedChiSq: stat.Mean(chi, nil),
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, cov.At(i, j))
		}
	}
	chol := &mat.Cholesky{}
	if ok := chol.Factorize(sym); !ok {
		return nil, regression.NewError(regression.KindNonPositiveDefinite,
			"predictive covariance failed Cholesky factorization").
			WithComponent("gpr").WithOperation(op)
	}

	sol := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(sol, mat.NewVecDense(n, errs)); err != nil {
		return nil, regression.WrapError(err, "triangular solve failed").
			WithComponent("gpr").WithOperation(op)
	}
	md := mat.Dot(mat.NewVecDense(n, errs), sol)

	d.Mahalanobis = md / float64(n)
	d.LogLikelihood = -0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi) - 0.5*md
	return d, nil
}

// IntervalCoverage returns the fraction of actual targets falling inside the
// symmetric predictive interval at the given confidence level, e.g. 0.95.
// A well calibrated model covers roughly the confidence fraction.
func IntervalCoverage(mean *mat.VecDense, cov *mat.Dense, actual []float64, confidence float64) (float64, error) {
	const op = "gpr.IntervalCoverage"

	n := mean.Len()
	if len(actual) != n {
		return 0, regression.NewErrorf(regression.KindShapeMismatch,
			"mean has length %d, actual targets have length %d", n, len(actual)).
			WithComponent("gpr").WithOperation(op)
	}
	if confidence <= 0 || confidence >= 1 {
		return 0, regression.NewErrorf(regression.KindUnknown,
			"confidence must lie in (0, 1), got %v", confidence).
			WithComponent("gpr").WithOperation(op)
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + confidence/2)

	covered := 0
	for i := 0; i < n; i++ {
		half := z * math.Sqrt(cov.At(i, i))
		if math.Abs(mean.AtVec(i)-actual[i]) <= half {
			covered++
		}
	}
	return float64(covered) / float64(n), nil
}
