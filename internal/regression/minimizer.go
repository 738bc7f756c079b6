package regression

import (
	"gonum.org/v1/gonum/optimize"
)

// CostFunc evaluates the scalar objective at x.
type CostFunc func(x []float64) float64

// GradFunc stores the gradient of the objective at x into grad.
// grad has the same length as x.
type GradFunc func(grad, x []float64)

// Result holds the outcome of a minimization run.
type Result struct {
	// X is the solution point.
	X []float64
	// Cost is the objective value at X.
	Cost float64
	// Gradient is the objective gradient at X. It is nil when the method
	// does not evaluate gradients.
	Gradient []float64
	// Iterations is the number of major iterations performed.
	Iterations int
}

// Minimizer is the external nonlinear optimizer consumed by model training.
// The method identifier is treated as an opaque configuration string;
// implementations map unknown values to their default method.
type Minimizer interface {
	Minimize(initial []float64, cost CostFunc, grad GradFunc, method string) (*Result, error)
}

// GonumMinimizer implements Minimizer on top of gonum's optimize package.
type GonumMinimizer struct {
	// GradientThreshold overrides the convergence threshold on the gradient
	// norm when positive.
	GradientThreshold float64
	// MaxIterations bounds the number of major iterations when positive.
	MaxIterations int
}

// NewGonumMinimizer creates a GonumMinimizer with default settings.
func NewGonumMinimizer() *GonumMinimizer {
	return &GonumMinimizer{GradientThreshold: 1e-6}
}

// Minimize runs a local minimization of cost starting from initial.
// grad may be nil, in which case gradient-based methods fall back to
// finite-difference approximations inside gonum.
func (m *GonumMinimizer) Minimize(initial []float64, cost CostFunc, grad GradFunc, method string) (*Result, error) {
	problem := optimize.Problem{
		Func: cost,
	}
	if grad != nil {
		problem.Grad = grad
	}

	settings := &optimize.Settings{}
	if m.GradientThreshold > 0 {
		settings.GradientThreshold = m.GradientThreshold
	}
	if m.MaxIterations > 0 {
		settings.MajorIterations = m.MaxIterations
	}

	x0 := append([]float64(nil), initial...)
	result, err := optimize.Minimize(problem, x0, settings, methodFor(method))
	if err != nil {
		return nil, WrapErrorf(err, "minimization with method %q failed", method)
	}

	return &Result{
		X:          result.X,
		Cost:       result.F,
		Gradient:   result.Gradient,
		Iterations: result.MajorIterations,
	}, nil
}

// methodFor maps a method identifier to a gonum optimization method.
// Unrecognized identifiers fall back to BFGS.
func methodFor(method string) optimize.Method {
	switch method {
	case "CG":
		return &optimize.CG{}
	case "BFGS", "":
		return &optimize.BFGS{}
	case "L-BFGS", "LBFGS":
		return &optimize.LBFGS{}
	case "NelderMead", "Nelder-Mead":
		return &optimize.NelderMead{}
	case "GradientDescent":
		return &optimize.GradientDescent{}
	default:
		return &optimize.BFGS{}
	}
}
