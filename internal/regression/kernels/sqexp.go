package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SquaredExponential is a stationary kernel with per-dimension length
// scales, a signal amplitude, and a noise amplitude:
//
//	K_ij = sig^2 * exp(-sum_d ls_d^2 * (x_id - x_jd)^2)
//
// with noise^2 added on the diagonal of self-covariances. Hyperparameters
// are laid out as [sig, noise, ls_1 .. ls_dim], so for dim-dimensional
// inputs the kernel takes dim+2 parameters.
type SquaredExponential struct{}

// NewSquaredExponential creates a squared exponential kernel.
func NewSquaredExponential() *SquaredExponential {
	return &SquaredExponential{}
}

// ParamShape returns [dim+2] for unbatched samples and [batch, dim+2] for
// batched samples.
func (k *SquaredExponential) ParamShape(x SampleBatch) Shape {
	s := Shape{NParams: x.Dim() + 2}
	if x.Batched() {
		s.Batched = true
		s.Batch = x.Len()
	}
	return s
}

// Evaluate computes the covariance matrix between xp and x per batch
// element. A nil xp requests the self-covariance of x.
func (k *SquaredExponential) Evaluate(hp ParamBatch, x SampleBatch, xp *SampleBatch) (MatrixBatch, error) {
	const op = "SquaredExponential.Evaluate"
	if err := checkShape(op, hp, k.ParamShape(x)); err != nil {
		return MatrixBatch{}, err
	}
	if err := checkCross(op, x, xp); err != nil {
		return MatrixBatch{}, err
	}

	count := x.Len()
	batched := x.Batched()
	if xp != nil && xp.Batched() {
		count = xp.Len()
		batched = true
	}

	mats := make([]*mat.Dense, count)
	for b := 0; b < count; b++ {
		hpv := hp.At(b % hp.Len())
		xb := x.At(b % x.Len())
		if xp == nil {
			mats[b] = k.evalSelf(hpv, xb)
		} else {
			mats[b] = k.evalCross(hpv, xb, xp.At(b%xp.Len()))
		}
	}
	return MatrixBatch{mats: mats, batched: batched}, nil
}

// EvaluateWithGradient computes the self-covariance of x and its gradient
// with respect to [sig, noise, ls_1 .. ls_dim].
func (k *SquaredExponential) EvaluateWithGradient(hp ParamBatch, x SampleBatch) (MatrixBatch, GradBatch, error) {
	const op = "SquaredExponential.EvaluateWithGradient"
	if err := checkShape(op, hp, k.ParamShape(x)); err != nil {
		return MatrixBatch{}, GradBatch{}, err
	}

	count := x.Len()
	mats := make([]*mat.Dense, count)
	grads := make([][]*mat.Dense, count)
	for b := 0; b < count; b++ {
		hpv := hp.At(b)
		xb := x.At(b)
		mats[b] = k.evalSelf(hpv, xb)
		grads[b] = k.gradSlices(hpv, xb, mats[b])
	}
	return MatrixBatch{mats: mats, batched: x.Batched()},
		GradBatch{grads: grads, batched: x.Batched()},
		nil
}

// evalSelf computes the (n, n) self-covariance including the noise term.
func (k *SquaredExponential) evalSelf(hp []float64, x *mat.Dense) *mat.Dense {
	sig, noise, ls := hp[0], hp[1], hp[2:]

	xl := scaleByLengths(x, ls)
	krn := squaredDistances(xl, xl)

	s2 := sig * sig
	krn.Apply(func(_, _ int, v float64) float64 {
		return s2 * math.Exp(-v)
	}, krn)

	n, _ := krn.Dims()
	eps := noise * noise
	for i := 0; i < n; i++ {
		krn.Set(i, i, krn.At(i, i)+eps)
	}
	return krn
}

// evalCross computes the (m, n) covariance between xp and x. No noise term.
func (k *SquaredExponential) evalCross(hp []float64, x, xp *mat.Dense) *mat.Dense {
	sig, ls := hp[0], hp[2:]

	xl := scaleByLengths(x, ls)
	xpl := scaleByLengths(xp, ls)
	krn := squaredDistances(xl, xpl)

	s2 := sig * sig
	krn.Apply(func(_, _ int, v float64) float64 {
		return s2 * math.Exp(-v)
	}, krn)
	return krn
}

// gradSlices returns the gradient slices of the self-covariance krn, one
// (n, n) matrix per hyperparameter.
//
// The length-scale slices multiply by the full kernel value, which on the
// diagonal includes the noise term. That matches the covariance model this
// package implements; see the package tests pinning the behavior.
func (k *SquaredExponential) gradSlices(hp []float64, x, krn *mat.Dense) []*mat.Dense {
	sig, noise, ls := hp[0], hp[1], hp[2:]
	n, _ := krn.Dims()
	eps := noise * noise

	slices := make([]*mat.Dense, len(hp))

	dsig := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := krn.At(i, j)
			if i == j {
				v -= eps
			}
			dsig.Set(i, j, 2*v/sig)
		}
	}
	slices[0] = dsig

	dnoise := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		dnoise.Set(i, i, 2*noise)
	}
	slices[1] = dnoise

	for d := range ls {
		dls := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				diff := x.At(i, d) - x.At(j, d)
				dls.Set(i, j, -2*ls[d]*diff*diff*krn.At(i, j))
			}
		}
		slices[2+d] = dls
	}
	return slices
}

// scaleByLengths returns a copy of x with column d multiplied by ls[d].
func scaleByLengths(x *mat.Dense, ls []float64) *mat.Dense {
	n, dim := x.Dims()
	xl := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		for d := 0; d < dim; d++ {
			xl.Set(i, d, x.At(i, d)*ls[d])
		}
	}
	return xl
}
