package kernels

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
)

func randomPoints(rng *rand.Rand, n, dim int) *mat.Dense {
	data := make([]float64, n*dim)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(n, dim, data)
}

func randomParams(rng *rand.Rand, n int) []float64 {
	hp := make([]float64, n)
	for i := range hp {
		hp[i] = 0.5 + rng.Float64()
	}
	return hp
}

func TestSquaredExponentialParamShape(t *testing.T) {
	k := NewSquaredExponential()
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name string
		x    SampleBatch
		want Shape
	}{
		{
			name: "unbatched 1d",
			x:    Single(randomPoints(rng, 5, 1)),
			want: Shape{NParams: 3},
		},
		{
			name: "unbatched 3d",
			x:    Single(randomPoints(rng, 8, 3)),
			want: Shape{NParams: 5},
		},
		{
			name: "batched 2d",
			x:    Batch(randomPoints(rng, 4, 2), randomPoints(rng, 4, 2), randomPoints(rng, 4, 2)),
			want: Shape{Batch: 3, NParams: 4, Batched: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := k.ParamShape(tt.x); got != tt.want {
				t.Errorf("expected shape %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSquaredExponentialValues(t *testing.T) {
	k := NewSquaredExponential()

	tests := []struct {
		name     string
		hp       []float64
		x        *mat.Dense
		i, j     int
		expected float64
	}{
		{
			name:     "unit diagonal gets noise",
			hp:       []float64{1.0, 0.1, 1.0},
			x:        mat.NewDense(2, 1, []float64{0, 1}),
			i:        0,
			j:        0,
			expected: 1.01, // sig^2 + noise^2
		},
		{
			name:     "unit off-diagonal",
			hp:       []float64{1.0, 0.1, 1.0},
			x:        mat.NewDense(2, 1, []float64{0, 1}),
			i:        0,
			j:        1,
			expected: math.Exp(-1.0),
		},
		{
			name:     "length scale multiplies the distance",
			hp:       []float64{1.0, 0.0, 2.0},
			x:        mat.NewDense(2, 1, []float64{0, 1}),
			i:        1,
			j:        0,
			expected: math.Exp(-4.0), // exp(-ls^2 * 1)
		},
		{
			name:     "signal amplitude squares",
			hp:       []float64{3.0, 0.0, 1.0, 1.0},
			x:        mat.NewDense(2, 2, []float64{0, 0, 1, 1}),
			i:        0,
			j:        1,
			expected: 9.0 * math.Exp(-2.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			krn, err := k.Evaluate(Params(tt.hp), Single(tt.x), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := krn.Matrix().At(tt.i, tt.j)
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCrossCovarianceHasNoNoise(t *testing.T) {
	k := NewSquaredExponential()
	hp := Params([]float64{1.0, 0.5, 1.0})
	x := Single(mat.NewDense(2, 1, []float64{0, 1}))
	xs := Single(mat.NewDense(1, 1, []float64{0}))

	krn, err := k.Evaluate(hp, x, &xs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, n := krn.Matrix().Dims()
	if m != 1 || n != 2 {
		t.Fatalf("expected 1x2 cross covariance, got %dx%d", m, n)
	}
	// The test point coincides with the first training point; without a
	// noise term the kernel value is exactly sig^2.
	if got := krn.Matrix().At(0, 0); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("expected noise-free value 1.0, got %v", got)
	}
}

func TestKernelSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	kernels := map[string]Kernel{
		"squared exponential": NewSquaredExponential(),
		"composite":           NewComposite(NewSquaredExponential(), NewSquaredExponential()),
	}

	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			x := Single(randomPoints(rng, 20, 3))
			hp := Params(randomParams(rng, k.ParamShape(x).NParams))

			krn, err := k.Evaluate(hp, x, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			m := krn.Matrix()
			n, _ := m.Dims()
			for i := 0; i < n; i++ {
				for j := i + 1; j < n; j++ {
					if math.Abs(m.At(i, j)-m.At(j, i)) > 1e-7 {
						t.Fatalf("K[%d,%d]=%v differs from K[%d,%d]=%v", i, j, m.At(i, j), j, i, m.At(j, i))
					}
				}
			}
		})
	}
}

func TestKernelPositiveDefinite(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	kernels := map[string]Kernel{
		"squared exponential": NewSquaredExponential(),
		"composite":           NewComposite(NewSquaredExponential(), NewSquaredExponential()),
	}

	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			x := Single(randomPoints(rng, 15, 2))
			hp := Params(randomParams(rng, k.ParamShape(x).NParams))

			krn, err := k.Evaluate(hp, x, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			n, _ := krn.Matrix().Dims()
			sym := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					sym.SetSym(i, j, krn.Matrix().At(i, j))
				}
			}
			var eig mat.EigenSym
			if !eig.Factorize(sym, false) {
				t.Fatal("eigendecomposition failed")
			}
			for _, v := range eig.Values(nil) {
				if v <= 0 {
					t.Fatalf("non-positive eigenvalue %v", v)
				}
			}
		})
	}
}

func TestSquaredExponentialGradient(t *testing.T) {
	const (
		eps = 1e-5
		tol = 1e-6
	)
	rng := rand.New(rand.NewSource(4))

	kernels := map[string]Kernel{
		"squared exponential": NewSquaredExponential(),
		"composite":           NewComposite(NewSquaredExponential(), NewSquaredExponential()),
	}

	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			x := Single(randomPoints(rng, 10, 2))
			hp := randomParams(rng, k.ParamShape(x).NParams)

			_, grad, err := k.EvaluateWithGradient(Params(hp), x)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			for p := range hp {
				plus := append([]float64(nil), hp...)
				plus[p] += eps
				minus := append([]float64(nil), hp...)
				minus[p] -= eps

				kPlus, err := k.Evaluate(Params(plus), x, nil)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				kMinus, err := k.Evaluate(Params(minus), x, nil)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				n := x.Points()
				for i := 0; i < n; i++ {
					for j := 0; j < n; j++ {
						fd := (kPlus.Matrix().At(i, j) - kMinus.Matrix().At(i, j)) / (2 * eps)
						got := grad.Slice(p).At(i, j)
						if math.Abs(fd-got) > tol {
							t.Fatalf("param %d entry (%d,%d): analytic %v, finite difference %v", p, i, j, got, fd)
						}
					}
				}
			}
		})
	}
}

func TestBatchConsistency(t *testing.T) {
	const nc = 4
	rng := rand.New(rand.NewSource(5))

	kernels := map[string]Kernel{
		"squared exponential": NewSquaredExponential(),
		"composite":           NewComposite(NewSquaredExponential(), NewSquaredExponential()),
	}

	for name, k := range kernels {
		t.Run(name, func(t *testing.T) {
			sets := make([]*mat.Dense, nc)
			for i := range sets {
				sets[i] = randomPoints(rng, 6, 2)
			}
			xb := Batch(sets...)

			nparams := k.ParamShape(xb).NParams
			vecs := make([][]float64, nc)
			for i := range vecs {
				vecs[i] = randomParams(rng, nparams)
			}
			hpb := ParamsBatch(vecs...)

			krnB, gradB, err := k.EvaluateWithGradient(hpb, xb)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !krnB.Batched() || krnB.Len() != nc {
				t.Fatalf("expected batched result of length %d", nc)
			}

			for b := 0; b < nc; b++ {
				krn, grad, err := k.EvaluateWithGradient(Params(vecs[b]), Single(sets[b]))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !mat.EqualApprox(krnB.At(b), krn.Matrix(), 1e-14) {
					t.Fatalf("batch element %d kernel differs from unbatched call", b)
				}
				for p := 0; p < nparams; p++ {
					if !mat.EqualApprox(gradB.Slices(b)[p], grad.Slice(p), 1e-14) {
						t.Fatalf("batch element %d gradient slice %d differs from unbatched call", b, p)
					}
				}
			}
		})
	}
}

func TestUnbatchedResultStaysUnbatched(t *testing.T) {
	k := NewSquaredExponential()
	rng := rand.New(rand.NewSource(6))
	x := Single(randomPoints(rng, 5, 2))

	krn, err := k.Evaluate(Params(randomParams(rng, 4)), x, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if krn.Batched() {
		t.Error("unbatched input produced a batched result")
	}
}

func TestShapeMismatch(t *testing.T) {
	k := NewSquaredExponential()
	rng := rand.New(rand.NewSource(7))
	x := Single(randomPoints(rng, 5, 2)) // wants 4 parameters

	_, err := k.Evaluate(Params([]float64{1, 0.1, 1}), x, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, regression.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}

	_, _, err = k.EvaluateWithGradient(Params([]float64{1, 0.1, 1, 1, 1}), x)
	if !errors.Is(err, regression.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch, got %v", err)
	}
}

func TestBatchMismatch(t *testing.T) {
	k := NewSquaredExponential()
	rng := rand.New(rand.NewSource(8))

	x := Batch(randomPoints(rng, 5, 2), randomPoints(rng, 5, 2))
	xp := Batch(randomPoints(rng, 3, 2), randomPoints(rng, 3, 2))
	hp := ParamsBatch(randomParams(rng, 4), randomParams(rng, 4))

	_, err := k.Evaluate(hp, x, &xp)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, regression.ErrBatchMismatch) {
		t.Errorf("expected batch mismatch, got %v", err)
	}
}
