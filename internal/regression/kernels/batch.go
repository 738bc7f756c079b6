package kernels

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Shape is the shape contract for a hyperparameter vector: [NParams] when
// unbatched, [Batch, NParams] when batched. Shapes are comparable with ==.
type Shape struct {
	// Batch is the number of batch elements. It is zero when Batched is false.
	Batch int
	// NParams is the number of hyperparameters per batch element.
	NParams int
	// Batched reports whether the batch dimension is present.
	Batched bool
}

// String returns the shape in bracket notation.
func (s Shape) String() string {
	if s.Batched {
		return fmt.Sprintf("[%d, %d]", s.Batch, s.NParams)
	}
	return fmt.Sprintf("[%d]", s.NParams)
}

// SampleBatch holds one or more independent sets of points in the same input
// space. Batch elements do not interact; a batched evaluation must equal
// stacking the corresponding unbatched evaluations.
type SampleBatch struct {
	sets    []*mat.Dense
	batched bool
}

// Single wraps a single (n, dim) point set.
func Single(x *mat.Dense) SampleBatch {
	if x == nil {
		panic("kernels: nil sample matrix")
	}
	return SampleBatch{sets: []*mat.Dense{x}}
}

// Batch wraps independent point sets sharing the same n and dim.
// The result carries the batch dimension even for a single set.
func Batch(sets ...*mat.Dense) SampleBatch {
	if len(sets) == 0 {
		panic("kernels: empty sample batch")
	}
	n0, d0 := sets[0].Dims()
	for _, s := range sets[1:] {
		n, d := s.Dims()
		if n != n0 || d != d0 {
			panic(fmt.Sprintf("kernels: inconsistent sample batch: (%d, %d) vs (%d, %d)", n, d, n0, d0))
		}
	}
	return SampleBatch{sets: sets, batched: true}
}

// Len returns the number of batch elements. It is 1 for unbatched samples.
func (s SampleBatch) Len() int { return len(s.sets) }

// At returns the i-th point set.
func (s SampleBatch) At(i int) *mat.Dense { return s.sets[i] }

// Batched reports whether the batch dimension is present.
func (s SampleBatch) Batched() bool { return s.batched }

// Dim returns the dimension of the input space.
func (s SampleBatch) Dim() int {
	_, d := s.sets[0].Dims()
	return d
}

// Points returns the number of points per batch element.
func (s SampleBatch) Points() int {
	n, _ := s.sets[0].Dims()
	return n
}

// ParamBatch holds one hyperparameter vector per batch element.
type ParamBatch struct {
	vecs    [][]float64
	batched bool
}

// Params wraps a single hyperparameter vector.
func Params(hp []float64) ParamBatch {
	return ParamBatch{vecs: [][]float64{hp}}
}

// ParamsBatch wraps per-batch hyperparameter vectors of equal length.
func ParamsBatch(vecs ...[]float64) ParamBatch {
	if len(vecs) == 0 {
		panic("kernels: empty parameter batch")
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic(fmt.Sprintf("kernels: inconsistent parameter batch: %d vs %d", len(v), len(vecs[0])))
		}
	}
	return ParamBatch{vecs: vecs, batched: true}
}

// Shape returns the shape of the held hyperparameters.
func (p ParamBatch) Shape() Shape {
	if p.batched {
		return Shape{Batch: len(p.vecs), NParams: len(p.vecs[0]), Batched: true}
	}
	return Shape{NParams: len(p.vecs[0])}
}

// Len returns the number of batch elements. It is 1 for unbatched parameters.
func (p ParamBatch) Len() int { return len(p.vecs) }

// At returns the i-th hyperparameter vector.
func (p ParamBatch) At(i int) []float64 { return p.vecs[i] }

// Batched reports whether the batch dimension is present.
func (p ParamBatch) Batched() bool { return p.batched }

// split partitions every vector into consecutive chunks of the given sizes,
// preserving the batch structure. The chunk sizes must sum to the vector
// length; callers validate the total before splitting.
func (p ParamBatch) split(sizes []int) []ParamBatch {
	parts := make([]ParamBatch, len(sizes))
	for c := range sizes {
		parts[c] = ParamBatch{vecs: make([][]float64, len(p.vecs)), batched: p.batched}
	}
	for i, v := range p.vecs {
		off := 0
		for c, size := range sizes {
			parts[c].vecs[i] = v[off : off+size]
			off += size
		}
	}
	return parts
}

// MatrixBatch holds one covariance matrix per batch element.
type MatrixBatch struct {
	mats    []*mat.Dense
	batched bool
}

// Len returns the number of batch elements. It is 1 for unbatched results.
func (m MatrixBatch) Len() int { return len(m.mats) }

// At returns the i-th matrix.
func (m MatrixBatch) At(i int) *mat.Dense { return m.mats[i] }

// Batched reports whether the batch dimension is present.
func (m MatrixBatch) Batched() bool { return m.batched }

// Matrix returns the single held matrix. It panics on batched results,
// mirroring the squeeze rule: unbatched input produces unbatched output.
func (m MatrixBatch) Matrix() *mat.Dense {
	if m.batched {
		panic("kernels: Matrix called on batched result")
	}
	return m.mats[0]
}

// GradBatch holds, per batch element, one gradient slice per hyperparameter,
// in hyperparameter order. Each slice is an (n, n) matrix.
type GradBatch struct {
	grads   [][]*mat.Dense
	batched bool
}

// Len returns the number of batch elements.
func (g GradBatch) Len() int { return len(g.grads) }

// NParams returns the number of gradient slices per batch element.
func (g GradBatch) NParams() int { return len(g.grads[0]) }

// Slices returns the gradient slices for the i-th batch element.
func (g GradBatch) Slices(i int) []*mat.Dense { return g.grads[i] }

// Slice returns the k-th gradient slice of an unbatched result.
func (g GradBatch) Slice(k int) *mat.Dense {
	if g.batched {
		panic("kernels: Slice called on batched result")
	}
	return g.grads[0][k]
}

// Batched reports whether the batch dimension is present.
func (g GradBatch) Batched() bool { return g.batched }
