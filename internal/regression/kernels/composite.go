package kernels

import (
	"gonum.org/v1/gonum/mat"

	"github.com/driftline/kriging/internal/regression"
)

// Composite sums an ordered list of child kernels. Its hyperparameter
// vector is the concatenation, in declaration order, of the children's
// vectors, and its gradient stacks the children's slices in the same order.
type Composite struct {
	children []Kernel
}

// NewComposite creates an additive composition of the given kernels.
func NewComposite(children ...Kernel) *Composite {
	if len(children) == 0 {
		panic("kernels: composite requires at least one child")
	}
	return &Composite{children: children}
}

// ParamShape returns the sum of the children's parameter counts, carrying
// the batch structure reported by the first child.
func (c *Composite) ParamShape(x SampleBatch) Shape {
	shape := c.children[0].ParamShape(x)
	shape.NParams = 0
	for _, child := range c.children {
		shape.NParams += child.ParamShape(x).NParams
	}
	return shape
}

// childShapes returns the per-child parameter counts, verifying that every
// child agrees on the batch structure of x.
func (c *Composite) childShapes(op string, x SampleBatch) ([]int, error) {
	first := c.children[0].ParamShape(x)
	sizes := make([]int, len(c.children))
	for i, child := range c.children {
		s := child.ParamShape(x)
		if s.Batched != first.Batched || s.Batch != first.Batch {
			return nil, regression.NewErrorf(regression.KindBatchMismatch,
				"child %d expects batch structure %v, child 0 expects %v", i, s, first).
				WithComponent("kernels").WithOperation(op)
		}
		sizes[i] = s.NParams
	}
	return sizes, nil
}

// Evaluate splits hp into per-child chunks, evaluates each child, and sums
// the resulting matrices elementwise.
func (c *Composite) Evaluate(hp ParamBatch, x SampleBatch, xp *SampleBatch) (MatrixBatch, error) {
	const op = "Composite.Evaluate"
	if err := checkShape(op, hp, c.ParamShape(x)); err != nil {
		return MatrixBatch{}, err
	}
	sizes, err := c.childShapes(op, x)
	if err != nil {
		return MatrixBatch{}, err
	}
	parts := hp.split(sizes)

	total, err := c.children[0].Evaluate(parts[0], x, xp)
	if err != nil {
		return MatrixBatch{}, err
	}
	for i := 1; i < len(c.children); i++ {
		krn, err := c.children[i].Evaluate(parts[i], x, xp)
		if err != nil {
			return MatrixBatch{}, err
		}
		for b := 0; b < total.Len(); b++ {
			total.At(b).Add(total.At(b), krn.At(b))
		}
	}
	return total, nil
}

// EvaluateWithGradient sums the children's self-covariances and stacks
// their gradient slices along the hyperparameter axis, each child
// contributing exactly its own slices in its own order.
func (c *Composite) EvaluateWithGradient(hp ParamBatch, x SampleBatch) (MatrixBatch, GradBatch, error) {
	const op = "Composite.EvaluateWithGradient"
	if err := checkShape(op, hp, c.ParamShape(x)); err != nil {
		return MatrixBatch{}, GradBatch{}, err
	}
	sizes, err := c.childShapes(op, x)
	if err != nil {
		return MatrixBatch{}, GradBatch{}, err
	}
	parts := hp.split(sizes)

	total, grad, err := c.children[0].EvaluateWithGradient(parts[0], x)
	if err != nil {
		return MatrixBatch{}, GradBatch{}, err
	}
	stacked := make([][]*mat.Dense, total.Len())
	for b := range stacked {
		stacked[b] = append(stacked[b], grad.Slices(b)...)
	}

	for i := 1; i < len(c.children); i++ {
		krn, g, err := c.children[i].EvaluateWithGradient(parts[i], x)
		if err != nil {
			return MatrixBatch{}, GradBatch{}, err
		}
		for b := 0; b < total.Len(); b++ {
			total.At(b).Add(total.At(b), krn.At(b))
			stacked[b] = append(stacked[b], g.Slices(b)...)
		}
	}
	return total, GradBatch{grads: stacked, batched: total.Batched()}, nil
}
