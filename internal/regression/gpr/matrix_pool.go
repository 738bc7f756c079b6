package gpr

import "gonum.org/v1/gonum/mat"

// MatrixPool provides reusable matrices for the likelihood gradient loop,
// which needs one (n, n) scratch matrix and one length-n scratch vector per
// hyperparameter slice.
type MatrixPool struct {
	dense []*mat.Dense
	vecs  []*mat.VecDense
}

// NewMatrixPool creates an empty MatrixPool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		dense: make([]*mat.Dense, 0, 8),
		vecs:  make([]*mat.VecDense, 0, 8),
	}
}

// GetDense returns an (r, c) matrix from the pool or allocates a new one.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	for i := len(p.dense) - 1; i >= 0; i-- {
		m := p.dense[i]
		mr, mc := m.Dims()
		if mr == r && mc == c {
			p.dense = append(p.dense[:i], p.dense[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a matrix to the pool.
func (p *MatrixPool) PutDense(m *mat.Dense) {
	p.dense = append(p.dense, m)
}

// GetVecDense returns a length-n vector from the pool or allocates a new one.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	for i := len(p.vecs) - 1; i >= 0; i-- {
		v := p.vecs[i]
		if v.Len() == n {
			p.vecs = append(p.vecs[:i], p.vecs[i+1:]...)
			v.Zero()
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	p.vecs = append(p.vecs, v)
}
