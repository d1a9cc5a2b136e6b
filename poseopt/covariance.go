package poseopt

import (
	"gonum.org/v1/gonum/mat"
)

// covariance returns the pseudo-inverse of the symmetric normal matrix h.
// Directions with singular values below eps*n*max(s) are left unconstrained
// (zero) rather than inverted.
func covariance(h *mat.SymDense) *mat.SymDense {
	n := h.SymmetricDim()
	out := mat.NewSymDense(n, nil)

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDThin); !ok {
		return out
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	maxS := 0.0
	if len(s) > 0 {
		maxS = s[0]
	}
	tol := 1e-15 * float64(n) * maxS

	sigInv := mat.NewDiagDense(len(s), nil)
	for i, val := range s {
		if val > tol {
			sigInv.SetDiag(i, 1/val)
		}
	}

	// pinv = V * Sigma^+ * U^T
	var tmp, res mat.Dense
	tmp.Mul(&v, sigInv)
	res.Mul(&tmp, u.T())
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(res.At(i, j)+res.At(j, i)))
		}
	}
	return out
}
