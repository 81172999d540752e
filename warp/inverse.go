package warp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxStepHalvings bounds the backtracking line search inside one Newton step.
const maxStepHalvings = 30

// InverseOptions controls the iterative inverse.
type InverseOptions struct {
	// Tolerance is the residual ‖f(x) − y‖ at which iteration stops.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// MaxIterations is a hard cap on Newton steps.
	MaxIterations int `yaml:"maxIterations" json:"maxIterations"`
	// ReliableError is the residual above which a result is flagged as
	// unreliable. Zero means Tolerance.
	ReliableError float64 `yaml:"reliableError,omitempty" json:"reliableError,omitempty"`
}

// DefaultTransformInverse is used by ApplyInverse on transforms that have no
// closed-form inverse (thin-plate splines, blends).
func DefaultTransformInverse() InverseOptions {
	return InverseOptions{Tolerance: 1e-9, MaxIterations: 1000}
}

// DefaultPreviewInverse is used by the landmark table when it computes warped
// previews for half-set rows. It is deliberately looser than
// DefaultTransformInverse; see DESIGN.md before unifying the two.
func DefaultPreviewInverse() InverseOptions {
	return InverseOptions{Tolerance: 0.5, MaxIterations: 100, ReliableError: 0.5}
}

func (o InverseOptions) reliableThreshold() float64 {
	if o.ReliableError > 0 {
		return o.ReliableError
	}
	return o.Tolerance
}

// InverseResult is the outcome of an iterative inversion.
type InverseResult struct {
	Point      Point   `json:"point"`
	Error      float64 `json:"error"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
}

// Reliable reports whether the residual is within the reliability threshold
// of opts. Unreliable results are still usable estimates.
func (r InverseResult) Reliable(opts InverseOptions) bool {
	return r.Error <= opts.reliableThreshold()
}

// InvertIteratively searches for x with f(x) ≈ y, starting from guess (or y
// itself when guess is nil). It performs at most opts.MaxIterations damped
// Newton steps and always returns the best estimate found.
func InvertIteratively(f Transform, y, guess Point, opts InverseOptions) InverseResult {
	x := guess.Clone()
	if x == nil {
		x = y.Clone()
	}
	fx := f.Apply(x)
	residual := residualNorm(fx, y)

	res := InverseResult{Point: x, Error: residual}
	d := f.Dim()
	r := mat.NewVecDense(d, nil)
	var dx mat.VecDense

	for res.Iterations < opts.MaxIterations && residual > opts.Tolerance {
		res.Iterations++
		for i := 0; i < d; i++ {
			r.SetVec(i, y[i]-fx[i])
		}
		if err := dx.SolveVec(jacobianAt(f, x), r); err != nil {
			// Singular Jacobian: fall back to a plain fixed-point step.
			dx.CloneFromVec(r)
		}

		step := 1.0
		accepted := false
		for k := 0; k < maxStepHalvings; k++ {
			xn := make(Point, d)
			for i := 0; i < d; i++ {
				xn[i] = x[i] + step*dx.AtVec(i)
			}
			fn := f.Apply(xn)
			if rn := residualNorm(fn, y); rn < residual {
				x, fx, residual = xn, fn, rn
				accepted = true
				break
			}
			step /= 2
		}
		if !accepted {
			break
		}
	}

	res.Point = x
	res.Error = residual
	res.Converged = residual <= opts.Tolerance
	return res
}

func residualNorm(a, b Point) float64 {
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
	}
	return floats.Distance(a, b, 2)
}

// jacobianAt uses the analytic Jacobian when f provides one, and central
// differences otherwise.
func jacobianAt(f Transform, x Point) *mat.Dense {
	if jt, ok := f.(JacobianTransform); ok {
		return jt.Jacobian(x)
	}
	return numericJacobian(f, x)
}

func numericJacobian(f Transform, x Point) *mat.Dense {
	d := f.Dim()
	j := mat.NewDense(d, d, nil)
	xp := x.Clone()
	xm := x.Clone()
	for c := 0; c < d; c++ {
		h := 1e-6 * math.Max(1, math.Abs(x[c]))
		xp[c] = x[c] + h
		xm[c] = x[c] - h
		fp := f.Apply(xp)
		fm := f.Apply(xm)
		for r := 0; r < d; r++ {
			j.Set(r, c, (fp[r]-fm[r])/(2*h))
		}
		xp[c] = x[c]
		xm[c] = x[c]
	}
	return j
}
