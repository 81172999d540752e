package warp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ThinPlateSpline is an interpolating r²·log r spline. It maps every source
// landmark exactly onto its target landmark and minimises bending energy
// in between. Apply is closed form; ApplyInverse is iterative.
type ThinPlateSpline struct {
	dim     int
	sources []Point
	targets []Point
	// weights holds the K×D kernel coefficients.
	weights *mat.Dense
	affine  *Affine
	// affineInv is nil when the affine part is singular; the inverse then
	// starts from the nearest landmark only.
	affineInv   *Affine
	inverseOpts InverseOptions
}

// tpsKernel returns r²·log r given r².
func tpsKernel(r2 float64) float64 {
	if r2 == 0 {
		return 0
	}
	return 0.5 * r2 * math.Log(r2)
}

// FitThinPlateSpline builds the spline mapping sources[i] to targets[i]. It
// solves one dense (K+D+1)×(K+D+1) system.
func FitThinPlateSpline(sources, targets []Point) (*ThinPlateSpline, error) {
	k := len(sources)
	if k == 0 || k != len(targets) {
		return nil, fmt.Errorf("%d sources and %d targets: %w", k, len(targets), ErrDimensionMismatch)
	}
	d := sources[0].Dim()
	if k < d+1 {
		return nil, &UnderdeterminedError{Model: ModelTPS, Dim: d, Required: d + 1, Got: k}
	}
	for i := range sources {
		if sources[i].Dim() != d || targets[i].Dim() != d {
			return nil, fmt.Errorf("landmark %d: %w", i, ErrDimensionMismatch)
		}
	}

	if !spansSpace(sources) {
		return nil, fmt.Errorf("source landmarks do not span %dD: %w", d, ErrDegenerateFit)
	}

	n := k + d + 1
	l := mat.NewDense(n, n, nil)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			v := tpsKernel(sources[i].DistanceSq(sources[j]))
			l.Set(i, j, v)
			l.Set(j, i, v)
		}
		l.Set(i, k, 1)
		l.Set(k, i, 1)
		for c := 0; c < d; c++ {
			l.Set(i, k+1+c, sources[i][c])
			l.Set(k+1+c, i, sources[i][c])
		}
	}

	rhs := mat.NewDense(n, d, nil)
	for i := 0; i < k; i++ {
		for c := 0; c < d; c++ {
			rhs.Set(i, c, targets[i][c])
		}
	}

	var lu mat.LU
	lu.Factorize(l)
	if lu.Det() == 0 {
		return nil, fmt.Errorf("spline system is singular: %w", ErrDegenerateFit)
	}
	var sol mat.Dense
	if err := lu.SolveTo(&sol, false, rhs); err != nil {
		return nil, fmt.Errorf("solving spline system: %v: %w", err, ErrDegenerateFit)
	}

	lin := mat.NewDense(d, d, nil)
	trans := make([]float64, d)
	for c := 0; c < d; c++ {
		trans[c] = sol.At(k, c)
		for j := 0; j < d; j++ {
			// Output c depends on input j through row k+1+j.
			lin.Set(c, j, sol.At(k+1+j, c))
		}
	}
	affine, err := NewAffine(lin, trans)
	if err != nil {
		return nil, err
	}

	s := &ThinPlateSpline{
		dim:         d,
		sources:     clonePoints(sources),
		targets:     clonePoints(targets),
		weights:     mat.DenseCopyOf(sol.Slice(0, k, 0, d)),
		affine:      affine,
		inverseOpts: DefaultTransformInverse(),
	}
	if inv, err := affine.Invert(); err == nil {
		s.affineInv = inv
	}
	return s, nil
}

// spansSpace reports whether the centred points have full rank, i.e. they
// are not all on one line (2D) or plane (3D).
func spansSpace(pts []Point) bool {
	d := pts[0].Dim()
	c := centroid(pts)
	m := mat.NewDense(len(pts), d, nil)
	for i, p := range pts {
		for j := range p {
			m.Set(i, j, p[j]-c[j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return false
	}
	sv := svd.Values(nil)
	return sv[0] > 0 && sv[len(sv)-1] > 1e-12*sv[0]
}

func clonePoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = p.Clone()
	}
	return out
}

// SetInverseOptions changes the parameters used by ApplyInverse.
func (s *ThinPlateSpline) SetInverseOptions(opts InverseOptions) {
	s.inverseOpts = opts
}

// InverseOptions returns the parameters used by ApplyInverse.
func (s *ThinPlateSpline) InverseOptions() InverseOptions {
	return s.inverseOpts
}

func (s *ThinPlateSpline) Dim() int { return s.dim }

// NumLandmarks returns the number of control points.
func (s *ThinPlateSpline) NumLandmarks() int { return len(s.sources) }

// AffinePart returns the affine component of the spline.
func (s *ThinPlateSpline) AffinePart() *Affine { return s.affine }

// Apply evaluates the spline at p.
func (s *ThinPlateSpline) Apply(p Point) Point {
	out := s.affine.Apply(p)
	for i, src := range s.sources {
		u := tpsKernel(p.DistanceSq(src))
		if u == 0 {
			continue
		}
		for c := 0; c < s.dim; c++ {
			out[c] += s.weights.At(i, c) * u
		}
	}
	return out
}

// Jacobian returns the analytic derivative of the spline at p.
func (s *ThinPlateSpline) Jacobian(p Point) *mat.Dense {
	j := s.affine.Linear()
	for i, src := range s.sources {
		r2 := p.DistanceSq(src)
		if r2 == 0 {
			continue
		}
		g := math.Log(r2) + 1
		for c := 0; c < s.dim; c++ {
			w := s.weights.At(i, c) * g
			for k := 0; k < s.dim; k++ {
				j.Set(c, k, j.At(c, k)+w*(p[k]-src[k]))
			}
		}
	}
	return j
}

// ApplyInverse iteratively inverts the spline using the options set with
// SetInverseOptions (DefaultTransformInverse unless changed).
func (s *ThinPlateSpline) ApplyInverse(p Point) Point {
	return s.InverseWithOptions(p, s.inverseOpts).Point
}

// InverseWithOptions inverts the spline at p and reports the residual.
func (s *ThinPlateSpline) InverseWithOptions(p Point, opts InverseOptions) InverseResult {
	return InvertIteratively(s, p, s.initialGuess(p), opts)
}

// initialGuess picks whichever of the affine-inverse estimate and the source
// landmark with the nearest target has the smaller residual.
func (s *ThinPlateSpline) initialGuess(y Point) Point {
	nearest := 0
	best := math.Inf(1)
	for i, t := range s.targets {
		if d := t.DistanceSq(y); d < best {
			best, nearest = d, i
		}
	}
	guess := s.sources[nearest]
	if s.affineInv == nil {
		return guess
	}
	lin := s.affineInv.Apply(y)
	if s.Apply(lin).DistanceSq(y) < s.Apply(guess).DistanceSq(y) {
		return lin
	}
	return guess
}

// Inverse returns the spline viewed in the opposite direction.
func (s *ThinPlateSpline) Inverse() InvertibleTransform {
	return &inverted{t: s}
}

// inverted swaps Apply and ApplyInverse of t.
type inverted struct {
	t InvertibleTransform
}

func (v *inverted) Dim() int { return v.t.Dim() }
func (v *inverted) Apply(p Point) Point { return v.t.ApplyInverse(p) }
func (v *inverted) ApplyInverse(p Point) Point { return v.t.Apply(p) }
func (v *inverted) Inverse() InvertibleTransform { return v.t }

// ApplyWithOptions evaluates the (iterative) forward direction of the view
// with explicit options when the wrapped transform supports it.
func (v *inverted) ApplyWithOptions(p Point, opts InverseOptions) InverseResult {
	if it, ok := v.t.(IterativeInverter); ok {
		return it.InverseWithOptions(p, opts)
	}
	return InverseResult{Point: v.t.ApplyInverse(p), Converged: true}
}
