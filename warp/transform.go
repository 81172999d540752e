package warp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform maps points of one D-dimensional space into another.
type Transform interface {
	// Dim returns the source and target dimensionality.
	Dim() int
	// Apply returns the image of p. p is not modified.
	Apply(p Point) Point
}

// InvertibleTransform is a Transform that can also map points back.
type InvertibleTransform interface {
	Transform
	// ApplyInverse returns the preimage of p.
	ApplyInverse(p Point) Point
	// Inverse returns a view of the transform with both directions swapped.
	Inverse() InvertibleTransform
}

// JacobianTransform is implemented by transforms with an analytic derivative.
// The returned matrix is D×D and evaluated at p.
type JacobianTransform interface {
	Transform
	Jacobian(p Point) *mat.Dense
}

// IterativeInverter is implemented by transforms whose inverse has no closed
// form. InverseWithOptions never fails; the result reports its residual.
type IterativeInverter interface {
	InverseWithOptions(p Point, opts InverseOptions) InverseResult
}

// Affine is an affine map x' = L·x + t in D dimensions, stored as a
// D×(D+1) matrix [L | t].
type Affine struct {
	dim int
	m   *mat.Dense
}

// NewAffine builds an affine map from a D×D linear part and a translation of
// length D. Both arguments are copied.
func NewAffine(linear mat.Matrix, translation []float64) (*Affine, error) {
	r, c := linear.Dims()
	if r != c || r != len(translation) {
		return nil, fmt.Errorf("linear part %dx%d with translation of length %d: %w",
			r, c, len(translation), ErrDimensionMismatch)
	}
	m := mat.NewDense(r, r+1, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < r; j++ {
			m.Set(i, j, linear.At(i, j))
		}
		m.Set(i, r, translation[i])
	}
	return &Affine{dim: r, m: m}, nil
}

// NewAffineFromMatrix builds an affine map from a D×(D+1) matrix [L | t].
func NewAffineFromMatrix(m mat.Matrix) (*Affine, error) {
	r, c := m.Dims()
	if c != r+1 {
		return nil, fmt.Errorf("affine matrix must be Dx(D+1), got %dx%d: %w", r, c, ErrDimensionMismatch)
	}
	return &Affine{dim: r, m: mat.DenseCopyOf(m)}, nil
}

// IdentityAffine returns the identity map in d dimensions.
func IdentityAffine(d int) *Affine {
	m := mat.NewDense(d, d+1, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return &Affine{dim: d, m: m}
}

// Translation creates a translation-only transform; its dimension is len(t).
func Translation(t ...float64) *Affine {
	a := IdentityAffine(len(t))
	for i, v := range t {
		a.m.Set(i, len(t), v)
	}
	return a
}

// Scale creates a scaling transform; its dimension is len(s).
func Scale(s ...float64) *Affine {
	a := IdentityAffine(len(s))
	for i, v := range s {
		a.m.Set(i, i, v)
	}
	return a
}

// Rotation2D creates a 2D rotation around the origin (angle in radians).
func Rotation2D(angle float64) *Affine {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	a := IdentityAffine(2)
	a.m.Set(0, 0, cos)
	a.m.Set(0, 1, -sin)
	a.m.Set(1, 0, sin)
	a.m.Set(1, 1, cos)
	return a
}

// RotationDeg creates a 2D rotation around the origin (angle in degrees).
func RotationDeg(degrees float64) *Affine {
	return Rotation2D(degrees * math.Pi / 180.0)
}

// Dim returns the dimensionality of the map.
func (a *Affine) Dim() int {
	return a.dim
}

// Apply returns L·p + t.
func (a *Affine) Apply(p Point) Point {
	out := make(Point, a.dim)
	for i := 0; i < a.dim; i++ {
		v := a.m.At(i, a.dim)
		for j := 0; j < a.dim; j++ {
			v += a.m.At(i, j) * p[j]
		}
		out[i] = v
	}
	return out
}

// Jacobian returns a copy of the linear part; it is constant in p.
func (a *Affine) Jacobian(Point) *mat.Dense {
	return a.Linear()
}

// At returns the matrix element at row i, column j of [L | t].
func (a *Affine) At(i, j int) float64 {
	return a.m.At(i, j)
}

// Matrix returns a copy of the D×(D+1) matrix [L | t].
func (a *Affine) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.m)
}

// Linear returns a copy of the D×D linear part.
func (a *Affine) Linear() *mat.Dense {
	return mat.DenseCopyOf(a.m.Slice(0, a.dim, 0, a.dim))
}

// TranslationPart returns a copy of t.
func (a *Affine) TranslationPart() []float64 {
	t := make([]float64, a.dim)
	for i := range t {
		t[i] = a.m.At(i, a.dim)
	}
	return t
}

// Rows returns [L | t] as nested slices, for JSON output.
func (a *Affine) Rows() [][]float64 {
	rows := make([][]float64, a.dim)
	for i := range rows {
		rows[i] = mat.Row(nil, i, a.m)
	}
	return rows
}

// Compose returns a∘b: applying the result equals applying b first, then a.
func (a *Affine) Compose(b *Affine) *Affine {
	d := a.dim
	var lin mat.Dense
	lin.Mul(a.m.Slice(0, d, 0, d), b.m.Slice(0, d, 0, d))
	res := a.Apply(b.TranslationPart())
	out, _ := NewAffine(&lin, res)
	return out
}

// Invert computes the inverse map. It fails with ErrDegenerateFit when the
// linear part is singular or too ill-conditioned to invert reliably.
func (a *Affine) Invert() (*Affine, error) {
	lin := a.m.Slice(0, a.dim, 0, a.dim)
	if det := mat.Det(lin); det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return nil, fmt.Errorf("linear part has determinant %g: %w", det, ErrDegenerateFit)
	}
	var inv mat.Dense
	if err := inv.Inverse(lin); err != nil {
		return nil, fmt.Errorf("inverting linear part: %v: %w", err, ErrDegenerateFit)
	}
	t := a.TranslationPart()
	negT := make([]float64, a.dim)
	for i := 0; i < a.dim; i++ {
		for j := 0; j < a.dim; j++ {
			negT[i] -= inv.At(i, j) * t[j]
		}
	}
	for _, v := range negT {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("inverse translation is not finite: %w", ErrDegenerateFit)
		}
	}
	return NewAffine(&inv, negT)
}

// RotationAngle returns the rotation component of a 2D map in degrees,
// normalized to [0, 360). It is extracted via atan2(C, A).
func (a *Affine) RotationAngle() float64 {
	if a.dim != 2 {
		return 0
	}
	return NormalizeAngle(math.Atan2(a.m.At(1, 0), a.m.At(0, 0)) * 180 / math.Pi)
}

// NormalizeAngle normalizes an angle in degrees to the range [0, 360).
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// ModelTransform adapts a fitted affine model to InvertibleTransform. The
// inverse is computed once, at construction.
type ModelTransform struct {
	fwd *Affine
	inv *Affine
}

// NewModelTransform wraps a and eagerly inverts it. Degenerate models are
// rejected with ErrDegenerateFit rather than producing NaNs later.
func NewModelTransform(a *Affine) (*ModelTransform, error) {
	inv, err := a.Invert()
	if err != nil {
		return nil, err
	}
	return &ModelTransform{fwd: a, inv: inv}, nil
}

func (t *ModelTransform) Dim() int { return t.fwd.dim }
func (t *ModelTransform) Apply(p Point) Point { return t.fwd.Apply(p) }
func (t *ModelTransform) ApplyInverse(p Point) Point { return t.inv.Apply(p) }
func (t *ModelTransform) Jacobian(p Point) *mat.Dense { return t.fwd.Linear() }
func (t *ModelTransform) Inverse() InvertibleTransform { return &ModelTransform{fwd: t.inv, inv: t.fwd} }

// Affine returns the forward affine model.
func (t *ModelTransform) Affine() *Affine {
	return t.fwd
}

// TransformPoints applies t to every point.
func TransformPoints(t Transform, points []Point) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = t.Apply(p)
	}
	return result
}
