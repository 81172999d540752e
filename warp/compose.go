package warp

import (
	"fmt"
	"math"
)

// Embed2D lifts a 2D transform into 3D. The third coordinate passes through
// unchanged in both directions.
type Embed2D struct {
	t InvertibleTransform
}

// NewEmbed2D wraps a 2D invertible transform.
func NewEmbed2D(t InvertibleTransform) (*Embed2D, error) {
	if t.Dim() != 2 {
		return nil, fmt.Errorf("embedding a %dD transform: %w", t.Dim(), ErrDimensionMismatch)
	}
	return &Embed2D{t: t}, nil
}

func (e *Embed2D) Dim() int { return 3 }

func (e *Embed2D) Apply(p Point) Point {
	xy := e.t.Apply(Point{p[0], p[1]})
	return Point{xy[0], xy[1], p[2]}
}

func (e *Embed2D) ApplyInverse(p Point) Point {
	xy := e.t.ApplyInverse(Point{p[0], p[1]})
	return Point{xy[0], xy[1], p[2]}
}

func (e *Embed2D) Inverse() InvertibleTransform {
	return &Embed2D{t: e.t.Inverse()}
}

// Unwrap returns the embedded 2D transform.
func (e *Embed2D) Unwrap() InvertibleTransform { return e.t }

// Sequence applies its transforms in order. It is forward-only; use
// NewInvertibleSequence or AsInvertible for a chain with an inverse.
type Sequence struct {
	dim        int
	transforms []Transform
}

// NewSequence checks that all transforms share one dimensionality.
func NewSequence(transforms ...Transform) (*Sequence, error) {
	if len(transforms) == 0 {
		return nil, fmt.Errorf("empty sequence: %w", ErrDimensionMismatch)
	}
	d := transforms[0].Dim()
	for i, t := range transforms {
		if t.Dim() != d {
			return nil, fmt.Errorf("sequence element %d is %dD, want %dD: %w", i, t.Dim(), d, ErrDimensionMismatch)
		}
	}
	return &Sequence{dim: d, transforms: append([]Transform(nil), transforms...)}, nil
}

func (s *Sequence) Dim() int { return s.dim }

// Len returns the number of transforms in the sequence.
func (s *Sequence) Len() int { return len(s.transforms) }

func (s *Sequence) Apply(p Point) Point {
	out := p
	for _, t := range s.transforms {
		out = t.Apply(out)
	}
	return out.Clone()
}

// Invertible reports whether every element is an InvertibleTransform.
func (s *Sequence) Invertible() bool {
	for _, t := range s.transforms {
		if _, ok := t.(InvertibleTransform); !ok {
			return false
		}
	}
	return true
}

// AsInvertible returns the invertible form of s, or ErrNotInvertible naming
// the first forward-only element.
func (s *Sequence) AsInvertible() (*InvertibleSequence, error) {
	steps := make([]InvertibleTransform, len(s.transforms))
	for i, t := range s.transforms {
		it, ok := t.(InvertibleTransform)
		if !ok {
			return nil, fmt.Errorf("sequence element %d: %w", i, ErrNotInvertible)
		}
		steps[i] = it
	}
	return &InvertibleSequence{Sequence: s, steps: steps}, nil
}

// InvertibleSequence is a Sequence whose elements are all invertible.
type InvertibleSequence struct {
	*Sequence
	steps []InvertibleTransform
}

// NewInvertibleSequence checks that all transforms share one dimensionality.
func NewInvertibleSequence(transforms ...InvertibleTransform) (*InvertibleSequence, error) {
	ts := make([]Transform, len(transforms))
	for i, t := range transforms {
		ts[i] = t
	}
	s, err := NewSequence(ts...)
	if err != nil {
		return nil, err
	}
	return s.AsInvertible()
}

// ApplyInverse applies the element inverses in reverse order.
func (s *InvertibleSequence) ApplyInverse(p Point) Point {
	out := p
	for i := len(s.steps) - 1; i >= 0; i-- {
		out = s.steps[i].ApplyInverse(out)
	}
	return out.Clone()
}

// Inverse returns the reversed sequence of element inverses.
func (s *InvertibleSequence) Inverse() InvertibleTransform {
	n := len(s.steps)
	steps := make([]InvertibleTransform, n)
	ts := make([]Transform, n)
	for i, t := range s.steps {
		steps[n-1-i] = t.Inverse()
		ts[n-1-i] = steps[n-1-i]
	}
	return &InvertibleSequence{Sequence: &Sequence{dim: s.dim, transforms: ts}, steps: steps}
}

// WeightField is a scalar field λ(x) ∈ [0, 1].
type WeightField interface {
	Weight(p Point) float64
}

// ConstantWeight is the field λ(x) = c.
type ConstantWeight float64

func (c ConstantWeight) Weight(Point) float64 { return float64(c) }

// FalloffKind selects the decay profile of a RadialFalloff.
type FalloffKind int

const (
	FalloffCosine FalloffKind = iota
	FalloffGaussian
)

func (k FalloffKind) String() string {
	if k == FalloffGaussian {
		return "gaussian"
	}
	return "cosine"
}

// ParseFalloffKind accepts "cosine" (or "") and "gaussian".
func ParseFalloffKind(s string) (FalloffKind, error) {
	switch s {
	case "", "cosine":
		return FalloffCosine, nil
	case "gaussian":
		return FalloffGaussian, nil
	}
	return 0, fmt.Errorf("unknown falloff %q", s)
}

// RadialFalloff is 1 within Radius of Center and decays to 0 over Width
// beyond it. The Gaussian profile uses Width as its standard deviation and
// never reaches 0 exactly.
type RadialFalloff struct {
	Center Point
	Radius float64
	Width  float64
	Kind   FalloffKind
}

func (f RadialFalloff) Weight(p Point) float64 {
	d := p.Distance(f.Center) - f.Radius
	if d <= 0 {
		return 1
	}
	if f.Width <= 0 {
		return 0
	}
	switch f.Kind {
	case FalloffGaussian:
		return math.Exp(-0.5 * (d * d) / (f.Width * f.Width))
	default:
		if d >= f.Width {
			return 0
		}
		return 0.5 * (1 + math.Cos(math.Pi*d/f.Width))
	}
}

// Blend is λ(x)·A(x) + (1−λ(x))·B(x), with λ sampled at the source point.
// Its inverse has no closed form and is computed iteratively.
type Blend struct {
	A, B        Transform
	W           WeightField
	inverseOpts InverseOptions
}

// NewBlend checks that A and B share one dimensionality.
func NewBlend(a, b Transform, w WeightField) (*Blend, error) {
	if a.Dim() != b.Dim() {
		return nil, fmt.Errorf("blending %dD with %dD: %w", a.Dim(), b.Dim(), ErrDimensionMismatch)
	}
	return &Blend{A: a, B: b, W: w, inverseOpts: DefaultTransformInverse()}, nil
}

// SetInverseOptions changes the parameters used by ApplyInverse.
func (b *Blend) SetInverseOptions(opts InverseOptions) { b.inverseOpts = opts }

func (b *Blend) Dim() int { return b.A.Dim() }

func (b *Blend) Apply(p Point) Point {
	lambda := b.W.Weight(p)
	switch {
	case lambda >= 1:
		return b.A.Apply(p)
	case lambda <= 0:
		return b.B.Apply(p)
	}
	pa := b.A.Apply(p)
	pb := b.B.Apply(p)
	out := make(Point, len(pa))
	for i := range pa {
		out[i] = lambda*pa[i] + (1-lambda)*pb[i]
	}
	return out
}

func (b *Blend) ApplyInverse(p Point) Point {
	return b.InverseWithOptions(p, b.inverseOpts).Point
}

// InverseWithOptions inverts the blend at p, starting from B's inverse when B
// is invertible.
func (b *Blend) InverseWithOptions(p Point, opts InverseOptions) InverseResult {
	var guess Point
	if ib, ok := b.B.(InvertibleTransform); ok {
		guess = ib.ApplyInverse(p)
	}
	return InvertIteratively(b, p, guess, opts)
}

func (b *Blend) Inverse() InvertibleTransform { return &inverted{t: b} }
