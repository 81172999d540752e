package warp

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Model selects the transform family fitted by Solve.
type Model int

const (
	ModelTranslation Model = iota
	ModelRigid
	ModelSimilarity
	ModelAffine
	ModelTPS
)

var modelNames = [...]string{
	ModelTranslation: "translation",
	ModelRigid:       "rigid",
	ModelSimilarity:  "similarity",
	ModelAffine:      "affine",
	ModelTPS:         "tps",
}

func (m Model) String() string {
	if m < 0 || int(m) >= len(modelNames) {
		return fmt.Sprintf("Model(%d)", int(m))
	}
	return modelNames[m]
}

// ParseModel maps a model name to a Model. Matching is case-insensitive and
// accepts "rotation" for rigid and "thin-plate-spline" for tps.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "translation":
		return ModelTranslation, nil
	case "rigid", "rotation":
		return ModelRigid, nil
	case "similarity":
		return ModelSimilarity, nil
	case "affine":
		return ModelAffine, nil
	case "tps", "thin-plate-spline", "thinplatespline":
		return ModelTPS, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownModel)
}

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(text []byte) error {
	parsed, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MinPoints returns the minimum number of correspondences the model needs in
// d dimensions.
func (m Model) MinPoints(d int) int {
	switch m {
	case ModelTranslation:
		return 1
	case ModelRigid, ModelSimilarity:
		if d <= 2 {
			return 2
		}
		return d
	default:
		return d + 1
	}
}

// Linear reports whether the model solves to a single affine map.
func (m Model) Linear() bool {
	return m != ModelTPS
}

// SolveOptions configures Solve.
type SolveOptions struct {
	// Inverse is installed on transforms whose inverse is iterative.
	Inverse InverseOptions
}

// DefaultSolveOptions returns the options used by Solve.
func DefaultSolveOptions() SolveOptions {
	return SolveOptions{Inverse: DefaultTransformInverse()}
}

// Solve fits model to K correspondences given as D×K matrices.
//
// The result maps fixed space into moving space: Apply(fixed[i]) ≈ moving[i].
// ApplyInverse maps moving points into fixed space, and Inverse() is the
// effective moving→fixed transform.
func Solve(model Model, moving, fixed mat.Matrix) (InvertibleTransform, error) {
	return SolveWithOptions(model, moving, fixed, DefaultSolveOptions())
}

// SolveWithOptions is Solve with explicit options.
func SolveWithOptions(model Model, moving, fixed mat.Matrix, opts SolveOptions) (InvertibleTransform, error) {
	mvg, fix, err := correspondences(moving, fixed)
	if err != nil {
		return nil, err
	}
	d, _ := moving.Dims()
	if need := model.MinPoints(d); len(mvg) < need {
		return nil, &UnderdeterminedError{Model: model, Dim: d, Required: need, Got: len(mvg)}
	}

	switch model {
	case ModelTranslation:
		return NewModelTransform(fitTranslation(fix, mvg))
	case ModelRigid, ModelSimilarity:
		a, err := fitSimilarity(fix, mvg, model == ModelSimilarity)
		if err != nil {
			return nil, err
		}
		return NewModelTransform(a)
	case ModelAffine:
		a, err := fitAffine(fix, mvg)
		if err != nil {
			return nil, err
		}
		return NewModelTransform(a)
	case ModelTPS:
		// Source landmarks are the fixed points, targets the moving points.
		tps, err := FitThinPlateSpline(fix, mvg)
		if err != nil {
			return nil, err
		}
		tps.SetInverseOptions(opts.Inverse)
		return tps, nil
	}
	return nil, fmt.Errorf("%v: %w", model, ErrUnknownModel)
}

// SolveMasked fits local and global models to the same correspondences and
// blends them: λ(x)·local(x) + (1−λ(x))·global(x).
func SolveMasked(local, global Model, w WeightField, moving, fixed mat.Matrix, opts SolveOptions) (*Blend, error) {
	lt, err := SolveWithOptions(local, moving, fixed, opts)
	if err != nil {
		return nil, fmt.Errorf("local %s fit: %w", local, err)
	}
	gt, err := SolveWithOptions(global, moving, fixed, opts)
	if err != nil {
		return nil, fmt.Errorf("global %s fit: %w", global, err)
	}
	b, err := NewBlend(lt, gt, w)
	if err != nil {
		return nil, err
	}
	b.SetInverseOptions(opts.Inverse)
	return b, nil
}

// Residuals returns ‖t(fixed[i]) − moving[i]‖ for every correspondence.
func Residuals(t Transform, moving, fixed mat.Matrix) ([]float64, error) {
	mvg, fix, err := correspondences(moving, fixed)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(mvg))
	for i := range mvg {
		out[i] = t.Apply(fix[i]).Distance(mvg[i])
	}
	return out, nil
}

// RMS returns the root mean square of values, or 0 for an empty slice.
func RMS(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(values)))
}

// correspondences splits two D×K matrices into point lists.
func correspondences(moving, fixed mat.Matrix) ([]Point, []Point, error) {
	dm, km := moving.Dims()
	df, kf := fixed.Dims()
	if dm != df || km != kf {
		return nil, nil, fmt.Errorf("moving is %dx%d, fixed is %dx%d: %w", dm, km, df, kf, ErrDimensionMismatch)
	}
	return columns(moving), columns(fixed), nil
}

func columns(m mat.Matrix) []Point {
	d, k := m.Dims()
	pts := make([]Point, k)
	for j := 0; j < k; j++ {
		p := make(Point, d)
		for i := 0; i < d; i++ {
			p[i] = m.At(i, j)
		}
		pts[j] = p
	}
	return pts
}

// centroid returns the mean of points.
func centroid(points []Point) Point {
	c := make(Point, len(points[0]))
	for _, p := range points {
		for i, v := range p {
			c[i] += v
		}
	}
	n := float64(len(points))
	for i := range c {
		c[i] /= n
	}
	return c
}

// fitTranslation returns the translation mapping the source centroid onto
// the target centroid.
func fitTranslation(src, dst []Point) *Affine {
	cs := centroid(src)
	cd := centroid(dst)
	t := make([]float64, len(cs))
	for i := range t {
		t[i] = cd[i] - cs[i]
	}
	return Translation(t...)
}

// fitSimilarity computes the least-squares rotation + translation (and
// uniform scale when withScale) mapping src onto dst, following Umeyama.
// A reflection in the SVD is corrected so the result is a proper rotation.
func fitSimilarity(src, dst []Point, withScale bool) (*Affine, error) {
	d := len(src[0])
	n := float64(len(src))
	cs := centroid(src)
	cd := centroid(dst)

	cov := mat.NewDense(d, d, nil)
	var srcVar float64
	for k := range src {
		for i := 0; i < d; i++ {
			di := dst[k][i] - cd[i]
			for j := 0; j < d; j++ {
				cov.Set(i, j, cov.At(i, j)+di*(src[k][j]-cs[j])/n)
			}
			si := src[k][i] - cs[i]
			srcVar += si * si / n
		}
	}
	if srcVar == 0 {
		return nil, fmt.Errorf("all source points coincide: %w", ErrDegenerateFit)
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD of cross-covariance failed: %w", ErrDegenerateFit)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)

	signs := make([]float64, d)
	for i := range signs {
		signs[i] = 1
	}
	if mat.Det(&u)*mat.Det(&v) < 0 {
		signs[d-1] = -1
	}

	var us, rot mat.Dense
	us.Mul(&u, mat.NewDiagDense(d, signs))
	rot.Mul(&us, v.T())

	scale := 1.0
	if withScale {
		var tr float64
		for i := range sigma {
			tr += sigma[i] * signs[i]
		}
		scale = tr / srcVar
		if scale <= 0 || math.IsNaN(scale) {
			return nil, fmt.Errorf("similarity scale %g: %w", scale, ErrDegenerateFit)
		}
		rot.Scale(scale, &rot)
	}

	t := make([]float64, d)
	for i := 0; i < d; i++ {
		t[i] = cd[i]
		for j := 0; j < d; j++ {
			t[i] -= rot.At(i, j) * cs[j]
		}
	}
	return NewAffine(&rot, t)
}

// fitAffine solves the least-squares affine map src → dst with QR. With
// exactly D+1 points in general position the fit interpolates.
func fitAffine(src, dst []Point) (*Affine, error) {
	d := len(src[0])
	k := len(src)
	if !spansSpace(src) {
		return nil, fmt.Errorf("source points do not span %dD: %w", d, ErrDegenerateFit)
	}

	a := mat.NewDense(k, d+1, nil)
	b := mat.NewDense(k, d, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < d; j++ {
			a.Set(i, j, src[i][j])
			b.Set(i, j, dst[i][j])
		}
		a.Set(i, d, 1)
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		return nil, fmt.Errorf("affine least squares: %v: %w", err, ErrDegenerateFit)
	}

	// x is (D+1)×D; column c holds the coefficients of output c.
	lin := mat.NewDense(d, d, nil)
	t := make([]float64, d)
	for c := 0; c < d; c++ {
		for j := 0; j < d; j++ {
			lin.Set(c, j, x.At(j, c))
		}
		t[c] = x.At(d, c)
	}
	return NewAffine(lin, t)
}
