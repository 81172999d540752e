package warp

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// pointMatrix packs points as the columns of a D×K matrix.
func pointMatrix(pts ...Point) *mat.Dense {
	m := mat.NewDense(len(pts[0]), len(pts), nil)
	for j, p := range pts {
		for i, v := range p {
			m.Set(i, j, v)
		}
	}
	return m
}

// assertReproduces checks Apply(fixed[i]) ≈ moving[i] for every column.
func assertReproduces(t *testing.T, tr Transform, moving, fixed *mat.Dense) {
	t.Helper()
	res, err := Residuals(tr, moving, fixed)
	require.NoError(t, err)
	for i, r := range res {
		assert.Less(t, r, epsilon, "correspondence %d residual", i)
	}
}

func TestSolveRotationScenario(t *testing.T) {
	moving := pointMatrix(Point{0, 0}, Point{-1, 0}, Point{0, 1}, Point{1, 0}, Point{0, -1})
	fixed := pointMatrix(Point{0, 0}, Point{0, 1}, Point{1, 0}, Point{0, -1}, Point{-1, 0})

	tr, err := Solve(ModelSimilarity, moving, fixed)
	require.NoError(t, err)
	mt, ok := tr.(*ModelTransform)
	require.True(t, ok)

	want := [][]float64{{0, -1, 0}, {1, 0, 0}}
	got := mt.Affine().Rows()
	for i := range want {
		for j := range want[i] {
			if !almostEqual(got[i][j], want[i][j]) {
				t.Errorf("affine[%d][%d] = %v, want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
	assertReproduces(t, tr, moving, fixed)
}

func TestSolveExactFitAtMinimum(t *testing.T) {
	truth2D := Translation(3, -2).Compose(RotationDeg(25)).Compose(Scale(1.5, 1.5))
	shear, err := NewAffine(mat.NewDense(3, 3, []float64{1.2, 0.3, 0, -0.1, 0.9, 0.2, 0.05, 0, 1.1}), []float64{1, 2, 3})
	require.NoError(t, err)

	fixed2D := []Point{{0, 0}, {4, 1}, {1, 3}}
	fixed3D := []Point{{0, 0, 0}, {2, 0, 1}, {0, 3, 0}, {1, 1, 4}}

	tests := []struct {
		name  string
		model Model
		truth *Affine
		fixed []Point
	}{
		{"translation 2D", ModelTranslation, Translation(5, -1), fixed2D[:1]},
		{"translation 3D", ModelTranslation, Translation(1, 2, 3), fixed3D[:1]},
		{"rigid 2D", ModelRigid, Translation(3, -2).Compose(RotationDeg(25)), fixed2D[:2]},
		{"similarity 2D", ModelSimilarity, truth2D, fixed2D[:2]},
		{"affine 2D", ModelAffine, Translation(1, 1).Compose(Scale(2, 0.5)), fixed2D},
		{"affine 3D", ModelAffine, shear, fixed3D},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.fixed, tt.model.MinPoints(tt.truth.Dim()))
			moving := pointMatrix(TransformPoints(tt.truth, tt.fixed)...)
			fixed := pointMatrix(tt.fixed...)
			tr, err := Solve(tt.model, moving, fixed)
			require.NoError(t, err)
			assertReproduces(t, tr, moving, fixed)
		})
	}
}

func TestSolveRigid3D(t *testing.T) {
	// Rotation of 90 degrees around z plus a translation.
	truth, err := NewAffine(mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1}), []float64{1, 2, 3})
	require.NoError(t, err)
	fixedPts := []Point{{0, 0, 0}, {1, 0, 0}, {0, 2, 1}}
	moving := pointMatrix(TransformPoints(truth, fixedPts)...)
	fixed := pointMatrix(fixedPts...)

	tr, err := Solve(ModelRigid, moving, fixed)
	require.NoError(t, err)
	assertReproduces(t, tr, moving, fixed)
	assert.True(t, pointsEqual(tr.Apply(Point{5, 5, 5}), truth.Apply(Point{5, 5, 5})))
}

func TestSolveRigidRejectsReflection(t *testing.T) {
	// A mirror image cannot be reproduced by a proper rotation.
	fixedPts := []Point{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	movingPts := []Point{{-1, 0}, {0, 1}, {1, 0}, {0, -1}}
	tr, err := Solve(ModelRigid, pointMatrix(movingPts...), pointMatrix(fixedPts...))
	require.NoError(t, err)
	a := tr.(*ModelTransform).Affine()
	assert.InDelta(t, 1.0, mat.Det(a.Linear()), 1e-9)
}

func TestSolveLeastSquares(t *testing.T) {
	// Noisy translation: the fit is the mean offset.
	fixed := pointMatrix(Point{0, 0}, Point{1, 0}, Point{0, 1})
	moving := pointMatrix(Point{1, 1}, Point{2.2, 1}, Point{1, 1.9})
	tr, err := Solve(ModelTranslation, moving, fixed)
	require.NoError(t, err)
	got := tr.Apply(Point{0, 0})
	assert.InDelta(t, 1.0+0.2/3, got[0], 1e-12)
	assert.InDelta(t, 1.0-0.1/3, got[1], 1e-12)
}

func TestSolveTPSInterpolates(t *testing.T) {
	fixedPts := []Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 5}, {2, 7}}
	movingPts := []Point{{1, 0}, {11, 1}, {0, 12}, {9, 11}, {5.5, 4.5}, {2, 8}}
	moving, fixed := pointMatrix(movingPts...), pointMatrix(fixedPts...)

	tr, err := Solve(ModelTPS, moving, fixed)
	require.NoError(t, err)
	assertReproduces(t, tr, moving, fixed)

	// The moving→fixed view maps each moving landmark back to its fixed one.
	for i, m := range movingPts {
		got := tr.Inverse().Apply(m)
		assert.InDelta(t, 0, got.Distance(fixedPts[i]), 1e-6, "landmark %d", i)
	}
}

func TestSolveUnderdetermined(t *testing.T) {
	tests := []struct {
		model Model
		dim   int
		k     int
		need  int
	}{
		{ModelTranslation, 2, 0, 1},
		{ModelRigid, 2, 1, 2},
		{ModelSimilarity, 3, 2, 3},
		{ModelAffine, 2, 2, 3},
		{ModelAffine, 3, 3, 4},
		{ModelTPS, 3, 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.model.String(), func(t *testing.T) {
			moving := mat.NewDense(tt.dim, max(tt.k, 1), nil)
			fixed := mat.NewDense(tt.dim, max(tt.k, 1), nil)
			if tt.k == 0 {
				moving, fixed = &mat.Dense{}, &mat.Dense{}
			}
			_, err := Solve(tt.model, moving, fixed)
			require.ErrorIs(t, err, ErrUnderdetermined)
			if tt.k == 0 {
				return
			}
			var ue *UnderdeterminedError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.need, ue.Required)
			assert.Equal(t, tt.k, ue.Got)
			assert.Contains(t, err.Error(), tt.model.String())
		})
	}
}

func TestSolveDegenerate(t *testing.T) {
	collinear := pointMatrix(Point{0, 0}, Point{1, 1}, Point{2, 2})
	_, err := Solve(ModelAffine, collinear, collinear)
	assert.ErrorIs(t, err, ErrDegenerateFit)

	same := pointMatrix(Point{1, 1}, Point{1, 1})
	_, err = Solve(ModelSimilarity, same, same)
	assert.ErrorIs(t, err, ErrDegenerateFit)
}

func TestSolveDimensionMismatch(t *testing.T) {
	_, err := Solve(ModelAffine, mat.NewDense(2, 3, nil), mat.NewDense(2, 4, nil))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSolveMasked(t *testing.T) {
	fixedPts := []Point{{0, 0}, {10, 0}, {0, 10}, {10, 10}, {5, 5}}
	movingPts := []Point{{0, 0}, {10, 0.5}, {0.5, 10}, {10, 10}, {5, 5.5}}
	moving, fixed := pointMatrix(movingPts...), pointMatrix(fixedPts...)

	w := RadialFalloff{Center: Point{5, 5}, Radius: 1, Width: 2}
	b, err := SolveMasked(ModelSimilarity, ModelTPS, w, moving, fixed, DefaultSolveOptions())
	require.NoError(t, err)

	local, err := Solve(ModelSimilarity, moving, fixed)
	require.NoError(t, err)
	global, err := Solve(ModelTPS, moving, fixed)
	require.NoError(t, err)

	assert.True(t, pointsEqual(b.Apply(Point{5, 5.5}), local.Apply(Point{5, 5.5})))
	assert.True(t, pointsEqual(b.Apply(Point{0, 10}), global.Apply(Point{0, 10})))
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		in      string
		want    Model
		wantErr bool
	}{
		{"tps", ModelTPS, false},
		{"Thin-Plate-Spline", ModelTPS, false},
		{"rotation", ModelRigid, false},
		{" affine ", ModelAffine, false},
		{"similarity", ModelSimilarity, false},
		{"translation", ModelTranslation, false},
		{"bspline", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseModel(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownModel)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestModelText(t *testing.T) {
	var m Model
	require.NoError(t, m.UnmarshalText([]byte("similarity")))
	text, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "similarity", string(text))
	assert.Equal(t, "Model(42)", Model(42).String())
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, math.Sqrt(12.5), RMS([]float64{3, 4}), 1e-12)
}
