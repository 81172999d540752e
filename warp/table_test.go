package warp

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTable returns a table whose log output is captured by the hook.
func newTestTable(t *testing.T, dim int, opts ...TableOption) (*Table, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]TableOption{WithLogger(logger.WithField("component", "warp"))}, opts...)
	tbl, err := NewTable(dim, opts...)
	require.NoError(t, err)
	return tbl, hook
}

// addPair appends one complete correspondence.
func addPair(t *testing.T, tbl *Table, moving, fixed Point) int {
	t.Helper()
	row, _, err := tbl.AddPoint(moving, Moving, true)
	require.NoError(t, err)
	frow, _, err := tbl.AddPoint(fixed, Fixed, true)
	require.NoError(t, err)
	require.Equal(t, row, frow, "pair landed on different rows")
	return row
}

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestNewTableDimension(t *testing.T) {
	for _, dim := range []int{2, 3} {
		tbl, err := NewTable(dim)
		require.NoError(t, err)
		assert.Equal(t, dim, tbl.Dim())
		assert.Equal(t, 0, tbl.Len())
		assert.Equal(t, -1, tbl.Selected())
	}
	_, err := NewTable(4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAddPointFillsNextRow(t *testing.T) {
	tbl, _ := newTestTable(t, 2)

	row, created, err := tbl.AddPoint(Point{1, 1}, Moving, true)
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	assert.True(t, created)

	row, created, err = tbl.AddPoint(Point{2, 2}, Moving, true)
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	assert.True(t, created)
	assert.Equal(t, 2, tbl.NextRow(Moving))
	assert.Equal(t, 0, tbl.NextRow(Fixed))

	row, created, err = tbl.AddPoint(Point{10, 10}, Fixed, true)
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	assert.False(t, created)
	assert.Equal(t, 1, tbl.NextRow(Fixed))

	row, _, err = tbl.AddPoint(Point{20, 20}, Fixed, true)
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	assert.Equal(t, 2, tbl.NextRow(Fixed))

	row, created, err = tbl.AddPoint(Point{30, 30}, Fixed, true)
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.True(t, created)
	assert.Equal(t, 2, tbl.NextRow(Moving))
}

func TestNextRowWrapsAround(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{0, 0}, Point{0, 0})
	addPair(t, tbl, Point{1, 1}, Point{1, 1})
	addPair(t, tbl, Point{2, 2}, Point{2, 2})

	// Clearing an earlier point sends the counter back to it.
	require.NoError(t, tbl.SetPoint(0, Moving, Unset(2), true))
	assert.Equal(t, 0, tbl.NextRow(Moving))
	assert.Equal(t, 3, tbl.NextRow(Fixed))

	row, created, err := tbl.AddPoint(Point{5, 5}, Moving, true)
	require.NoError(t, err)
	assert.Equal(t, 0, row)
	assert.False(t, created)
}

func TestRowNames(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{0, 0}, Point{0, 0})
	addPair(t, tbl, Point{1, 1}, Point{1, 1})
	rows := tbl.Rows()
	assert.Equal(t, "Pt-0", rows[0].Name)
	assert.Equal(t, "Pt-1", rows[1].Name)

	// Names are not reused after a deletion.
	require.NoError(t, tbl.DeleteRow(1))
	tbl.AddPoint(Point{2, 2}, Moving, true)
	row, err := tbl.Row(1)
	require.NoError(t, err)
	assert.Equal(t, "Pt-2", row.Name)
}

func TestActivationInvariant(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{0, 0}, Point{0, 0})
	tbl.AddPoint(Point{1, 1}, Moving, true)
	tbl.AddPoint(Point{2, 2}, Moving, true)
	tbl.AddPoint(Point{2, 2}, Fixed, true)

	// Rows: 0 active, 1 moving + fixed(2,2), 2 moving only.
	rows := tbl.Rows()
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, r.Moving.IsSet() && r.Fixed.IsSet(), r.Active, "row %d", i)
		assert.Equal(t, r.Active, tbl.IsActive(i))
	}
	assert.Equal(t, 2, tbl.NumActive())
	assert.Equal(t, 0, tbl.ActiveIndex(0))
	assert.Equal(t, 1, tbl.ActiveIndex(1))
	assert.Equal(t, -1, tbl.ActiveIndex(2))
	assert.Equal(t, -1, tbl.ActiveIndex(7))
	assert.False(t, tbl.IsActive(-1))

	require.NoError(t, tbl.SetPoint(0, Fixed, Unset(2), true))
	assert.Equal(t, -1, tbl.ActiveIndex(0))
	assert.Equal(t, 0, tbl.ActiveIndex(1), "active index stays dense")
	assert.Equal(t, 1, tbl.NumActive())
}

func TestSnapshotActive(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	m := tbl.SnapshotActive(Moving)
	r, c := m.Dims()
	assert.Zero(t, r)
	assert.Zero(t, c)

	addPair(t, tbl, Point{1, 2}, Point{10, 20})
	tbl.AddPoint(Point{3, 4}, Moving, true)
	tbl.AddPoint(Point{5, 6}, Moving, true)
	tbl.AddPoint(Point{50, 60}, Fixed, true)

	moving, fixed := tbl.SnapshotPairs()
	r, c = moving.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, []float64{1, 2}, []float64{moving.At(0, 0), moving.At(1, 0)})
	// Row 1 holds (3,4) with fixed (50,60); row 2 holds only (5,6).
	assert.Equal(t, []float64{3, 4}, []float64{moving.At(0, 1), moving.At(1, 1)})
	assert.Equal(t, []float64{50, 60}, []float64{fixed.At(0, 1), fixed.At(1, 1)})

	// Snapshots are copies.
	moving.Set(0, 0, 99)
	assert.Equal(t, 1.0, tbl.SnapshotActive(Moving).At(0, 0))
}

func TestOutOfRange(t *testing.T) {
	tbl, hook := newTestTable(t, 2)
	addPair(t, tbl, Point{0, 0}, Point{0, 0})

	assert.ErrorIs(t, tbl.SetPoint(3, Moving, Point{1, 1}, true), ErrOutOfRange)
	assert.ErrorIs(t, tbl.DeleteRow(-1), ErrOutOfRange)
	assert.ErrorIs(t, tbl.SetSelected(1), ErrOutOfRange)
	assert.ErrorIs(t, tbl.SetPoint(0, Side(5), Point{1, 1}, true), ErrOutOfRange)
	_, err := tbl.Row(9)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, _, err = tbl.AddPoint(Point{1, 1}, Side(-1), true)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, -1, tbl.NextRow(Side(2)))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 1, tbl.Len(), "failed edits leave the table alone")
}

func TestDimensionMismatch(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	_, _, err := tbl.AddPoint(Point{1, 2, 3}, Moving, true)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, -1, tbl.Nearest(Point{1, 2, 3}, Moving))
}

func TestNearest(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	assert.Equal(t, -1, tbl.Nearest(Point{0, 0}, Moving))

	tbl.AddPoint(Point{0, 0}, Moving, true)
	tbl.AddPoint(Point{10, 10}, Moving, true)
	tbl.AddPoint(Point{4, 4}, Fixed, true)

	assert.Equal(t, 1, tbl.Nearest(Point{8, 9}, Moving))
	assert.Equal(t, 0, tbl.Nearest(Point{1, -1}, Moving))
	assert.Equal(t, 0, tbl.Nearest(Point{100, 100}, Fixed), "only row 0 has a fixed point")
}

func TestSelectionFollowsRows(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	for i := 0; i < 3; i++ {
		tbl.AddPoint(Point{float64(i), 0}, Moving, true)
	}
	require.NoError(t, tbl.SetSelected(2))
	require.NoError(t, tbl.DeleteRow(0))
	assert.Equal(t, 1, tbl.Selected())
	require.NoError(t, tbl.DeleteRow(1))
	assert.Equal(t, -1, tbl.Selected())
	require.NoError(t, tbl.SetSelected(-1))
}

func TestListeners(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	var rec recorder
	id := tbl.AddListener(rec.listen)

	// Listeners run without the lock and may read the table.
	var lens []int
	tbl.AddListener(func(Event) { lens = append(lens, tbl.Len()) })

	tbl.AddPoint(Point{1, 1}, Moving, true)
	tbl.AddPoint(Point{2, 2}, Fixed, true)
	require.NoError(t, tbl.SetSelected(0))
	require.NoError(t, tbl.DeleteRow(0))

	assert.Equal(t, []EventKind{EventRowAdded, EventPointChanged, EventSelection, EventRowDeleted}, rec.kinds())
	assert.Equal(t, []int{1, 1, 1, 0}, lens)
	assert.Equal(t, tbl.Version(), rec.events[len(rec.events)-1].Version)

	assert.True(t, tbl.RemoveListener(id))
	assert.False(t, tbl.RemoveListener(id))
	tbl.AddPoint(Point{3, 3}, Moving, true)
	assert.Len(t, rec.kinds(), 4)
}

func TestPauseResumeAggregates(t *testing.T) {
	tbl, hook := newTestTable(t, 2)
	var rec recorder
	tbl.AddListener(rec.listen)

	tbl.PauseNotifications()
	tbl.PauseNotifications()
	tbl.AddPoint(Point{1, 1}, Moving, true)
	tbl.AddPoint(Point{2, 2}, Moving, true)
	tbl.ResumeNotifications()
	assert.Empty(t, rec.kinds(), "inner resume stays silent")
	tbl.AddPoint(Point{3, 3}, Moving, true)
	tbl.ResumeNotifications()
	assert.Equal(t, []EventKind{EventBulk}, rec.kinds())

	// Nothing changed: no bulk event.
	tbl.PauseNotifications()
	tbl.ResumeNotifications()
	assert.Len(t, rec.kinds(), 1)

	hook.Reset()
	tbl.ResumeNotifications()
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestVersion(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	v0 := tbl.Version()
	tbl.AddPoint(Point{1, 1}, Moving, true)
	v1 := tbl.Version()
	assert.Greater(t, v1, v0)
	require.NoError(t, tbl.SetSelected(0))
	assert.Equal(t, v1, tbl.Version(), "selection is not a data change")
}

func TestTableSolveUnderdetermined(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{0, 0}, Point{0, 0})
	tbl.AddPoint(Point{5, 5}, Moving, true)

	_, err := tbl.Solve(ModelAffine)
	var ue *UnderdeterminedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 3, ue.Required)
	assert.Equal(t, 1, ue.Got)
}

func TestTransformCache(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{1, 1}, Point{0, 0})
	addPair(t, tbl, Point{2, 1}, Point{1, 0})
	addPair(t, tbl, Point{1, 2}, Point{0, 1})

	a, err := tbl.Transform(ModelAffine)
	require.NoError(t, err)
	b, err := tbl.Transform(ModelAffine)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.True(t, pointsEqual(a.Apply(Point{5, 5}), Point{6, 6}))

	c, err := tbl.Transform(ModelTranslation)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	require.NoError(t, tbl.SetPoint(0, Moving, Point{1.5, 1}, true))
	d, err := tbl.Transform(ModelTranslation)
	require.NoError(t, err)
	assert.NotSame(t, c, d)
}

// stubInverter reports a fixed residual and can run a hook mid-inversion.
type stubInverter struct {
	*ModelTransform
	residual float64
	during   func()
}

func (s *stubInverter) InverseWithOptions(p Point, opts InverseOptions) InverseResult {
	if s.during != nil {
		s.during()
	}
	return InverseResult{Point: s.ApplyInverse(p), Error: s.residual, Converged: s.residual <= opts.Tolerance}
}

func previewTable(t *testing.T) (*Table, *logtest.Hook) {
	tbl, hook := newTestTable(t, 2)
	addPair(t, tbl, Point{1, 1}, Point{0, 0})
	addPair(t, tbl, Point{2, 1}, Point{1, 0})
	addPair(t, tbl, Point{1, 2}, Point{0, 1})
	tbl.AddPoint(Point{7, 4}, Moving, true)
	return tbl, hook
}

func TestUpdateWarpedPoints(t *testing.T) {
	tbl, _ := previewTable(t)
	var rec recorder
	tbl.AddListener(rec.listen)

	tr, err := tbl.Transform(ModelTranslation)
	require.NoError(t, err)
	v := tbl.Version()

	n, ok := tbl.UpdateWarpedPoints(tr, tbl.PreviewInverse())
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, v, tbl.Version(), "previews do not bump the version")
	assert.Equal(t, []EventKind{EventPreview}, rec.kinds())

	warped := tbl.WarpedPoints()
	require.Len(t, warped, 4)
	assert.False(t, warped[0].IsSet())
	assert.True(t, pointsEqual(warped[3], Point{6, 3}))
	row, err := tbl.Row(3)
	require.NoError(t, err)
	assert.False(t, row.Unreliable)

	// Setting the fixed point drops the preview.
	require.NoError(t, tbl.SetPoint(3, Fixed, Point{6, 3}, true))
	assert.False(t, tbl.WarpedPoints()[3].IsSet())
}

func TestUpdateWarpedPointsUnreliable(t *testing.T) {
	tbl, hook := previewTable(t)
	tr, err := tbl.Transform(ModelTranslation)
	require.NoError(t, err)
	stub := &stubInverter{ModelTransform: tr.(*ModelTransform), residual: 3}

	n, ok := tbl.UpdateWarpedPoints(stub, DefaultPreviewInverse())
	require.True(t, ok)
	assert.Equal(t, 1, n)
	row, err := tbl.Row(3)
	require.NoError(t, err)
	assert.True(t, row.HasWarped)
	assert.True(t, row.Unreliable)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 1, hook.LastEntry().Data["unreliable"])
}

func TestUpdateWarpedPointsDiscardsStale(t *testing.T) {
	tbl, _ := previewTable(t)
	tr, err := tbl.Transform(ModelTranslation)
	require.NoError(t, err)
	stub := &stubInverter{
		ModelTransform: tr.(*ModelTransform),
		during: func() {
			// An edit lands while the inverse runs without the lock.
			_ = tbl.SetPoint(0, Moving, Point{1.1, 1}, true)
		},
	}
	n, ok := tbl.UpdateWarpedPoints(stub, DefaultPreviewInverse())
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.False(t, tbl.WarpedPoints()[3].IsSet())
}

func TestSetWarpedPoint(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	tbl.AddPoint(Point{4, 4}, Fixed, true)
	require.NoError(t, tbl.SetWarpedPoint(0, Moving, Point{5, 5}, Point{4, 4}, true))
	row, err := tbl.Row(0)
	require.NoError(t, err)
	assert.True(t, row.Active)
	assert.True(t, row.HasWarped)
	assert.Equal(t, Point{4, 4}, row.Warped)

	assert.True(t, tbl.Undo())
	row, err = tbl.Row(0)
	require.NoError(t, err)
	assert.False(t, row.Moving.IsSet())
}

func TestInvert(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{1, 2}, Point{3, 4})
	tbl.AddPoint(Point{5, 6}, Moving, true)

	inv, err := tbl.Invert()
	require.NoError(t, err)
	rows := inv.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, Point{3, 4}, rows[0].Moving)
	assert.Equal(t, Point{1, 2}, rows[0].Fixed)
	assert.True(t, rows[0].Active)
	assert.Equal(t, Point{5, 6}, rows[1].Fixed)
	assert.False(t, rows[1].Moving.IsSet())
	assert.Equal(t, "Pt-1", rows[1].Name)
	assert.False(t, inv.CanUndo())
	assert.Equal(t, 1, inv.NextRow(Moving))

	// The copy is independent.
	require.NoError(t, inv.DeleteRow(0))
	assert.Equal(t, 2, tbl.Len())

	// New rows in the copy keep unique names.
	inv.AddPoint(Point{0, 0}, Fixed, true)
	last, err := inv.Row(inv.Len() - 1)
	require.NoError(t, err)
	assert.Equal(t, "Pt-2", last.Name)
}

func TestTableConcurrentAccess(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				side := Side(i % 2)
				tbl.AddPoint(Point{float64(g), float64(i)}, side, i%3 == 0)
				_ = tbl.Rows()
				_ = tbl.NumActive()
			}
		}(g)
	}
	wg.Wait()

	rows := tbl.Rows()
	active := 0
	for _, r := range rows {
		assert.Equal(t, r.Moving.IsSet() && r.Fixed.IsSet(), r.Active)
		if r.Active {
			active++
		}
	}
	assert.Equal(t, active, tbl.NumActive())
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "bulk", EventBulk.String())
	assert.Equal(t, "EventKind(99)", EventKind(99).String())
}
