package warp

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// EventKind classifies a table change notification.
type EventKind int

const (
	EventRowAdded EventKind = iota
	EventPointChanged
	EventRowDeleted
	EventReset
	// EventBulk is fired once by the outermost ResumeNotifications when the
	// table changed while notifications were paused.
	EventBulk
	EventPreview
	EventSelection
)

var eventNames = [...]string{
	EventRowAdded:     "row-added",
	EventPointChanged: "point-changed",
	EventRowDeleted:   "row-deleted",
	EventReset:        "reset",
	EventBulk:         "bulk",
	EventPreview:      "preview",
	EventSelection:    "selection",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventNames[k]
}

// Event describes one change. Row is -1 when the change is not tied to a
// single row.
type Event struct {
	Kind    EventKind
	Row     int
	Side    Side
	Version uint64
}

type listener struct {
	id int
	fn func(Event)
}

type pointKey struct {
	row  int
	side Side
}

type cachedTransform struct {
	ok      bool
	model   Model
	version uint64
	t       InvertibleTransform
	err     error
}

// Table is an ordered set of landmark correspondences between a moving and a
// fixed space. All methods are safe for concurrent use; listeners run on the
// mutating goroutine after the table lock is released.
type Table struct {
	mu sync.Mutex

	dim         int
	rows        []Row
	activeIndex []int
	numActive   int
	nextRow     [2]int
	nameSeq     int
	selected    int
	version     uint64

	undo []command
	redo []command
	// dragOrigin holds the value a point had before a run of non-undoable
	// edits, so the closing undoable edit records the whole drag.
	dragOrigin map[pointKey]Point

	listeners  []listener
	listenerID int
	paused     int
	pending    bool

	cache cachedTransform

	log         *logrus.Entry
	previewOpts InverseOptions
	solveOpts   SolveOptions
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithLogger sets the entry used for table diagnostics.
func WithLogger(log *logrus.Entry) TableOption {
	return func(t *Table) {
		if log != nil {
			t.log = log
		}
	}
}

// WithPreviewInverse sets the inverse parameters used for warped previews.
func WithPreviewInverse(opts InverseOptions) TableOption {
	return func(t *Table) { t.previewOpts = opts }
}

// WithSolveOptions sets the options passed to the solver by Solve and
// Transform.
func WithSolveOptions(opts SolveOptions) TableOption {
	return func(t *Table) { t.solveOpts = opts }
}

// tableLogger returns the entry a table built with opts would log to.
func tableLogger(opts ...TableOption) *logrus.Entry {
	t := &Table{log: logrus.StandardLogger().WithField("component", "warp")}
	for _, opt := range opts {
		opt(t)
	}
	return t.log
}

// NewTable creates an empty table of dimension 2 or 3.
func NewTable(dim int, opts ...TableOption) (*Table, error) {
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("table dimension %d: %w", dim, ErrDimensionMismatch)
	}
	t := &Table{
		dim:         dim,
		selected:    -1,
		dragOrigin:  make(map[pointKey]Point),
		log:         logrus.StandardLogger().WithField("component", "warp"),
		previewOpts: DefaultPreviewInverse(),
		solveOpts:   DefaultSolveOptions(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Dim returns the dimensionality shared by all points of the table.
func (t *Table) Dim() int { return t.dim }

// PreviewInverse returns the inverse parameters configured for previews.
func (t *Table) PreviewInverse() InverseOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previewOpts
}

// AddPoint writes p on side into the next row missing a point on that side,
// or appends a new row when every row already has one.
func (t *Table) AddPoint(p Point, side Side, undoable bool) (row int, created bool, err error) {
	err = t.mutate(func() (Event, error) {
		if err := t.checkSide(side); err != nil {
			return Event{}, err
		}
		if err := t.checkPoint(p); err != nil {
			return Event{}, err
		}
		row = t.nextRow[side]
		created = row >= len(t.rows) || t.rows[row].Point(side).IsSet()
		var cmd command
		if created {
			row = len(t.rows)
			r := t.newRowLocked("")
			r.setPoint(side, p.Clone())
			t.insertRowLocked(row, r)
			cmd = &addRowCmd{index: row, point: p.Clone(), side: side, name: r.Name}
		} else {
			old := t.rows[row].Point(side).Clone()
			t.setPointLocked(row, side, p)
			cmd = &modifyPointCmd{index: row, side: side, old: old, new: p.Clone()}
		}
		t.refreshLocked()
		t.recordLocked(cmd, undoable)
		if created {
			return Event{Kind: EventRowAdded, Row: row, Side: side}, nil
		}
		return Event{Kind: EventPointChanged, Row: row, Side: side}, nil
	})
	if err != nil {
		return -1, false, err
	}
	return row, created, nil
}

// SetPoint overwrites the point of row on side. A run of non-undoable edits
// followed by an undoable one is recorded as a single modification from the
// value before the run.
func (t *Table) SetPoint(row int, side Side, p Point, undoable bool) error {
	return t.mutate(func() (Event, error) {
		return t.setLocked(row, side, p, undoable)
	})
}

// SetWarpedPoint is SetPoint for a point obtained by transforming the row's
// point on the opposite side. preview is cached as the row's warped preview.
func (t *Table) SetWarpedPoint(row int, side Side, p, preview Point, undoable bool) error {
	return t.mutate(func() (Event, error) {
		ev, err := t.setLocked(row, side, p, undoable)
		if err != nil {
			return ev, err
		}
		r := &t.rows[row]
		r.Warped = preview.Clone()
		r.HasWarped = preview.IsSet()
		r.Unreliable = false
		return ev, nil
	})
}

func (t *Table) setLocked(row int, side Side, p Point, undoable bool) (Event, error) {
	if err := t.checkRow(row, "set point"); err != nil {
		return Event{}, err
	}
	if err := t.checkSide(side); err != nil {
		return Event{}, err
	}
	if err := t.checkPoint(p); err != nil {
		return Event{}, err
	}
	key := pointKey{row: row, side: side}
	old, dragging := t.dragOrigin[key]
	if !dragging {
		old = t.rows[row].Point(side).Clone()
	}
	if undoable {
		delete(t.dragOrigin, key)
	} else if !dragging {
		t.dragOrigin[key] = old
	}
	t.setPointLocked(row, side, p)
	t.refreshLocked()
	t.recordLocked(&modifyPointCmd{index: row, side: side, old: old, new: p.Clone()}, undoable)
	return Event{Kind: EventPointChanged, Row: row, Side: side}, nil
}

// DeleteRow removes a row and renumbers the rows after it. Deletion is
// always undoable.
func (t *Table) DeleteRow(row int) error {
	return t.mutate(func() (Event, error) {
		if err := t.checkRow(row, "delete"); err != nil {
			return Event{}, err
		}
		t.deleteLocked(row)
		t.refreshLocked()
		return Event{Kind: EventRowDeleted, Row: row}, nil
	})
}

func (t *Table) deleteLocked(row int) {
	r := t.removeRowLocked(row)
	t.recordLocked(&deleteRowCmd{index: row, moving: r.Moving.Clone(), fixed: r.Fixed.Clone(), name: r.Name}, true)
}

// Clear deletes every row, last first. Each deletion is its own undo step.
func (t *Table) Clear() {
	_ = t.mutate(func() (Event, error) {
		for i := len(t.rows) - 1; i >= 0; i-- {
			t.deleteLocked(i)
		}
		t.refreshLocked()
		return Event{Kind: EventReset, Row: -1}, nil
	})
}

// Undo reverts the most recent undoable mutation. It reports false when
// there is nothing to undo.
func (t *Table) Undo() bool {
	return t.replay(true)
}

// Redo reapplies the most recently undone mutation.
func (t *Table) Redo() bool {
	return t.replay(false)
}

func (t *Table) replay(undo bool) bool {
	done := false
	err := t.mutate(func() (Event, error) {
		from, to := &t.redo, &t.undo
		if undo {
			from, to = &t.undo, &t.redo
		}
		if len(*from) == 0 {
			return Event{}, errNothingToReplay
		}
		cmd := (*from)[len(*from)-1]
		*from = (*from)[:len(*from)-1]

		var ev Event
		var err error
		if undo {
			ev, err = cmd.revert(t)
		} else {
			ev, err = cmd.apply(t)
		}
		if err != nil {
			t.log.WithError(err).WithField("command", cmd.String()).Error("undo log is inconsistent with the table, discarding history")
			t.undo, t.redo = nil, nil
			t.refreshLocked()
			return Event{Kind: EventReset, Row: -1}, nil
		}
		*to = append(*to, cmd)
		clear(t.dragOrigin)
		t.refreshLocked()
		done = true
		return ev, nil
	})
	return err == nil && done
}

// CanUndo reports whether Undo would do anything.
func (t *Table) CanUndo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.undo) > 0
}

// CanRedo reports whether Redo would do anything.
func (t *Table) CanRedo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.redo) > 0
}

// Nearest returns the row whose point on side is closest to p, or -1 when no
// row has a point on that side.
func (t *Table) Nearest(p Point, side Side) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) != t.dim {
		return -1
	}
	best := -1
	var bestDist float64
	for i := range t.rows {
		q := t.rows[i].Point(side)
		if !q.IsSet() {
			continue
		}
		if d := q.DistanceSq(p); best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// SnapshotActive returns the points of the active rows on side as a D×K
// matrix in active-index order. It is empty when no row is active.
func (t *Table) SnapshotActive(side Side) *mat.Dense {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(side)
}

// SnapshotPairs returns both sides of the active correspondences from one
// consistent state of the table.
func (t *Table) SnapshotPairs() (moving, fixed *mat.Dense) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(Moving), t.snapshotLocked(Fixed)
}

func (t *Table) snapshotLocked(side Side) *mat.Dense {
	if t.numActive == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(t.dim, t.numActive, nil)
	for i := range t.rows {
		k := t.activeIndex[i]
		if k < 0 {
			continue
		}
		p := t.rows[i].Point(side)
		for c := 0; c < t.dim; c++ {
			m.Set(c, k, p[c])
		}
	}
	return m
}

// Solve fits model to the active correspondences. The lock is held only
// while the correspondences are copied.
func (t *Table) Solve(model Model) (InvertibleTransform, error) {
	tr, _, err := t.solveSnapshot(model)
	return tr, err
}

func (t *Table) solveSnapshot(model Model) (InvertibleTransform, uint64, error) {
	t.mu.Lock()
	d, k, version, opts := t.dim, t.numActive, t.version, t.solveOpts
	need := model.MinPoints(d)
	var moving, fixed *mat.Dense
	if k >= need {
		moving, fixed = t.snapshotLocked(Moving), t.snapshotLocked(Fixed)
	}
	t.mu.Unlock()

	if moving == nil {
		return nil, version, &UnderdeterminedError{Model: model, Dim: d, Required: need, Got: k}
	}
	tr, err := SolveWithOptions(model, moving, fixed, opts)
	return tr, version, err
}

// Transform returns the transform for model, re-solving only when the table
// changed since the last call for the same model.
func (t *Table) Transform(model Model) (InvertibleTransform, error) {
	t.mu.Lock()
	c := t.cache
	version := t.version
	t.mu.Unlock()
	if c.ok && c.model == model && c.version == version {
		return c.t, c.err
	}

	tr, solvedAt, err := t.solveSnapshot(model)
	t.mu.Lock()
	if !t.cache.ok || t.cache.version <= solvedAt {
		t.cache = cachedTransform{ok: true, model: model, version: solvedAt, t: tr, err: err}
	}
	t.mu.Unlock()
	return tr, err
}

type previewJob struct {
	row      int
	moving   Point
	warped   Point
	reliable bool
}

// UpdateWarpedPoints computes the fixed-space preview of every row whose
// moving point is set and fixed point is not. The inverse runs without the
// lock; results are discarded when the table changed meanwhile. It returns
// the number of previews written and whether they were written at all.
func (t *Table) UpdateWarpedPoints(tr InvertibleTransform, opts InverseOptions) (int, bool) {
	t.mu.Lock()
	version := t.version
	var jobs []previewJob
	for i := range t.rows {
		r := &t.rows[i]
		if r.Moving.IsSet() && !r.Fixed.IsSet() {
			jobs = append(jobs, previewJob{row: i, moving: r.Moving.Clone()})
		}
	}
	t.mu.Unlock()

	for i := range jobs {
		jobs[i].warped, jobs[i].reliable = previewPoint(tr, jobs[i].moving, opts)
	}

	var notify func()
	t.mu.Lock()
	if t.version != version {
		t.mu.Unlock()
		t.log.WithField("version", version).Debug("table changed during preview update, discarding")
		return 0, false
	}
	unreliable := 0
	for _, j := range jobs {
		r := &t.rows[j.row]
		r.Warped = j.warped
		r.HasWarped = true
		r.Unreliable = !j.reliable
		if !j.reliable {
			unreliable++
		}
	}
	notify = func() {}
	if len(jobs) > 0 {
		notify = t.emitLocked(Event{Kind: EventPreview, Row: -1})
	}
	t.mu.Unlock()
	notify()

	if unreliable > 0 {
		t.log.WithFields(logrus.Fields{"previews": len(jobs), "unreliable": unreliable}).Warn("some warped previews did not converge")
	}
	return len(jobs), true
}

func previewPoint(tr InvertibleTransform, p Point, opts InverseOptions) (Point, bool) {
	if it, ok := tr.(IterativeInverter); ok {
		res := it.InverseWithOptions(p, opts)
		return res.Point, res.Reliable(opts)
	}
	q := tr.ApplyInverse(p)
	return q, q.IsSet()
}

// Invert returns an independent table with the moving and fixed sides of
// every row swapped. The new table has no undo history.
func (t *Table) Invert() (*Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, err := NewTable(t.dim,
		WithLogger(t.log),
		WithPreviewInverse(t.previewOpts),
		WithSolveOptions(t.solveOpts))
	if err != nil {
		return nil, err
	}
	inv.rows = make([]Row, len(t.rows))
	for i, r := range t.rows {
		inv.rows[i] = Row{Name: r.Name, Moving: r.Fixed.Clone(), Fixed: r.Moving.Clone()}
	}
	inv.nameSeq = t.nameSeq
	inv.refreshLocked()
	return inv, nil
}

// Points returns a copy of every row's point on side, unset points included.
func (t *Table) Points(side Side) []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Point, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i].Point(side).Clone()
	}
	return out
}

// WarpedPoints returns every row's cached preview, or an unset point for
// rows without one.
func (t *Table) WarpedPoints() []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Point, len(t.rows))
	for i := range t.rows {
		if t.rows[i].HasWarped {
			out[i] = t.rows[i].Warped.Clone()
		} else {
			out[i] = Unset(t.dim)
		}
	}
	return out
}

// IsActive reports whether row has both points set. Out of range rows are
// inactive.
func (t *Table) IsActive(row int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return row >= 0 && row < len(t.rows) && t.rows[row].Active
}

// ActiveIndex returns the dense active index of row, or -1.
func (t *Table) ActiveIndex(row int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.activeIndex) {
		return -1
	}
	return t.activeIndex[row]
}

// Row returns a copy of one row.
func (t *Table) Row(row int) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkRow(row, "read"); err != nil {
		return Row{}, err
	}
	return t.rows[row].clone(), nil
}

// Rows returns a copy of every row.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, len(t.rows))
	for i := range t.rows {
		out[i] = t.rows[i].clone()
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// NumActive returns the number of active rows.
func (t *Table) NumActive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numActive
}

// NextRow returns the row AddPoint will write to on side; Len() means a new
// row will be appended.
func (t *Table) NextRow(side Side) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !side.valid() {
		return -1
	}
	return t.nextRow[side]
}

// Version increases on every change to point data or row existence.
func (t *Table) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Selected returns the selected row, or -1.
func (t *Table) Selected() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

// SetSelected selects row; -1 clears the selection.
func (t *Table) SetSelected(row int) error {
	return t.mutate(func() (Event, error) {
		if row != -1 {
			if err := t.checkRow(row, "select"); err != nil {
				return Event{}, err
			}
		}
		t.selected = row
		return Event{Kind: EventSelection, Row: row}, nil
	})
}

// AddListener registers fn and returns an id for RemoveListener.
func (t *Table) AddListener(fn func(Event)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listenerID++
	t.listeners = append(t.listeners, listener{id: t.listenerID, fn: fn})
	return t.listenerID
}

// RemoveListener unregisters a listener. It reports whether id was known.
func (t *Table) RemoveListener(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = slices.Delete(t.listeners, i, i+1)
			return true
		}
	}
	return false
}

// PauseNotifications suppresses listener calls until the matching
// ResumeNotifications. Calls nest.
func (t *Table) PauseNotifications() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused++
}

// ResumeNotifications ends one PauseNotifications. The outermost resume
// fires a single EventBulk if anything changed while paused.
func (t *Table) ResumeNotifications() {
	notify := func() {}
	t.mu.Lock()
	switch {
	case t.paused == 0:
		t.log.Warn("ResumeNotifications without matching PauseNotifications")
	default:
		t.paused--
		if t.paused == 0 && t.pending {
			t.pending = false
			notify = t.emitLocked(Event{Kind: EventBulk, Row: -1})
		}
	}
	t.mu.Unlock()
	notify()
}

// mutate runs fn under the lock and then notifies listeners without it.
func (t *Table) mutate(fn func() (Event, error)) error {
	notify, err := t.mutateLocked(fn)
	if err != nil {
		return err
	}
	notify()
	return nil
}

func (t *Table) mutateLocked(fn func() (Event, error)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev, err := fn()
	if err != nil {
		return nil, err
	}
	return t.emitLocked(ev), nil
}

// emitLocked returns a function delivering ev to the current listeners, or a
// no-op while notifications are paused.
func (t *Table) emitLocked(ev Event) func() {
	if t.paused > 0 {
		t.pending = true
		return func() {}
	}
	ev.Version = t.version
	fns := make([]func(Event), len(t.listeners))
	for i, l := range t.listeners {
		fns[i] = l.fn
	}
	return func() {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (t *Table) checkRow(row int, op string) error {
	if row < 0 || row >= len(t.rows) {
		t.log.WithFields(logrus.Fields{"op": op, "row": row, "rows": len(t.rows)}).Warn("row index out of range")
		return fmt.Errorf("%s: row %d of %d: %w", op, row, len(t.rows), ErrOutOfRange)
	}
	return nil
}

func (t *Table) checkSide(side Side) error {
	if !side.valid() {
		t.log.WithField("side", int(side)).Warn("side out of range")
		return fmt.Errorf("side %d: %w", int(side), ErrOutOfRange)
	}
	return nil
}

func (t *Table) checkPoint(p Point) error {
	if len(p) != t.dim {
		return fmt.Errorf("%dD point in a %dD table: %w", len(p), t.dim, ErrDimensionMismatch)
	}
	return nil
}

// newRowLocked returns an empty row; an empty name draws the next Pt-N.
func (t *Table) newRowLocked(name string) Row {
	if name == "" {
		name = "Pt-" + strconv.Itoa(t.nameSeq)
		t.nameSeq++
	}
	return Row{Name: name, Moving: Unset(t.dim), Fixed: Unset(t.dim)}
}

// noteNameLocked keeps generated names from colliding with loaded ones.
func (t *Table) noteNameLocked(name string) {
	rest, ok := strings.CutPrefix(name, "Pt-")
	if !ok {
		return
	}
	if n, err := strconv.Atoi(rest); err == nil && n >= t.nameSeq {
		t.nameSeq = n + 1
	}
}

func (t *Table) insertRowLocked(index int, r Row) {
	t.rows = slices.Insert(t.rows, index, r)
	if t.selected >= index {
		t.selected++
	}
	t.shiftDragLocked(index, 1)
}

func (t *Table) removeRowLocked(index int) Row {
	r := t.rows[index]
	t.rows = slices.Delete(t.rows, index, index+1)
	switch {
	case t.selected == index:
		t.selected = -1
	case t.selected > index:
		t.selected--
	}
	for side := Moving; side <= Fixed; side++ {
		delete(t.dragOrigin, pointKey{row: index, side: side})
	}
	t.shiftDragLocked(index+1, -1)
	return r
}

// shiftDragLocked renumbers the drag origins of rows at or after index by
// delta so an in-progress drag survives inserts and deletes elsewhere.
func (t *Table) shiftDragLocked(index, delta int) {
	if len(t.dragOrigin) == 0 {
		return
	}
	moved := make(map[pointKey]Point, len(t.dragOrigin))
	for k, p := range t.dragOrigin {
		if k.row >= index {
			k.row += delta
		}
		moved[k] = p
	}
	t.dragOrigin = moved
}

func (t *Table) setPointLocked(index int, side Side, p Point) {
	r := &t.rows[index]
	r.setPoint(side, p.Clone())
	r.HasWarped = false
	r.Warped = nil
	r.Unreliable = false
}

// replaceLocked swaps in a new set of rows and drops the undo history.
func (t *Table) replaceLocked(rows []Row) {
	t.rows = rows
	t.undo, t.redo = nil, nil
	t.selected = -1
	t.nextRow = [2]int{}
	clear(t.dragOrigin)
	for i := range rows {
		t.noteNameLocked(rows[i].Name)
	}
	t.refreshLocked()
}

// recordLocked pushes cmd when undoable. Any new edit invalidates the redo
// stack.
func (t *Table) recordLocked(cmd command, undoable bool) {
	if undoable {
		t.undo = append(t.undo, cmd)
	}
	t.redo = nil
}

// refreshLocked re-derives activation and the next-row counters, and bumps
// the version.
func (t *Table) refreshLocked() {
	t.recomputeActivationLocked()
	t.updateNextRowLocked(Moving)
	t.updateNextRowLocked(Fixed)
	t.version++
}

func (t *Table) recomputeActivationLocked() {
	n := len(t.rows)
	if cap(t.activeIndex) < n {
		t.activeIndex = make([]int, n)
	}
	t.activeIndex = t.activeIndex[:n]
	k := 0
	for i := range t.rows {
		r := &t.rows[i]
		r.Active = r.Moving.IsSet() && r.Fixed.IsSet()
		if r.Active {
			t.activeIndex[i] = k
			k++
		} else {
			t.activeIndex[i] = -1
		}
	}
	t.numActive = k
}

// updateNextRowLocked scans forward from the previous position for a row
// missing a point on side, wraps around once, and falls back to the append
// position.
func (t *Table) updateNextRowLocked(side Side) {
	n := len(t.rows)
	start := min(t.nextRow[side], n)
	for i := start; i < n; i++ {
		if !t.rows[i].Point(side).IsSet() {
			t.nextRow[side] = i
			return
		}
	}
	for i := 0; i < start; i++ {
		if !t.rows[i].Point(side).IsSet() {
			t.nextRow[side] = i
			return
		}
	}
	t.nextRow[side] = n
}
