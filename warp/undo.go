package warp

import (
	"errors"
	"fmt"
)

var errNothingToReplay = errors.New("warp: nothing to replay")

// command is one entry of the undo log. apply performs the edit, revert
// undoes it; both run with the table lock held, never record themselves and
// leave the refresh of derived state to the caller. Commands own copies of
// their coordinates.
type command interface {
	apply(t *Table) (Event, error)
	revert(t *Table) (Event, error)
	String() string
}

// addRowCmd is the creation of a row holding one point.
type addRowCmd struct {
	index int
	point Point
	side  Side
	name  string
}

func (c *addRowCmd) apply(t *Table) (Event, error) {
	if c.index < 0 || c.index > len(t.rows) {
		return Event{}, fmt.Errorf("%v at row %d of %d: %w", c, c.index, len(t.rows), ErrOutOfRange)
	}
	r := t.newRowLocked(c.name)
	r.setPoint(c.side, c.point.Clone())
	t.insertRowLocked(c.index, r)
	return Event{Kind: EventRowAdded, Row: c.index, Side: c.side}, nil
}

func (c *addRowCmd) revert(t *Table) (Event, error) {
	if c.index < 0 || c.index >= len(t.rows) {
		return Event{}, fmt.Errorf("%v at row %d of %d: %w", c, c.index, len(t.rows), ErrOutOfRange)
	}
	t.removeRowLocked(c.index)
	return Event{Kind: EventRowDeleted, Row: c.index}, nil
}

func (c *addRowCmd) String() string {
	return fmt.Sprintf("add %s %s %v", c.name, c.side, c.point)
}

// deleteRowCmd is the removal of a row.
type deleteRowCmd struct {
	index  int
	moving Point
	fixed  Point
	name   string
}

func (c *deleteRowCmd) apply(t *Table) (Event, error) {
	if c.index < 0 || c.index >= len(t.rows) {
		return Event{}, fmt.Errorf("%v at row %d of %d: %w", c, c.index, len(t.rows), ErrOutOfRange)
	}
	t.removeRowLocked(c.index)
	return Event{Kind: EventRowDeleted, Row: c.index}, nil
}

func (c *deleteRowCmd) revert(t *Table) (Event, error) {
	if c.index < 0 || c.index > len(t.rows) {
		return Event{}, fmt.Errorf("%v at row %d of %d: %w", c, c.index, len(t.rows), ErrOutOfRange)
	}
	r := t.newRowLocked(c.name)
	r.Moving = c.moving.Clone()
	r.Fixed = c.fixed.Clone()
	t.insertRowLocked(c.index, r)
	return Event{Kind: EventRowAdded, Row: c.index}, nil
}

func (c *deleteRowCmd) String() string {
	return fmt.Sprintf("delete %s", c.name)
}

// modifyPointCmd is the change of one point from old to new.
type modifyPointCmd struct {
	index int
	side  Side
	old   Point
	new   Point
}

func (c *modifyPointCmd) apply(t *Table) (Event, error) {
	return c.set(t, c.new)
}

func (c *modifyPointCmd) revert(t *Table) (Event, error) {
	return c.set(t, c.old)
}

func (c *modifyPointCmd) set(t *Table, p Point) (Event, error) {
	if c.index < 0 || c.index >= len(t.rows) {
		return Event{}, fmt.Errorf("%v: %w", c, ErrOutOfRange)
	}
	t.setPointLocked(c.index, c.side, p)
	return Event{Kind: EventPointChanged, Row: c.index, Side: c.side}, nil
}

func (c *modifyPointCmd) String() string {
	return fmt.Sprintf("modify row %d %s %v -> %v", c.index, c.side, c.old, c.new)
}
