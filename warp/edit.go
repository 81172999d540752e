package warp

import (
	"encoding/json"
	"fmt"
)

// EditOp names a remote edit.
type EditOp string

const (
	EditAdd    EditOp = "add"
	EditSet    EditOp = "set"
	EditDelete EditOp = "delete"
	EditUndo   EditOp = "undo"
	EditRedo   EditOp = "redo"
	EditClear  EditOp = "clear"
)

// EditCommand is a table edit received from a remote viewer.
type EditCommand struct {
	Op    EditOp `json:"op"`
	Row   int    `json:"row,omitempty"`
	Side  Side   `json:"side,omitempty"`
	Point Point  `json:"point,omitempty"`
	// Transient marks drag updates that are not recorded in the undo log.
	Transient bool `json:"transient,omitempty"`
}

// EditResult reports the outcome of an edit.
type EditResult struct {
	Op      EditOp `json:"op"`
	Row     int    `json:"row"`
	Created bool   `json:"created,omitempty"`
	Applied bool   `json:"applied"`
}

// ParseEditCommand decodes a JSON edit command.
func ParseEditCommand(data []byte) (EditCommand, error) {
	var cmd EditCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return EditCommand{}, fmt.Errorf("decoding edit command: %w", err)
	}
	return cmd, nil
}

// ApplyEdit routes cmd through the table API.
func ApplyEdit(t *Table, cmd EditCommand) (EditResult, error) {
	res := EditResult{Op: cmd.Op, Row: cmd.Row}
	switch cmd.Op {
	case EditAdd:
		row, created, err := t.AddPoint(cmd.Point, cmd.Side, !cmd.Transient)
		if err != nil {
			return res, err
		}
		res.Row, res.Created, res.Applied = row, created, true
	case EditSet:
		if err := t.SetPoint(cmd.Row, cmd.Side, cmd.Point.orUnset(t.Dim()), !cmd.Transient); err != nil {
			return res, err
		}
		res.Applied = true
	case EditDelete:
		if err := t.DeleteRow(cmd.Row); err != nil {
			return res, err
		}
		res.Applied = true
	case EditUndo:
		res.Row = -1
		res.Applied = t.Undo()
	case EditRedo:
		res.Row = -1
		res.Applied = t.Redo()
	case EditClear:
		res.Row = -1
		t.Clear()
		res.Applied = true
	default:
		return res, fmt.Errorf("unknown edit op %q", cmd.Op)
	}
	return res, nil
}
