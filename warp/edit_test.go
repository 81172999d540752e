package warp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEditCommand(t *testing.T) {
	tests := []struct {
		name string
		json string
		want EditCommand
	}{
		{
			name: "add defaults to moving",
			json: `{"op":"add","point":[1,2]}`,
			want: EditCommand{Op: EditAdd, Point: Point{1, 2}},
		},
		{
			name: "transient set",
			json: `{"op":"set","row":3,"side":"fixed","point":[4,5],"transient":true}`,
			want: EditCommand{Op: EditSet, Row: 3, Side: Fixed, Point: Point{4, 5}, Transient: true},
		},
		{
			name: "null point",
			json: `{"op":"set","row":1,"side":"fix","point":null}`,
			want: EditCommand{Op: EditSet, Row: 1, Side: Fixed},
		},
		{
			name: "undo",
			json: `{"op":"undo"}`,
			want: EditCommand{Op: EditUndo},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEditCommand([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseEditCommand([]byte(`{"op":"add","side":"left"}`))
	assert.Error(t, err)
	_, err = ParseEditCommand([]byte(`not json`))
	assert.Error(t, err)
}

func TestApplyEdit(t *testing.T) {
	tbl, _ := newTestTable(t, 2)

	res, err := ApplyEdit(tbl, EditCommand{Op: EditAdd, Point: Point{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, EditResult{Op: EditAdd, Row: 0, Created: true, Applied: true}, res)

	res, err = ApplyEdit(tbl, EditCommand{Op: EditAdd, Side: Fixed, Point: Point{2, 2}})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, tbl.IsActive(0))

	// A nil point clears.
	_, err = ApplyEdit(tbl, EditCommand{Op: EditSet, Row: 0, Side: Fixed})
	require.NoError(t, err)
	assert.False(t, tbl.IsActive(0))

	res, err = ApplyEdit(tbl, EditCommand{Op: EditUndo})
	require.NoError(t, err)
	assert.Equal(t, EditResult{Op: EditUndo, Row: -1, Applied: true}, res)
	assert.True(t, tbl.IsActive(0))

	res, err = ApplyEdit(tbl, EditCommand{Op: EditRedo})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	_, err = ApplyEdit(tbl, EditCommand{Op: EditDelete, Row: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())

	res, err = ApplyEdit(tbl, EditCommand{Op: EditRedo})
	require.NoError(t, err)
	assert.False(t, res.Applied, "nothing to redo")

	_, err = ApplyEdit(tbl, EditCommand{Op: EditDelete, Row: 4})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = ApplyEdit(tbl, EditCommand{Op: "rotate"})
	assert.Error(t, err)
}

func TestApplyEditTransientDrag(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	_, err := ApplyEdit(tbl, EditCommand{Op: EditAdd, Point: Point{0, 0}})
	require.NoError(t, err)
	for _, x := range []float64{1, 2, 3} {
		_, err := ApplyEdit(tbl, EditCommand{Op: EditSet, Point: Point{x, 0}, Transient: true})
		require.NoError(t, err)
	}
	_, err = ApplyEdit(tbl, EditCommand{Op: EditSet, Point: Point{4, 0}})
	require.NoError(t, err)

	_, err = ApplyEdit(tbl, EditCommand{Op: EditUndo})
	require.NoError(t, err)
	row, err := tbl.Row(0)
	require.NoError(t, err)
	assert.Equal(t, Point{0, 0}, row.Moving)
}

func TestApplyEditClear(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	addPair(t, tbl, Point{1, 1}, Point{2, 2})
	res, err := ApplyEdit(tbl, EditCommand{Op: EditClear})
	require.NoError(t, err)
	assert.Equal(t, -1, res.Row)
	assert.Equal(t, 0, tbl.Len())
}
