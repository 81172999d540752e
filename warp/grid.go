package warp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// MaxGridPoints bounds the number of rows a single GridFill may add.
const MaxGridPoints = 10000

// GridFill adds a regular grid of fixed points covering bound, spaced step
// apart, each paired with its moving image tr.Apply. Listeners see a single
// EventBulk. It returns the number of rows added.
func GridFill(t *Table, tr Transform, bound orb.Bound, step float64) (int, error) {
	if t.Dim() != 2 || tr.Dim() != 2 {
		return 0, fmt.Errorf("grid fill needs 2D, table is %dD and transform %dD: %w", t.Dim(), tr.Dim(), ErrDimensionMismatch)
	}
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return 0, fmt.Errorf("grid step %g must be positive", step)
	}
	if t.NextRow(Fixed) < t.Len() {
		return 0, fmt.Errorf("row %d has no fixed point: %w", t.NextRow(Fixed), ErrIncompleteRows)
	}

	// Indexing from the minimum keeps the grid free of accumulated drift.
	fx := math.Floor((bound.Max[0]-bound.Min[0])/step+1e-9) + 1
	fy := math.Floor((bound.Max[1]-bound.Min[1])/step+1e-9) + 1
	if !(fx*fy <= MaxGridPoints) {
		return 0, fmt.Errorf("%gx%g grid points at step %g, limit %d: %w", fx, fy, step, MaxGridPoints, ErrGridTooLarge)
	}
	nx, ny := int(fx), int(fy)

	t.PauseNotifications()
	defer t.ResumeNotifications()
	added := 0
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			fixed := Point{bound.Min[0] + float64(i)*step, bound.Min[1] + float64(j)*step}
			row, _, err := t.AddPoint(fixed, Fixed, true)
			if err != nil {
				return added, err
			}
			if err := t.SetWarpedPoint(row, Moving, tr.Apply(fixed), fixed, true); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}
