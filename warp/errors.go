package warp

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for row or column access beyond the table bounds.
	ErrOutOfRange = errors.New("warp: index out of range")

	// ErrFileFormat is returned when a landmark file row has an unexpected width.
	ErrFileFormat = errors.New("warp: malformed landmark file")

	// ErrUnderdetermined is returned when fewer correspondences than a model
	// needs are available. The concrete error is an *UnderdeterminedError.
	ErrUnderdetermined = errors.New("warp: not enough correspondences")

	// ErrDegenerateFit is returned when a fitted model has no inverse, e.g.
	// collinear input points for an affine fit.
	ErrDegenerateFit = errors.New("warp: degenerate fit")

	// ErrDimensionMismatch is returned when points or transforms of different
	// dimensionality are combined.
	ErrDimensionMismatch = errors.New("warp: dimension mismatch")

	// ErrUnknownModel is returned by ParseModel for unrecognised names.
	ErrUnknownModel = errors.New("warp: unknown transform model")

	// ErrNotInvertible is returned when an inverse is requested through a
	// composite containing a forward-only transform.
	ErrNotInvertible = errors.New("warp: transform is not invertible")

	// ErrIncompleteRows is returned by bulk edits that would pair generated
	// points with rows a user left half-set.
	ErrIncompleteRows = errors.New("warp: table has incomplete rows")

	// ErrGridTooLarge is returned by GridFill when the grid would exceed
	// MaxGridPoints.
	ErrGridTooLarge = errors.New("warp: grid too large")
)

// UnderdeterminedError carries the minimum number of correspondences a model
// requires. It matches ErrUnderdetermined with errors.Is.
type UnderdeterminedError struct {
	Model    Model
	Dim      int
	Required int
	Got      int
}

func (e *UnderdeterminedError) Error() string {
	return fmt.Sprintf("warp: %s model in %dD needs at least %d correspondences, got %d",
		e.Model, e.Dim, e.Required, e.Got)
}

// Is makes errors.Is(err, ErrUnderdetermined) succeed.
func (e *UnderdeterminedError) Is(target error) bool {
	return target == ErrUnderdetermined
}
