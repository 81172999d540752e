package warp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point is a D-dimensional coordinate. A point whose first component is +Inf
// is "unset"; Unset builds that sentinel.
type Point []float64

// Unset returns the sentinel point of dimension d (all components +Inf).
func Unset(d int) Point {
	p := make(Point, d)
	for i := range p {
		p[i] = math.Inf(1)
	}
	return p
}

// IsSet reports whether every component of p is finite.
func (p Point) IsSet() bool {
	if len(p) == 0 {
		return false
	}
	for _, v := range p {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Dim returns the number of components.
func (p Point) Dim() int {
	return len(p)
}

// Clone returns a copy that shares no storage with p.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	c := make(Point, len(p))
	copy(c, p)
	return c
}

// DistanceSq returns the squared Euclidean distance between p and q.
func (p Point) DistanceSq(q Point) float64 {
	var sum float64
	for i := range p {
		d := p[i] - q[i]
		sum += d * d
	}
	return sum
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Sqrt(p.DistanceSq(q))
}

// Equal reports exact component-wise equality. Two unset points are equal.
func (p Point) Equal(q Point) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

func (p Point) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// MarshalJSON encodes unset points as null since JSON has no infinity.
func (p Point) MarshalJSON() ([]byte, error) {
	if !p.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal([]float64(p))
}

// UnmarshalJSON decodes null as a nil (unset) point.
func (p *Point) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = v
	return nil
}

// orUnset returns p, or the sentinel of dimension d when p is nil.
func (p Point) orUnset(d int) Point {
	if p == nil {
		return Unset(d)
	}
	return p
}

// ParsePoint parses a comma separated coordinate list such as "1.5,2,-3".
func ParsePoint(s string) (Point, error) {
	fields := strings.Split(s, ",")
	p := make(Point, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("parsing coordinate %q: %w", f, err)
		}
		p = append(p, v)
	}
	return p, nil
}

// Side selects which image of a correspondence a point belongs to.
type Side int

const (
	Moving Side = iota
	Fixed
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Moving {
		return Fixed
	}
	return Moving
}

func (s Side) String() string {
	switch s {
	case Moving:
		return "moving"
	case Fixed:
		return "fixed"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// ParseSide accepts "moving"/"mvg" and "fixed"/"fix"/"target".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "moving", "mvg":
		return Moving, nil
	case "fixed", "fix", "target":
		return Fixed, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("side %d: %w", int(s), ErrOutOfRange)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Side) valid() bool {
	return s == Moving || s == Fixed
}

// Row is one correspondence of a Table. Rows returned by the table are copies.
type Row struct {
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Moving     Point  `json:"moving"`
	Fixed      Point  `json:"fixed"`
	Warped     Point  `json:"warped,omitempty"`
	HasWarped  bool   `json:"hasWarped"`
	Unreliable bool   `json:"unreliable,omitempty"`
}

// Point returns the row's point on the given side.
func (r *Row) Point(side Side) Point {
	if side == Moving {
		return r.Moving
	}
	return r.Fixed
}

func (r *Row) setPoint(side Side, p Point) {
	if side == Moving {
		r.Moving = p
	} else {
		r.Fixed = p
	}
}

func (r Row) clone() Row {
	c := r
	c.Moving = r.Moving.Clone()
	c.Fixed = r.Fixed.Clone()
	c.Warped = r.Warped.Clone()
	return c
}
