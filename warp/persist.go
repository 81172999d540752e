package warp

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/sirupsen/logrus"
)

// coord is a coordinate column. Infinite values are written as "Infinity"
// so unset points survive a round trip.
type coord float64

func (c coord) MarshalText() ([]byte, error) {
	v := float64(c)
	switch {
	case math.IsInf(v, 1):
		return []byte("Infinity"), nil
	case math.IsInf(v, -1):
		return []byte("-Infinity"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (c *coord) UnmarshalText(text []byte) error {
	v, err := strconv.ParseFloat(string(text), 64)
	if err != nil {
		return err
	}
	*c = coord(v)
	return nil
}

type record2D struct {
	Name   string `csv:"name"`
	Active bool   `csv:"active"`
	MvgX   coord  `csv:"mvg_x"`
	MvgY   coord  `csv:"mvg_y"`
	FixX   coord  `csv:"fix_x"`
	FixY   coord  `csv:"fix_y"`
}

type record3D struct {
	Name   string `csv:"name"`
	Active bool   `csv:"active"`
	MvgX   coord  `csv:"mvg_x"`
	MvgY   coord  `csv:"mvg_y"`
	MvgZ   coord  `csv:"mvg_z"`
	FixX   coord  `csv:"fix_x"`
	FixY   coord  `csv:"fix_y"`
	FixZ   coord  `csv:"fix_z"`
}

// columnsFor returns the file width for a table dimension.
func columnsFor(dim int) int { return 2 + 2*dim }

// LoadTable reads a landmark file into a new table whose dimension is taken
// from the first row.
func LoadTable(path string, opts ...TableOption) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening landmarks: %w", err)
	}
	defer f.Close()

	dim, rows, _, err := decodeRows(f, 0, tableLogger(opts...))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%s is empty: %w", path, ErrFileFormat)
	}
	t, err := NewTable(dim, opts...)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.replaceLocked(rows)
	t.mu.Unlock()
	return t, nil
}

// Load replaces the table contents with the rows of a landmark file. On any
// error the table is left untouched.
func (t *Table) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening landmarks: %w", err)
	}
	defer f.Close()
	if _, err := t.ReadFrom(f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// Save writes the table to path through a temporary file in the same
// directory, so readers never see a partial file.
func (t *Table) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary landmarks file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := t.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing landmarks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing landmarks: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// ReadFrom implements io.ReaderFrom. The whole input is validated before the
// table changes; a file of a different dimension is rejected.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	_, rows, n, err := decodeRows(r, t.dim, t.log)
	if err != nil {
		return n, err
	}
	notify, _ := t.mutateLocked(func() (Event, error) {
		t.replaceLocked(rows)
		return Event{Kind: EventReset, Row: -1}, nil
	})
	notify()
	t.log.WithField("rows", len(rows)).Debug("loaded landmarks")
	return n, nil
}

// WriteTo implements io.WriterTo using the landmark file format.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	rows := t.Rows()
	cw := &countingWriter{w: w}
	out := csv.NewWriter(cw)
	enc := csvutil.NewEncoder(out)
	enc.AutoHeader = false

	for i := range rows {
		if err := enc.Encode(encodeRecord(t.dim, &rows[i])); err != nil {
			return cw.n, fmt.Errorf("encoding row %d: %w", i, err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func encodeRecord(dim int, r *Row) any {
	m, f := r.Moving.orUnset(dim), r.Fixed.orUnset(dim)
	if dim == 3 {
		return record3D{
			Name: r.Name, Active: r.Active,
			MvgX: coord(m[0]), MvgY: coord(m[1]), MvgZ: coord(m[2]),
			FixX: coord(f[0]), FixY: coord(f[1]), FixZ: coord(f[2]),
		}
	}
	return record2D{
		Name: r.Name, Active: r.Active,
		MvgX: coord(m[0]), MvgY: coord(m[1]),
		FixX: coord(f[0]), FixY: coord(f[1]),
	}
}

// decodeRows parses a whole landmark file. When want is zero the dimension
// is detected from the first row; the detected dimension is returned (zero
// for empty input).
func decodeRows(r io.Reader, want int, log *logrus.Entry) (int, []Row, int64, error) {
	cr := &countingReader{r: r}
	in := csv.NewReader(cr)
	in.FieldsPerRecord = -1
	records, err := in.ReadAll()
	if err != nil {
		return 0, nil, cr.n, fmt.Errorf("%v: %w", err, ErrFileFormat)
	}
	if len(records) == 0 {
		return 0, nil, cr.n, nil
	}

	width := len(records[0])
	var dim int
	switch width {
	case columnsFor(2):
		dim = 2
	case columnsFor(3):
		dim = 3
	default:
		return 0, nil, cr.n, fmt.Errorf("first row has %d columns, want 6 or 8: %w", width, ErrFileFormat)
	}
	if want != 0 && dim != want {
		return 0, nil, cr.n, fmt.Errorf("%dD file for a %dD table: %w", dim, want, ErrDimensionMismatch)
	}
	for i, rec := range records {
		if len(rec) != width {
			return 0, nil, cr.n, fmt.Errorf("row %d has %d columns, first row has %d: %w", i, len(rec), width, ErrFileFormat)
		}
	}

	header, err := csvutil.Header(record2D{}, "csv")
	if dim == 3 {
		header, err = csvutil.Header(record3D{}, "csv")
	}
	if err != nil {
		return 0, nil, cr.n, err
	}
	dec, err := csvutil.NewDecoder(&recordReader{records: records}, header...)
	if err != nil {
		return 0, nil, cr.n, fmt.Errorf("%v: %w", err, ErrFileFormat)
	}

	rows := make([]Row, 0, len(records))
	for i := 0; ; i++ {
		var row Row
		var active bool
		if dim == 3 {
			var rec record3D
			err = dec.Decode(&rec)
			row = Row{
				Name:   rec.Name,
				Moving: Point{float64(rec.MvgX), float64(rec.MvgY), float64(rec.MvgZ)},
				Fixed:  Point{float64(rec.FixX), float64(rec.FixY), float64(rec.FixZ)},
			}
			active = rec.Active
		} else {
			var rec record2D
			err = dec.Decode(&rec)
			row = Row{
				Name:   rec.Name,
				Moving: Point{float64(rec.MvgX), float64(rec.MvgY)},
				Fixed:  Point{float64(rec.FixX), float64(rec.FixY)},
			}
			active = rec.Active
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, nil, cr.n, fmt.Errorf("row %d: %v: %w", i, err, ErrFileFormat)
		}
		if derived := row.Moving.IsSet() && row.Fixed.IsSet(); derived != active {
			log.WithFields(logrus.Fields{"row": i, "name": row.Name, "stored": active, "derived": derived}).
				Warn("active column disagrees with coordinates, using coordinates")
		}
		rows = append(rows, row)
	}
	return dim, rows, cr.n, nil
}

// recordReader replays already validated records to the csvutil decoder.
type recordReader struct {
	records [][]string
	next    int
}

func (r *recordReader) Read() ([]string, error) {
	if r.next >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
