package batch

import (
	"gonum.org/v1/gonum/mat"
)

// Matrix is a resizable 2D buffer filled by the streams. Columns are samples.
type Matrix interface {
	// Resize changes the shape of the matrix and sets all its values to 0.
	Resize(rows, cols int)

	// Dims returns the shape of the matrix.
	Dims() (rows, cols int)

	At(row, col int) float64
	Set(row, col int, value float64)
}

// Dense is a Matrix backed by a gonum mat.Dense. The backing storage is reused across resizes.
type Dense struct {
	m *mat.Dense
}

// Compile time assert that Dense implements Matrix.
var _ Matrix = &Dense{}

// NewDense creates a zeroed rows×cols dense matrix. Either dimension may be 0.
func NewDense(rows, cols int) *Dense {
	d := &Dense{}
	d.Resize(rows, cols)
	return d
}

// Resize implements Matrix.
func (d *Dense) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		// gonum doesn't allow empty matrices: keep the storage around for the next resize.
		if d.m != nil && !d.m.IsEmpty() {
			d.m.Reset()
		}
		return
	}
	if d.m == nil {
		d.m = mat.NewDense(rows, cols, nil)
		return
	}
	if !d.m.IsEmpty() {
		d.m.Reset()
	}
	d.m.ReuseAs(rows, cols)
}

// Dims implements Matrix.
func (d *Dense) Dims() (rows, cols int) {
	if d.m == nil || d.m.IsEmpty() {
		return 0, 0
	}
	return d.m.Dims()
}

// At implements Matrix.
func (d *Dense) At(row, col int) float64 {
	if d.m == nil || d.m.IsEmpty() {
		panic(mat.ErrIndexOutOfRange)
	}
	return d.m.At(row, col)
}

// Set implements Matrix.
func (d *Dense) Set(row, col int, value float64) {
	if d.m == nil || d.m.IsEmpty() {
		panic(mat.ErrIndexOutOfRange)
	}
	d.m.Set(row, col, value)
}

// Fill sets all values to value.
func (d *Dense) Fill(value float64) {
	if d.m == nil || d.m.IsEmpty() {
		return
	}
	d.m.Apply(func(_, _ int, _ float64) float64 { return value }, d.m)
}

// Mat returns the underlying gonum matrix, or nil if the matrix is empty.
func (d *Dense) Mat() *mat.Dense {
	if d.m == nil || d.m.IsEmpty() {
		return nil
	}
	return d.m
}

// CopyOf returns a dense copy of m.
func CopyOf(m Matrix) *Dense {
	rows, cols := m.Dims()
	d := NewDense(rows, cols)
	if src, ok := m.(*Dense); ok {
		if src.Mat() != nil {
			d.m.Copy(src.m)
		}
		return d
	}
	for r := range rows {
		for c := range cols {
			if v := m.At(r, c); v != 0 {
				d.Set(r, c, v)
			}
		}
	}
	return d
}

// Sparse is a Matrix storing only non-zero values, per column. It suits one-hot feature
// and label buffers with a large vocabulary dimension.
type Sparse struct {
	rows    int
	columns []map[int]float64
}

// Compile time assert that Sparse implements Matrix.
var _ Matrix = &Sparse{}

// NewSparse creates an empty rows×cols sparse matrix.
func NewSparse(rows, cols int) *Sparse {
	s := &Sparse{}
	s.Resize(rows, cols)
	return s
}

// Resize implements Matrix.
func (s *Sparse) Resize(rows, cols int) {
	s.rows = max(rows, 0)
	s.columns = make([]map[int]float64, max(cols, 0))
}

// Dims implements Matrix.
func (s *Sparse) Dims() (rows, cols int) {
	return s.rows, len(s.columns)
}

func (s *Sparse) check(row, col int) {
	if row < 0 || row >= s.rows || col < 0 || col >= len(s.columns) {
		panic(mat.ErrIndexOutOfRange)
	}
}

// At implements Matrix.
func (s *Sparse) At(row, col int) float64 {
	s.check(row, col)
	return s.columns[col][row]
}

// Set implements Matrix. Setting 0 removes the entry.
func (s *Sparse) Set(row, col int, value float64) {
	s.check(row, col)
	if value == 0 {
		delete(s.columns[col], row)
		return
	}
	if s.columns[col] == nil {
		s.columns[col] = make(map[int]float64)
	}
	s.columns[col][row] = value
}

// Column returns the non-zero entries of column col, keyed by row. It must not be modified.
func (s *Sparse) Column(col int) map[int]float64 {
	return s.columns[col]
}

// NNZ returns the number of non-zero entries.
func (s *Sparse) NNZ() int {
	n := 0
	for _, c := range s.columns {
		n += len(c)
	}
	return n
}
