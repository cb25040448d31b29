package mixedmodel

import (
	"fmt"
)

// Frame is a small column store feeding the estimator: numeric columns for
// the response and fixed predictors, factor columns for grouping. All columns
// must share one length.
type Frame struct {
	length  int
	numeric map[string][]float64
	factors map[string][]string
}

// NewFrame creates an empty frame.
func NewFrame() *Frame {
	return &Frame{
		numeric: make(map[string][]float64),
		factors: make(map[string][]string),
	}
}

// AddNumeric adds a numeric column. The first column added fixes the frame
// length.
func (f *Frame) AddNumeric(name string, values []float64) error {
	if err := f.checkColumn(name, len(values)); err != nil {
		return err
	}
	col := make([]float64, len(values))
	copy(col, values)
	f.numeric[name] = col
	return nil
}

// AddFactor adds a categorical column.
func (f *Frame) AddFactor(name string, levels []string) error {
	if err := f.checkColumn(name, len(levels)); err != nil {
		return err
	}
	col := make([]string, len(levels))
	copy(col, levels)
	f.factors[name] = col
	return nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return f.length
}

func (f *Frame) checkColumn(name string, n int) error {
	if name == "" {
		return fmt.Errorf("mixedmodel: empty column name")
	}
	if _, dup := f.numeric[name]; dup {
		return fmt.Errorf("mixedmodel: duplicate column %q", name)
	}
	if _, dup := f.factors[name]; dup {
		return fmt.Errorf("mixedmodel: duplicate column %q", name)
	}
	if len(f.numeric) == 0 && len(f.factors) == 0 {
		f.length = n
	} else if n != f.length {
		return fmt.Errorf("mixedmodel: column %q has %d rows, frame has %d", name, n, f.length)
	}
	return nil
}

func (f *Frame) numericCol(name string) ([]float64, error) {
	col, ok := f.numeric[name]
	if !ok {
		return nil, fmt.Errorf("mixedmodel: unknown numeric column %q", name)
	}
	return col, nil
}

func (f *Frame) factorCol(name string) ([]string, error) {
	col, ok := f.factors[name]
	if !ok {
		return nil, fmt.Errorf("mixedmodel: unknown factor column %q", name)
	}
	return col, nil
}
