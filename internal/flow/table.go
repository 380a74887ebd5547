// Package flow holds the in-memory table of extracted network flows.
package flow

import (
	"fmt"
	"math"
)

// Kind is the value type of a column.
type Kind int

const (
	Numeric Kind = iota
	Text
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column is a named column. Exactly one of Numbers or Strings is used,
// depending on Kind.
type Column struct {
	Name    string
	Kind    Kind
	Numbers []float64
	Strings []string
}

// Table is a column-major table with a fixed row count. Column order is
// insertion order.
type Table struct {
	rows    int
	columns []*Column
	index   map[string]int
}

// NewTable creates an empty table that will hold rows rows.
func NewTable(rows int) *Table {
	return &Table{
		rows:  rows,
		index: make(map[string]int),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.columns) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice is shared with the table.
func (t *Table) Columns() []*Column { return t.columns }

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// AddNumeric appends a numeric column.
func (t *Table) AddNumeric(name string, values []float64) error {
	return t.add(&Column{Name: name, Kind: Numeric, Numbers: values})
}

// AddText appends a text column.
func (t *Table) AddText(name string, values []string) error {
	return t.add(&Column{Name: name, Kind: Text, Strings: values})
}

func (t *Table) add(c *Column) error {
	if _, exists := t.index[c.Name]; exists {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	n := len(c.Numbers)
	if c.Kind == Text {
		n = len(c.Strings)
	}
	if n != t.rows {
		return fmt.Errorf("column %q has %d values, table has %d rows", c.Name, n, t.rows)
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable(t.rows)
	for _, c := range t.columns {
		cp := &Column{Name: c.Name, Kind: c.Kind}
		if c.Numbers != nil {
			cp.Numbers = append([]float64(nil), c.Numbers...)
		}
		if c.Strings != nil {
			cp.Strings = append([]string(nil), c.Strings...)
		}
		out.index[cp.Name] = len(out.columns)
		out.columns = append(out.columns, cp)
	}
	return out
}

// Row returns row i as a name → value map. Non-finite numbers are
// rendered as nil so the row stays JSON-encodable.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		switch c.Kind {
		case Numeric:
			v := c.Numbers[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[c.Name] = nil
			} else {
				row[c.Name] = v
			}
		case Text:
			row[c.Name] = c.Strings[i]
		}
	}
	return row
}
