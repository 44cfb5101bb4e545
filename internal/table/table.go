// Package table defines the dynamic, column-oriented in-memory table that
// flows through the rest of the pipeline: raw string cells in, typed
// columns out. A dataset's shape is discovered at runtime, never declared
// in Go types, so a cell is represented as a small tagged variant rather
// than through reflection over generated structs.
package table

import (
	"fmt"
	"time"
)

// Kind tags the physical type a Value carries.
type Kind int

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "integer"
	case KindFloat64:
		return "float"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the physical types a cell can hold. Null is
// a first-class value, distinct from an empty string.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	t    time.Time
	s    string
}

func Null() Value                 { return Value{kind: KindNull} }
func IntValue(v int64) Value      { return Value{kind: KindInt64, i: v} }
func FloatValue(v float64) Value  { return Value{kind: KindFloat64, f: v} }
func BoolValue(v bool) Value      { return Value{kind: KindBool, b: v} }
func TimeValue(v time.Time) Value { return Value{kind: KindTime, t: v} }
func StringValue(v string) Value  { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindTime:
		return v.t.UTC().Format(time.RFC3339)
	default:
		return v.s
	}
}

// AsFloat returns the value coerced to float64. It only makes sense for
// KindInt64/KindFloat64 columns; callers must check Kind first for anything
// else.
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindFloat64:
		return v.f
	case KindInt64:
		return float64(v.i)
	default:
		return 0
	}
}

// Column is one named, homogeneously-typed (aside from nulls) vector of
// values — the unit of storage in a Table.
type Column struct {
	Name   string
	Kind   Kind
	Values []Value
}

func NewColumn(name string, kind Kind, capacity int) *Column {
	return &Column{Name: name, Kind: kind, Values: make([]Value, 0, capacity)}
}

func (c *Column) Append(v Value) { c.Values = append(c.Values, v) }
func (c *Column) Len() int       { return len(c.Values) }

// NullRate returns the fraction of values in the column that are null.
func (c *Column) NullRate() float64 {
	if len(c.Values) == 0 {
		return 0
	}
	n := 0
	for _, v := range c.Values {
		if v.IsNull() {
			n++
		}
	}
	return float64(n) / float64(len(c.Values))
}

// Cardinality returns the number of distinct non-null string forms.
func (c *Column) Cardinality() int {
	seen := make(map[string]struct{}, len(c.Values))
	for _, v := range c.Values {
		if v.IsNull() {
			continue
		}
		seen[v.String()] = struct{}{}
	}
	return len(seen)
}

// Table is an ordered set of named columns sharing the same row count.
type Table struct {
	Columns []*Column
}

func New() *Table { return &Table{} }

func (t *Table) AddColumn(c *Column) { t.Columns = append(t.Columns, c) }

func (t *Table) ColumnByName(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count, taken from the first column (all columns
// in a well-formed Table share the same length).
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// Row materializes row i as a name -> Value map. Intended for export and
// row-wise algorithms; the hot path (grouping, aggregation) should prefer
// iterating Columns directly.
func (t *Table) Row(i int) map[string]Value {
	row := make(map[string]Value, len(t.Columns))
	for _, c := range t.Columns {
		if i < len(c.Values) {
			row[c.Name] = c.Values[i]
		}
	}
	return row
}

// RawTable is the pre-typing representation: a header row and a slice of
// string cells per row, as produced by delimited/spreadsheet readers before
// normalization assigns types. Nulls are represented by a separate NullAt
// set to distinguish "missing" from "empty string".
type RawTable struct {
	Headers []string
	Rows    [][]string
	// NullAt[r] is the set of column indices that were null (as opposed to
	// empty string) in row r.
	NullAt []map[int]bool
}

func (r *RawTable) IsNull(row, col int) bool {
	if row >= len(r.NullAt) {
		return false
	}
	return r.NullAt[row][col]
}
