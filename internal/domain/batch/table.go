// Package batch turns mapped rows into idempotent multi-row writes against
// the target store.
package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
)

// MaxParams is the bind-parameter limit of one PostgreSQL statement.
const MaxParams = 65535

// ConflictPolicy decides what happens when a written row collides with an
// existing row on the table key.
type ConflictPolicy int

const (
	// IgnoreDuplicates keeps the existing row (append-only history).
	IgnoreDuplicates ConflictPolicy = iota
	// ReplaceOnConflict overwrites the non-key columns with the new values.
	ReplaceOnConflict
)

func (p ConflictPolicy) String() string {
	switch p {
	case IgnoreDuplicates:
		return "ignore"
	case ReplaceOnConflict:
		return "replace"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}

// Kind is the Go type accepted for a column value.
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindText
	KindTime
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func (k Kind) accepts(v any) bool {
	switch v.(type) {
	case int64:
		return k == KindInt64
	case float64:
		return k == KindFloat64
	case string:
		return k == KindText
	case time.Time:
		return k == KindTime
	case bool:
		return k == KindBool
	default:
		return false
	}
}

// Column is one typed column of a target table.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Table describes a target table for the writer.
type Table struct {
	Name    string
	Columns []Column
	// Key lists the conflict target columns.
	Key    []string
	Policy ConflictPolicy
}

// Validate checks that the key is a subset of the columns and that a
// replacing table has something to replace.
func (t Table) Validate() error {
	if t.Name == "" || len(t.Columns) == 0 {
		return fmt.Errorf("%w: table needs a name and columns", domain.ErrValidation)
	}
	names := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate column %s", domain.ErrValidation, t.Name, c.Name)
		}
		names[c.Name] = struct{}{}
	}
	if len(t.Key) == 0 {
		return fmt.Errorf("%w: %s: conflict key is required", domain.ErrValidation, t.Name)
	}
	for _, k := range t.Key {
		if _, ok := names[k]; !ok {
			return fmt.Errorf("%w: %s: key column %s is not a column", domain.ErrValidation, t.Name, k)
		}
	}
	if t.Policy == ReplaceOnConflict && len(t.UpdateColumns()) == 0 {
		return fmt.Errorf("%w: %s: replace policy needs non-key columns", domain.ErrValidation, t.Name)
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// UpdateColumns returns the non-key columns.
func (t Table) UpdateColumns() []string {
	key := make(map[string]struct{}, len(t.Key))
	for _, k := range t.Key {
		key[k] = struct{}{}
	}
	var out []string
	for _, c := range t.Columns {
		if _, ok := key[c.Name]; !ok {
			out = append(out, c.Name)
		}
	}
	return out
}

// MaxRowsPerStatement is the largest row count that fits the parameter limit.
func (t Table) MaxRowsPerStatement() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return MaxParams / len(t.Columns)
}

// Row is one typed row, values in column order.
type Row []any

// Row checks values against the column kinds and builds a row.
func (t Table) Row(values ...any) (Row, error) {
	r := Row(values)
	if err := t.Check(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Check reports the first value of r that does not fit its column.
func (t Table) Check(r Row) error {
	if len(r) != len(t.Columns) {
		return fmt.Errorf("%w: %s: got %d values for %d columns", domain.ErrValidation, t.Name, len(r), len(t.Columns))
	}
	for i, v := range r {
		c := t.Columns[i]
		if v == nil {
			if !c.Nullable {
				return fmt.Errorf("%w: %s.%s is not nullable", domain.ErrValidation, t.Name, c.Name)
			}
			continue
		}
		if !c.Kind.accepts(v) {
			return fmt.Errorf("%w: %s.%s wants %s, got %T", domain.ErrValidation, t.Name, c.Name, c.Kind, v)
		}
	}
	return nil
}

func (t Table) String() string {
	return t.Name + "(" + strings.Join(t.ColumnNames(), ", ") + ")"
}
