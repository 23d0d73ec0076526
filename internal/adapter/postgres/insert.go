package postgres

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/devsync/internal/domain/batch"
)

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// buildInsert renders a parameterized multi-row insert of n rows for t.
// Replacing tables only rewrite rows whose non-key values changed, so an
// unchanged re-delivery leaves the row untouched.
func buildInsert(t batch.Table, n int) string {
	cols := t.ColumnNames()
	table := quoteIdent(t.Name)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(quoteIdents(cols), ", "))
	b.WriteString(") VALUES ")

	p := 1
	for r := range n {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(quoteIdents(t.Key), ", "))
	b.WriteString(") ")

	switch t.Policy {
	case batch.ReplaceOnConflict:
		update := quoteIdents(t.UpdateColumns())
		sets := make([]string, len(update))
		current := make([]string, len(update))
		excluded := make([]string, len(update))
		for i, c := range update {
			sets[i] = c + " = EXCLUDED." + c
			current[i] = table + "." + c
			excluded[i] = "EXCLUDED." + c
		}
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
		b.WriteString(" WHERE (")
		b.WriteString(strings.Join(current, ", "))
		b.WriteString(") IS DISTINCT FROM (")
		b.WriteString(strings.Join(excluded, ", "))
		b.WriteByte(')')
	default:
		b.WriteString("DO NOTHING")
	}
	return b.String()
}

// flattenRows returns the bind arguments of rows in statement order.
func flattenRows(rows []batch.Row) []any {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		args = append(args, r...)
	}
	return args
}
