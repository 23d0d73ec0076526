package cursor

import (
	"strconv"
	"strings"
)

// Query is a parameterized base SELECT paginated by a cursor. SQL may carry
// its own WHERE clause and ORDER BY; it must not carry LIMIT or OFFSET.
// Column names passed to the page builders are trusted identifiers.
type Query struct {
	SQL  string
	Args []any
}

// TimePage builds the fetch statement for a timestamp cursor. The condition
// column >= $n is inserted before any ORDER BY; without one the rows are
// ordered by column and then tiebreak so overlapping offsets are stable.
func TimePage(q Query, column string, tiebreak []string, pos TimePosition, limit int) (string, []any) {
	args := append(append([]any(nil), q.Args...), pos.Value)
	cond := column + " >= $" + strconv.Itoa(len(args))

	order := append([]string{column}, tiebreak...)
	sql := insertCondition(q.SQL, cond, order)

	args = append(args, limit)
	sql += " LIMIT $" + strconv.Itoa(len(args))
	if pos.Overlap > 0 {
		args = append(args, pos.Overlap)
		sql += " OFFSET $" + strconv.Itoa(len(args))
	}
	return sql, args
}

// CompositePage builds the fetch statement for a composite cursor.
func CompositePage(q Query, major, minor string, pos CompositePosition, limit int) (string, []any) {
	args := append(append([]any(nil), q.Args...), pos.Major, pos.Minor)
	a := "$" + strconv.Itoa(len(args)-1)
	b := "$" + strconv.Itoa(len(args))
	cond := "(" + major + " > " + a + " OR (" + major + " = " + a + " AND " + minor + " > " + b + "))"

	sql := insertCondition(q.SQL, cond, []string{major, minor})
	args = append(args, limit)
	return sql + " LIMIT $" + strconv.Itoa(len(args)), args
}

func insertCondition(base, cond string, defaultOrder []string) string {
	head, order := splitOrderBy(strings.TrimSpace(base))
	if hasWhere(head) {
		head += " AND " + cond
	} else {
		head += " WHERE " + cond
	}
	if order == "" {
		order = " ORDER BY " + strings.Join(defaultOrder, ", ")
	}
	return head + order
}

// splitOrderBy splits at the last top-level ORDER BY.
func splitOrderBy(sql string) (head, order string) {
	upper := strings.ToUpper(sql)
	idx := strings.LastIndex(upper, " ORDER BY ")
	if idx < 0 || depthAt(sql, idx) != 0 {
		return sql, ""
	}
	return sql[:idx], sql[idx:]
}

func hasWhere(head string) bool {
	upper := strings.ToUpper(head)
	from := 0
	for {
		i := strings.Index(upper[from:], " WHERE ")
		if i < 0 {
			return false
		}
		if depthAt(head, from+i) == 0 {
			return true
		}
		from += i + len(" WHERE ")
	}
}

// depthAt returns the parenthesis nesting depth at byte offset idx.
func depthAt(s string, idx int) int {
	depth := 0
	for i := 0; i < idx && i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}
