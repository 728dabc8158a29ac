package pg

import (
	"fmt"
	"strings"
)

// pagination returns the LIMIT/OFFSET suffix of a query (none if limit <= 0)
func pagination(page, limit int) string {
	if limit <= 0 {
		return ""
	}
	if page > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page*limit)
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// likePattern converts a pattern with wildcards (* for any string, ? for any character)
// to a LIKE pattern and returns the operator to use: "=" without wildcard, LIKE, or ILIKE
// if the pattern ends with (?i)
func likePattern(pattern string) (string, string) {
	operator := "LIKE"
	if strings.HasSuffix(pattern, "(?i)") {
		pattern, operator = strings.TrimSuffix(pattern, "(?i)"), "ILIKE"
	}
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(pattern)
	like := strings.NewReplacer("*", "%", "?", "_").Replace(escaped)
	if like == escaped && operator == "LIKE" {
		return pattern, "="
	}
	return like, operator
}

// whereClause collects the conditions of a query and their positional parameters
type whereClause struct {
	conditions []string
	params     []interface{}
}

func (wc *whereClause) param(v interface{}) string {
	wc.params = append(wc.params, v)
	return fmt.Sprintf("$%d", len(wc.params))
}

func (wc *whereClause) equal(column string, value interface{}) {
	wc.conditions = append(wc.conditions, column+" = "+wc.param(value))
}

// match adds a condition on column with a pattern using wildcards (see likePattern)
func (wc *whereClause) match(column, pattern string) {
	pattern, operator := likePattern(pattern)
	wc.conditions = append(wc.conditions, column+" "+operator+" "+wc.param(pattern))
}

// in adds a condition on column being one of values. Nothing is added if values is empty.
func (wc *whereClause) in(column string, values ...interface{}) {
	switch len(values) {
	case 0:
		return
	case 1:
		wc.equal(column, values[0])
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = wc.param(v)
	}
	wc.conditions = append(wc.conditions, column+" IN ("+strings.Join(placeholders, ", ")+")")
}

func (wc whereClause) String() string {
	if len(wc.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(wc.conditions, " AND ")
}
