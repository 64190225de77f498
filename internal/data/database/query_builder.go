// Package database builds the parameterized list queries used by the admin listing endpoints.
package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is the comparison applied by a Condition.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	GreaterThanOrEqual ConditionType = ">="
	LessThanOrEqual    ConditionType = "<="
	// Any matches when the column equals any element of a slice value.
	Any ConditionType = "ANY"

	unset = -1
)

// Condition is one AND-ed predicate of a WHERE clause.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

// WhereCond builds a Condition.
func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

type orderTerm struct {
	column string
	dir    string
}

// ListQueryOptions describes a single-table SELECT.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	Order      []orderTerm
	Limit      int
	Offset     int
}

// ListQueryOption configures ListQueryOptions.
type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions applies opts over an unpaginated SELECT * of table.
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	o := &ListQueryOptions{Table: table, Limit: unset, Offset: unset}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithColumns sets the columns to select.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition adds a predicate.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithEqualIfSet adds column = *value when value is non-nil.
func WithEqualIfSet[T any](column string, value *T) ListQueryOption {
	return func(o *ListQueryOptions) {
		if value != nil {
			o.Conditions = append(o.Conditions, WhereCond(column, Equal, *value))
		}
	}
}

// WithOrderBy appends an ORDER BY term. Later calls break ties of earlier ones.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Order = append(o.Order, orderTerm{column: column, dir: normalizeDir(direction)})
	}
}

// WithTiebreak orders by column in the direction of the primary term so pages are stable.
func WithTiebreak(column string) ListQueryOption {
	return func(o *ListQueryOptions) {
		dir := ""
		if len(o.Order) > 0 {
			dir = o.Order[0].dir
		}
		o.Order = append(o.Order, orderTerm{column: column, dir: dir})
	}
}

// WithLimit sets the limit. Accepts 0.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Accepts 0.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly selects COUNT(*) and drops ordering and pagination.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

func normalizeDir(dir string) string {
	switch strings.ToUpper(strings.TrimSpace(dir)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	default:
		return ""
	}
}

// quote sanitizes a possibly table-qualified identifier.
func quote(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

// BuildListQuery renders options into SQL with positional parameters.
//
//	query, args := BuildListQuery(NewListQueryOptions("jobs",
//		WithColumns("id", "queue"),
//		WithCondition(WhereCond("status", Equal, "pending")),
//		WithOrderBy("created_at", "DESC"),
//		WithTiebreak("id"),
//		WithLimit(50),
//	))
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var b strings.Builder
	var args []any
	param := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch {
	case options.CountOnly:
		b.WriteString("SELECT COUNT(*)")
	case len(options.Columns) == 0:
		b.WriteString("SELECT *")
	default:
		cols := make([]string, len(options.Columns))
		for i, c := range options.Columns {
			cols[i] = quote(c)
		}
		b.WriteString("SELECT " + strings.Join(cols, ", "))
	}
	b.WriteString(" FROM " + quote(options.Table))

	preds := make([]string, 0, len(options.Conditions))
	for _, c := range options.Conditions {
		if c.Field == "" {
			continue
		}
		switch c.Type {
		case Any:
			preds = append(preds, fmt.Sprintf("%s = ANY(%s)", quote(c.Field), param(c.Value)))
		case Equal, NotEqual, GreaterThan, LessThan, GreaterThanOrEqual, LessThanOrEqual:
			preds = append(preds, fmt.Sprintf("%s %s %s", quote(c.Field), c.Type, param(c.Value)))
		}
	}
	if len(preds) > 0 {
		b.WriteString(" WHERE " + strings.Join(preds, " AND "))
	}

	if options.CountOnly {
		return b.String(), args
	}

	if len(options.Order) > 0 {
		terms := make([]string, len(options.Order))
		for i, t := range options.Order {
			terms[i] = strings.TrimSpace(quote(t.column) + " " + t.dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if options.Limit != unset {
		b.WriteString(" LIMIT " + param(options.Limit))
	}
	if options.Offset != unset {
		b.WriteString(" OFFSET " + param(options.Offset))
	}
	return b.String(), args
}
