package dataservice

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// ErrInvalidQuery is returned when a query references an unsafe identifier or lacks a required clause.
var ErrInvalidQuery = errors.New("dataservice: invalid query")

// Op enumerates supported filter operators.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpLike   Op = "like"
	OpILike  Op = "ilike"
	OpIsNull Op = "is_null"
	OpAny    Op = "any"
)

var operators = map[Op]string{
	OpEq:    "=",
	OpNeq:   "<>",
	OpGt:    ">",
	OpGte:   ">=",
	OpLt:    "<",
	OpLte:   "<=",
	OpLike:  "LIKE",
	OpILike: "ILIKE",
}

// Filter narrows the rows affected by a query. Column may be qualified with a join alias ("family.contact_number").
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

func Eq(column string, value interface{}) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value interface{}) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value interface{}) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value interface{}) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func Lt(column string, value interface{}) Filter  { return Filter{Column: column, Op: OpLt, Value: value} }
func In(column string, values interface{}) Filter { return Filter{Column: column, Op: OpIn, Value: values} }
func ILike(column, pattern string) Filter         { return Filter{Column: column, Op: OpILike, Value: pattern} }

// Any matches rows satisfying at least one of the given filters.
func Any(filters ...Filter) Filter { return Filter{Op: OpAny, Value: filters} }

// Join follows a foreign key. The joined row is addressed by Alias; its Columns are selected
// as "alias.column" so sqlx decodes them into a nested struct tagged `db:"alias"`.
type Join struct {
	Table   string
	Alias   string
	From    string // alias (or base table) owning the foreign key; defaults to the base table
	Local   string // foreign key column on From
	Foreign string // referenced column on Table, usually id
	Columns []string
	Inner   bool
}

// Order describes one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query is a structured select over a single base table.
type Query struct {
	Table   string
	Columns []string
	Joins   []Join
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// qualify resolves a possibly alias-qualified column against the known relations.
func qualify(column, base string, relations map[string]struct{}) (string, error) {
	parts := strings.Split(column, ".")
	switch len(parts) {
	case 1:
		if !validIdentifier(parts[0]) {
			return "", fmt.Errorf("%w: column %q", ErrInvalidQuery, column)
		}
		return base + "." + parts[0], nil
	case 2:
		if _, ok := relations[parts[0]]; !ok || !validIdentifier(parts[1]) {
			return "", fmt.Errorf("%w: column %q", ErrInvalidQuery, column)
		}
		return column, nil
	default:
		return "", fmt.Errorf("%w: column %q", ErrInvalidQuery, column)
	}
}

type builder struct {
	sb   strings.Builder
	args []interface{}
}

func (b *builder) bind(value interface{}) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where(filters []Filter, base string, relations map[string]struct{}) error {
	for i, f := range filters {
		if i == 0 {
			b.sb.WriteString(" WHERE ")
		} else {
			b.sb.WriteString(" AND ")
		}
		if err := b.condition(f, base, relations); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) condition(f Filter, base string, relations map[string]struct{}) error {
	if f.Op == OpAny {
		group, ok := f.Value.([]Filter)
		if !ok || len(group) == 0 {
			return fmt.Errorf("%w: empty any group", ErrInvalidQuery)
		}
		b.sb.WriteString("(")
		for i, g := range group {
			if i > 0 {
				b.sb.WriteString(" OR ")
			}
			if err := b.condition(g, base, relations); err != nil {
				return err
			}
		}
		b.sb.WriteString(")")
		return nil
	}

	col, err := qualify(f.Column, base, relations)
	if err != nil {
		return err
	}
	switch f.Op {
	case OpIn:
		fmt.Fprintf(&b.sb, "%s = ANY(%s)", col, b.bind(pq.Array(f.Value)))
	case OpIsNull:
		fmt.Fprintf(&b.sb, "%s IS NULL", col)
	default:
		sqlOp, ok := operators[f.Op]
		if !ok {
			return fmt.Errorf("%w: operator %q", ErrInvalidQuery, f.Op)
		}
		fmt.Fprintf(&b.sb, "%s %s %s", col, sqlOp, b.bind(f.Value))
	}
	return nil
}

func (b *builder) joins(q Query, relations map[string]struct{}) error {
	for _, j := range q.Joins {
		if !validIdentifier(j.Table) || !validIdentifier(j.Alias) || !validIdentifier(j.Local) {
			return fmt.Errorf("%w: join %s", ErrInvalidQuery, j.Table)
		}
		foreign := j.Foreign
		if foreign == "" {
			foreign = "id"
		}
		from := j.From
		if from == "" {
			from = q.Table
		}
		if _, ok := relations[from]; !ok || !validIdentifier(foreign) {
			return fmt.Errorf("%w: join %s from %s", ErrInvalidQuery, j.Table, from)
		}
		kind := "LEFT JOIN"
		if j.Inner {
			kind = "INNER JOIN"
		}
		fmt.Fprintf(&b.sb, " %s %s AS %s ON %s.%s = %s.%s", kind, j.Table, j.Alias, j.Alias, foreign, from, j.Local)
		relations[j.Alias] = struct{}{}
	}
	return nil
}

func relationsFor(q Query) (map[string]struct{}, error) {
	if !validIdentifier(q.Table) {
		return nil, fmt.Errorf("%w: table %q", ErrInvalidQuery, q.Table)
	}
	return map[string]struct{}{q.Table: {}}, nil
}

func buildSelect(q Query) (string, []interface{}, error) {
	relations, err := relationsFor(q)
	if err != nil {
		return "", nil, err
	}
	b := &builder{}

	// joins register aliases before columns and filters are resolved
	joinSQL := &builder{}
	if err := joinSQL.joins(q, relations); err != nil {
		return "", nil, err
	}

	cols := make([]string, 0, len(q.Columns))
	if len(q.Columns) == 0 {
		cols = append(cols, q.Table+".*")
	}
	for _, c := range q.Columns {
		col, err := qualify(c, q.Table, relations)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}
	for _, j := range q.Joins {
		for _, c := range j.Columns {
			if !validIdentifier(c) {
				return "", nil, fmt.Errorf("%w: column %s.%s", ErrInvalidQuery, j.Alias, c)
			}
			cols = append(cols, fmt.Sprintf(`%s.%s AS "%s.%s"`, j.Alias, c, j.Alias, c))
		}
	}

	fmt.Fprintf(&b.sb, "SELECT %s FROM %s", strings.Join(cols, ", "), q.Table)
	b.sb.WriteString(joinSQL.sb.String())
	if err := b.where(q.Filters, q.Table, relations); err != nil {
		return "", nil, err
	}
	for i, o := range q.Order {
		col, err := qualify(o.Column, q.Table, relations)
		if err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.sb.WriteString(" ORDER BY ")
		} else {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString(col)
		if o.Desc {
			b.sb.WriteString(" DESC")
		} else {
			b.sb.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b.sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b.sb, " OFFSET %d", q.Offset)
	}
	return b.sb.String(), b.args, nil
}

func buildCount(q Query) (string, []interface{}, error) {
	relations, err := relationsFor(q)
	if err != nil {
		return "", nil, err
	}
	b := &builder{}
	fmt.Fprintf(&b.sb, "SELECT COUNT(*) FROM %s", q.Table)
	if err := b.joins(q, relations); err != nil {
		return "", nil, err
	}
	if err := b.where(q.Filters, q.Table, relations); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

func sortedKeys(values map[string]interface{}) ([]string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !validIdentifier(k) {
			return nil, fmt.Errorf("%w: column %q", ErrInvalidQuery, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func buildCall(procedure string, params map[string]interface{}) (string, []interface{}, error) {
	if !validIdentifier(procedure) {
		return "", nil, fmt.Errorf("%w: procedure %q", ErrInvalidQuery, procedure)
	}
	keys, err := sortedKeys(params)
	if err != nil {
		return "", nil, err
	}
	b := &builder{}
	named := make([]string, len(keys))
	for i, k := range keys {
		named[i] = fmt.Sprintf("%s => %s", k, b.bind(params[k]))
	}
	fmt.Fprintf(&b.sb, "SELECT * FROM %s(%s)", procedure, strings.Join(named, ", "))
	return b.sb.String(), b.args, nil
}

func buildInsert(table string, values map[string]interface{}, returning bool) (string, []interface{}, error) {
	if !validIdentifier(table) || len(values) == 0 {
		return "", nil, fmt.Errorf("%w: insert into %q", ErrInvalidQuery, table)
	}
	keys, err := sortedKeys(values)
	if err != nil {
		return "", nil, err
	}
	b := &builder{}
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		placeholders[i] = b.bind(values[k])
	}
	fmt.Fprintf(&b.sb, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(keys, ", "), strings.Join(placeholders, ", "))
	if returning {
		b.sb.WriteString(" RETURNING *")
	}
	return b.sb.String(), b.args, nil
}

func buildUpdate(table string, filters []Filter, patch map[string]interface{}, returning bool) (string, []interface{}, error) {
	if !validIdentifier(table) || len(patch) == 0 || len(filters) == 0 {
		return "", nil, fmt.Errorf("%w: update %q requires a patch and at least one filter", ErrInvalidQuery, table)
	}
	keys, err := sortedKeys(patch)
	if err != nil {
		return "", nil, err
	}
	b := &builder{}
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = %s", k, b.bind(patch[k]))
	}
	fmt.Fprintf(&b.sb, "UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if err := b.where(filters, table, map[string]struct{}{table: {}}); err != nil {
		return "", nil, err
	}
	if returning {
		b.sb.WriteString(" RETURNING *")
	}
	return b.sb.String(), b.args, nil
}

func buildDelete(table string, filters []Filter) (string, []interface{}, error) {
	if !validIdentifier(table) || len(filters) == 0 {
		return "", nil, fmt.Errorf("%w: delete from %q requires at least one filter", ErrInvalidQuery, table)
	}
	b := &builder{}
	fmt.Fprintf(&b.sb, "DELETE FROM %s", table)
	if err := b.where(filters, table, map[string]struct{}{table: {}}); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}
