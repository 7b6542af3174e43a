package harness

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// TimestampLayout renders timestamp columns.
const TimestampLayout = "2006-01-02 15:04:05"

// Field is one rendered column value; Value is nil for NULL.
type Field struct {
	Name  string
	Value *string
}

// Row keeps the selected columns in order.
type Row []Field

// Get returns the field value and whether the column was selected.
func (r Row) Get(name string) (*string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the value, or "" for NULL and unknown columns.
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	if v == nil {
		return ""
	}
	return *v
}

func (r Row) IsNull(name string) bool {
	v, ok := r.Get(name)
	return ok && v == nil
}

// Map is a convenience copy of the row; NULL columns are absent.
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r))
	for _, f := range r {
		if f.Value != nil {
			out[f.Name] = *f.Value
		}
	}
	return out
}

// Query selects columns (all when none are given) from table, filtered by an
// optional SQL condition with ? placeholders, ordered by the first column.
func (h *Harness) Query(table, filter string, columns ...string) ([]Row, error) {
	return h.QueryArgs(table, filter, nil, columns...)
}

// QueryArgs is Query with arguments bound to the filter placeholders.
func (h *Harness) QueryArgs(table, filter string, args []any, columns ...string) ([]Row, error) {
	if !repository.ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table %q", table)
	}
	for _, c := range columns {
		if !repository.ValidIdentifier(c) {
			return nil, fmt.Errorf("invalid column %q", c)
		}
	}
	sel := "*"
	if len(columns) > 0 {
		sel = strings.Join(columns, ", ")
	}
	query := "SELECT " + sel + " FROM " + table
	if strings.TrimSpace(filter) != "" {
		query += " WHERE " + filter
	}
	query += " ORDER BY 1"

	rows, err := h.db.QueryContext(context.Background(), h.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", table, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s failed: %w", table, err)
		}
		row := make(Row, len(names))
		for i, n := range names {
			row[i] = Field{Name: n, Value: render(raw[i])}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s failed: %w", table, err)
	}
	return out, nil
}

// Count returns the number of rows matching the filter.
func (h *Harness) Count(table, filter string, args ...any) (int, error) {
	if !repository.ValidIdentifier(table) {
		return 0, fmt.Errorf("invalid table %q", table)
	}
	query := "SELECT COUNT(*) FROM " + table
	if strings.TrimSpace(filter) != "" {
		query += " WHERE " + filter
	}
	var n int
	if err := h.db.QueryRowContext(context.Background(), h.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s failed: %w", table, err)
	}
	return n, nil
}

func render(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		s = string(x)
	case string:
		s = x
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		s = x.UTC().Format(TimestampLayout)
	default:
		s = fmt.Sprint(x)
	}
	return &s
}
