package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/strata/internal/queryir"
)

// CompileInsert renders INSERT ... RETURNING * for one record. Columns are
// sorted; an empty record inserts default values.
func (c *SQLCompiler) CompileInsert(table string, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", Quote(table)), nil, nil
	}

	cols := sortedKeys(values)
	quoted := make([]string, len(cols))
	params := make([]any, len(cols))
	for i, col := range cols {
		param, err := Param(values[col])
		if err != nil {
			return "", nil, fmt.Errorf("insert %s.%s: %w", table, col, err)
		}
		quoted[i] = Quote(col)
		params[i] = param
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		Quote(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	return sql, params, nil
}

// CompileUpdate renders UPDATE ... RETURNING * for the records matching
// filter. SET parameters precede WHERE parameters.
func (c *SQLCompiler) CompileUpdate(table string, filter queryir.Predicate, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("update %s: no values", table)
	}

	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	params := make([]any, 0, len(cols))
	for i, col := range cols {
		param, err := Param(values[col])
		if err != nil {
			return "", nil, fmt.Errorf("update %s.%s: %w", table, col, err)
		}
		sets[i] = Quote(col) + " = ?"
		params = append(params, param)
	}

	where, whereParams, err := c.where(filter)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", Quote(table), strings.Join(sets, ", "), where)
	return sql, append(params, whereParams...), nil
}

// CompileDelete renders DELETE ... RETURNING * for the records matching filter.
func (c *SQLCompiler) CompileDelete(table string, filter queryir.Predicate) (string, []any, error) {
	where, params, err := c.where(filter)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s RETURNING *", Quote(table), where), params, nil
}

// CompileCount renders SELECT COUNT(*) for a whole table.
func (c *SQLCompiler) CompileCount(table string) string {
	return "SELECT COUNT(*) FROM " + Quote(table)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
