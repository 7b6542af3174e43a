package harness

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// NullToken marks an explicit NULL in a fixture. Quote it in YAML.
const NullToken = "[NULL]"

type fixtureRow struct {
	columns []string
	values  []any
}

type fixtureTable struct {
	name string
	rows []fixtureRow
}

// LoadFixture refreshes the tables listed in a YAML dataset:
//
//	orders:
//	  - {order_id: 1, orderer: 1, discontinued: false}
//	  - {order_id: 2, orderer: "[NULL]"}
//
// Rows whose primary key already exists are updated, other rows are
// inserted, rows not named are left alone. Tables load in file order inside
// one transaction.
func (h *Harness) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	tables, err := parseFixture(data)
	if err != nil {
		return fmt.Errorf("fixture %s: %w", path, err)
	}

	ctx := context.Background()
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fixture transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	schema := repository.NewSchemaRepository(tx, h.dialect)
	for _, t := range tables {
		key, err := schema.PrimaryKey(ctx, t.name)
		if err != nil {
			return err
		}
		for i, row := range t.rows {
			if err := h.refreshRow(ctx, tx, t.name, key, row); err != nil {
				return fmt.Errorf("fixture %s: %s row %d: %w", path, t.name, i+1, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fixture %s: %w", path, err)
	}
	return nil
}

func parseFixture(data []byte) ([]fixtureTable, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must map table names to rows")
	}

	var out []fixtureTable
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if !repository.ValidIdentifier(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
		seq := root.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("table %s: rows must be a list", name)
		}
		t := fixtureTable{name: name}
		for _, rowNode := range seq.Content {
			if rowNode.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("table %s: row must be a mapping", name)
			}
			var row fixtureRow
			for j := 0; j+1 < len(rowNode.Content); j += 2 {
				col := rowNode.Content[j].Value
				if !repository.ValidIdentifier(col) {
					return nil, fmt.Errorf("table %s: invalid column %q", name, col)
				}
				v, err := fixtureValue(rowNode.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("table %s column %s: %w", name, col, err)
				}
				row.columns = append(row.columns, col)
				row.values = append(row.values, v)
			}
			if len(row.columns) == 0 {
				return nil, fmt.Errorf("table %s: empty row", name)
			}
			t.rows = append(t.rows, row)
		}
		out = append(out, t)
	}
	return out, nil
}

// fixtureValue converts a scalar node. An unquoted [NULL] parses as a one
// element list and is accepted too.
func fixtureValue(n *yaml.Node) (any, error) {
	if n.Kind == yaml.SequenceNode && len(n.Content) == 1 && n.Content[0].Value == "NULL" {
		return nil, nil
	}
	if n.Kind != yaml.ScalarNode {
		return nil, fmt.Errorf("value must be a scalar")
	}
	if n.Value == NullToken {
		return nil, nil
	}
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!int":
		return strconv.ParseInt(n.Value, 10, 64)
	case "!!float":
		return strconv.ParseFloat(n.Value, 64)
	}
	return n.Value, nil
}

// refreshRow updates the row matching the key columns, inserting it when no
// row matches.
func (h *Harness) refreshRow(ctx context.Context, tx *sql.Tx, table string, key []string, row fixtureRow) error {
	if len(key) == 0 {
		key = row.columns[:1]
	}
	idx := make(map[string]int, len(row.columns))
	for i, c := range row.columns {
		idx[c] = i
	}

	var (
		sets     []string
		setArgs  []any
		where    []string
		keyArgs  []any
		isKeyCol = make(map[string]bool, len(key))
	)
	for _, k := range key {
		i, ok := idx[k]
		if !ok {
			return fmt.Errorf("missing key column %s", k)
		}
		isKeyCol[k] = true
		where = append(where, k+" = ?")
		keyArgs = append(keyArgs, row.values[i])
	}
	for i, c := range row.columns {
		if isKeyCol[c] {
			continue
		}
		sets = append(sets, c+" = ?")
		setArgs = append(setArgs, row.values[i])
	}

	var exists int
	err := tx.QueryRowContext(ctx, h.dialect.Rebind(
		"SELECT COUNT(*) FROM "+table+" WHERE "+strings.Join(where, " AND ")), keyArgs...).Scan(&exists)
	if err != nil {
		return err
	}

	if exists > 0 {
		if len(sets) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, h.dialect.Rebind(
			"UPDATE "+table+" SET "+strings.Join(sets, ", ")+" WHERE "+strings.Join(where, " AND ")),
			append(setArgs, keyArgs...)...)
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(row.columns)), ", ")
	_, err = tx.ExecContext(ctx, h.dialect.Rebind(
		"INSERT INTO "+table+" ("+strings.Join(row.columns, ", ")+") VALUES ("+placeholders+")"),
		row.values...)
	return err
}
