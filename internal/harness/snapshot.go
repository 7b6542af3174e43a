package harness

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// loadSnapshot executes a SQL script. Statements end with ';' at the end of
// a line; lines starting with "--" are comments.
func loadSnapshot(ctx context.Context, db *sql.DB, path string) error {
	stmts, err := readScript(path)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("snapshot %s statement %d: %w", path, i+1, err)
		}
	}
	return nil
}

func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var (
		stmts []string
		cur   strings.Builder
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(line, ";") {
			stmts = append(stmts, strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"))
			cur.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts, nil
}
