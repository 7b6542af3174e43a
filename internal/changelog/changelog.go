package changelog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
	"github.com/openmrs/openmrs-core-sub027/internal/repository"
)

// OnFail values, applied when a precondition does not hold.
const (
	OnFailHalt    = "halt"
	OnFailMarkRan = "mark-ran"
)

// File is a changelog file: named sequences applied in file order.
type File struct {
	Filename   string      `yaml:"-"`
	Changelogs []Changelog `yaml:"changelogs"`
}

// Changelog is one named, ordered sequence of changesets.
type Changelog struct {
	Name       string      `yaml:"name"`
	Filename   string      `yaml:"-"`
	Changesets []Changeset `yaml:"changesets"`
}

// Changeset is the unit of change tracked in the ledger. It either runs SQL
// statements or applies a registered rule.
type Changeset struct {
	ID            string         `yaml:"id"`
	Author        string         `yaml:"author"`
	Comment       string         `yaml:"comment"`
	SQL           []string       `yaml:"sql"`
	SQLite        []string       `yaml:"sqlite"`
	Postgres      []string       `yaml:"postgres"`
	Rule          string         `yaml:"rule"`
	Preconditions []Precondition `yaml:"preconditions"`
	OnFail        string         `yaml:"onFail"`
}

// Precondition names one schema check in table or table.column form.
type Precondition struct {
	TableExists   string `yaml:"tableExists"`
	TableMissing  string `yaml:"tableMissing"`
	ColumnExists  string `yaml:"columnExists"`
	ColumnMissing string `yaml:"columnMissing"`
}

func (p Precondition) String() string {
	switch {
	case p.TableExists != "":
		return "tableExists " + p.TableExists
	case p.TableMissing != "":
		return "tableMissing " + p.TableMissing
	case p.ColumnExists != "":
		return "columnExists " + p.ColumnExists
	default:
		return "columnMissing " + p.ColumnMissing
	}
}

// LoadFile reads and validates a changelog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog %s: %w", path, err)
	}
	return Parse(data, filepath.Base(path))
}

// Parse parses and validates changelog YAML.
func Parse(data []byte, filename string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WithKind(errors.ErrInvalidChangelog, fmt.Errorf("failed to parse %s: %w", filename, err))
	}
	f.Filename = filename
	applyDefaults(&f)
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func applyDefaults(f *File) {
	for i := range f.Changelogs {
		cl := &f.Changelogs[i]
		cl.Filename = f.Filename
		for j := range cl.Changesets {
			if cl.Changesets[j].OnFail == "" {
				cl.Changesets[j].OnFail = OnFailHalt
			}
		}
	}
}

func (f *File) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(errors.ErrInvalidChangelog, "%s: "+format, append([]interface{}{f.Filename}, args...)...)
	}
	names := make(map[string]bool)
	ids := make(map[string]bool)
	for _, cl := range f.Changelogs {
		if cl.Name == "" {
			return invalid("changelog without name")
		}
		if names[cl.Name] {
			return invalid("duplicate changelog %s", cl.Name)
		}
		names[cl.Name] = true
		for _, cs := range cl.Changesets {
			if cs.ID == "" {
				return invalid("changeset without id in %s", cl.Name)
			}
			if ids[cs.ID] {
				return invalid("duplicate changeset id %s", cs.ID)
			}
			ids[cs.ID] = true
			hasSQL := len(cs.SQL) > 0 || len(cs.SQLite) > 0 || len(cs.Postgres) > 0
			if hasSQL == (cs.Rule != "") {
				return invalid("changeset %s needs exactly one of sql or rule", cs.ID)
			}
			if len(cs.SQL) > 0 && (len(cs.SQLite) > 0 || len(cs.Postgres) > 0) {
				return invalid("changeset %s mixes sql with dialect specific sql", cs.ID)
			}
			if (len(cs.SQLite) > 0) != (len(cs.Postgres) > 0) {
				return invalid("changeset %s needs both sqlite and postgres sql", cs.ID)
			}
			if cs.OnFail != OnFailHalt && cs.OnFail != OnFailMarkRan {
				return invalid("changeset %s has unknown onFail %q", cs.ID, cs.OnFail)
			}
			for _, p := range cs.Preconditions {
				if err := p.validate(); err != nil {
					return invalid("changeset %s: %v", cs.ID, err)
				}
			}
		}
	}
	return nil
}

func (p Precondition) validate() error {
	set := 0
	for _, v := range []string{p.TableExists, p.TableMissing, p.ColumnExists, p.ColumnMissing} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("precondition must name exactly one check")
	}
	for _, v := range []string{p.TableExists, p.TableMissing} {
		if v != "" && !repository.ValidIdentifier(v) {
			return fmt.Errorf("bad table %q", v)
		}
	}
	for _, v := range []string{p.ColumnExists, p.ColumnMissing} {
		if v == "" {
			continue
		}
		table, column, ok := strings.Cut(v, ".")
		if !ok || !repository.ValidIdentifier(table) || !repository.ValidIdentifier(column) {
			return fmt.Errorf("bad column %q, want table.column", v)
		}
	}
	return nil
}

// Select returns the named changelogs, in file order, as one sequence. No
// names selects the whole file.
func (f *File) Select(names ...string) (*Changelog, error) {
	if len(names) == 0 {
		out := &Changelog{Name: strings.TrimSuffix(f.Filename, filepath.Ext(f.Filename)), Filename: f.Filename}
		for _, cl := range f.Changelogs {
			out.Changesets = append(out.Changesets, cl.Changesets...)
		}
		return out, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	out := &Changelog{Name: strings.Join(names, ","), Filename: f.Filename}
	for _, cl := range f.Changelogs {
		if wanted[cl.Name] {
			out.Changesets = append(out.Changesets, cl.Changesets...)
			delete(wanted, cl.Name)
		}
	}
	for _, n := range names {
		if wanted[n] {
			return nil, errors.Wrapf(errors.ErrNotFound, "changelog %s in %s", n, f.Filename)
		}
	}
	return out, nil
}

// Names lists the changelog names in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.Changelogs))
	for i, cl := range f.Changelogs {
		out[i] = cl.Name
	}
	return out
}

// Statements returns the SQL to run on the dialect.
func (c Changeset) Statements(d repository.Dialect) []string {
	switch {
	case d == repository.SQLite && len(c.SQLite) > 0:
		return c.SQLite
	case d == repository.Postgres && len(c.Postgres) > 0:
		return c.Postgres
	}
	return c.SQL
}

// Checksum is the hex md5 of the rule name or of the whitespace-normalised
// statements for the dialect.
func (c Changeset) Checksum(d repository.Dialect) string {
	var payload string
	if c.Rule != "" {
		payload = "rule:" + c.Rule
	} else {
		stmts := c.Statements(d)
		normalized := make([]string, len(stmts))
		for i, s := range stmts {
			normalized[i] = strings.Join(strings.Fields(s), " ")
		}
		payload = strings.Join(normalized, ";\n")
	}
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
