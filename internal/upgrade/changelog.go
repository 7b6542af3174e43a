package upgrade

import (
	_ "embed"

	"github.com/openmrs/openmrs-core-sub027/internal/changelog"
)

// ChangelogFilename is recorded in the ledger for the embedded changelog.
const ChangelogFilename = "order_entry_upgrade.yaml"

//go:embed order_entry_upgrade.yaml
var defaultChangelog []byte

// DefaultChangelog parses the embedded order entry changelog.
func DefaultChangelog() (*changelog.File, error) {
	return changelog.Parse(defaultChangelog, ChangelogFilename)
}

// LoadChangelog reads the changelog file at path, or the embedded one when
// path is empty.
func LoadChangelog(path string) (*changelog.File, error) {
	if path == "" {
		return DefaultChangelog()
	}
	return changelog.LoadFile(path)
}
