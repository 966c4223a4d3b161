package migrator

import (
	"cmp"
	"fmt"
	"io/fs"
	"maps"
	"slices"
)

// MigrationProvider provides a list of migrations
type MigrationProvider interface {
	// Migrations provides a list of migrations sorted by version in ascending order
	Migrations() []*Migration
}

// RegisteredMigrationProvider keeps migrations registered in code, such as
// the support table migrations of the behaviors.
type RegisteredMigrationProvider struct {
	migrations []*Migration
}

// NewRegisteredMigrationProvider creates a provider holding the given migrations.
func NewRegisteredMigrationProvider(migrations ...*Migration) *RegisteredMigrationProvider {
	return &RegisteredMigrationProvider{migrations: slices.Clone(migrations)}
}

// Register adds a migration to the provider
func (p *RegisteredMigrationProvider) Register(migration *Migration) {
	p.migrations = append(p.migrations, migration)
}

// Migrations returns the registered migrations sorted by version. Migrations
// registered with the same version keep their registration order.
func (p *RegisteredMigrationProvider) Migrations() []*Migration {
	out := slices.Clone(p.migrations)
	sortMigrations(out)
	return out
}

// FSMigrationProvider loads migrations from NNNNNNNNNN_name.up.sql and
// NNNNNNNNNN_name.down.sql file pairs. Other files are ignored.
type FSMigrationProvider struct {
	migrations []*Migration
}

// NewFSMigrationProvider scans fsys, including subdirectories. Every version
// needs exactly one up and one down file; versions missing either are
// reported together.
func NewFSMigrationProvider(fsys fs.FS) (*FSMigrationProvider, error) {
	byVersion := make(map[int]*Migration)
	seen := make(map[string]string) // version/direction -> path

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		file, err := ParseMigrationFileName(d.Name())
		if err != nil {
			return nil
		}

		key := fmt.Sprintf("%d/%s", file.Version, file.Direction)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("duplicate %s migration %d: %s and %s", file.Direction, file.Version, other, path)
		}
		seen[key] = path

		m, ok := byVersion[file.Version]
		if !ok {
			m = &Migration{Version: file.Version, Description: file.Name}
			byVersion[file.Version] = m
		}
		fn := MigrationFuncFromSQLFilename(path, fsys)
		if file.Direction == "up" {
			m.Up = fn
		} else {
			m.Down = fn
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	var incomplete []int
	for version, m := range byVersion {
		if m.Up == nil || m.Down == nil {
			incomplete = append(incomplete, version)
		}
	}
	if len(incomplete) > 0 {
		slices.Sort(incomplete)
		return nil, fmt.Errorf("incomplete migrations found (missing up or down files): %v", incomplete)
	}

	migrations := slices.Collect(maps.Values(byVersion))
	sortMigrations(migrations)
	return &FSMigrationProvider{migrations: migrations}, nil
}

// Migrations returns the loaded migrations sorted by version.
func (p *FSMigrationProvider) Migrations() []*Migration {
	return p.migrations
}

func sortMigrations(migrations []*Migration) {
	slices.SortStableFunc(migrations, func(a, b *Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
}
