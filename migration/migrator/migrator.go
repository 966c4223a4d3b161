// Package migrator applies versioned schema migrations over database/sql.
//
// Applied versions are kept in the schema_migrations table. Each migration
// runs in its own transaction together with its bookkeeping row, so a failed
// migration leaves no trace on databases with transactional DDL.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"time"
)

// MigrationStatus represents the current state of migrations
type MigrationStatus struct {
	CurrentVersion    int   `json:"current_version"`
	PendingMigrations []int `json:"pending_migrations"`
	TotalMigrations   int   `json:"total_migrations"`
	HasPendingChanges bool  `json:"has_pending_changes"`
}

// Migrator handles database migrations
type Migrator struct {
	db                *sql.DB
	dialect           string
	migrationProvider MigrationProvider
	initialized       bool
	logger            *slog.Logger
}

// NewFSMigrator creates a new migrator that loads migrations from a filesystem.
// It scans the provided filesystem for migration files following the naming convention
// NNNNNNNNNN_description.up.sql and NNNNNNNNNN_description.down.sql. Returns an error if
// the filesystem cannot be scanned or if any migrations are incomplete.
func NewFSMigrator(db *sql.DB, dialect string, fsys fs.FS) (*Migrator, error) {
	provider, err := NewFSMigrationProvider(fsys)
	if err != nil {
		return nil, err
	}
	return NewMigrator(db, dialect, provider), nil
}

// NewMigrator creates a new migrator with the given database
func NewMigrator(db *sql.DB, dialect string, provider MigrationProvider) *Migrator {
	return &Migrator{
		db:                db,
		dialect:           dialect,
		migrationProvider: provider,
		logger:            slog.Default(),
	}
}

// WithLogger sets the logger for the migrator
func (m *Migrator) WithLogger(l *slog.Logger) *Migrator {
	tmp := *m
	tmp.logger = l
	return &tmp
}

// MigrationProvider returns the migration provider
func (m *Migrator) MigrationProvider() MigrationProvider {
	return m.migrationProvider
}

// Initialize creates the migrations table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	if _, err := m.db.ExecContext(ctx, migrationsSchemaSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	m.initialized = true
	return nil
}

// GetCurrentVersion returns the current migration version from the database
func (m *Migrator) GetCurrentVersion(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	var version int
	if err := m.db.QueryRowContext(ctx, getVersionSQL).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// GetAppliedMigrations returns a list of applied migration versions
func (m *Migrator) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, appliedMigrationsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied = append(applied, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return applied, nil
}

// GetPendingMigrations returns a list of pending migration versions
func (m *Migrator) GetPendingMigrations(ctx context.Context) ([]int, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	pending := []int{}
	for _, migration := range m.migrationProvider.Migrations() {
		if migration.Version > currentVersion {
			pending = append(pending, migration.Version)
		}
	}
	slices.Sort(pending)
	return pending, nil
}

// GetPreviousMigrationVersion finds the version preceding the current one,
// or 0 when the current migration is the first. It fails when nothing is
// applied.
func (m *Migrator) GetPreviousMigrationVersion(ctx context.Context) (int, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return -1, fmt.Errorf("failed to get current version: %w", err)
	}
	if currentVersion == 0 {
		return -1, fmt.Errorf("no previous migrations exist")
	}

	previousVersion := 0
	for _, migration := range m.migrationProvider.Migrations() {
		if migration.Version >= currentVersion {
			break
		}
		previousVersion = migration.Version
	}
	return previousVersion, nil
}

// GetMigrationStatus returns information about the current migration status
func (m *Migrator) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	pendingMigrations, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending migrations: %w", err)
	}

	return &MigrationStatus{
		CurrentVersion:    currentVersion,
		PendingMigrations: pendingMigrations,
		TotalMigrations:   len(m.migrationProvider.Migrations()),
		HasPendingChanges: len(pendingMigrations) > 0,
	}, nil
}

// MigrateUp migrates the database up to the latest version
func (m *Migrator) MigrateUp(ctx context.Context) error {
	migrations := m.migrationProvider.Migrations()
	if len(migrations) == 0 {
		return m.Initialize(ctx)
	}
	return m.migrateUpTo(ctx, migrations[len(migrations)-1].Version)
}

// MigrateDown migrates the database down to the previous version
func (m *Migrator) MigrateDown(ctx context.Context) error {
	targetVersion, err := m.GetPreviousMigrationVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get previous version: %w", err)
	}
	return m.MigrateDownTo(ctx, targetVersion)
}

// MigrateDownTo migrates the database down to the specified target version
func (m *Migrator) MigrateDownTo(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if targetVersion >= currentVersion {
		m.logger.Info("Already at or below target version", "targetVersion", targetVersion, "currentVersion", currentVersion)
		return nil
	}

	migrations := slices.Clone(m.migrationProvider.Migrations())
	slices.Reverse(migrations)

	m.logger.Info("Migrating down", "targetVersion", targetVersion, "currentVersion", currentVersion, "totalMigrations", len(migrations))

	for _, migration := range migrations {
		if migration.Version <= targetVersion || migration.Version > currentVersion {
			continue
		}
		m.logger.Info("Rolling back migration", "version", migration.Version, "description", migration.Description)
		err := m.step(ctx, migration.Down, rebind(m.dialect, deleteMigrationSQL), migration.Version)
		if err != nil {
			return fmt.Errorf("failed to revert migration %d: %w", migration.Version, err)
		}
		m.logger.Info("Rolled back migration", "version", migration.Version, "description", migration.Description)
	}

	m.logger.Info("All migrations rolled back successfully")
	return nil
}

// MigrateTo migrates the database to a specific version (up or down)
func (m *Migrator) MigrateTo(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if targetVersion == currentVersion {
		m.logger.Info("Already at target version", "version", targetVersion)
		return nil
	}
	if targetVersion > currentVersion {
		return m.migrateUpTo(ctx, targetVersion)
	}
	return m.MigrateDownTo(ctx, targetVersion)
}

// migrateUpTo migrates the database up to a specific version
func (m *Migrator) migrateUpTo(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := m.migrationProvider.Migrations()
	m.logger.Info("Migrating up", "currentVersion", currentVersion, "targetVersion", targetVersion, "totalMigrations", len(migrations))

	for _, migration := range migrations {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}
		m.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)
		err := m.step(ctx, migration.Up, rebind(m.dialect, recordMigrationSQL), migration.Version, migration.Description, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		m.logger.Info("Applied migration", "version", migration.Version, "description", migration.Description)
	}

	m.logger.Info("Migrated successfully", "targetVersion", targetVersion)
	return nil
}

// step runs one migration direction and its bookkeeping statement in a
// transaction.
func (m *Migrator) step(ctx context.Context, fn MigrationFunc, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
