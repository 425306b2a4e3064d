package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"schema-migrator/internal/migration/adapter/schemafs"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/eventbus"
	"schema-migrator/internal/shared/logger"
	"schema-migrator/internal/shared/utils"

	"github.com/google/uuid"
)

// MigrationManager orders the discovered migrations and moves a database along them.
// The migration list is sorted by version at construction and never changes.
type MigrationManager struct {
	schemaPath     string
	migrations     []*model.Migration
	logger         logger.Logger
	publisher      eventbus.Publisher
	createIfAbsent bool
	newRunID       func() string
}

// Option configures a MigrationManager
type Option func(*MigrationManager)

// WithLogger sets the manager logger
func WithLogger(log logger.Logger) Option {
	return func(m *MigrationManager) {
		if log != nil {
			m.logger = log
		}
	}
}

// WithEventBus publishes run lifecycle events to p
func WithEventBus(p eventbus.Publisher) Option {
	return func(m *MigrationManager) {
		m.publisher = p
	}
}

// WithCreateIfAbsent makes create operations skip objects that already exist
func WithCreateIfAbsent(enabled bool) Option {
	return func(m *MigrationManager) {
		m.createIfAbsent = enabled
	}
}

// WithRunIDGenerator replaces the uuid run id source
func WithRunIDGenerator(gen func() string) Option {
	return func(m *MigrationManager) {
		if gen != nil {
			m.newRunID = gen
		}
	}
}

// NewMigrationManager loads every migration under schemaPath. It does no database I/O.
func NewMigrationManager(schemaPath string, opts ...Option) (*MigrationManager, error) {
	migrations, err := schemafs.Discover(schemaPath)
	if err != nil {
		return nil, err
	}
	m, err := NewMigrationManagerFromMigrations(migrations, opts...)
	if err != nil {
		return nil, err
	}
	m.schemaPath = schemaPath
	return m, nil
}

// NewMigrationManagerFromMigrations builds a manager over an in-memory migration set.
// Two migrations sharing a version are rejected.
func NewMigrationManagerFromMigrations(migrations []*model.Migration, opts ...Option) (*MigrationManager, error) {
	sorted := append([]*model.Migration(nil), migrations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, errors.NewDiscoveryError(
				fmt.Sprintf("duplicate migration version %d: %s and %s",
					sorted[i].Version, describe(sorted[i-1]), describe(sorted[i]))).
				WithDetail("version", sorted[i].Version)
		}
	}

	m := &MigrationManager{
		migrations: sorted,
		logger:     logger.NewNoopLogger(),
		newRunID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("migration_manager")
	return m, nil
}

func describe(m *model.Migration) string {
	if m.Path != "" {
		return m.Path
	}
	return m.ID()
}

// Migrations returns the sorted migration set
func (m *MigrationManager) Migrations() []*model.Migration {
	return append([]*model.Migration(nil), m.migrations...)
}

// SchemaPath returns the directory the migrations were loaded from
func (m *MigrationManager) SchemaPath() string {
	return m.schemaPath
}

// MigrationsUp applies every unapplied migration in ascending version order and
// returns how many were applied. It stops at the first failure; migrations applied
// before it stay applied and recorded.
func (m *MigrationManager) MigrationsUp(ctx context.Context, db *VersionedDatabase) (int, error) {
	applied, err := db.appliedIndex(ctx)
	if err != nil {
		return 0, err
	}
	return m.run(ctx, db, model.DirectionUp, m.pendingUp(applied))
}

// MigrationsDown rolls back up to count of the most recently applied migrations,
// newest first, and returns how many were rolled back. Asking for more than are
// applied rolls back all of them.
func (m *MigrationManager) MigrationsDown(ctx context.Context, count int, db *VersionedDatabase) (int, error) {
	if count < 0 {
		return 0, errors.NewValidationError(fmt.Sprintf("rollback count must not be negative, got %d", count)).
			WithDetail("count", count)
	}
	if count == 0 {
		return 0, nil
	}

	applied, err := db.appliedIndex(ctx)
	if err != nil {
		return 0, err
	}
	m.warnOrphans(ctx, applied)
	return m.run(ctx, db, model.DirectionDown, m.pendingDown(applied, count))
}

// Plan lists, in execution order, the migrations a run in direction would touch.
// Nothing is executed.
func (m *MigrationManager) Plan(ctx context.Context, db *VersionedDatabase, direction model.Direction, count int) ([]*model.Migration, error) {
	applied, err := db.appliedIndex(ctx)
	if err != nil {
		return nil, err
	}

	switch direction {
	case model.DirectionUp:
		return m.pendingUp(applied), nil
	case model.DirectionDown:
		if count < 0 {
			return nil, errors.NewValidationError(fmt.Sprintf("rollback count must not be negative, got %d", count))
		}
		return m.pendingDown(applied, count), nil
	}
	return nil, errors.NewValidationError(fmt.Sprintf("unknown direction %q", direction))
}

// Status compares the migration set with the ledger
func (m *MigrationManager) Status(ctx context.Context, db *VersionedDatabase) (*model.StatusReport, error) {
	entries, err := db.AppliedEntries(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[uint64]model.LedgerEntry, len(entries))
	for _, e := range entries {
		byVersion[e.Version] = e
	}

	report := &model.StatusReport{Migrations: make([]model.MigrationStatus, 0, len(m.migrations))}
	known := make(map[uint64]bool, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = true
		status := model.MigrationStatus{
			Version:  mig.Version,
			Name:     mig.Name,
			Checksum: mig.Checksum,
		}
		if entry, ok := byVersion[mig.Version]; ok {
			appliedAt := entry.AppliedAt
			status.Applied = true
			status.AppliedAt = &appliedAt
			status.Drifted = entry.Checksum != "" && mig.Checksum != "" && entry.Checksum != mig.Checksum
		}
		report.Migrations = append(report.Migrations, status)
	}

	for _, e := range entries {
		if !known[e.Version] {
			report.Orphans = append(report.Orphans, e)
		}
	}
	return report, nil
}

func (m *MigrationManager) pendingUp(applied map[uint64]model.LedgerEntry) []*model.Migration {
	pending := make([]*model.Migration, 0, len(m.migrations))
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending
}

// pendingDown picks the newest count applied migrations that still have a file
func (m *MigrationManager) pendingDown(applied map[uint64]model.LedgerEntry, count int) []*model.Migration {
	selected := make([]*model.Migration, 0, count)
	for i := len(m.migrations) - 1; i >= 0 && len(selected) < count; i-- {
		if _, ok := applied[m.migrations[i].Version]; ok {
			selected = append(selected, m.migrations[i])
		}
	}
	return selected
}

func (m *MigrationManager) warnOrphans(ctx context.Context, applied map[uint64]model.LedgerEntry) {
	known := make(map[uint64]bool, len(m.migrations))
	for _, mig := range m.migrations {
		known[mig.Version] = true
	}
	for version, entry := range applied {
		if !known[version] {
			m.logger.WithContext(ctx).Warnf("Ledger entry %d (%s) has no migration file and will not be rolled back", version, entry.Name)
		}
	}
}

// run executes selected in order, updating the ledger after each migration
func (m *MigrationManager) run(ctx context.Context, db *VersionedDatabase, direction model.Direction, selected []*model.Migration) (int, error) {
	runID := m.newRunID()
	ctx = utils.WithRunID(ctx, runID)
	log := m.logger.WithContext(ctx)
	started := time.Now()

	m.publish(ctx, eventbus.EventTypeRunStarted, model.RunEvent{RunID: runID, Direction: direction, Count: len(selected)})

	if len(selected) == 0 {
		log.Infof("Nothing to migrate %s", direction)
	}

	opts := model.ApplyOptions{CreateIfAbsent: m.createIfAbsent, Logger: log}
	done := 0
	for _, mig := range selected {
		migCtx := utils.WithMigration(ctx, mig.Version, string(direction))
		migStarted := time.Now()
		log.Infof("Migrating %s %s", direction, mig.ID())

		if err := m.step(migCtx, db, direction, mig, opts); err != nil {
			log.Errorf("Migration %s failed after %d of %d migrations: %v", mig.ID(), done, len(selected), err)
			m.publish(migCtx, eventbus.EventTypeMigrationFailed, model.RunEvent{
				RunID:     runID,
				Direction: direction,
				Version:   mig.Version,
				Name:      mig.Name,
				Checksum:  mig.Checksum,
				Duration:  time.Since(migStarted),
				Error:     err.Error(),
			})
			m.finish(ctx, runID, direction, done, started)
			return done, err
		}

		done++
		eventType := eventbus.EventTypeMigrationApplied
		if direction == model.DirectionDown {
			eventType = eventbus.EventTypeMigrationRolledBack
		}
		m.publish(migCtx, eventType, model.RunEvent{
			RunID:     runID,
			Direction: direction,
			Version:   mig.Version,
			Name:      mig.Name,
			Checksum:  mig.Checksum,
			Duration:  time.Since(migStarted),
		})
	}

	m.finish(ctx, runID, direction, done, started)
	return done, nil
}

// step applies one migration and then updates the ledger
func (m *MigrationManager) step(ctx context.Context, db *VersionedDatabase, direction model.Direction, mig *model.Migration, opts model.ApplyOptions) error {
	// Once the operations succeeded the ledger must follow, even if the run was cancelled.
	ledgerCtx := context.WithoutCancel(ctx)

	if direction == model.DirectionDown {
		if err := mig.ApplyDown(ctx, db.Store(), opts); err != nil {
			return err
		}
		return db.RemoveApplied(ledgerCtx, mig.Version)
	}

	if err := mig.ApplyUp(ctx, db.Store(), opts); err != nil {
		return err
	}
	return db.RecordApplied(ledgerCtx, mig)
}

func (m *MigrationManager) finish(ctx context.Context, runID string, direction model.Direction, done int, started time.Time) {
	m.publish(ctx, eventbus.EventTypeRunFinished, model.RunEvent{
		RunID:     runID,
		Direction: direction,
		Count:     done,
		Duration:  time.Since(started),
	})
}

// publish never fails the run; journal problems are only logged
func (m *MigrationManager) publish(ctx context.Context, eventType string, data model.RunEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, eventbus.NewBasicEvent(eventType, data)); err != nil {
		m.logger.WithContext(ctx).Warnf("Publishing %s failed: %v", eventType, err)
	}
}
