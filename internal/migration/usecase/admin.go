package usecase

import (
	"context"
	"time"

	"schema-migrator/internal/migration/adapter/schemafs"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/logger"
)

// DatabaseOpener connects to the configured database and prepares its ledger
type DatabaseOpener func(ctx context.Context) (*VersionedDatabase, error)

// Admin bundles the administrative commands. Each database command opens its own
// session and closes it before returning.
type Admin struct {
	schemaPath  string
	open        DatabaseOpener
	logger      logger.Logger
	managerOpts []Option
	now         func() time.Time
}

// NewAdmin creates the command facade. opts are applied to every manager it builds.
func NewAdmin(schemaPath string, open DatabaseOpener, log logger.Logger, opts ...Option) *Admin {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Admin{
		schemaPath:  schemaPath,
		open:        open,
		logger:      log.WithComponent("admin"),
		managerOpts: append([]Option{WithLogger(log)}, opts...),
		now:         time.Now,
	}
}

// Check loads and validates the migration files without connecting anywhere
func (a *Admin) Check() ([]*model.Migration, error) {
	manager, err := NewMigrationManager(a.schemaPath, a.managerOpts...)
	if err != nil {
		return nil, err
	}
	return manager.Migrations(), nil
}

// MigrateUp applies all pending migrations
func (a *Admin) MigrateUp(ctx context.Context) (int, error) {
	var applied int
	err := a.withManager(ctx, func(manager *MigrationManager, db *VersionedDatabase) error {
		var err error
		applied, err = manager.MigrationsUp(ctx, db)
		return err
	})
	return applied, err
}

// Rollback reverts the count most recent migrations
func (a *Admin) Rollback(ctx context.Context, count int) (int, error) {
	var reverted int
	err := a.withManager(ctx, func(manager *MigrationManager, db *VersionedDatabase) error {
		var err error
		reverted, err = manager.MigrationsDown(ctx, count, db)
		return err
	})
	return reverted, err
}

// Plan reports what MigrateUp or Rollback would run, without running it
func (a *Admin) Plan(ctx context.Context, direction model.Direction, count int) ([]*model.Migration, error) {
	var plan []*model.Migration
	err := a.withManager(ctx, func(manager *MigrationManager, db *VersionedDatabase) error {
		var err error
		plan, err = manager.Plan(ctx, db, direction, count)
		return err
	})
	return plan, err
}

// Status compares the migration files with the ledger
func (a *Admin) Status(ctx context.Context) (*model.StatusReport, error) {
	var report *model.StatusReport
	err := a.withManager(ctx, func(manager *MigrationManager, db *VersionedDatabase) error {
		var err error
		report, err = manager.Status(ctx, db)
		return err
	})
	return report, err
}

// Truncate drops every non-system collection, the ledger included, and returns their names.
// It stops at the first collection that cannot be dropped.
func (a *Admin) Truncate(ctx context.Context) ([]string, error) {
	var dropped []string
	err := a.withDatabase(ctx, func(db *VersionedDatabase) error {
		collections, err := db.AccessibleCollections(ctx)
		if err != nil {
			return err
		}
		for _, c := range collections {
			if c.IsSystem {
				a.logger.Debugf("Skipping system collection %s", c.Name)
				continue
			}
			if err := db.DropCollection(ctx, c.Name); err != nil {
				return err
			}
			a.logger.Infof("Dropped collection %s", c.Name)
			dropped = append(dropped, c.Name)
		}
		return nil
	})
	return dropped, err
}

// CreateMigration writes a new empty migration file and returns its path
func (a *Admin) CreateMigration(name string) (string, error) {
	path, err := schemafs.Create(a.schemaPath, name, a.now())
	if err != nil {
		return "", err
	}
	a.logger.Infof("Created migration %s", path)
	return path, nil
}

func (a *Admin) withManager(ctx context.Context, fn func(*MigrationManager, *VersionedDatabase) error) error {
	manager, err := NewMigrationManager(a.schemaPath, a.managerOpts...)
	if err != nil {
		return err
	}
	return a.withDatabase(ctx, func(db *VersionedDatabase) error {
		return fn(manager, db)
	})
}

func (a *Admin) withDatabase(ctx context.Context, fn func(*VersionedDatabase) error) error {
	db, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(ctx); cerr != nil {
			a.logger.Warnf("Closing database session failed: %v", cerr)
		}
	}()
	return fn(db)
}
