package usecase

import (
	"context"
	"fmt"
	"time"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/migration/domain/repository"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"
	"schema-migrator/internal/shared/utils"
)

// DefaultLedgerCollection holds applied migration records unless configured otherwise
const DefaultLedgerCollection = "MigratorLedger"

// VersionedDatabase is a schema store session plus the ledger of applied migrations.
// It is the only component that reads or writes the ledger.
type VersionedDatabase struct {
	store  repository.SchemaStore
	ledger string
	logger logger.Logger
	now    func() time.Time
}

// NewVersionedDatabase checks the session and makes sure the ledger collection exists
func NewVersionedDatabase(ctx context.Context, store repository.SchemaStore, ledgerCollection string, log logger.Logger) (*VersionedDatabase, error) {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if ledgerCollection == "" {
		ledgerCollection = DefaultLedgerCollection
	}
	log = log.WithComponent("versioned_database")

	if err := store.Ping(ctx); err != nil {
		return nil, errors.NewConnectionError("database is not reachable").
			WithCause(err).
			WithComponent("versioned_database")
	}
	if err := store.EnsureCollection(ctx, ledgerCollection); err != nil {
		return nil, errors.NewConnectionError(fmt.Sprintf("cannot prepare ledger collection %s", ledgerCollection)).
			WithCause(err).
			WithComponent("versioned_database")
	}

	log.Debugf("Ledger collection %s ready", ledgerCollection)
	return &VersionedDatabase{
		store:  store,
		ledger: ledgerCollection,
		logger: log,
		now:    time.Now,
	}, nil
}

// Store returns the session operations execute against
func (db *VersionedDatabase) Store() repository.SchemaStore {
	return db.store
}

// LedgerCollection returns the name of the ledger collection
func (db *VersionedDatabase) LedgerCollection() string {
	return db.ledger
}

// IsApplied reports whether version has a ledger entry
func (db *VersionedDatabase) IsApplied(ctx context.Context, version uint64) (bool, error) {
	_, err := db.store.FindLedgerEntry(ctx, db.ledger, version)
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, db.ledgerError("cannot read ledger entry", version, err)
}

// RecordApplied writes the ledger entry for m. It fails if one already exists.
func (db *VersionedDatabase) RecordApplied(ctx context.Context, m *model.Migration) error {
	entry := model.NewLedgerEntry(m, db.now(), utils.RunIDOrEmpty(ctx))

	if err := db.store.InsertLedgerEntry(ctx, db.ledger, entry); err != nil {
		if errors.IsAlreadyExists(err) {
			return db.ledgerError(fmt.Sprintf("migration %s is already recorded as applied", m.ID()), m.Version, err)
		}
		return db.ledgerError("cannot record applied migration", m.Version, err)
	}

	db.logger.WithContext(ctx).Debugf("Recorded %s in ledger", m.ID())
	return nil
}

// RemoveApplied deletes the ledger entry for version. It fails if there is none.
func (db *VersionedDatabase) RemoveApplied(ctx context.Context, version uint64) error {
	if err := db.store.DeleteLedgerEntry(ctx, db.ledger, version); err != nil {
		if errors.IsNotFound(err) {
			return db.ledgerError(fmt.Sprintf("migration %d is not recorded as applied", version), version, err)
		}
		return db.ledgerError("cannot remove ledger entry", version, err)
	}

	db.logger.WithContext(ctx).Debugf("Removed %d from ledger", version)
	return nil
}

// AppliedEntries returns the whole ledger in ascending version order
func (db *VersionedDatabase) AppliedEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	entries, err := db.store.ListLedgerEntries(ctx, db.ledger)
	if err != nil {
		return nil, errors.NewLedgerError("cannot read ledger").
			WithCause(err).
			WithComponent("versioned_database")
	}
	return entries, nil
}

// appliedIndex maps applied versions to their entries
func (db *VersionedDatabase) appliedIndex(ctx context.Context) (map[uint64]model.LedgerEntry, error) {
	entries, err := db.AppliedEntries(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[uint64]model.LedgerEntry, len(entries))
	for _, e := range entries {
		index[e.Version] = e
	}
	return index, nil
}

// AccessibleCollections lists the collections the session can see, system ones included
func (db *VersionedDatabase) AccessibleCollections(ctx context.Context) ([]model.CollectionInfo, error) {
	collections, err := db.store.Collections(ctx)
	if err != nil {
		return nil, errors.NewSchemaError("cannot list collections").WithCause(err)
	}
	return collections, nil
}

// DropCollection drops name without touching the ledger
func (db *VersionedDatabase) DropCollection(ctx context.Context, name string) error {
	if err := db.store.DropCollection(ctx, name); err != nil {
		return errors.NewSchemaError(fmt.Sprintf("cannot drop collection %s", name)).
			WithCause(err).
			WithDetail("collection", name)
	}
	return nil
}

// Close releases the session
func (db *VersionedDatabase) Close(ctx context.Context) error {
	return db.store.Close(ctx)
}

func (db *VersionedDatabase) ledgerError(message string, version uint64, cause error) error {
	return errors.NewLedgerError(message).
		WithCause(cause).
		WithComponent("versioned_database").
		WithDetail("version", version).
		WithDetail("ledger", db.ledger)
}
