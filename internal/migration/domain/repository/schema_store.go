package repository

import (
	"context"

	"schema-migrator/internal/migration/domain/model"
)

// SchemaStore is the database driver contract. Implementations translate driver
// failures into errors.ErrNotFound, errors.ErrAlreadyExists and errors.ErrConnectionLost.
type SchemaStore interface {
	model.SchemaExecutor

	// Ping verifies the session is usable
	Ping(ctx context.Context) error

	// EnsureCollection creates a document collection unless it already exists
	EnsureCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Collections(ctx context.Context) ([]model.CollectionInfo, error)

	// Ledger documents. The entry version is the document key, so inserting a
	// duplicate fails with ErrAlreadyExists.
	InsertLedgerEntry(ctx context.Context, ledger string, entry model.LedgerEntry) error
	DeleteLedgerEntry(ctx context.Context, ledger string, version uint64) error
	FindLedgerEntry(ctx context.Context, ledger string, version uint64) (*model.LedgerEntry, error)
	// ListLedgerEntries returns entries in ascending version order
	ListLedgerEntries(ctx context.Context, ledger string) ([]model.LedgerEntry, error)

	Close(ctx context.Context) error
}

// RunJournal persists run lifecycle events outside the process
type RunJournal interface {
	Append(ctx context.Context, eventType string, event model.RunEvent) error
	Close() error
}
