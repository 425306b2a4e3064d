package usecase

import (
	"context"
	"testing"
	"time"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/migration/testutil"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionedDatabase_EnsuresLedger(t *testing.T) {
	store := testutil.NewMemoryStore()
	db, err := NewVersionedDatabase(context.Background(), store, "Custom", nil)
	require.NoError(t, err)
	assert.Equal(t, "Custom", db.LedgerCollection())
	assert.True(t, store.HasCollection("Custom"))
	assert.Same(t, store, db.Store())

	// Second session over the same store reuses the collection.
	_, err = NewVersionedDatabase(context.Background(), store, "Custom", nil)
	require.NoError(t, err)
}

func TestNewVersionedDatabase_ConnectionErrors(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.FailOn("ping", errors.ErrConnectionLost)
	_, err := NewVersionedDatabase(context.Background(), store, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))

	store = testutil.NewMemoryStore()
	store.FailOn("ensure_collection "+DefaultLedgerCollection, errors.ErrConnectionLost)
	_, err = NewVersionedDatabase(context.Background(), store, "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))
}

func TestVersionedDatabase_LedgerLifecycle(t *testing.T) {
	ctx := utils.WithRunID(context.Background(), "run-xyz")
	store := testutil.NewMemoryStore()
	db, err := NewVersionedDatabase(ctx, store, "", nil)
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	db.now = func() time.Time { return fixed }

	m := &model.Migration{Version: 20240506070809, Name: "users", Checksum: "abc"}

	applied, err := db.IsApplied(ctx, m.Version)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, db.RecordApplied(ctx, m))
	applied, err = db.IsApplied(ctx, m.Version)
	require.NoError(t, err)
	assert.True(t, applied)

	entries, err := db.AppliedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LedgerEntry{
		Version:   20240506070809,
		Name:      "users",
		AppliedAt: fixed,
		Checksum:  "abc",
		RunID:     "run-xyz",
	}, entries[0])

	err = db.RecordApplied(ctx, m)
	require.Error(t, err)
	assert.True(t, errors.IsLedger(err))
	assert.True(t, errors.IsAlreadyExists(err))

	require.NoError(t, db.RemoveApplied(ctx, m.Version))
	err = db.RemoveApplied(ctx, m.Version)
	require.Error(t, err)
	assert.True(t, errors.IsLedger(err))
	assert.True(t, errors.IsNotFound(err))
}

func TestVersionedDatabase_AdministrativePassthroughs(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	store.AddSystemCollection("_graphs")
	require.NoError(t, store.CreateEdgeCollection(ctx, "Follows"))

	db, err := NewVersionedDatabase(ctx, store, "", nil)
	require.NoError(t, err)

	collections, err := db.AccessibleCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.CollectionInfo{
		{Name: "Follows", Kind: model.CollectionEdge},
		{Name: DefaultLedgerCollection, Kind: model.CollectionDocument},
		{Name: "_graphs", Kind: model.CollectionDocument, IsSystem: true},
	}, collections)

	require.NoError(t, db.DropCollection(ctx, "Follows"))
	err = db.DropCollection(ctx, "Follows")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSchema, errors.TypeOf(err))

	require.NoError(t, db.Close(ctx))
	assert.True(t, store.Closed())
}
