package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/migration/testutil"
	"schema-migrator/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) (*Admin, *testutil.MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range testutil.UsersPostsYAML() {
		testutil.WriteFile(t, dir, name, content)
	}

	store := testutil.NewMemoryStore()
	open := func(ctx context.Context) (*VersionedDatabase, error) {
		return NewVersionedDatabase(ctx, store, "", nil)
	}
	return NewAdmin(dir, open, nil), store, dir
}

func TestAdmin_Check(t *testing.T) {
	admin, store, dir := newTestAdmin(t)

	migrations, err := admin.Check()
	require.NoError(t, err)
	assert.Len(t, migrations, 3)
	assert.Empty(t, store.Calls())

	testutil.WriteFile(t, dir, "4_broken.yaml", "up: [")
	_, err = admin.Check()
	require.Error(t, err)
	assert.True(t, errors.IsDiscovery(err))
}

func TestAdmin_MigrateRollbackStatus(t *testing.T) {
	ctx := context.Background()
	admin, store, _ := newTestAdmin(t)

	plan, err := admin.Plan(ctx, model.DirectionUp, 0)
	require.NoError(t, err)
	assert.Len(t, plan, 3)
	assert.Empty(t, store.Calls())

	applied, err := admin.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.True(t, store.Closed())

	reverted, err := admin.Rollback(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, reverted)

	report, err := admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pending())
	assert.Empty(t, report.Orphans)
}

func TestAdmin_TruncateSkipsSystemCollections(t *testing.T) {
	ctx := context.Background()
	admin, store, _ := newTestAdmin(t)
	store.AddSystemCollection("_users")

	_, err := admin.MigrateUp(ctx)
	require.NoError(t, err)

	dropped, err := admin.Truncate(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Users", "Posts", DefaultLedgerCollection}, dropped)
	assert.True(t, store.HasCollection("_users"))
	assert.False(t, store.HasCollection(DefaultLedgerCollection))
}

func TestAdmin_OpenErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	admin := NewAdmin(dir, func(ctx context.Context) (*VersionedDatabase, error) {
		return nil, errors.NewConnectionError("refused")
	}, nil)

	_, err := admin.MigrateUp(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))

	_, err = admin.Truncate(context.Background())
	assert.True(t, errors.IsConnection(err))
}

func TestAdmin_CreateMigration(t *testing.T) {
	admin, _, dir := newTestAdmin(t)
	admin.now = func() time.Time { return time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC) }

	path, err := admin.CreateMigration("add comments")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20300102030405_add_comments.yaml"), path)

	migrations, err := admin.Check()
	require.NoError(t, err)
	assert.Len(t, migrations, 4)
}
