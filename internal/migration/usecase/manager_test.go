package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/migration/testutil"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// recordingPublisher captures published events in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type())
	}
	return out
}

type MigrationManagerTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *testutil.MemoryStore
	db       *VersionedDatabase
	fixture  *testutil.MigrationFixture
	events   *recordingPublisher
	manager  *MigrationManager
	runCount int
}

func (s *MigrationManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testutil.NewMemoryStore()
	s.fixture = testutil.NewMigrationFixture()
	s.events = &recordingPublisher{}
	s.runCount = 0

	db, err := NewVersionedDatabase(s.ctx, s.store, "", nil)
	s.Require().NoError(err)
	s.db = db
	s.manager = s.newManager(s.fixture.UsersPostsSet())
}

func (s *MigrationManagerTestSuite) newManager(migrations []*model.Migration, opts ...Option) *MigrationManager {
	opts = append([]Option{
		WithEventBus(s.events),
		WithRunIDGenerator(func() string {
			s.runCount++
			return fmt.Sprintf("run-%d", s.runCount)
		}),
	}, opts...)
	m, err := NewMigrationManagerFromMigrations(migrations, opts...)
	s.Require().NoError(err)
	return m
}

func (s *MigrationManagerTestSuite) ledgerVersions() []uint64 {
	entries, err := s.db.AppliedEntries(s.ctx)
	s.Require().NoError(err)
	versions := make([]uint64, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, e.Version)
	}
	return versions
}

func (s *MigrationManagerTestSuite) TestScenario_UpThenDownOne() {
	applied, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.Equal(3, applied)
	s.Equal([]uint64{1, 2, 3}, s.ledgerVersions())
	s.Equal([]string{
		"create_collection Users",
		"create_index Users.idx_Users_email",
		"create_collection Posts",
	}, s.store.Calls())

	s.store.ResetCalls()
	reverted, err := s.manager.MigrationsDown(s.ctx, 1, s.db)
	s.Require().NoError(err)
	s.Equal(1, reverted)
	s.Equal([]uint64{1, 2}, s.ledgerVersions())
	s.Equal([]string{"drop_collection Posts"}, s.store.Calls())

	s.store.ResetCalls()
	reverted, err = s.manager.MigrationsDown(s.ctx, 1, s.db)
	s.Require().NoError(err)
	s.Equal(1, reverted)
	s.Equal([]string{"drop_index Users.idx_Users_email"}, s.store.Calls())
}

func (s *MigrationManagerTestSuite) TestUp_IsIdempotent() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.store.ResetCalls()

	applied, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.Equal(0, applied)
	s.Empty(s.store.Calls())
}

func (s *MigrationManagerTestSuite) TestRollbackAll_RestoresSchema() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)

	reverted, err := s.manager.MigrationsDown(s.ctx, 3, s.db)
	s.Require().NoError(err)
	s.Equal(3, reverted)
	s.Empty(s.ledgerVersions())
	s.False(s.store.HasCollection("Users"))
	s.False(s.store.HasCollection("Posts"))
	s.True(s.store.HasCollection(DefaultLedgerCollection))
}

func (s *MigrationManagerTestSuite) TestRollback_ClampsCount() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)

	reverted, err := s.manager.MigrationsDown(s.ctx, 50, s.db)
	s.Require().NoError(err)
	s.Equal(3, reverted)

	reverted, err = s.manager.MigrationsDown(s.ctx, 50, s.db)
	s.Require().NoError(err)
	s.Equal(0, reverted)
}

func (s *MigrationManagerTestSuite) TestRollback_ZeroAndNegativeCount() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.store.ResetCalls()

	reverted, err := s.manager.MigrationsDown(s.ctx, 0, s.db)
	s.NoError(err)
	s.Equal(0, reverted)

	_, err = s.manager.MigrationsDown(s.ctx, -1, s.db)
	s.Require().Error(err)
	s.True(errors.IsValidation(err))
	s.Empty(s.store.Calls())
}

func (s *MigrationManagerTestSuite) TestUp_PartialFailureAndRetry() {
	s.store.FailOn("create_collection Posts", errors.ErrConnectionLost)

	applied, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().Error(err)
	s.True(errors.IsMigration(err))
	s.Equal(2, applied)
	s.Equal([]uint64{1, 2}, s.ledgerVersions())

	s.store.ResetCalls()
	applied, err = s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.Equal(1, applied)
	s.Equal([]string{"create_collection Posts"}, s.store.Calls())
	s.Equal([]uint64{1, 2, 3}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestUp_LedgerFailureStopsRun() {
	s.store.FailOn("insert_ledger 2", errors.ErrConnectionLost)

	applied, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().Error(err)
	s.True(errors.IsLedger(err))
	s.Equal(1, applied)
	s.Equal([]uint64{1}, s.ledgerVersions())
	s.False(s.store.HasCollection("Posts"))
}

// interruptingStore cancels the run once a chosen collection call succeeds and,
// like a real driver, refuses ledger writes on a cancelled context.
type interruptingStore struct {
	*testutil.MemoryStore
	cancelAfter string
	cancel      context.CancelFunc
}

func (s *interruptingStore) CreateCollection(ctx context.Context, name string) error {
	if err := s.MemoryStore.CreateCollection(ctx, name); err != nil {
		return err
	}
	if "create_collection "+name == s.cancelAfter {
		s.cancel()
	}
	return nil
}

func (s *interruptingStore) DropCollection(ctx context.Context, name string) error {
	if err := s.MemoryStore.DropCollection(ctx, name); err != nil {
		return err
	}
	if "drop_collection "+name == s.cancelAfter {
		s.cancel()
	}
	return nil
}

func (s *interruptingStore) InsertLedgerEntry(ctx context.Context, ledger string, entry model.LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.InsertLedgerEntry(ctx, ledger, entry)
}

func (s *interruptingStore) DeleteLedgerEntry(ctx context.Context, ledger string, version uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.DeleteLedgerEntry(ctx, ledger, version)
}

func (s *MigrationManagerTestSuite) TestUp_CancelledAfterOperationStillRecordsLedger() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	store := &interruptingStore{MemoryStore: s.store, cancelAfter: "create_collection Users", cancel: cancel}
	db, err := NewVersionedDatabase(s.ctx, store, "", nil)
	s.Require().NoError(err)

	applied, err := s.manager.MigrationsUp(ctx, db)
	s.Require().Error(err)
	s.True(errors.IsMigration(err))
	s.ErrorIs(err, context.Canceled)
	s.Equal(1, applied)
	s.True(s.store.HasCollection("Users"))
	s.Equal([]uint64{1}, s.ledgerVersions())

	applied, err = s.manager.MigrationsUp(s.ctx, db)
	s.Require().NoError(err)
	s.Equal(2, applied)
	s.Equal([]uint64{1, 2, 3}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestDown_CancelledAfterOperationStillRemovesLedgerEntry() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	store := &interruptingStore{MemoryStore: s.store, cancelAfter: "drop_collection Posts", cancel: cancel}
	db, err := NewVersionedDatabase(s.ctx, store, "", nil)
	s.Require().NoError(err)

	reverted, err := s.manager.MigrationsDown(ctx, 3, db)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Equal(1, reverted)
	s.False(s.store.HasCollection("Posts"))
	s.Equal([]uint64{1, 2}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestDown_FailureKeepsLedgerEntry() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.store.FailOn("drop_index Users.idx_Users_email", errors.ErrConnectionLost)

	reverted, err := s.manager.MigrationsDown(s.ctx, 3, s.db)
	s.Require().Error(err)
	s.True(errors.IsMigration(err))
	s.Equal(1, reverted)
	s.Equal([]uint64{1, 2}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestDown_TargetsMostRecentlyApplied() {
	// Non-prefix ledger: 1 and 3 applied, 2 pending.
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 1, Name: "create_users"})
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 3, Name: "create_posts"})
	s.Require().NoError(s.store.CreateCollection(s.ctx, "Users"))
	s.Require().NoError(s.store.CreateCollection(s.ctx, "Posts"))
	s.store.ResetCalls()

	reverted, err := s.manager.MigrationsDown(s.ctx, 1, s.db)
	s.Require().NoError(err)
	s.Equal(1, reverted)
	s.Equal([]string{"drop_collection Posts"}, s.store.Calls())
	s.Equal([]uint64{1}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestDown_SkipsOrphanEntries() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 99, Name: "deleted_file"})
	s.store.ResetCalls()

	reverted, err := s.manager.MigrationsDown(s.ctx, 1, s.db)
	s.Require().NoError(err)
	s.Equal(1, reverted)
	s.Equal([]string{"drop_collection Posts"}, s.store.Calls())
	s.Equal([]uint64{1, 2, 99}, s.ledgerVersions())
}

func (s *MigrationManagerTestSuite) TestEmptySet() {
	empty := s.newManager(nil)

	applied, err := empty.MigrationsUp(s.ctx, s.db)
	s.NoError(err)
	s.Equal(0, applied)

	reverted, err := empty.MigrationsDown(s.ctx, 5, s.db)
	s.NoError(err)
	s.Equal(0, reverted)
	s.Empty(s.store.Calls())
}

func (s *MigrationManagerTestSuite) TestPlan() {
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 1})

	up, err := s.manager.Plan(s.ctx, s.db, model.DirectionUp, 0)
	s.Require().NoError(err)
	s.Equal([]uint64{2, 3}, versionsOf(up))

	down, err := s.manager.Plan(s.ctx, s.db, model.DirectionDown, 5)
	s.Require().NoError(err)
	s.Equal([]uint64{1}, versionsOf(down))

	_, err = s.manager.Plan(s.ctx, s.db, model.Direction("sideways"), 1)
	s.True(errors.IsValidation(err))
	s.Empty(s.store.Calls())
}

func (s *MigrationManagerTestSuite) TestStatus_DriftAndOrphans() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	_, err = s.manager.MigrationsDown(s.ctx, 1, s.db)
	s.Require().NoError(err)

	// Version 2 edited after being applied, version 42 has no file.
	s.Require().NoError(s.store.DeleteLedgerEntry(s.ctx, DefaultLedgerCollection, 2))
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 2, Name: "index_users_email", Checksum: "stale"})
	s.store.SeedLedger(DefaultLedgerCollection, model.LedgerEntry{Version: 42, Name: "gone"})

	report, err := s.manager.Status(s.ctx, s.db)
	s.Require().NoError(err)
	s.Require().Len(report.Migrations, 3)

	s.True(report.Migrations[0].Applied)
	s.NotNil(report.Migrations[0].AppliedAt)
	s.False(report.Migrations[0].Drifted)
	s.True(report.Migrations[1].Drifted)
	s.False(report.Migrations[2].Applied)
	s.Equal(1, report.Pending())

	s.Require().Len(report.Orphans, 1)
	s.Equal(uint64(42), report.Orphans[0].Version)
}

func (s *MigrationManagerTestSuite) TestEvents_OrderAndRunID() {
	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)

	s.Equal([]string{
		eventbus.EventTypeRunStarted,
		eventbus.EventTypeMigrationApplied,
		eventbus.EventTypeMigrationApplied,
		eventbus.EventTypeMigrationApplied,
		eventbus.EventTypeRunFinished,
	}, s.events.types())

	for _, e := range s.events.events {
		s.Equal("run-1", e.Data().(model.RunEvent).RunID)
	}
	s.Equal(3, s.events.events[4].Data().(model.RunEvent).Count)

	entries, err := s.db.AppliedEntries(s.ctx)
	s.Require().NoError(err)
	for _, e := range entries {
		s.Equal("run-1", e.RunID)
		s.NotEmpty(e.Checksum)
	}
}

func (s *MigrationManagerTestSuite) TestEvents_FailureAndPublisherErrors() {
	s.events.err = fmt.Errorf("journal unavailable")
	s.store.FailOn("create_collection Users", errors.ErrConnectionLost)

	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().Error(err)
	s.True(errors.IsMigration(err), "publisher errors must not replace the run error")
	s.Equal([]string{
		eventbus.EventTypeRunStarted,
		eventbus.EventTypeMigrationFailed,
		eventbus.EventTypeRunFinished,
	}, s.events.types())
	s.NotEmpty(s.events.events[1].Data().(model.RunEvent).Error)
}

func (s *MigrationManagerTestSuite) TestCreateIfAbsent() {
	s.Require().NoError(s.store.CreateCollection(s.ctx, "Users"))

	_, err := s.manager.MigrationsUp(s.ctx, s.db)
	s.Require().Error(err)
	s.True(errors.IsAlreadyExists(err))
	s.Empty(s.ledgerVersions())

	lenient := s.newManager(s.fixture.UsersPostsSet(), WithCreateIfAbsent(true))
	applied, err := lenient.MigrationsUp(s.ctx, s.db)
	s.Require().NoError(err)
	s.Equal(3, applied)
}

func TestMigrationManagerTestSuite(t *testing.T) {
	suite.Run(t, new(MigrationManagerTestSuite))
}

func TestNewMigrationManager_SortsAndRejectsDuplicates(t *testing.T) {
	f := testutil.NewMigrationFixture()
	m, err := NewMigrationManagerFromMigrations([]*model.Migration{
		f.Migration(30, "c", model.CreateCollection{Name: "C"}),
		f.Migration(10, "a", model.CreateCollection{Name: "A"}),
		f.Migration(20, "b", model.CreateCollection{Name: "B"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30}, versionsOf(m.Migrations()))

	_, err = NewMigrationManagerFromMigrations([]*model.Migration{
		f.Migration(10, "a", model.CreateCollection{Name: "A"}),
		f.Migration(10, "a_again", model.CreateCollection{Name: "A2"}),
	})
	require.Error(t, err)
	assert.True(t, errors.IsDiscovery(err))
}

func TestNewMigrationManager_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	for name, content := range testutil.UsersPostsYAML() {
		testutil.WriteFile(t, dir, name, content)
	}

	m, err := NewMigrationManager(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, m.SchemaPath())
	assert.Equal(t, []uint64{1, 2, 3}, versionsOf(m.Migrations()))

	testutil.WriteFile(t, dir, "0003_duplicate.yaml", "up: []\n")
	_, err = NewMigrationManager(dir)
	require.Error(t, err)
	assert.True(t, errors.IsDiscovery(err))
}

func TestNewMigrationManager_MissingDirectory(t *testing.T) {
	_, err := NewMigrationManager(t.TempDir() + "/nope")
	require.Error(t, err)
	assert.True(t, errors.IsDiscovery(err))
}

func versionsOf(migrations []*model.Migration) []uint64 {
	out := make([]uint64, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, m.Version)
	}
	return out
}
