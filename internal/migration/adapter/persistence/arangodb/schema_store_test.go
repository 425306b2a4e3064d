package arangodb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"

	driver "github.com/arangodb/go-driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestBuildEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:8529", BuildEndpoint("localhost:8529"))
	assert.Equal(t, "https://db.example.com", BuildEndpoint("https://db.example.com"))
}

func TestMatchesIndex(t *testing.T) {
	assert.True(t, MatchesIndex("idx_Users_email", "Users/1234", "idx_Users_email"))
	assert.True(t, MatchesIndex("idx_Users_email", "Users/1234", "Users/1234"))
	assert.True(t, MatchesIndex("idx_Users_email", "Users/1234", "1234"))
	assert.False(t, MatchesIndex("idx_Users_email", "Users/1234", "idx_other"))
	assert.False(t, MatchesIndex("", "", ""))
}

func TestLedgerDocumentConversion(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)
	entry := model.LedgerEntry{Version: 18446744073709551615, Name: "max", AppliedAt: at, Checksum: "c", RunID: "r"}

	doc := toLedgerDocument(entry)
	assert.Equal(t, "18446744073709551615", doc.Key)

	back, err := doc.toEntry()
	require.NoError(t, err)
	assert.Equal(t, entry, back)

	_, err = ledgerDocument{Key: "abc", AppliedAt: doc.AppliedAt}.toEntry()
	assert.True(t, errors.IsLedger(err))

	_, err = ledgerDocument{Key: "1", AppliedAt: "yesterday"}.toEntry()
	assert.True(t, errors.IsLedger(err))
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.True(t, errors.IsAlreadyExists(mapError(driver.ArangoError{HasError: true, Code: 409, ErrorNum: 1207})))
	assert.True(t, errors.IsNotFound(mapError(driver.ArangoError{HasError: true, Code: 404, ErrorNum: 1203})))
	plain := fmt.Errorf("other")
	assert.Equal(t, plain, mapError(plain))
}

// SchemaStoreIntegrationSuite runs against a disposable ArangoDB container
type SchemaStoreIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	store     *SchemaStore
	dbIndex   int
}

func (s *SchemaStoreIntegrationSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping ArangoDB integration tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(s.T())
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "arangodb:3.11",
		ExposedPorts: []string{"8529/tcp"},
		Env:          map[string]string{"ARANGO_NO_AUTH": "1"},
		WaitingFor:   wait.ForHTTP("/_api/version").WithPort("8529/tcp").WithStartupTimeout(120 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("ArangoDB container not available: %v", err)
	}
	s.container = container
}

func (s *SchemaStoreIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

// SetupTest connects to a fresh database per test
func (s *SchemaStoreIntegrationSuite) SetupTest() {
	host, err := s.container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := s.container.MappedPort(s.ctx, "8529/tcp")
	s.Require().NoError(err)

	s.dbIndex++
	store, err := Connect(s.ctx, config.DatabaseConfig{
		Host:    fmt.Sprintf("%s:%s", host, port.Port()),
		Name:    fmt.Sprintf("migrator_test_%d", s.dbIndex),
		Timeout: 20 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.Require().NoError(store.Ping(s.ctx))
	s.store = store
}

func (s *SchemaStoreIntegrationSuite) TestCollectionsAndIndexes() {
	s.Require().NoError(s.store.CreateCollection(s.ctx, "Users"))
	s.True(errors.IsAlreadyExists(s.store.CreateCollection(s.ctx, "Users")))

	idx := model.IndexDefinition{Name: "idx_Users_email", Kind: model.IndexPersistent, Fields: []string{"email"}, Unique: true}
	s.Require().NoError(s.store.CreateIndex(s.ctx, "Users", idx))
	s.True(errors.IsAlreadyExists(s.store.CreateIndex(s.ctx, "Users", idx)))
	s.True(errors.IsNotFound(s.store.CreateIndex(s.ctx, "Ghost", idx)))

	ttl := model.IndexDefinition{Name: "idx_Users_seen", Kind: model.IndexTTL, Fields: []string{"seen"}, ExpireAfter: 3600}
	s.Require().NoError(s.store.CreateIndex(s.ctx, "Users", ttl))

	s.Require().NoError(s.store.DropIndex(s.ctx, "Users", "idx_Users_email"))
	s.True(errors.IsNotFound(s.store.DropIndex(s.ctx, "Users", "idx_Users_email")))

	s.Require().NoError(s.store.CreateEdgeCollection(s.ctx, "Follows"))
	collections, err := s.store.Collections(s.ctx)
	s.Require().NoError(err)
	kinds := map[string]model.CollectionKind{}
	system := map[string]bool{}
	for _, c := range collections {
		kinds[c.Name] = c.Kind
		system[c.Name] = c.IsSystem
	}
	s.Equal(model.CollectionDocument, kinds["Users"])
	s.Equal(model.CollectionEdge, kinds["Follows"])
	s.False(system["Users"])

	s.True(errors.IsNotFound(s.store.DropEdgeCollection(s.ctx, "Users")))
	s.Require().NoError(s.store.DropEdgeCollection(s.ctx, "Follows"))
	s.Require().NoError(s.store.DropCollection(s.ctx, "Users"))
	s.True(errors.IsNotFound(s.store.DropCollection(s.ctx, "Users")))
}

func (s *SchemaStoreIntegrationSuite) TestLedger() {
	const ledger = "MigratorLedger"
	s.Require().NoError(s.store.EnsureCollection(s.ctx, ledger))
	s.Require().NoError(s.store.EnsureCollection(s.ctx, ledger))

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []uint64{10, 9, 20240101000000} {
		s.Require().NoError(s.store.InsertLedgerEntry(s.ctx, ledger, model.LedgerEntry{Version: v, Name: fmt.Sprintf("m%d", v), AppliedAt: at}))
	}
	s.True(errors.IsAlreadyExists(s.store.InsertLedgerEntry(s.ctx, ledger, model.LedgerEntry{Version: 9, AppliedAt: at})))

	entries, err := s.store.ListLedgerEntries(s.ctx, ledger)
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal([]uint64{9, 10, 20240101000000}, []uint64{entries[0].Version, entries[1].Version, entries[2].Version})

	entry, err := s.store.FindLedgerEntry(s.ctx, ledger, 10)
	s.Require().NoError(err)
	s.Equal("m10", entry.Name)
	s.True(entry.AppliedAt.Equal(at))

	s.Require().NoError(s.store.DeleteLedgerEntry(s.ctx, ledger, 10))
	s.True(errors.IsNotFound(s.store.DeleteLedgerEntry(s.ctx, ledger, 10)))
	_, err = s.store.FindLedgerEntry(s.ctx, ledger, 10)
	s.True(errors.IsNotFound(err))
}

func TestSchemaStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(SchemaStoreIntegrationSuite))
}
