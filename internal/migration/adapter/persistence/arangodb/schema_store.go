package arangodb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"

	driver "github.com/arangodb/go-driver"
	"github.com/arangodb/go-driver/http"
)

// ledgerDocument is the stored form of a ledger entry. _key is the decimal
// version, so uniqueness is enforced by the primary index.
type ledgerDocument struct {
	Key       string `json:"_key"`
	Name      string `json:"name"`
	AppliedAt string `json:"applied_at"`
	Checksum  string `json:"checksum,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// listLedgerQuery orders keys numerically without going through doubles
const listLedgerQuery = `FOR d IN @@ledger SORT LENGTH(d._key), d._key RETURN d`

// SchemaStore implements repository.SchemaStore on an ArangoDB database
type SchemaStore struct {
	client driver.Client
	db     driver.Database
	logger logger.Logger
}

// BuildEndpoint turns DB_HOST into an HTTP endpoint
func BuildEndpoint(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

// Connect opens the configured database, creating it when absent
func Connect(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*SchemaStore, error) {
	conn, err := http.NewConnection(http.ConnectionConfig{
		Endpoints: []string{BuildEndpoint(cfg.Host)},
	})
	if err != nil {
		return nil, fmt.Errorf("arangodb connection: %w", err)
	}

	clientCfg := driver.ClientConfig{Connection: conn}
	if cfg.User != "" {
		clientCfg.Authentication = driver.BasicAuthentication(cfg.User, cfg.Password)
	}
	client, err := driver.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("arangodb client: %w", err)
	}

	ctx, cancel := withTimeout(ctx, cfg)
	defer cancel()

	exists, err := client.DatabaseExists(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("arangodb database %s: %w", cfg.Name, mapError(err))
	}

	var db driver.Database
	if exists {
		db, err = client.Database(ctx, cfg.Name)
	} else {
		db, err = client.CreateDatabase(ctx, cfg.Name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("arangodb database %s: %w", cfg.Name, mapError(err))
	}

	return NewSchemaStore(client, db, log), nil
}

func withTimeout(ctx context.Context, cfg config.DatabaseConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}

// NewSchemaStore wraps an open database handle
func NewSchemaStore(client driver.Client, db driver.Database, log logger.Logger) *SchemaStore {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &SchemaStore{
		client: client,
		db:     db,
		logger: log.WithComponent("arangodb_schema_store"),
	}
}

func (s *SchemaStore) Ping(ctx context.Context) error {
	if _, err := s.client.Version(ctx); err != nil {
		return fmt.Errorf("arangodb ping: %w", mapError(err))
	}
	return nil
}

func (s *SchemaStore) CreateCollection(ctx context.Context, name string) error {
	return s.create(ctx, name, driver.CollectionTypeDocument)
}

func (s *SchemaStore) CreateEdgeCollection(ctx context.Context, name string) error {
	return s.create(ctx, name, driver.CollectionTypeEdge)
}

func (s *SchemaStore) create(ctx context.Context, name string, kind driver.CollectionType) error {
	if _, err := s.db.CreateCollection(ctx, name, &driver.CreateCollectionOptions{Type: kind}); err != nil {
		return fmt.Errorf("create collection %s: %w", name, mapError(err))
	}
	s.logger.Debugf("Created collection %s", name)
	return nil
}

func (s *SchemaStore) DropCollection(ctx context.Context, name string) error {
	return s.drop(ctx, name, model.CollectionDocument)
}

func (s *SchemaStore) DropEdgeCollection(ctx context.Context, name string) error {
	return s.drop(ctx, name, model.CollectionEdge)
}

// drop removes name; an edge drop of a document collection reports not found
func (s *SchemaStore) drop(ctx context.Context, name string, kind model.CollectionKind) error {
	col, err := s.db.Collection(ctx, name)
	if err != nil {
		return fmt.Errorf("drop collection %s: %w", name, mapError(err))
	}
	if kind == model.CollectionEdge {
		props, err := col.Properties(ctx)
		if err != nil {
			return fmt.Errorf("drop collection %s: %w", name, mapError(err))
		}
		if props.Type != driver.CollectionTypeEdge {
			return fmt.Errorf("edge collection %s: %w", name, errors.ErrNotFound)
		}
	}
	if err := col.Remove(ctx); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, mapError(err))
	}
	s.logger.Debugf("Dropped collection %s", name)
	return nil
}

func (s *SchemaStore) CreateIndex(ctx context.Context, collection string, index model.IndexDefinition) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return fmt.Errorf("create index %s: collection %s: %w", index.Name, collection, mapError(err))
	}

	existing, err := findIndex(ctx, col, index.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("create index %s on %s: %w", index.Name, collection, errors.ErrAlreadyExists)
	}

	if err := ensureIndex(ctx, col, index); err != nil {
		return fmt.Errorf("create index %s on %s: %w", index.Name, collection, mapError(err))
	}
	s.logger.Debugf("Created %s index %s on %s", index.Kind, index.Name, collection)
	return nil
}

func ensureIndex(ctx context.Context, col driver.Collection, index model.IndexDefinition) error {
	var err error
	switch index.Kind {
	case model.IndexPersistent, "":
		_, _, err = col.EnsurePersistentIndex(ctx, index.Fields, &driver.EnsurePersistentIndexOptions{
			Name: index.Name, Unique: index.Unique, Sparse: index.Sparse,
		})
	case model.IndexHash:
		_, _, err = col.EnsureHashIndex(ctx, index.Fields, &driver.EnsureHashIndexOptions{
			Name: index.Name, Unique: index.Unique, Sparse: index.Sparse,
		})
	case model.IndexSkiplist:
		_, _, err = col.EnsureSkipListIndex(ctx, index.Fields, &driver.EnsureSkipListIndexOptions{
			Name: index.Name, Unique: index.Unique, Sparse: index.Sparse,
		})
	case model.IndexTTL:
		_, _, err = col.EnsureTTLIndex(ctx, index.Fields[0], index.ExpireAfter, &driver.EnsureTTLIndexOptions{
			Name: index.Name,
		})
	case model.IndexGeo:
		_, _, err = col.EnsureGeoIndex(ctx, index.Fields, &driver.EnsureGeoIndexOptions{
			Name: index.Name, GeoJSON: len(index.Fields) == 1,
		})
	case model.IndexFulltext:
		_, _, err = col.EnsureFullTextIndex(ctx, index.Fields, &driver.EnsureFullTextIndexOptions{
			Name: index.Name,
		})
	default:
		err = fmt.Errorf("unsupported index kind %q", index.Kind)
	}
	return err
}

func (s *SchemaStore) DropIndex(ctx context.Context, collection, indexID string) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return fmt.Errorf("drop index %s: collection %s: %w", indexID, collection, mapError(err))
	}
	idx, err := findIndex(ctx, col, indexID)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("drop index %s on %s: %w", indexID, collection, errors.ErrNotFound)
	}
	if err := idx.Remove(ctx); err != nil {
		return fmt.Errorf("drop index %s on %s: %w", indexID, collection, mapError(err))
	}
	s.logger.Debugf("Dropped index %s on %s", indexID, collection)
	return nil
}

// findIndex matches an index by name or by id ("coll/123" or "123")
func findIndex(ctx context.Context, col driver.Collection, id string) (driver.Index, error) {
	indexes, err := col.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", col.Name(), mapError(err))
	}
	for _, idx := range indexes {
		if MatchesIndex(idx.Name(), idx.ID(), id) {
			return idx, nil
		}
	}
	return nil, nil
}

// MatchesIndex reports whether ref names an index with the given name and id
func MatchesIndex(name, id, ref string) bool {
	if ref == "" {
		return false
	}
	if name == ref || id == ref {
		return true
	}
	if i := strings.LastIndex(id, "/"); i >= 0 && id[i+1:] == ref {
		return true
	}
	return false
}

func (s *SchemaStore) EnsureCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.CreateCollection(ctx, name); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func (s *SchemaStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("collection %s: %w", name, mapError(err))
	}
	return exists, nil
}

func (s *SchemaStore) Collections(ctx context.Context) ([]model.CollectionInfo, error) {
	cols, err := s.db.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", mapError(err))
	}

	infos := make([]model.CollectionInfo, 0, len(cols))
	for _, col := range cols {
		props, err := col.Properties(ctx)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", col.Name(), mapError(err))
		}
		kind := model.CollectionDocument
		if props.Type == driver.CollectionTypeEdge {
			kind = model.CollectionEdge
		}
		infos = append(infos, model.CollectionInfo{
			Name:     col.Name(),
			IsSystem: props.IsSystem || strings.HasPrefix(col.Name(), "_"),
			Kind:     kind,
		})
	}
	return infos, nil
}

func (s *SchemaStore) InsertLedgerEntry(ctx context.Context, ledger string, entry model.LedgerEntry) error {
	col, err := s.db.Collection(ctx, ledger)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", ledger, mapError(err))
	}
	if _, err := col.CreateDocument(ctx, toLedgerDocument(entry)); err != nil {
		return fmt.Errorf("insert ledger entry %d: %w", entry.Version, mapError(err))
	}
	return nil
}

func (s *SchemaStore) DeleteLedgerEntry(ctx context.Context, ledger string, version uint64) error {
	col, err := s.db.Collection(ctx, ledger)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", ledger, mapError(err))
	}
	if _, err := col.RemoveDocument(ctx, ledgerKey(version)); err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", version, mapError(err))
	}
	return nil
}

func (s *SchemaStore) FindLedgerEntry(ctx context.Context, ledger string, version uint64) (*model.LedgerEntry, error) {
	col, err := s.db.Collection(ctx, ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", ledger, mapError(err))
	}
	var doc ledgerDocument
	if _, err := col.ReadDocument(ctx, ledgerKey(version), &doc); err != nil {
		return nil, fmt.Errorf("find ledger entry %d: %w", version, mapError(err))
	}
	entry, err := doc.toEntry()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *SchemaStore) ListLedgerEntries(ctx context.Context, ledger string) ([]model.LedgerEntry, error) {
	cursor, err := s.db.Query(ctx, listLedgerQuery, map[string]interface{}{"@ledger": ledger})
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", mapError(err))
	}
	defer cursor.Close()

	var entries []model.LedgerEntry
	for {
		var doc ledgerDocument
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", mapError(err))
		}
		entry, err := doc.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close is a no-op; the HTTP connection holds no session
func (s *SchemaStore) Close(ctx context.Context) error {
	return nil
}

func ledgerKey(version uint64) string {
	return strconv.FormatUint(version, 10)
}

func toLedgerDocument(entry model.LedgerEntry) ledgerDocument {
	return ledgerDocument{
		Key:       ledgerKey(entry.Version),
		Name:      entry.Name,
		AppliedAt: entry.AppliedAt.UTC().Format(time.RFC3339Nano),
		Checksum:  entry.Checksum,
		RunID:     entry.RunID,
	}
}

func (d ledgerDocument) toEntry() (model.LedgerEntry, error) {
	version, err := strconv.ParseUint(d.Key, 10, 64)
	if err != nil {
		return model.LedgerEntry{}, errors.NewLedgerError(fmt.Sprintf("malformed ledger key %q", d.Key)).WithCause(err)
	}
	appliedAt, err := time.Parse(time.RFC3339Nano, d.AppliedAt)
	if err != nil {
		return model.LedgerEntry{}, errors.NewLedgerError(fmt.Sprintf("ledger entry %d: malformed applied_at", version)).WithCause(err)
	}
	return model.LedgerEntry{
		Version:   version,
		Name:      d.Name,
		AppliedAt: appliedAt,
		Checksum:  d.Checksum,
		RunID:     d.RunID,
	}, nil
}

// mapError translates driver errors into the store sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case driver.IsConflict(err):
		return fmt.Errorf("%w: %w", errors.ErrAlreadyExists, err)
	case driver.IsNotFound(err):
		return fmt.Errorf("%w: %w", errors.ErrNotFound, err)
	case isNetworkError(err):
		return fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
