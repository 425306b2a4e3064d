package mongodb

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB server error codes
const (
	codeNamespaceExists       = 48
	codeNamespaceNotFound     = 26
	codeIndexNotFound         = 27
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// edgeSchemaTitle marks collections created as edge collections
const edgeSchemaTitle = "edge"

// edgeIndexName is the index every edge collection gets on its endpoints
const edgeIndexName = "edge_from_to"

// ledgerDocument is the stored form of a ledger entry. _id is the decimal version.
type ledgerDocument struct {
	ID        string    `bson:"_id"`
	Version   int64     `bson:"version"`
	Name      string    `bson:"name"`
	AppliedAt time.Time `bson:"applied_at"`
	Checksum  string    `bson:"checksum,omitempty"`
	RunID     string    `bson:"run_id,omitempty"`
}

// SchemaStore implements repository.SchemaStore on a MongoDB database
type SchemaStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger logger.Logger
}

// BuildURI turns DB_HOST into a connection string. Full mongodb:// URLs pass through.
func BuildURI(host string) string {
	if strings.HasPrefix(host, "mongodb://") || strings.HasPrefix(host, "mongodb+srv://") {
		return host
	}
	return "mongodb://" + host
}

// Connect opens a client for cfg and verifies it with a ping
func Connect(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*SchemaStore, error) {
	opts := options.Client().
		ApplyURI(BuildURI(cfg.Host)).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout).
		SetAppName("schema-migrator")
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.User != "" {
		opts.SetAuth(options.Credential{Username: cfg.User, Password: cfg.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", mapError(err))
	}

	store := NewSchemaStore(client, cfg.Name, log)
	if err := store.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewSchemaStore wraps an existing client
func NewSchemaStore(client *mongo.Client, database string, log logger.Logger) *SchemaStore {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &SchemaStore{
		client: client,
		db:     client.Database(database),
		logger: log.WithComponent("mongodb_schema_store"),
	}
}

func (s *SchemaStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping: %w", mapError(err))
	}
	return nil
}

func (s *SchemaStore) CreateCollection(ctx context.Context, name string) error {
	if err := s.db.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("create collection %s: %w", name, mapError(err))
	}
	s.logger.Debugf("Created collection %s", name)
	return nil
}

func (s *SchemaStore) CreateEdgeCollection(ctx context.Context, name string) error {
	validator := bson.M{"$jsonSchema": edgeSchema()}
	if err := s.db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(validator)); err != nil {
		return fmt.Errorf("create edge collection %s: %w", name, mapError(err))
	}

	endpoints := mongo.IndexModel{
		Keys:    bson.D{{Key: "_from", Value: 1}, {Key: "_to", Value: 1}},
		Options: options.Index().SetName(edgeIndexName),
	}
	if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, endpoints); err != nil {
		return s.discardCollection(ctx, name, fmt.Errorf("create edge index on %s: %w", name, mapError(err)))
	}
	s.logger.Debugf("Created edge collection %s", name)
	return nil
}

// discardCollection drops a half-created collection so a retry starts clean, then returns cause.
func (s *SchemaStore) discardCollection(ctx context.Context, name string, cause error) error {
	if err := s.db.Collection(name).Drop(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warnf("Failed to drop half-created collection %s: %v", name, err)
	}
	return cause
}

func edgeSchema() bson.M {
	return bson.M{
		"bsonType": "object",
		"title":    edgeSchemaTitle,
		"required": bson.A{"_from", "_to"},
		"properties": bson.M{
			"_from": bson.M{"bsonType": "string"},
			"_to":   bson.M{"bsonType": "string"},
		},
	}
}

func (s *SchemaStore) DropCollection(ctx context.Context, name string) error {
	return s.drop(ctx, name, "")
}

func (s *SchemaStore) DropEdgeCollection(ctx context.Context, name string) error {
	return s.drop(ctx, name, model.CollectionEdge)
}

// drop removes name. When kind is set the collection must be of that kind.
func (s *SchemaStore) drop(ctx context.Context, name string, kind model.CollectionKind) error {
	info, err := s.collectionInfo(ctx, name)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("drop collection %s: %w", name, errors.ErrNotFound)
	}
	if kind != "" && info.Kind != kind {
		return fmt.Errorf("drop collection %s: not a %s collection: %w", name, kind, errors.ErrNotFound)
	}

	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, mapError(err))
	}
	s.logger.Debugf("Dropped collection %s", name)
	return nil
}

func (s *SchemaStore) CreateIndex(ctx context.Context, collection string, index model.IndexDefinition) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("create index %s: collection %s: %w", index.Name, collection, errors.ErrNotFound)
	}

	names, err := s.indexNames(ctx, collection)
	if err != nil {
		return err
	}
	if names[index.Name] {
		return fmt.Errorf("create index %s on %s: %w", index.Name, collection, errors.ErrAlreadyExists)
	}

	idx, err := IndexModel(index)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, idx); err != nil {
		return fmt.Errorf("create index %s on %s: %w", index.Name, collection, mapError(err))
	}
	s.logger.Debugf("Created %s index %s on %s", index.Kind, index.Name, collection)
	return nil
}

// IndexModel maps an index definition onto MongoDB key types
func IndexModel(index model.IndexDefinition) (mongo.IndexModel, error) {
	keys := bson.D{}
	opts := options.Index().SetName(index.Name)

	switch index.Kind {
	case model.IndexPersistent, model.IndexSkiplist, "":
		for _, f := range index.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
	case model.IndexHash:
		// MongoDB allows a single hashed key per index.
		keys = append(keys, bson.E{Key: index.Fields[0], Value: "hashed"})
		for _, f := range index.Fields[1:] {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		if index.Unique {
			return mongo.IndexModel{}, fmt.Errorf("hash index %s: mongodb hashed indexes cannot be unique", index.Name)
		}
	case model.IndexTTL:
		keys = append(keys, bson.E{Key: index.Fields[0], Value: 1})
		opts.SetExpireAfterSeconds(int32(index.ExpireAfter))
	case model.IndexGeo:
		for _, f := range index.Fields {
			keys = append(keys, bson.E{Key: f, Value: "2dsphere"})
		}
	case model.IndexFulltext:
		keys = append(keys, bson.E{Key: index.Fields[0], Value: "text"})
	default:
		return mongo.IndexModel{}, fmt.Errorf("index %s: unsupported kind %q", index.Name, index.Kind)
	}

	if index.Unique {
		opts.SetUnique(true)
	}
	if index.Sparse {
		opts.SetSparse(true)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}, nil
}

func (s *SchemaStore) DropIndex(ctx context.Context, collection, indexID string) error {
	names, err := s.indexNames(ctx, collection)
	if err != nil {
		return err
	}
	if !names[indexID] {
		return fmt.Errorf("drop index %s on %s: %w", indexID, collection, errors.ErrNotFound)
	}
	if _, err := s.db.Collection(collection).Indexes().DropOne(ctx, indexID); err != nil {
		return fmt.Errorf("drop index %s on %s: %w", indexID, collection, mapError(err))
	}
	s.logger.Debugf("Dropped index %s on %s", indexID, collection)
	return nil
}

// indexNames lists the index names of collection; empty when it does not exist
func (s *SchemaStore) indexNames(ctx context.Context, collection string) (map[string]bool, error) {
	specs, err := s.db.Collection(collection).Indexes().ListSpecifications(ctx)
	if err != nil {
		if isCode(err, codeNamespaceNotFound) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("list indexes of %s: %w", collection, mapError(err))
	}
	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		names[spec.Name] = true
	}
	return names, nil
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
	info, err := s.collectionInfo(ctx, name)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (s *SchemaStore) collectionInfo(ctx context.Context, name string) (*model.CollectionInfo, error) {
	infos, err := s.listCollections(ctx, bson.M{"name": name})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}

func (s *SchemaStore) Collections(ctx context.Context) ([]model.CollectionInfo, error) {
	return s.listCollections(ctx, bson.M{})
}

func (s *SchemaStore) listCollections(ctx context.Context, filter bson.M) ([]model.CollectionInfo, error) {
	specs, err := s.db.ListCollectionSpecifications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", mapError(err))
	}

	infos := make([]model.CollectionInfo, 0, len(specs))
	for _, spec := range specs {
		kind := model.CollectionDocument
		if IsEdgeOptions(spec.Options) {
			kind = model.CollectionEdge
		}
		infos = append(infos, model.CollectionInfo{
			Name:     spec.Name,
			IsSystem: strings.HasPrefix(spec.Name, "system."),
			Kind:     kind,
		})
	}
	return infos, nil
}

// IsEdgeOptions reports whether collection options carry the edge validator
func IsEdgeOptions(opts bson.Raw) bool {
	if len(opts) == 0 {
		return false
	}
	title, err := opts.LookupErr("validator", "$jsonSchema", "title")
	if err != nil {
		return false
	}
	value, ok := title.StringValueOK()
	return ok && value == edgeSchemaTitle
}

func (s *SchemaStore) InsertLedgerEntry(ctx context.Context, ledger string, entry model.LedgerEntry) error {
	doc, err := toLedgerDocument(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.Collection(ledger).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("ledger entry %d: %w", entry.Version, errors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert ledger entry %d: %w", entry.Version, mapError(err))
	}
	return nil
}

func (s *SchemaStore) DeleteLedgerEntry(ctx context.Context, ledger string, version uint64) error {
	res, err := s.db.Collection(ledger).DeleteOne(ctx, bson.M{"_id": ledgerKey(version)})
	if err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", version, mapError(err))
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("ledger entry %d: %w", version, errors.ErrNotFound)
	}
	return nil
}

func (s *SchemaStore) FindLedgerEntry(ctx context.Context, ledger string, version uint64) (*model.LedgerEntry, error) {
	var doc ledgerDocument
	err := s.db.Collection(ledger).FindOne(ctx, bson.M{"_id": ledgerKey(version)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("ledger entry %d: %w", version, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("find ledger entry %d: %w", version, mapError(err))
	}
	entry := doc.toEntry()
	return &entry, nil
}

func (s *SchemaStore) ListLedgerEntries(ctx context.Context, ledger string) ([]model.LedgerEntry, error) {
	cursor, err := s.db.Collection(ledger).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", mapError(err))
	}
	defer cursor.Close(ctx)

	var docs []ledgerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", mapError(err))
	}

	entries := make([]model.LedgerEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.toEntry())
	}
	return entries, nil
}

func (s *SchemaStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func ledgerKey(version uint64) string {
	return strconv.FormatUint(version, 10)
}

func toLedgerDocument(entry model.LedgerEntry) (ledgerDocument, error) {
	if entry.Version > math.MaxInt64 {
		return ledgerDocument{}, errors.NewValidationError(
			fmt.Sprintf("version %d does not fit a MongoDB int64", entry.Version))
	}
	return ledgerDocument{
		ID:        ledgerKey(entry.Version),
		Version:   int64(entry.Version),
		Name:      entry.Name,
		AppliedAt: entry.AppliedAt.UTC(),
		Checksum:  entry.Checksum,
		RunID:     entry.RunID,
	}, nil
}

func (d ledgerDocument) toEntry() model.LedgerEntry {
	return model.LedgerEntry{
		Version:   uint64(d.Version),
		Name:      d.Name,
		AppliedAt: d.AppliedAt.UTC(),
		Checksum:  d.Checksum,
		RunID:     d.RunID,
	}
}

func isCode(err error, codes ...int32) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, c := range codes {
		if cmdErr.Code == c {
			return true
		}
	}
	return false
}

// mapError translates driver errors into the store sentinels
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case isCode(err, codeNamespaceExists, codeIndexOptionsConflict, codeIndexKeySpecsConflict):
		return fmt.Errorf("%w: %w", errors.ErrAlreadyExists, err)
	case isCode(err, codeNamespaceNotFound, codeIndexNotFound):
		return fmt.Errorf("%w: %w", errors.ErrNotFound, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %w", errors.ErrConnectionLost, err)
	}
	return err
}
