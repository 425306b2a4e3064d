package model

import (
	"context"
	"fmt"
	"strings"

	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/logger"
)

// OperationKind is the tag an operation carries in a migration file
type OperationKind string

const (
	KindCreateCollection     OperationKind = "create_collection"
	KindDropCollection       OperationKind = "drop_collection"
	KindCreateEdgeCollection OperationKind = "create_edge_collection"
	KindDropEdgeCollection   OperationKind = "drop_edge_collection"
	KindCreateIndex          OperationKind = "create_index"
	KindDropIndex            OperationKind = "drop_index"
)

// OperationKinds lists every supported operation tag
func OperationKinds() []OperationKind {
	return []OperationKind{
		KindCreateCollection,
		KindDropCollection,
		KindCreateEdgeCollection,
		KindDropEdgeCollection,
		KindCreateIndex,
		KindDropIndex,
	}
}

// IndexKind enumerates the index types a store may be asked to build
type IndexKind string

const (
	IndexPersistent IndexKind = "persistent"
	IndexHash       IndexKind = "hash"
	IndexSkiplist   IndexKind = "skiplist"
	IndexTTL        IndexKind = "ttl"
	IndexGeo        IndexKind = "geo"
	IndexFulltext   IndexKind = "fulltext"
)

// IsValid reports whether k is a known index kind
func (k IndexKind) IsValid() bool {
	switch k {
	case IndexPersistent, IndexHash, IndexSkiplist, IndexTTL, IndexGeo, IndexFulltext:
		return true
	}
	return false
}

// IndexDefinition is what a store needs to create an index
type IndexDefinition struct {
	Name        string
	Fields      []string
	Kind        IndexKind
	Unique      bool
	Sparse      bool
	ExpireAfter int // seconds, ttl indexes only
}

// SchemaExecutor is the subset of a schema store that operations drive.
//
// Create methods return errors.ErrAlreadyExists when the target exists and
// drop methods return errors.ErrNotFound when it does not.
type SchemaExecutor interface {
	CreateCollection(ctx context.Context, name string) error
	DropCollection(ctx context.Context, name string) error
	CreateEdgeCollection(ctx context.Context, name string) error
	DropEdgeCollection(ctx context.Context, name string) error
	CreateIndex(ctx context.Context, collection string, index IndexDefinition) error
	DropIndex(ctx context.Context, collection, indexID string) error
}

// ApplyOptions tunes how an operation reacts to existing schema objects
type ApplyOptions struct {
	// CreateIfAbsent turns ErrAlreadyExists on create operations into a logged no-op.
	CreateIfAbsent bool
	Logger         logger.Logger
}

func (o ApplyOptions) log() logger.Logger {
	if o.Logger == nil {
		return logger.NewNoopLogger()
	}
	return o.Logger
}

// Operation is a single reversible schema change.
// The set of implementations is closed; see OperationKinds.
type Operation interface {
	Kind() OperationKind
	Apply(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error
	// Inverse returns the operation that undoes this one. It never touches the database.
	Inverse() Operation
	Validate() error
	String() string

	isOperation()
}

// DecodeOperation builds the operation for kind, filling its fields through decode.
// decode receives a pointer to the variant struct.
func DecodeOperation(kind string, decode func(v interface{}) error) (Operation, error) {
	var (
		op  Operation
		err error
	)

	switch OperationKind(kind) {
	case KindCreateCollection:
		var v CreateCollection
		err = decode(&v)
		op = v
	case KindDropCollection:
		var v DropCollection
		err = decode(&v)
		op = v
	case KindCreateEdgeCollection:
		var v CreateEdgeCollection
		err = decode(&v)
		op = v
	case KindDropEdgeCollection:
		var v DropEdgeCollection
		err = decode(&v)
		op = v
	case KindCreateIndex:
		var v CreateIndex
		err = decode(&v)
		op = v
	case KindDropIndex:
		var v DropIndex
		err = decode(&v)
		op = v
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown operation %q", kind)).
			WithDetail("kind", kind)
	}

	if err != nil {
		return nil, err
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func createIgnoringExisting(err error, opts ApplyOptions, op Operation) error {
	if err != nil && opts.CreateIfAbsent && errors.IsAlreadyExists(err) {
		opts.log().Infof("%s: target already exists, skipping", op)
		return nil
	}
	return err
}

func requireName(kind OperationKind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewValidationError(fmt.Sprintf("%s: %s is required", kind, field)).
			WithDetail("kind", string(kind)).
			WithDetail("field", field)
	}
	return nil
}

// CreateCollection creates a document collection
type CreateCollection struct {
	Name string `yaml:"name" json:"name"`
}

func (CreateCollection) isOperation()        {}
func (CreateCollection) Kind() OperationKind { return KindCreateCollection }
func (o CreateCollection) String() string    { return fmt.Sprintf("create_collection(%s)", o.Name) }
func (o CreateCollection) Inverse() Operation {
	return DropCollection{Name: o.Name}
}
func (o CreateCollection) Validate() error { return requireName(o.Kind(), "name", o.Name) }

func (o CreateCollection) Apply(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error {
	return createIgnoringExisting(exec.CreateCollection(ctx, o.Name), opts, o)
}

// DropCollection drops a document collection
type DropCollection struct {
	Name string `yaml:"name" json:"name"`
}

func (DropCollection) isOperation()        {}
func (DropCollection) Kind() OperationKind { return KindDropCollection }
func (o DropCollection) String() string    { return fmt.Sprintf("drop_collection(%s)", o.Name) }
func (o DropCollection) Inverse() Operation {
	return CreateCollection{Name: o.Name}
}
func (o DropCollection) Validate() error { return requireName(o.Kind(), "name", o.Name) }

func (o DropCollection) Apply(ctx context.Context, exec SchemaExecutor, _ ApplyOptions) error {
	return exec.DropCollection(ctx, o.Name)
}

// CreateEdgeCollection creates an edge collection
type CreateEdgeCollection struct {
	Name string `yaml:"name" json:"name"`
}

func (CreateEdgeCollection) isOperation()        {}
func (CreateEdgeCollection) Kind() OperationKind { return KindCreateEdgeCollection }
func (o CreateEdgeCollection) String() string {
	return fmt.Sprintf("create_edge_collection(%s)", o.Name)
}
func (o CreateEdgeCollection) Inverse() Operation {
	return DropEdgeCollection{Name: o.Name}
}
func (o CreateEdgeCollection) Validate() error { return requireName(o.Kind(), "name", o.Name) }

func (o CreateEdgeCollection) Apply(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error {
	return createIgnoringExisting(exec.CreateEdgeCollection(ctx, o.Name), opts, o)
}

// DropEdgeCollection drops an edge collection
type DropEdgeCollection struct {
	Name string `yaml:"name" json:"name"`
}

func (DropEdgeCollection) isOperation()        {}
func (DropEdgeCollection) Kind() OperationKind { return KindDropEdgeCollection }
func (o DropEdgeCollection) String() string {
	return fmt.Sprintf("drop_edge_collection(%s)", o.Name)
}
func (o DropEdgeCollection) Inverse() Operation {
	return CreateEdgeCollection{Name: o.Name}
}
func (o DropEdgeCollection) Validate() error { return requireName(o.Kind(), "name", o.Name) }

func (o DropEdgeCollection) Apply(ctx context.Context, exec SchemaExecutor, _ ApplyOptions) error {
	return exec.DropEdgeCollection(ctx, o.Name)
}

// CreateIndex creates an index on a collection. Name defaults to idx_<collection>_<fields>.
type CreateIndex struct {
	Collection  string    `yaml:"collection" json:"collection"`
	Name        string    `yaml:"name,omitempty" json:"name,omitempty"`
	Fields      []string  `yaml:"fields" json:"fields"`
	Type        IndexKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Unique      bool      `yaml:"unique,omitempty" json:"unique,omitempty"`
	Sparse      bool      `yaml:"sparse,omitempty" json:"sparse,omitempty"`
	ExpireAfter int       `yaml:"expire_after,omitempty" json:"expire_after,omitempty"`
}

func (CreateIndex) isOperation()        {}
func (CreateIndex) Kind() OperationKind { return KindCreateIndex }

func (o CreateIndex) String() string {
	return fmt.Sprintf("create_index(%s.%s [%s])", o.Collection, o.IndexName(), strings.Join(o.Fields, ","))
}

// IndexName returns the explicit name or the derived default
func (o CreateIndex) IndexName() string {
	if o.Name != "" {
		return o.Name
	}
	return DefaultIndexName(o.Collection, o.Fields)
}

// IndexKind returns the declared kind, persistent when unset
func (o CreateIndex) IndexKind() IndexKind {
	if o.Type == "" {
		return IndexPersistent
	}
	return o.Type
}

// Definition converts the operation into what a store consumes
func (o CreateIndex) Definition() IndexDefinition {
	return IndexDefinition{
		Name:        o.IndexName(),
		Fields:      append([]string(nil), o.Fields...),
		Kind:        o.IndexKind(),
		Unique:      o.Unique,
		Sparse:      o.Sparse,
		ExpireAfter: o.ExpireAfter,
	}
}

func (o CreateIndex) Inverse() Operation {
	return DropIndex{
		Collection:  o.Collection,
		IndexID:     o.IndexName(),
		Fields:      append([]string(nil), o.Fields...),
		Type:        o.IndexKind(),
		Unique:      o.Unique,
		Sparse:      o.Sparse,
		ExpireAfter: o.ExpireAfter,
	}
}

func (o CreateIndex) Validate() error {
	return validateIndex(o.Kind(), o.Collection, o.Fields, o.IndexKind(), o.ExpireAfter)
}

func (o CreateIndex) Apply(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error {
	return createIgnoringExisting(exec.CreateIndex(ctx, o.Collection, o.Definition()), opts, o)
}

// DropIndex removes an index. The optional descriptive fields are only used to build the inverse.
type DropIndex struct {
	Collection  string    `yaml:"collection" json:"collection"`
	IndexID     string    `yaml:"index_id" json:"index_id"`
	Fields      []string  `yaml:"fields,omitempty" json:"fields,omitempty"`
	Type        IndexKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Unique      bool      `yaml:"unique,omitempty" json:"unique,omitempty"`
	Sparse      bool      `yaml:"sparse,omitempty" json:"sparse,omitempty"`
	ExpireAfter int       `yaml:"expire_after,omitempty" json:"expire_after,omitempty"`
}

func (DropIndex) isOperation()        {}
func (DropIndex) Kind() OperationKind { return KindDropIndex }

func (o DropIndex) String() string {
	return fmt.Sprintf("drop_index(%s.%s)", o.Collection, o.IndexID)
}

func (o DropIndex) Inverse() Operation {
	return CreateIndex{
		Collection:  o.Collection,
		Name:        o.IndexID,
		Fields:      append([]string(nil), o.Fields...),
		Type:        o.Type,
		Unique:      o.Unique,
		Sparse:      o.Sparse,
		ExpireAfter: o.ExpireAfter,
	}
}

func (o DropIndex) Validate() error {
	if err := requireName(o.Kind(), "collection", o.Collection); err != nil {
		return err
	}
	if err := requireName(o.Kind(), "index_id", o.IndexID); err != nil {
		return err
	}
	if o.Type != "" && !o.Type.IsValid() {
		return errors.NewValidationError(fmt.Sprintf("drop_index: unknown index kind %q", o.Type))
	}
	return nil
}

func (o DropIndex) Apply(ctx context.Context, exec SchemaExecutor, _ ApplyOptions) error {
	return exec.DropIndex(ctx, o.Collection, o.IndexID)
}

// DefaultIndexName is the name given to an index declared without one
func DefaultIndexName(collection string, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, strings.ReplaceAll(f, ".", "_"))
	}
	return fmt.Sprintf("idx_%s_%s", collection, strings.Join(parts, "_"))
}

func validateIndex(kind OperationKind, collection string, fields []string, indexKind IndexKind, expireAfter int) error {
	if err := requireName(kind, "collection", collection); err != nil {
		return err
	}
	if len(fields) == 0 {
		return errors.NewValidationError(fmt.Sprintf("%s: at least one field is required", kind)).
			WithDetail("collection", collection)
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return errors.NewValidationError(fmt.Sprintf("%s: empty field name", kind)).
				WithDetail("collection", collection)
		}
	}
	if !indexKind.IsValid() {
		return errors.NewValidationError(fmt.Sprintf("%s: unknown index kind %q", kind, indexKind)).
			WithDetail("collection", collection)
	}

	switch indexKind {
	case IndexTTL:
		if len(fields) != 1 || expireAfter <= 0 {
			return errors.NewValidationError(fmt.Sprintf("%s: ttl index needs exactly one field and expire_after > 0", kind)).
				WithDetail("collection", collection)
		}
	case IndexGeo:
		if len(fields) > 2 {
			return errors.NewValidationError(fmt.Sprintf("%s: geo index takes one or two fields", kind)).
				WithDetail("collection", collection)
		}
	case IndexFulltext:
		if len(fields) != 1 {
			return errors.NewValidationError(fmt.Sprintf("%s: fulltext index takes exactly one field", kind)).
				WithDetail("collection", collection)
		}
	}
	return nil
}
