package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"
)

// MemoryStore is an in-memory SchemaStore that records every schema call.
// Ledger calls are not recorded in Calls.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]model.CollectionKind
	system      map[string]bool
	indexes     map[string]map[string]model.IndexDefinition
	ledgers     map[string]map[uint64]model.LedgerEntry
	failures    map[string]error
	calls       []string
	closed      bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]model.CollectionKind),
		system:      make(map[string]bool),
		indexes:     make(map[string]map[string]model.IndexDefinition),
		ledgers:     make(map[string]map[uint64]model.LedgerEntry),
		failures:    make(map[string]error),
	}
}

// FailOn makes the next call whose recorded form equals call return err.
// Recorded forms look like "create_collection Users" or "create_index Users.idx_Users_email".
// The ledger methods use "insert_ledger <version>" and "delete_ledger <version>".
// A failed call is not appended to Calls.
func (s *MemoryStore) FailOn(call string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[call] = err
}

// AddSystemCollection registers a collection that Collections reports as system
func (s *MemoryStore) AddSystemCollection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = model.CollectionDocument
	s.system[name] = true
}

// Calls returns the recorded schema calls in order
func (s *MemoryStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCalls clears the call log
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// HasCollection reports whether name exists
func (s *MemoryStore) HasCollection(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok
}

// HasIndex reports whether the named index exists on collection
func (s *MemoryStore) HasIndex(collection, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexes[collection][name]
	return ok
}

// Closed reports whether Close was called
func (s *MemoryStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MemoryStore) failure(call string) error {
	if err, ok := s.failures[call]; ok {
		delete(s.failures, call)
		return err
	}
	return nil
}

func (s *MemoryStore) record(call string) error {
	if err := s.failure(call); err != nil {
		return err
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure("ping")
}

func (s *MemoryStore) CreateCollection(ctx context.Context, name string) error {
	return s.createCollection("create_collection", name, model.CollectionDocument)
}

func (s *MemoryStore) CreateEdgeCollection(ctx context.Context, name string) error {
	return s.createCollection("create_edge_collection", name, model.CollectionEdge)
}

func (s *MemoryStore) createCollection(call, name string, kind model.CollectionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(call + " " + name); err != nil {
		return err
	}
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %s: %w", name, errors.ErrAlreadyExists)
	}
	s.collections[name] = kind
	return nil
}

func (s *MemoryStore) DropCollection(ctx context.Context, name string) error {
	return s.dropCollection("drop_collection", name)
}

func (s *MemoryStore) DropEdgeCollection(ctx context.Context, name string) error {
	return s.dropCollection("drop_edge_collection", name)
}

func (s *MemoryStore) dropCollection(call, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(call + " " + name); err != nil {
		return err
	}
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("collection %s: %w", name, errors.ErrNotFound)
	}
	delete(s.collections, name)
	delete(s.indexes, name)
	delete(s.ledgers, name)
	return nil
}

func (s *MemoryStore) CreateIndex(ctx context.Context, collection string, index model.IndexDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record("create_index " + collection + "." + index.Name); err != nil {
		return err
	}
	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("collection %s: %w", collection, errors.ErrNotFound)
	}
	if _, ok := s.indexes[collection][index.Name]; ok {
		return fmt.Errorf("index %s: %w", index.Name, errors.ErrAlreadyExists)
	}
	if s.indexes[collection] == nil {
		s.indexes[collection] = make(map[string]model.IndexDefinition)
	}
	s.indexes[collection][index.Name] = index
	return nil
}

func (s *MemoryStore) DropIndex(ctx context.Context, collection, indexID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record("drop_index " + collection + "." + indexID); err != nil {
		return err
	}
	if _, ok := s.indexes[collection][indexID]; !ok {
		return fmt.Errorf("index %s.%s: %w", collection, indexID, errors.ErrNotFound)
	}
	delete(s.indexes[collection], indexID)
	return nil
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("ensure_collection " + name); err != nil {
		return err
	}
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = model.CollectionDocument
	}
	return nil
}

func (s *MemoryStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *MemoryStore) Collections(ctx context.Context) ([]model.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]model.CollectionInfo, 0, len(s.collections))
	for name, kind := range s.collections {
		infos = append(infos, model.CollectionInfo{
			Name:     name,
			Kind:     kind,
			IsSystem: s.system[name] || strings.HasPrefix(name, "_"),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *MemoryStore) InsertLedgerEntry(ctx context.Context, ledger string, entry model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(fmt.Sprintf("insert_ledger %d", entry.Version)); err != nil {
		return err
	}
	if _, ok := s.collections[ledger]; !ok {
		return fmt.Errorf("ledger %s: %w", ledger, errors.ErrNotFound)
	}
	if s.ledgers[ledger] == nil {
		s.ledgers[ledger] = make(map[uint64]model.LedgerEntry)
	}
	if _, ok := s.ledgers[ledger][entry.Version]; ok {
		return fmt.Errorf("ledger entry %d: %w", entry.Version, errors.ErrAlreadyExists)
	}
	s.ledgers[ledger][entry.Version] = entry
	return nil
}

func (s *MemoryStore) DeleteLedgerEntry(ctx context.Context, ledger string, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(fmt.Sprintf("delete_ledger %d", version)); err != nil {
		return err
	}
	if _, ok := s.ledgers[ledger][version]; !ok {
		return fmt.Errorf("ledger entry %d: %w", version, errors.ErrNotFound)
	}
	delete(s.ledgers[ledger], version)
	return nil
}

func (s *MemoryStore) FindLedgerEntry(ctx context.Context, ledger string, version uint64) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledgers[ledger][version]
	if !ok {
		return nil, fmt.Errorf("ledger entry %d: %w", version, errors.ErrNotFound)
	}
	return &entry, nil
}

func (s *MemoryStore) ListLedgerEntries(ctx context.Context, ledger string) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("list_ledger"); err != nil {
		return nil, err
	}
	entries := make([]model.LedgerEntry, 0, len(s.ledgers[ledger]))
	for _, e := range s.ledgers[ledger] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	return entries, nil
}

// SeedLedger writes an entry directly, bypassing failure injection
func (s *MemoryStore) SeedLedger(ledger string, entry model.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[ledger]; !ok {
		s.collections[ledger] = model.CollectionDocument
	}
	if s.ledgers[ledger] == nil {
		s.ledgers[ledger] = make(map[uint64]model.LedgerEntry)
	}
	s.ledgers[ledger][entry.Version] = entry
}

func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
