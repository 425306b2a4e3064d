package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schema-migrator/internal/migration/adapter/persistence"
	"schema-migrator/internal/migration/adapter/persistence/arangodb"
	"schema-migrator/internal/migration/adapter/persistence/mongodb"
	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/migration/domain/repository"
	"schema-migrator/internal/migration/usecase"
	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/eventbus"
	"schema-migrator/internal/shared/logger"
)

// journalPingTimeout bounds the startup check of the Redis journal
const journalPingTimeout = 3 * time.Second

// journalOpener returns nil when the journal is unavailable
type journalOpener func(ctx context.Context, cfg config.JournalConfig, log logger.Logger) *persistence.RedisRunJournal

// StoreConnector opens a schema store for a database configuration
type StoreConnector func(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (repository.SchemaStore, error)

// MigrationModule wires configuration, stores, the event bus and the admin commands
type MigrationModule struct {
	Config    *config.Config
	Logger    logger.Logger
	EventBus  *eventbus.EventBus
	RunLogger *usecase.RunLogger
	Journal   *persistence.RedisRunJournal // nil until a database command runs with REDIS_ADDR set
	Admin     *usecase.Admin

	connect     StoreConnector
	openJournal journalOpener
	journalOnce sync.Once
}

// NewMigrationModule builds the module for cfg using the driver it names
func NewMigrationModule(ctx context.Context, cfg *config.Config, log logger.Logger) (*MigrationModule, error) {
	return NewMigrationModuleWithConnector(ctx, cfg, log, ConnectStore)
}

// NewMigrationModuleWithConnector builds the module with a custom store connector
func NewMigrationModuleWithConnector(ctx context.Context, cfg *config.Config, log logger.Logger, connect StoreConnector) (*MigrationModule, error) {
	if cfg == nil {
		return nil, errors.NewInternalError("migration module requires a configuration")
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}

	bus := eventbus.NewEventBus(log)
	runLogger := usecase.NewRunLogger(log)
	runLogger.Subscribe(bus)

	m := &MigrationModule{
		Config:      cfg,
		Logger:      log,
		EventBus:    bus,
		RunLogger:   runLogger,
		connect:     connect,
		openJournal: connectJournal,
	}

	m.Admin = usecase.NewAdmin(cfg.SchemaPath, m.OpenDatabase, log,
		usecase.WithEventBus(bus),
		usecase.WithCreateIfAbsent(cfg.IdempotentCreate),
	)
	return m, nil
}

// connectJournal returns nil when Redis is unreachable; runs never depend on it
func connectJournal(ctx context.Context, cfg config.JournalConfig, log logger.Logger) *persistence.RedisRunJournal {
	client := persistence.NewRedisClient(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, journalPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithFields(map[string]interface{}{"redis_addr": cfg.RedisAddr, "error": err.Error()}).
			Warn("Run journal disabled: Redis is not reachable")
		_ = client.Close()
		return nil
	}
	log.Debugf("Run journal writing to stream %s", cfg.Stream)
	return persistence.NewRedisRunJournal(client, cfg.Stream, cfg.MaxLen, log)
}

// OpenDatabase connects to the configured database and prepares the ledger
func (m *MigrationModule) OpenDatabase(ctx context.Context) (*usecase.VersionedDatabase, error) {
	if err := m.Config.ValidateDatabase(); err != nil {
		return nil, err
	}
	m.startJournal(ctx)

	dbCfg := m.Config.Database
	store, err := m.connect(ctx, dbCfg, m.Logger)
	if err != nil {
		if errors.TypeOf(err) != "" {
			return nil, err
		}
		return nil, errors.NewConnectionError(fmt.Sprintf("cannot connect to %s database %s at %s", dbCfg.Driver, dbCfg.Name, dbCfg.Host)).
			WithCause(err).
			WithComponent("migration_module")
	}

	db, err := usecase.NewVersionedDatabase(ctx, store, m.Config.LedgerCollection, m.Logger)
	if err != nil {
		_ = store.Close(context.Background())
		return nil, err
	}
	return db, nil
}

// startJournal attaches the Redis journal to the bus on the first database command.
// Offline commands never touch Redis.
func (m *MigrationModule) startJournal(ctx context.Context) {
	m.journalOnce.Do(func() {
		if !m.Config.Journal.Enabled() {
			return
		}
		m.Journal = m.openJournal(ctx, m.Config.Journal, m.Logger)
		if m.Journal != nil {
			m.Journal.Subscribe(m.EventBus)
		}
	})
}

// Close releases the journal connection
func (m *MigrationModule) Close() error {
	if m.Journal != nil {
		return m.Journal.Close()
	}
	return nil
}

// ConnectStore opens the store for cfg.Driver
func ConnectStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (repository.SchemaStore, error) {
	switch cfg.Driver {
	case config.DriverMongoDB, "":
		store, err := mongodb.Connect(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverArangoDB:
		store, err := arangodb.Connect(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.NewValidationError(fmt.Sprintf("unknown database driver %q", cfg.Driver)).
		WithDetail("driver", cfg.Driver)
}
