package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"schema-migrator/internal/migration/config"
	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/eventbus"
	"schema-migrator/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

// JournalEntry is one run event read back from the stream
type JournalEntry struct {
	ID        string
	Type      string
	Event     model.RunEvent
	Timestamp time.Time
}

// RedisRunJournal appends run lifecycle events to a Redis stream so runs can
// be audited from outside the process
type RedisRunJournal struct {
	client *redis.Client
	stream string
	maxLen int64
	logger logger.Logger
}

// NewRedisClient builds a client for the journal configuration
func NewRedisClient(cfg config.JournalConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// NewRedisRunJournal creates a journal writing to stream, trimmed to about maxLen entries
func NewRedisRunJournal(client *redis.Client, stream string, maxLen int64, log logger.Logger) *RedisRunJournal {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &RedisRunJournal{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: log.WithComponent("redis_run_journal"),
	}
}

// Append stores one event
func (j *RedisRunJournal) Append(ctx context.Context, eventType string, event model.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: j.stream,
		Values: map[string]interface{}{
			"type":      eventType,
			"run_id":    event.RunID,
			"version":   strconv.FormatUint(event.Version, 10),
			"payload":   payload,
			"timestamp": time.Now().UnixNano(),
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}

	id, err := j.client.XAdd(ctx, args).Result()
	if err != nil {
		j.logger.WithFields(map[string]interface{}{"error": err.Error()}).Errorf("Failed to append %s to %s", eventType, j.stream)
		return fmt.Errorf("append %s to %s: %w", eventType, j.stream, err)
	}
	j.logger.Debugf("Appended %s for run %s as %s", eventType, event.RunID, id)
	return nil
}

// Handle adapts Append to the event bus
func (j *RedisRunJournal) Handle(ctx context.Context, event eventbus.Event) error {
	data, ok := event.Data().(model.RunEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Data(), event.Type())
	}
	return j.Append(ctx, event.Type(), data)
}

// Subscribe registers the journal for every lifecycle event
func (j *RedisRunJournal) Subscribe(bus eventbus.EventBusInterface) {
	bus.SubscribeAll(eventbus.AllEventTypes(), j.Handle)
}

// Recent returns up to count entries, newest first
func (j *RedisRunJournal) Recent(ctx context.Context, count int64) ([]JournalEntry, error) {
	msgs, err := j.client.XRevRangeN(ctx, j.stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", j.stream, err)
	}

	entries := make([]JournalEntry, 0, len(msgs))
	for _, msg := range msgs {
		entry, err := parseJournalMessage(msg)
		if err != nil {
			j.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warnf("Skipping malformed journal message %s", msg.ID)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseJournalMessage(msg redis.XMessage) (JournalEntry, error) {
	entry := JournalEntry{ID: msg.ID}
	entry.Type, _ = msg.Values["type"].(string)

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return entry, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal([]byte(payload), &entry.Event); err != nil {
		return entry, fmt.Errorf("decode payload: %w", err)
	}

	if ts, ok := msg.Values["timestamp"].(string); ok {
		nanos, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return entry, fmt.Errorf("decode timestamp: %w", err)
		}
		entry.Timestamp = time.Unix(0, nanos).UTC()
	}
	return entry, nil
}

func (j *RedisRunJournal) Close() error {
	return j.client.Close()
}
