package usecase

import (
	"context"
	"fmt"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/eventbus"
	"schema-migrator/internal/shared/logger"
)

// RunLogger writes run lifecycle events to a logger
type RunLogger struct {
	logger logger.Logger
}

// NewRunLogger creates a RunLogger
func NewRunLogger(log logger.Logger) *RunLogger {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &RunLogger{logger: log.WithComponent("run_journal")}
}

// Subscribe registers the logger for every lifecycle event
func (r *RunLogger) Subscribe(bus eventbus.EventBusInterface) {
	bus.SubscribeAll(eventbus.AllEventTypes(), r.Handle)
}

// Handle logs one event
func (r *RunLogger) Handle(ctx context.Context, event eventbus.Event) error {
	data, ok := event.Data().(model.RunEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Data(), event.Type())
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"event":     event.Type(),
		"run_id":    data.RunID,
		"direction": string(data.Direction),
	})

	switch event.Type() {
	case eventbus.EventTypeRunStarted:
		log.Debugf("Run started with %d migration(s) selected", data.Count)
	case eventbus.EventTypeRunFinished:
		log.Infof("Run finished: %d migration(s) %s in %s", data.Count, data.Direction, data.Duration)
	case eventbus.EventTypeMigrationFailed:
		log.WithFields(map[string]interface{}{"version": data.Version}).Errorf("Migration %d_%s failed: %s", data.Version, data.Name, data.Error)
	default:
		log.WithFields(map[string]interface{}{"version": data.Version}).Infof("Migration %d_%s done in %s", data.Version, data.Name, data.Duration)
	}
	return nil
}
