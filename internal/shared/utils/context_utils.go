package utils

import (
	"context"
	"errors"
	"strconv"

	"schema-migrator/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrRunIDNotFound     = errors.New("runID not found in context")
	ErrRunIDNotString    = errors.New("runID in context is not a string")
	ErrMigrationNotFound = errors.New("migration not found in context")
)

// WithRunID tags ctx with the identifier of the current invocation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextkeys.RunIDKey, runID)
}

// GetRunIDFromContext retrieves the run ID from the context.
// It returns the run ID and an error if the run ID is not found or is not a string.
func GetRunIDFromContext(ctx context.Context) (string, error) {
	val := ctx.Value(contextkeys.RunIDKey)
	if val == nil {
		return "", ErrRunIDNotFound
	}
	runID, ok := val.(string)
	if !ok {
		return "", ErrRunIDNotString
	}
	return runID, nil
}

// RunIDOrEmpty is GetRunIDFromContext without the error.
func RunIDOrEmpty(ctx context.Context) string {
	runID, _ := GetRunIDFromContext(ctx)
	return runID
}

// WithMigration tags ctx with the migration version and direction being executed.
func WithMigration(ctx context.Context, version uint64, direction string) context.Context {
	ctx = context.WithValue(ctx, contextkeys.MigrationKey, strconv.FormatUint(version, 10))
	return context.WithValue(ctx, contextkeys.DirectionKey, direction)
}

// GetMigrationFromContext returns the version previously set by WithMigration.
func GetMigrationFromContext(ctx context.Context) (uint64, error) {
	val, ok := ctx.Value(contextkeys.MigrationKey).(string)
	if !ok || val == "" {
		return 0, ErrMigrationNotFound
	}
	return strconv.ParseUint(val, 10, 64)
}

// WithOperation tags ctx with a description of the schema operation in flight.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, contextkeys.OperationKey, operation)
}

// WithComponent tags ctx with the component name.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}
