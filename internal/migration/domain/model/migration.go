package model

import (
	"context"
	"fmt"
	"time"

	"schema-migrator/internal/shared/errors"
	"schema-migrator/internal/shared/utils"

	"github.com/cespare/xxhash/v2"
)

// Direction selects which operation list of a migration runs
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Migration is a named, versioned, reversible unit of schema change.
// Once built it is never mutated.
type Migration struct {
	Version  uint64      `json:"version"`
	Name     string      `json:"name"`
	Up       []Operation `json:"-"`
	Down     []Operation `json:"-"`
	Path     string      `json:"path,omitempty"`
	Checksum string      `json:"checksum,omitempty"`
	// DownDerived is true when Down was computed from Up rather than authored.
	DownDerived bool `json:"down_derived"`
}

// ID is the "<version>_<name>" label used in logs and file names
func (m *Migration) ID() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

// Operations returns the list that runs in the given direction
func (m *Migration) Operations(direction Direction) []Operation {
	if direction == DirectionDown {
		return m.Down
	}
	return m.Up
}

// ApplyUp runs the forward operations in order
func (m *Migration) ApplyUp(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error {
	return m.apply(ctx, exec, DirectionUp, opts)
}

// ApplyDown runs the rollback operations in order
func (m *Migration) ApplyDown(ctx context.Context, exec SchemaExecutor, opts ApplyOptions) error {
	return m.apply(ctx, exec, DirectionDown, opts)
}

// apply stops at the first failing operation. Operations already executed are not compensated.
func (m *Migration) apply(ctx context.Context, exec SchemaExecutor, direction Direction, opts ApplyOptions) error {
	log := opts.log().WithContext(ctx)

	for i, op := range m.Operations(direction) {
		if err := ctx.Err(); err != nil {
			return m.operationError(direction, i, op, err)
		}

		opCtx := utils.WithOperation(ctx, op.String())
		log.Debugf("%s %s: %s", direction, m.ID(), op)

		started := time.Now()
		if err := op.Apply(opCtx, exec, opts); err != nil {
			return m.operationError(direction, i, op, err)
		}
		log.WithFields(map[string]interface{}{
			"operation": op.String(),
			"duration":  time.Since(started).String(),
		}).Debug("operation applied")
	}
	return nil
}

func (m *Migration) operationError(direction Direction, index int, op Operation, cause error) error {
	return errors.NewMigrationError(
		fmt.Sprintf("migration %s (%s): operation %d %s failed", m.ID(), direction, index, op)).
		WithCause(cause).
		WithComponent("migration").
		WithDetail("version", m.Version).
		WithDetail("direction", string(direction)).
		WithDetail("operation_index", index).
		WithDetail("operation", op.String())
}

// DeriveDown builds a rollback list from up: reversed order, each operation inverted.
// Fails when an inverse lacks what it needs, e.g. a drop_index without its fields.
func DeriveDown(up []Operation) ([]Operation, error) {
	down := make([]Operation, 0, len(up))
	for i := len(up) - 1; i >= 0; i-- {
		inv := up[i].Inverse()
		if err := inv.Validate(); err != nil {
			return nil, errors.NewValidationError(
				fmt.Sprintf("cannot derive inverse of up operation %d %s", i, up[i])).
				WithCause(err).
				WithDetail("operation_index", i)
		}
		down = append(down, inv)
	}
	return down, nil
}

// Checksum fingerprints migration file contents
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
