package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "schema-migrator context key " + string(c)
}

// RunIDKey carries the uuid of the migrate/rollback invocation.
const RunIDKey = contextKey("runID")

// MigrationKey carries the version of the migration currently being applied.
const MigrationKey = contextKey("migration")

// DirectionKey carries "up" or "down" while a migration runs.
const DirectionKey = contextKey("direction")

// OperationKey carries the textual form of the schema operation in flight.
const OperationKey = contextKey("operation")

// ComponentKey is the key for the logical component name
const ComponentKey = contextKey("component")
