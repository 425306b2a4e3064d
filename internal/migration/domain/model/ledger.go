package model

import "time"

// LedgerEntry records one applied migration
type LedgerEntry struct {
	Version   uint64    `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
	Checksum  string    `json:"checksum,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
}

// NewLedgerEntry builds the entry written after m has been applied
func NewLedgerEntry(m *Migration, appliedAt time.Time, runID string) LedgerEntry {
	return LedgerEntry{
		Version:   m.Version,
		Name:      m.Name,
		AppliedAt: appliedAt.UTC(),
		Checksum:  m.Checksum,
		RunID:     runID,
	}
}

// CollectionKind distinguishes document and edge collections
type CollectionKind string

const (
	CollectionDocument CollectionKind = "document"
	CollectionEdge     CollectionKind = "edge"
)

// CollectionInfo describes a collection visible to the session
type CollectionInfo struct {
	Name     string         `json:"name"`
	IsSystem bool           `json:"is_system"`
	Kind     CollectionKind `json:"kind"`
}

// RunEvent is the payload of every run lifecycle event
type RunEvent struct {
	RunID     string        `json:"run_id"`
	Direction Direction     `json:"direction"`
	Version   uint64        `json:"version,omitempty"`
	Name      string        `json:"name,omitempty"`
	Checksum  string        `json:"checksum,omitempty"`
	Count     int           `json:"count,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// MigrationStatus is one row of a status report
type MigrationStatus struct {
	Version   uint64     `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Checksum  string     `json:"checksum"`
	// Drifted is set when the file changed since it was applied.
	Drifted bool `json:"drifted"`
}

// StatusReport compares the migration files with the ledger
type StatusReport struct {
	Migrations []MigrationStatus `json:"migrations"`
	// Orphans are ledger entries with no migration file.
	Orphans []LedgerEntry `json:"orphans,omitempty"`
}

// Pending counts migrations not yet applied
func (r *StatusReport) Pending() int {
	n := 0
	for _, s := range r.Migrations {
		if !s.Applied {
			n++
		}
	}
	return n
}
