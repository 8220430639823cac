// Package store defines the persistence interfaces for the proximity graph.
// Stores are interface-driven so the in-memory, Redis, and Postgres
// implementations can be swapped without rewiring business code.
package store

import (
	"context"

	"vicinity/internal/graph/models"
	id "vicinity/pkg/domain"
)

// RegistryStore tracks which identities have ever registered. Add must be
// atomic with respect to the membership check: two concurrent Adds for the
// same identity yield exactly one success and one sentinel.ErrConflict, and
// Adds for distinct identities never conflict.
type RegistryStore interface {
	Add(ctx context.Context, identity id.Identity) error
	Contains(ctx context.Context, identity id.Identity) (bool, error)
	// List returns registered identities in insertion order.
	List(ctx context.Context) ([]id.Identity, error)
	Len(ctx context.Context) (int, error)
}

// SnapshotStore is the append-only arena of frozen snapshots. Append assigns
// the next monotonic SnapshotID and returns the stored snapshot; nothing is
// ever overwritten or deleted, so Get serves unboundedly many concurrent
// readers.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot models.Snapshot) (models.Snapshot, error)
	Get(ctx context.Context, snapshotID id.SnapshotID) (models.Snapshot, error)
}

// RecordStore holds the mutable per-identity head pointers. SetHead replaces
// the head and cached state together so the cache never drifts from the
// snapshot it mirrors.
type RecordStore interface {
	Create(ctx context.Context, record models.UserRecord) error
	Get(ctx context.Context, recordID id.RecordID) (models.UserRecord, error)
	SetHead(ctx context.Context, recordID id.RecordID, head id.SnapshotID, current models.NodeState) error
}
