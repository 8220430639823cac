// Package models holds the proximity-graph domain objects. Snapshots are
// frozen value objects; user records are the only mutable state besides the
// registry itself.
package models

import (
	id "vicinity/pkg/domain"
)

// Snapshot is an immutable record of a neighbor set at a point in time.
// Previous links it to the snapshot it superseded, forming a backward-linked
// chain per owner: Previous always denotes a snapshot created earlier with a
// strictly smaller timestamp, and no forward pointers exist. Once appended to
// the arena a snapshot is never mutated and may be read without
// synchronization.
type Snapshot struct {
	ID        id.SnapshotID
	Owner     id.Identity
	Neighbors []id.PeerRef
	Timestamp uint64 // milliseconds, supplied by the caller's clock
	Previous  *id.SnapshotID
}

// NodeState is the cached contents of a record's head snapshot.
type NodeState struct {
	Neighbors []id.PeerRef
	Timestamp uint64
}

// UserRecord is the mutable per-identity pointer to the current chain head.
// Current must always equal the contents of the snapshot Head references;
// both move together under the per-identity writer lock.
type UserRecord struct {
	ID      id.RecordID
	Owner   id.Identity
	Head    id.SnapshotID
	Current NodeState
}

// Registry is the singleton set of registered identities. It is created once
// at bootstrap and never destroyed; membership lives in the registry store.
type Registry struct {
	ID      id.RegistryID
	Creator id.Identity
}

// DevCapability lets its holder mint synthetic users and updates that bypass
// registry and ownership checks. Minted exactly once at bootstrap, bound to
// the deploying identity, never transferable.
type DevCapability struct {
	Owner id.Identity
}

// CloneNeighbors copies a neighbor slice so frozen snapshots never share
// backing arrays with caller-owned slices. Empty neighbor sets are valid and
// normalize to an empty (non-nil) slice.
func CloneNeighbors(neighbors []id.PeerRef) []id.PeerRef {
	out := make([]id.PeerRef, len(neighbors))
	copy(out, neighbors)
	return out
}
