// Package events delivers proximity-graph lifecycle events to interested
// consumers. The core emits exactly three kinds: registry creation at
// bootstrap, new users (real or synthetic), and node updates.
package events

import (
	"context"

	id "vicinity/pkg/domain"
)

type Type string

const (
	TypeRegistryCreated Type = "registry_created"
	TypeNewUser         Type = "new_user"
	TypeNodeUpdate      Type = "node_update"
)

// Event is emitted from domain logic after a successful state change. Keep it
// transport-agnostic so sinks can fan out to memory, Kafka, or logs.
type Event struct {
	Type       Type
	RegistryID id.RegistryID // registry_created only
	Creator    id.Identity   // registry_created only
	Owner      id.Identity   // new_user, node_update
	RecordID   id.RecordID   // new_user, node_update
	SnapshotID id.SnapshotID // node_update
	Neighbors  []id.PeerRef  // node_update
	Timestamp  uint64        // node_update: the snapshot's clock reading (ms)
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
