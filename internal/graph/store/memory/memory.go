// Package memory provides the in-memory store implementations. They favor
// clarity over performance and are the default wiring for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"vicinity/internal/graph/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// RegistryStore keeps an insertion-ordered slice for listing plus a
// membership map, so Contains is O(1) while List preserves registration
// order.
type RegistryStore struct {
	mu      sync.RWMutex
	ordered []id.Identity
	members map[id.Identity]struct{}
}

func NewRegistryStore() *RegistryStore {
	return &RegistryStore{members: make(map[id.Identity]struct{})}
}

func (s *RegistryStore) Add(_ context.Context, identity id.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[identity]; ok {
		return sentinel.ErrConflict
	}
	s.members[identity] = struct{}{}
	s.ordered = append(s.ordered, identity)
	return nil
}

func (s *RegistryStore) Contains(_ context.Context, identity id.Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[identity]
	return ok, nil
}

func (s *RegistryStore) List(_ context.Context) ([]id.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]id.Identity{}, s.ordered...), nil
}

func (s *RegistryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered), nil
}

// SnapshotStore is the append-only arena. IDs start at 1 and increase by one
// per append; snapshots are value-copied in and out, so stored entries are
// effectively frozen.
type SnapshotStore struct {
	mu        sync.RWMutex
	nextID    id.SnapshotID
	snapshots map[id.SnapshotID]models.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		nextID:    1,
		snapshots: make(map[id.SnapshotID]models.Snapshot),
	}
}

func (s *SnapshotStore) Append(_ context.Context, snapshot models.Snapshot) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.ID = s.nextID
	snapshot.Neighbors = models.CloneNeighbors(snapshot.Neighbors)
	s.nextID++
	s.snapshots[snapshot.ID] = snapshot
	return snapshot, nil
}

func (s *SnapshotStore) Get(_ context.Context, snapshotID id.SnapshotID) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[snapshotID]
	if !ok {
		return models.Snapshot{}, sentinel.ErrNotFound
	}
	snapshot.Neighbors = models.CloneNeighbors(snapshot.Neighbors)
	return snapshot, nil
}

// RecordStore holds the mutable head pointers keyed by record ID.
type RecordStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]models.UserRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[id.RecordID]models.UserRecord)}
}

func (s *RecordStore) Create(_ context.Context, record models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return sentinel.ErrConflict
	}
	record.Current.Neighbors = models.CloneNeighbors(record.Current.Neighbors)
	s.records[record.ID] = record
	return nil
}

func (s *RecordStore) Get(_ context.Context, recordID id.RecordID) (models.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok {
		return models.UserRecord{}, sentinel.ErrNotFound
	}
	record.Current.Neighbors = models.CloneNeighbors(record.Current.Neighbors)
	return record, nil
}

func (s *RecordStore) SetHead(_ context.Context, recordID id.RecordID, head id.SnapshotID, current models.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	record.Head = head
	record.Current = models.NodeState{
		Neighbors: models.CloneNeighbors(current.Neighbors),
		Timestamp: current.Timestamp,
	}
	s.records[recordID] = record
	return nil
}
