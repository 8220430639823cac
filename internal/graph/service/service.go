// Package service implements the proximity-graph operations: registration,
// rate-limited updates, and the capability-gated synthetic paths. All state
// lives in the injected stores; the service enforces preconditions and the
// per-identity single-writer discipline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"vicinity/internal/graph/gate"
	"vicinity/internal/graph/metrics"
	"vicinity/internal/graph/models"
	"vicinity/internal/graph/store"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
	"vicinity/pkg/platform/events"
	"vicinity/pkg/platform/sentinel"
)

// EventPublisher is what the service needs from the events layer.
type EventPublisher interface {
	Emit(ctx context.Context, event events.Event) error
}

type Service struct {
	registry  store.RegistryStore
	snapshots store.SnapshotStore
	records   store.RecordStore
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	locks     identityLocks

	// Bootstrap state: the singleton registry handle and the one-time
	// capability. Set exactly once, never re-initialized.
	mu         sync.Mutex
	reg        *models.Registry
	capability *models.DevCapability
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(registry store.RegistryStore, snapshots store.SnapshotStore, records store.RecordStore, publisher EventPublisher, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry store is required")
	}
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher is required")
	}

	svc := &Service{
		registry:  registry,
		snapshots: snapshots,
		records:   records,
		publisher: publisher,
		logger:    slog.Default(),
		tracer:    otel.Tracer("vicinity/graph"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Bootstrap creates the singleton registry and mints the dev capability,
// bound to the deploying identity. Callable exactly once per service; there
// is no re-initialization path.
func (s *Service) Bootstrap(ctx context.Context, deployer id.Identity) (models.Registry, models.DevCapability, error) {
	ctx, span := s.tracer.Start(ctx, "graph.Bootstrap")
	defer span.End()

	if deployer.IsZero() {
		return models.Registry{}, models.DevCapability{}, dErrors.New(dErrors.CodeInvalidInput, "deployer identity is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg != nil {
		return models.Registry{}, models.DevCapability{}, dErrors.New(dErrors.CodeConflict, "registry already initialized")
	}

	reg := models.Registry{ID: id.NewRegistryID(), Creator: deployer}
	capability := models.DevCapability{Owner: deployer}
	s.reg = &reg
	s.capability = &capability

	s.emit(ctx, events.Event{
		Type:       events.TypeRegistryCreated,
		RegistryID: reg.ID,
		Creator:    deployer,
	})
	s.logger.InfoContext(ctx, "registry initialized",
		"registry_id", reg.ID.String(),
		"creator", deployer.String(),
	)
	return reg, capability, nil
}

// Registry returns the bootstrap registry handle, if initialized.
func (s *Service) Registry() (models.Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg == nil {
		return models.Registry{}, false
	}
	return *s.reg, true
}

// Register adds the caller to the registry and builds its first snapshot and
// record atomically. Two concurrent registrations of the same identity
// resolve to exactly one success; a failed attempt leaves no trace.
func (s *Service) Register(ctx context.Context, caller id.Identity, neighbors []id.PeerRef, now uint64) (models.UserRecord, error) {
	ctx, span := s.tracer.Start(ctx, "graph.Register")
	defer span.End()

	if err := s.requireBootstrapped(); err != nil {
		return models.UserRecord{}, err
	}
	if caller.IsZero() {
		return models.UserRecord{}, dErrors.New(dErrors.CodeInvalidInput, "caller identity is required")
	}

	release := s.locks.acquire(caller.String())
	defer release()

	// The store's Add is the atomic uniqueness check: first writer wins,
	// every other attempt conflicts with zero side effects.
	if err := s.registry.Add(ctx, caller); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.ObserveRejection(string(dErrors.CodeAlreadyRegistered))
			return models.UserRecord{}, dErrors.New(dErrors.CodeAlreadyRegistered,
				fmt.Sprintf("identity %s is already registered", caller))
		}
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register identity")
	}

	record, err := s.createRecord(ctx, caller, neighbors, now)
	if err != nil {
		return models.UserRecord{}, err
	}

	s.metrics.ObserveRegistration()
	if size, err := s.registry.Len(ctx); err == nil {
		s.metrics.SetRegistrySize(size)
	}
	s.metrics.ObserveUpdate(metrics.PathNormal)
	s.logger.InfoContext(ctx, "user registered",
		"owner", caller.String(),
		"record_id", record.ID.String(),
		"neighbors", len(neighbors),
	)
	return record, nil
}

// Update appends a new snapshot for the record and repoints its head. Only
// the owner may advance a record through this path, and the time gate must
// pass; any failed precondition aborts with no partial effect.
func (s *Service) Update(ctx context.Context, caller id.Identity, recordID id.RecordID, neighbors []id.PeerRef, now uint64) (models.UserRecord, error) {
	ctx, span := s.tracer.Start(ctx, "graph.Update")
	defer span.End()

	record, release, err := s.lockRecord(ctx, recordID)
	if err != nil {
		return models.UserRecord{}, err
	}
	defer release()

	if caller != record.Owner {
		s.metrics.ObserveRejection(string(dErrors.CodeNotOwner))
		return models.UserRecord{}, dErrors.New(dErrors.CodeNotOwner,
			fmt.Sprintf("identity %s does not own record %s", caller, recordID))
	}

	return s.advance(ctx, record, neighbors, now, metrics.PathNormal)
}

// SpawnSyntheticUser builds a record and first snapshot for the target
// identity without registering it: synthetic identities never count toward
// registry uniqueness, so the target may later also register normally.
func (s *Service) SpawnSyntheticUser(ctx context.Context, caller, target id.Identity, neighbors []id.PeerRef, now uint64) (models.UserRecord, error) {
	ctx, span := s.tracer.Start(ctx, "graph.SpawnSyntheticUser")
	defer span.End()

	if err := s.requireCapability(caller); err != nil {
		return models.UserRecord{}, err
	}
	if target.IsZero() {
		return models.UserRecord{}, dErrors.New(dErrors.CodeInvalidInput, "target identity is required")
	}

	release := s.locks.acquire(target.String())
	defer release()

	record, err := s.createRecord(ctx, target, neighbors, now)
	if err != nil {
		return models.UserRecord{}, err
	}

	s.metrics.ObserveSpawn()
	s.metrics.ObserveUpdate(metrics.PathSynthetic)
	s.logger.InfoContext(ctx, "synthetic user spawned",
		"owner", target.String(),
		"record_id", record.ID.String(),
		"capability_holder", caller.String(),
	)
	return record, nil
}

// SyntheticUpdate advances a record on behalf of its owner: the capability
// substitutes for ownership, but the time gate applies exactly as on the
// normal path.
func (s *Service) SyntheticUpdate(ctx context.Context, caller id.Identity, recordID id.RecordID, neighbors []id.PeerRef, now uint64) (models.UserRecord, error) {
	ctx, span := s.tracer.Start(ctx, "graph.SyntheticUpdate")
	defer span.End()

	if err := s.requireCapability(caller); err != nil {
		return models.UserRecord{}, err
	}

	record, release, err := s.lockRecord(ctx, recordID)
	if err != nil {
		return models.UserRecord{}, err
	}
	defer release()

	return s.advance(ctx, record, neighbors, now, metrics.PathSynthetic)
}

// GetRecord returns the current state of a record.
func (s *Service) GetRecord(ctx context.Context, recordID id.RecordID) (models.UserRecord, error) {
	record, err := s.records.Get(ctx, recordID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.UserRecord{}, dErrors.New(dErrors.CodeNotFound,
			fmt.Sprintf("record %s not found", recordID))
	}
	if err != nil {
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load record")
	}
	return record, nil
}

// History walks the snapshot chain backward from the record's live head to
// its root. The walk is O(chain length); history is write-once, so there is
// no way to enumerate forward from an older snapshot.
func (s *Service) History(ctx context.Context, recordID id.RecordID) ([]models.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "graph.History")
	defer span.End()

	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var chain []models.Snapshot
	next := &record.Head
	for next != nil {
		snapshot, err := s.snapshots.Get(ctx, *next)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal,
				fmt.Sprintf("chain broken at snapshot %d", *next))
		}
		chain = append(chain, snapshot)
		next = snapshot.Previous
	}
	return chain, nil
}

// RegisteredIdentities lists registry members in insertion order.
func (s *Service) RegisteredIdentities(ctx context.Context) ([]id.Identity, error) {
	return s.registry.List(ctx)
}

// createRecord appends the root snapshot and creates the record pointing at
// it, emitting NewUser and NodeUpdate. Shared by Register and
// SpawnSyntheticUser; callers hold the identity lock.
func (s *Service) createRecord(ctx context.Context, owner id.Identity, neighbors []id.PeerRef, now uint64) (models.UserRecord, error) {
	snapshot, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     owner,
		Neighbors: neighbors,
		Timestamp: now,
	})
	if err != nil {
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append snapshot")
	}

	record := models.UserRecord{
		ID:    id.NewRecordID(),
		Owner: owner,
		Head:  snapshot.ID,
		Current: models.NodeState{
			Neighbors: snapshot.Neighbors,
			Timestamp: snapshot.Timestamp,
		},
	}
	if err := s.records.Create(ctx, record); err != nil {
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create record")
	}

	s.emit(ctx, events.Event{
		Type:     events.TypeNewUser,
		Owner:    owner,
		RecordID: record.ID,
	})
	s.emitNodeUpdate(ctx, record, snapshot)
	return record, nil
}

// advance performs the gated snapshot append + head repoint shared by Update
// and SyntheticUpdate. Callers hold the identity lock and have already
// authorized the write.
func (s *Service) advance(ctx context.Context, record models.UserRecord, neighbors []id.PeerRef, now uint64, path string) (models.UserRecord, error) {
	if err := gate.Check(now, record.Current.Timestamp); err != nil {
		s.metrics.ObserveRejection(string(dErrors.CodeOf(err)))
		return models.UserRecord{}, err
	}

	previous := record.Head
	snapshot, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     record.Owner,
		Neighbors: neighbors,
		Timestamp: now,
		Previous:  &previous,
	})
	if err != nil {
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append snapshot")
	}

	current := models.NodeState{
		Neighbors: snapshot.Neighbors,
		Timestamp: snapshot.Timestamp,
	}
	if err := s.records.SetHead(ctx, record.ID, snapshot.ID, current); err != nil {
		return models.UserRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to repoint record head")
	}

	record.Head = snapshot.ID
	record.Current = current
	s.metrics.ObserveUpdate(path)
	s.emitNodeUpdate(ctx, record, snapshot)
	return record, nil
}

// lockRecord loads the record, takes its owner's lock, and reloads under the
// lock so the caller observes a stable head.
func (s *Service) lockRecord(ctx context.Context, recordID id.RecordID) (models.UserRecord, func(), error) {
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return models.UserRecord{}, nil, err
	}

	release := s.locks.acquire(record.Owner.String())
	record, err = s.GetRecord(ctx, recordID)
	if err != nil {
		release()
		return models.UserRecord{}, nil, err
	}
	return record, release, nil
}

func (s *Service) requireBootstrapped() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg == nil {
		return dErrors.New(dErrors.CodeInternal, "registry not initialized")
	}
	return nil
}

func (s *Service) requireCapability(caller id.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capability == nil || caller != s.capability.Owner {
		s.metrics.ObserveRejection(string(dErrors.CodeCapabilityMismatch))
		return dErrors.New(dErrors.CodeCapabilityMismatch,
			fmt.Sprintf("identity %s does not hold the dev capability", caller))
	}
	return nil
}

func (s *Service) emitNodeUpdate(ctx context.Context, record models.UserRecord, snapshot models.Snapshot) {
	s.emit(ctx, events.Event{
		Type:       events.TypeNodeUpdate,
		Owner:      record.Owner,
		RecordID:   record.ID,
		SnapshotID: snapshot.ID,
		Neighbors:  snapshot.Neighbors,
		Timestamp:  snapshot.Timestamp,
	})
}

// emit delivers an event after a successful state change. Delivery is
// advisory: a sink failure is logged, never rolled into the operation result.
func (s *Service) emit(ctx context.Context, event events.Event) {
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit event",
			"type", string(event.Type),
			"error", err,
		)
	}
}
