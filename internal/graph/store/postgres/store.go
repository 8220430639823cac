// Package postgres persists the proximity graph in PostgreSQL. The snapshot
// table is append-only with a BIGSERIAL key supplying the monotonic snapshot
// IDs; registry uniqueness rides on a primary-key constraint so concurrent
// registrations of the same identity resolve to exactly one winner inside
// the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vicinity/internal/graph/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// Schema is applied by EnsureSchema; kept here rather than in a migration
// tool to keep the deployment story identical to the in-memory wiring.
const schema = `
CREATE TABLE IF NOT EXISTS graph_registry (
	identity  TEXT PRIMARY KEY,
	position  BIGSERIAL
);

CREATE TABLE IF NOT EXISTS graph_snapshots (
	id        BIGSERIAL PRIMARY KEY,
	owner     TEXT   NOT NULL,
	neighbors JSONB  NOT NULL,
	ts        BIGINT NOT NULL,
	previous  BIGINT REFERENCES graph_snapshots(id)
);

CREATE TABLE IF NOT EXISTS graph_records (
	id        UUID   PRIMARY KEY,
	owner     TEXT   NOT NULL,
	head      BIGINT NOT NULL REFERENCES graph_snapshots(id),
	neighbors JSONB  NOT NULL,
	ts        BIGINT NOT NULL
);
`

// EnsureSchema creates the graph tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure graph schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func marshalNeighbors(neighbors []id.PeerRef) ([]byte, error) {
	return json.Marshal(models.CloneNeighbors(neighbors))
}

func unmarshalNeighbors(raw []byte) ([]id.PeerRef, error) {
	var neighbors []id.PeerRef
	if err := json.Unmarshal(raw, &neighbors); err != nil {
		return nil, err
	}
	if neighbors == nil {
		neighbors = []id.PeerRef{}
	}
	return neighbors, nil
}

// RegistryStore implements store.RegistryStore on PostgreSQL.
type RegistryStore struct {
	db *sql.DB
}

func NewRegistryStore(db *sql.DB) *RegistryStore {
	return &RegistryStore{db: db}
}

func (s *RegistryStore) Add(ctx context.Context, identity id.Identity) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_registry (identity) VALUES ($1) ON CONFLICT (identity) DO NOTHING`,
		identity.String())
	if err != nil {
		return fmt.Errorf("add identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add identity: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RegistryStore) Contains(ctx context.Context, identity id.Identity) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM graph_registry WHERE identity = $1)`,
		identity.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("registry membership: %w", err)
	}
	return exists, nil
}

func (s *RegistryStore) List(ctx context.Context) ([]id.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM graph_registry ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()

	identities := []id.Identity{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list registry: %w", err)
		}
		identities = append(identities, id.Identity(raw))
	}
	return identities, rows.Err()
}

func (s *RegistryStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graph_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("registry size: %w", err)
	}
	return n, nil
}

// SnapshotStore implements store.SnapshotStore on PostgreSQL. Rows are only
// ever inserted; the serial key is the monotonic snapshot ID.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Append(ctx context.Context, snapshot models.Snapshot) (models.Snapshot, error) {
	neighbors, err := marshalNeighbors(snapshot.Neighbors)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}

	var previous sql.NullInt64
	if snapshot.Previous != nil {
		previous = sql.NullInt64{Int64: int64(*snapshot.Previous), Valid: true}
	}

	var assigned int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO graph_snapshots (owner, neighbors, ts, previous)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		snapshot.Owner.String(), neighbors, int64(snapshot.Timestamp), previous).Scan(&assigned)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}

	snapshot.ID = id.SnapshotID(assigned)
	snapshot.Neighbors = models.CloneNeighbors(snapshot.Neighbors)
	return snapshot, nil
}

func (s *SnapshotStore) Get(ctx context.Context, snapshotID id.SnapshotID) (models.Snapshot, error) {
	var (
		owner    string
		raw      []byte
		ts       int64
		previous sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, neighbors, ts, previous FROM graph_snapshots WHERE id = $1`,
		int64(snapshotID)).Scan(&owner, &raw, &ts, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	neighbors, err := unmarshalNeighbors(raw)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	snapshot := models.Snapshot{
		ID:        snapshotID,
		Owner:     id.Identity(owner),
		Neighbors: neighbors,
		Timestamp: uint64(ts),
	}
	if previous.Valid {
		prev := id.SnapshotID(previous.Int64)
		snapshot.Previous = &prev
	}
	return snapshot, nil
}

// RecordStore implements store.RecordStore on PostgreSQL.
type RecordStore struct {
	db *sql.DB
}

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Create(ctx context.Context, record models.UserRecord) error {
	neighbors, err := marshalNeighbors(record.Current.Neighbors)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graph_records (id, owner, head, neighbors, ts)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID.String(), record.Owner.String(), int64(record.Head), neighbors, int64(record.Current.Timestamp))
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, recordID id.RecordID) (models.UserRecord, error) {
	var (
		owner string
		head  int64
		raw   []byte
		ts    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, head, neighbors, ts FROM graph_records WHERE id = $1`,
		recordID.String()).Scan(&owner, &head, &raw, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("get record: %w", err)
	}

	neighbors, err := unmarshalNeighbors(raw)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("get record: %w", err)
	}

	return models.UserRecord{
		ID:    recordID,
		Owner: id.Identity(owner),
		Head:  id.SnapshotID(head),
		Current: models.NodeState{
			Neighbors: neighbors,
			Timestamp: uint64(ts),
		},
	}, nil
}

func (s *RecordStore) SetHead(ctx context.Context, recordID id.RecordID, head id.SnapshotID, current models.NodeState) error {
	neighbors, err := marshalNeighbors(current.Neighbors)
	if err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE graph_records SET head = $2, neighbors = $3, ts = $4 WHERE id = $1`,
		recordID.String(), int64(head), neighbors, int64(current.Timestamp))
	if err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set head: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
