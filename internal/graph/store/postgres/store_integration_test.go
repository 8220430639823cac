//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"vicinity/internal/graph/models"
	"vicinity/internal/graph/store/postgres"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
	"vicinity/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	registry  *postgres.RegistryStore
	snapshots *postgres.SnapshotStore
	records   *postgres.RecordStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(postgres.EnsureSchema(ctx, s.postgres.DB))

	s.registry = postgres.NewRegistryStore(s.postgres.DB)
	s.snapshots = postgres.NewSnapshotStore(s.postgres.DB)
	s.records = postgres.NewRecordStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx, "graph_records", "graph_snapshots", "graph_registry")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestRegistryUniqueness() {
	ctx := context.Background()

	s.Require().NoError(s.registry.Add(ctx, "alice"))
	s.Require().ErrorIs(s.registry.Add(ctx, "alice"), sentinel.ErrConflict)

	ok, err := s.registry.Contains(ctx, "alice")
	s.Require().NoError(err)
	s.True(ok)

	n, err := s.registry.Len(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestRegistryListOrder() {
	ctx := context.Background()

	for _, identity := range []id.Identity{"carol", "alice", "bob"} {
		s.Require().NoError(s.registry.Add(ctx, identity))
	}

	got, err := s.registry.List(ctx)
	s.Require().NoError(err)
	s.Equal([]id.Identity{"carol", "alice", "bob"}, got)
}

func (s *PostgresStoreSuite) TestSnapshotChain() {
	ctx := context.Background()

	root, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     "alice",
		Neighbors: []id.PeerRef{"b", "c"},
		Timestamp: 100,
	})
	s.Require().NoError(err)
	s.Equal(id.SnapshotID(1), root.ID)

	next, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     "alice",
		Neighbors: []id.PeerRef{"d"},
		Timestamp: 10_100,
		Previous:  &root.ID,
	})
	s.Require().NoError(err)
	s.Greater(uint64(next.ID), uint64(root.ID))

	got, err := s.snapshots.Get(ctx, next.ID)
	s.Require().NoError(err)
	s.Equal([]id.PeerRef{"d"}, got.Neighbors)
	s.Require().NotNil(got.Previous)
	s.Equal(root.ID, *got.Previous)

	_, err = s.snapshots.Get(ctx, 9999)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRecordLifecycle() {
	ctx := context.Background()

	root, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     "alice",
		Neighbors: []id.PeerRef{"b"},
		Timestamp: 100,
	})
	s.Require().NoError(err)

	record := models.UserRecord{
		ID:    id.NewRecordID(),
		Owner: "alice",
		Head:  root.ID,
		Current: models.NodeState{
			Neighbors: []id.PeerRef{"b"},
			Timestamp: 100,
		},
	}
	s.Require().NoError(s.records.Create(ctx, record))
	s.Require().ErrorIs(s.records.Create(ctx, record), sentinel.ErrConflict)

	got, err := s.records.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.Owner, got.Owner)
	s.Equal(record.Head, got.Head)
	s.Equal(record.Current.Neighbors, got.Current.Neighbors)

	head, err := s.snapshots.Append(ctx, models.Snapshot{
		Owner:     "alice",
		Neighbors: []id.PeerRef{"c"},
		Timestamp: 10_100,
		Previous:  &root.ID,
	})
	s.Require().NoError(err)

	newState := models.NodeState{Neighbors: []id.PeerRef{"c"}, Timestamp: 10_100}
	s.Require().NoError(s.records.SetHead(ctx, record.ID, head.ID, newState))

	got, err = s.records.Get(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(head.ID, got.Head)
	s.Equal(newState, got.Current)
}

func (s *PostgresStoreSuite) TestRecordNotFound() {
	ctx := context.Background()

	_, err := s.records.Get(ctx, id.NewRecordID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	err = s.records.SetHead(ctx, id.NewRecordID(), 1, models.NodeState{})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
