package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vicinity/internal/graph/gate"
	"vicinity/internal/graph/models"
	"vicinity/internal/graph/store/memory"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
	"vicinity/pkg/platform/events"
)

const (
	deployer = id.Identity("deployer")
	alice    = id.Identity("alice")
	bob      = id.Identity("bob")
)

type fixture struct {
	svc      *Service
	registry *memory.RegistryStore
	sink     *events.InMemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := memory.NewRegistryStore()
	sink := events.NewInMemorySink()
	pub := events.NewPublisher(sink)
	t.Cleanup(pub.Close)

	svc, err := New(registry, memory.NewSnapshotStore(), memory.NewRecordStore(), pub)
	require.NoError(t, err)

	_, _, err = svc.Bootstrap(context.Background(), deployer)
	require.NoError(t, err)

	return &fixture{svc: svc, registry: registry, sink: sink}
}

func (f *fixture) register(t *testing.T, owner id.Identity, neighbors []id.PeerRef, now uint64) models.UserRecord {
	t.Helper()
	record, err := f.svc.Register(context.Background(), owner, neighbors, now)
	require.NoError(t, err)
	return record
}

func TestBootstrap(t *testing.T) {
	registry := memory.NewRegistryStore()
	sink := events.NewInMemorySink()
	pub := events.NewPublisher(sink)
	defer pub.Close()

	svc, err := New(registry, memory.NewSnapshotStore(), memory.NewRecordStore(), pub)
	require.NoError(t, err)

	t.Run("operations require bootstrap", func(t *testing.T) {
		_, err := svc.Register(context.Background(), alice, nil, 0)
		require.Error(t, err)
	})

	t.Run("creates registry and emits event", func(t *testing.T) {
		reg, capability, err := svc.Bootstrap(context.Background(), deployer)
		require.NoError(t, err)
		assert.False(t, reg.ID.IsNil())
		assert.Equal(t, deployer, reg.Creator)
		assert.Equal(t, deployer, capability.Owner)

		created := sink.ByType(events.TypeRegistryCreated)
		require.Len(t, created, 1)
		assert.Equal(t, reg.ID, created[0].RegistryID)
		assert.Equal(t, deployer, created[0].Creator)
	})

	t.Run("second bootstrap fails", func(t *testing.T) {
		_, _, err := svc.Bootstrap(context.Background(), deployer)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func TestRegister(t *testing.T) {
	t.Run("empty neighbor set is valid", func(t *testing.T) {
		f := newFixture(t)

		record := f.register(t, alice, []id.PeerRef{}, 0)
		assert.Equal(t, alice, record.Owner)
		assert.Empty(t, record.Current.Neighbors)
		assert.Equal(t, uint64(0), record.Current.Timestamp)

		members, err := f.registry.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []id.Identity{alice}, members)
	})

	t.Run("emits new user and node update", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, []id.PeerRef{"b"}, 0)

		newUsers := f.sink.ByType(events.TypeNewUser)
		require.Len(t, newUsers, 1)
		assert.Equal(t, record.ID, newUsers[0].RecordID)

		updates := f.sink.ByType(events.TypeNodeUpdate)
		require.Len(t, updates, 1)
		assert.Equal(t, record.Head, updates[0].SnapshotID)
		assert.Equal(t, []id.PeerRef{"b"}, updates[0].Neighbors)
	})

	t.Run("chain starts at length one", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		chain, err := f.svc.History(context.Background(), record.ID)
		require.NoError(t, err)
		require.Len(t, chain, 1)
		assert.Nil(t, chain[0].Previous)
	})

	t.Run("duplicate identity fails and leaves registry unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, alice, nil, 0)

		_, err := f.svc.Register(context.Background(), alice, []id.PeerRef{"x"}, 50_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))

		n, err := f.registry.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("concurrent same-identity registrations have one winner", func(t *testing.T) {
		f := newFixture(t)
		const attempts = 32

		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Register(context.Background(), alice, nil, 0)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		successes := 0
		for err := range errs {
			if err == nil {
				successes++
			} else {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRegistered))
			}
		}
		assert.Equal(t, 1, successes)
	})

	t.Run("distinct identities never conflict", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, alice, nil, 0)
		f.register(t, bob, nil, 0)

		members, err := f.registry.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []id.Identity{alice, bob}, members)
	})
}

func TestUpdate(t *testing.T) {
	t.Run("before interval fails too soon", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		_, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, 5_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUpdateTooSoon))

		// The failed attempt leaves the record untouched.
		unchanged, err := f.svc.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, record, unchanged)
	})

	t.Run("exactly at interval succeeds", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		updated, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, gate.MinUpdateInterval)
		require.NoError(t, err)
		assert.Equal(t, []id.PeerRef{"b"}, updated.Current.Neighbors)
		assert.Equal(t, gate.MinUpdateInterval, updated.Current.Timestamp)

		chain, err := f.svc.History(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Len(t, chain, 2)
	})

	t.Run("new snapshot links to prior head", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		updated, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, 10_000)
		require.NoError(t, err)

		chain, err := f.svc.History(context.Background(), record.ID)
		require.NoError(t, err)
		require.Len(t, chain, 2)
		assert.Equal(t, updated.Head, chain[0].ID)
		require.NotNil(t, chain[0].Previous)
		assert.Equal(t, record.Head, *chain[0].Previous)
	})

	t.Run("chain after several updates", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		_, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, 10_000)
		require.NoError(t, err)
		_, err = f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b", "c"}, 20_001)
		require.NoError(t, err)
		_, err = f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"d"}, 30_002)
		require.NoError(t, err)

		chain, err := f.svc.History(context.Background(), record.ID)
		require.NoError(t, err)
		require.Len(t, chain, 4)

		// Snapshot at depth 1 from head carries the neighbors of the
		// second-to-last update.
		assert.Equal(t, []id.PeerRef{"b", "c"}, chain[1].Neighbors)

		// Timestamps strictly decrease walking backward.
		for i := 1; i < len(chain); i++ {
			assert.Less(t, chain[i].Timestamp, chain[i-1].Timestamp)
		}
	})

	t.Run("cache mirrors head after every update", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, []id.PeerRef{"x"}, 0)

		updated, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"y", "z"}, 10_000)
		require.NoError(t, err)

		chain, err := f.svc.History(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, chain[0].Neighbors, updated.Current.Neighbors)
		assert.Equal(t, chain[0].Timestamp, updated.Current.Timestamp)
	})

	t.Run("non-owner fails regardless of payload", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, []id.PeerRef{"b"}, 0)
		f.register(t, bob, nil, 0)

		_, err := f.svc.Update(context.Background(), bob, record.ID, []id.PeerRef{"hijack"}, 60_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotOwner))

		unchanged, err := f.svc.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, record, unchanged)
	})

	t.Run("clock regression is rejected explicitly", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 50_000)

		_, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, 40_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeClockRegression))
	})

	t.Run("unknown record", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Update(context.Background(), alice, id.NewRecordID(), nil, 10_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("empty neighbor set is valid on update", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, []id.PeerRef{"b"}, 0)

		updated, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{}, 10_000)
		require.NoError(t, err)
		assert.Empty(t, updated.Current.Neighbors)
	})
}

func TestSpawnSyntheticUser(t *testing.T) {
	t.Run("non-holder fails with capability mismatch", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SpawnSyntheticUser(context.Background(), alice, bob, nil, 0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCapabilityMismatch))

		// Registry and chain state untouched.
		n, err := f.registry.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, f.sink.ByType(events.TypeNewUser))
	})

	t.Run("holder spawns without touching registry", func(t *testing.T) {
		f := newFixture(t)

		record, err := f.svc.SpawnSyntheticUser(context.Background(), deployer, alice, []id.PeerRef{"b"}, 0)
		require.NoError(t, err)
		assert.Equal(t, alice, record.Owner)

		n, err := f.registry.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n, "synthetic identities never count toward uniqueness")

		// Emits the same events as a real registration.
		assert.Len(t, f.sink.ByType(events.TypeNewUser), 1)
		assert.Len(t, f.sink.ByType(events.TypeNodeUpdate), 1)
	})

	t.Run("synthetic identity may later register normally", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.SpawnSyntheticUser(context.Background(), deployer, alice, nil, 0)
		require.NoError(t, err)

		record := f.register(t, alice, []id.PeerRef{"b"}, 0)
		assert.Equal(t, alice, record.Owner)
	})
}

func TestSyntheticUpdate(t *testing.T) {
	t.Run("capability substitutes for ownership", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		updated, err := f.svc.SyntheticUpdate(context.Background(), deployer, record.ID, []id.PeerRef{"b"}, 10_000)
		require.NoError(t, err)
		assert.Equal(t, []id.PeerRef{"b"}, updated.Current.Neighbors)
	})

	t.Run("non-holder fails even when owner", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		_, err := f.svc.SyntheticUpdate(context.Background(), alice, record.ID, []id.PeerRef{"b"}, 10_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCapabilityMismatch))
	})

	t.Run("time gate applies on the synthetic path", func(t *testing.T) {
		f := newFixture(t)
		record := f.register(t, alice, nil, 0)

		_, err := f.svc.SyntheticUpdate(context.Background(), deployer, record.ID, []id.PeerRef{"b"}, 5_000)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUpdateTooSoon))
	})
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	record := f.register(t, alice, []id.PeerRef{"b"}, 0)

	const updates = 5
	for i := 1; i <= updates; i++ {
		_, err := f.svc.Update(context.Background(), alice, record.ID, []id.PeerRef{"b"}, uint64(i)*gate.MinUpdateInterval)
		require.NoError(t, err)
	}

	chain, err := f.svc.History(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, chain, updates+1)

	for i, snapshot := range chain {
		assert.Equal(t, alice, snapshot.Owner)
		if i > 0 {
			assert.Less(t, snapshot.Timestamp, chain[i-1].Timestamp)
		}
	}
	// The root has no predecessor.
	assert.Nil(t, chain[updates].Previous)
}
