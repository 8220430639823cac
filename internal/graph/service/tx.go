package service

import (
	"hash/fnv"
	"sync"
)

// The host platform contract is single-writer-at-a-time per shared resource.
// identityLocks provides that discipline with sharded mutexes: operations on
// the same identity always serialize, operations on distinct identities only
// contend on shard collisions.
const numIdentityShards = 128

type identityLocks struct {
	shards [numIdentityShards]sync.Mutex
}

// acquire locks the shard for the given identity and returns the release
// function. Callers must release before acquiring a lock for another
// identity; no operation ever holds two shards.
func (l *identityLocks) acquire(identity string) func() {
	shard := l.selectShard(identity)
	l.shards[shard].Lock()
	return l.shards[shard].Unlock
}

func (l *identityLocks) selectShard(identity string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return h.Sum32() % numIdentityShards
}
