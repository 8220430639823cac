// Package redisreg is a Redis-backed RegistryStore for deployments where
// multiple instances must share registration state. Membership is a Redis
// set (O(1) SISMEMBER) and insertion order is a parallel list; both are
// written in one atomic script.
package redisreg

import (
	"context"

	"github.com/redis/go-redis/v9"

	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

const (
	membersKey = "vicinity:registry:members"
	orderKey   = "vicinity:registry:order"
)

// addIfAbsent adds the identity to the membership set and the order list,
// or returns 0 without touching either when already present. Running as a
// script keeps the check-and-add atomic across concurrent registrations.
var addIfAbsent = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
	return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Add(ctx context.Context, identity id.Identity) error {
	added, err := addIfAbsent.Run(ctx, s.client, []string{membersKey, orderKey}, identity.String()).Int()
	if err != nil {
		return err
	}
	if added == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) Contains(ctx context.Context, identity id.Identity) (bool, error) {
	return s.client.SIsMember(ctx, membersKey, identity.String()).Result()
}

func (s *Store) List(ctx context.Context) ([]id.Identity, error) {
	raw, err := s.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	identities := make([]id.Identity, len(raw))
	for i, v := range raw {
		identities[i] = id.Identity(v)
	}
	return identities, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, membersKey).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
