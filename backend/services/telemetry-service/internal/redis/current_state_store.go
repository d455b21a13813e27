package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

// upsertScript replaces the state unless the stored reading is strictly newer.
// KEYS[1] = state key, ARGV[1] = reading ts in unix microseconds, ARGV[2] = state JSON.
var upsertScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'ts')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'state', ARGV[2])
return 1
`)

// CurrentStateStore keeps the latest reading per device in redis hashes.
type CurrentStateStore struct {
	client *redis.Client
	prefix string
}

// NewCurrentStateStore returns redis-backed store.
func NewCurrentStateStore(client *redis.Client, prefix string) *CurrentStateStore {
	if prefix == "" {
		prefix = "telemetry"
	}
	return &CurrentStateStore{client: client, prefix: prefix}
}

func (s *CurrentStateStore) key(key models.DeviceKey) string {
	return fmt.Sprintf("%s:current:%s:%s", s.prefix, key.Class, key.ID)
}

// Upsert atomically replaces the device state via a server-side compare on the timestamp.
func (s *CurrentStateStore) Upsert(ctx context.Context, r models.Reading, updatedAt time.Time) (bool, error) {
	data, err := json.Marshal(models.CurrentState{Reading: r, LastUpdated: updatedAt})
	if err != nil {
		return false, err
	}
	applied, err := upsertScript.Run(ctx, s.client, []string{s.key(r.Key())}, r.Timestamp.UnixMicro(), data).Int()
	if err != nil {
		return false, fmt.Errorf("upsert current state: %w: %w", repository.ErrTransient, err)
	}
	return applied == 1, nil
}

// Get returns the latest state of key.
func (s *CurrentStateStore) Get(ctx context.Context, key models.DeviceKey) (models.CurrentState, error) {
	raw, err := s.client.HGet(ctx, s.key(key), "state").Result()
	if errors.Is(err, redis.Nil) {
		return models.CurrentState{}, repository.ErrNotFound
	}
	if err != nil {
		return models.CurrentState{}, fmt.Errorf("get current state: %w: %w", repository.ErrTransient, err)
	}
	var state models.CurrentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return models.CurrentState{}, fmt.Errorf("decode current state %s: %w", key, err)
	}
	return state, nil
}
