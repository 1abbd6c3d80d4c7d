package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/viewfinder/internal/logger"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "viewfinder:sessions:"

// registerScript stores the session only if the key is free and adds the id
// to the active set in the same step.
var registerScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	local data = ARGV[1]
	local ttl = tonumber(ARGV[2])
	local session_id = ARGV[3]
	local ok = redis.call('SET', key, data, 'PX', ttl, 'NX')
	if not ok then
		return 0
	end
	redis.call('SADD', active_key, session_id)
	return 1
`)

// listScript returns every live session and prunes expired ids from the
// active set.
var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local to_remove = {}

	for i, id in ipairs(active) do
		local session = redis.call('GET', prefix .. id)
		if session then
			table.insert(result, session)
		else
			table.insert(to_remove, id)
		end
	end

	for i, id in ipairs(to_remove) do
		redis.call('SREM', active_key, id)
	end

	return result
`)

// RedisRegistry stores each session as a JSON string under prefix+id with a
// TTL, plus a set of active ids under prefix+"active".
type RedisRegistry struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry returns a registry using client. An empty prefix uses
// DefaultPrefix.
func NewRedisRegistry(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisRegistry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisRegistry{
		client: client,
		logger: logger.WithComponent(log, "redis_registry"),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + id
}

func (r *RedisRegistry) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisRegistry) Register(ctx context.Context, s *Session) error {
	stored := s.Clone()
	stored.LastHeartbeat = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	result, err := registerScript.Run(ctx, r.client,
		[]string{r.key(s.ID), r.activeKey()},
		data, r.ttl.Milliseconds(), s.ID).Int()
	if err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.ID)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": s.ID,
		"source":     s.Source,
		"resolution": s.Resolution(),
	}).Info("Session registered")
	return nil
}

func (r *RedisRegistry) Update(ctx context.Context, s *Session) error {
	stored := s.Clone()
	stored.LastHeartbeat = time.Now()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// XX so an expired session is not resurrected by a late heartbeat
	ok, err := r.client.SetXX(ctx, r.key(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	return nil
}

// UpdateState is an optimistic read-modify-write on the session key.
func (r *RedisRegistry) UpdateState(ctx context.Context, id string, state State) error {
	key := r.key(id)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		if err != nil {
			return err
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		s.State = state
		s.LastHeartbeat = time.Now()

		updated, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("failed to update session state: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id": id,
		"state":      string(state),
	}).Debug("Session state updated")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisRegistry) List(ctx context.Context) ([]*Session, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	sessions := make([]*Session, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.logger.Warn("Invalid data type in result")
			continue
		}

		var s Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			r.logger.WithError(err).Warn("Failed to unmarshal session")
			continue
		}
		sessions = append(sessions, &s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, id string) error {
	deleted, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if err := r.client.SRem(ctx, r.activeKey(), id).Err(); err != nil {
		r.logger.WithError(err).Warnf("Failed to remove session %s from active set", id)
	}

	r.logger.WithField("session_id", id).Info("Session unregistered")
	return nil
}

// Close closes the Redis client.
func (r *RedisRegistry) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
