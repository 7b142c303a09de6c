package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrementScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current then
	current = tonumber(current) or 0
else
	current = 0
end
local new_value = current + tonumber(ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], tostring(new_value))
return new_value
`)

// RedisProgress implements Store over Redis hashes, suitable for distributed
// production deployments where progress must be visible across Masters.
type RedisProgress struct {
	rdb *redis.Client
}

func NewRedisProgress(rdb *redis.Client) *RedisProgress {
	return &RedisProgress{rdb: rdb}
}

func progressKey(project, batch string) string   { return fmt.Sprintf("antcode:%s:progress:%s", project, batch) }
func checkpointKey(project, batch string) string { return fmt.Sprintf("antcode:%s:checkpoint:%s", project, batch) }
func workersKey(project, batch string) string    { return fmt.Sprintf("antcode:%s:workers:%s", project, batch) }

func encodeMapping(data map[string]any) (map[string]any, error) {
	mapping := make(map[string]any, len(data))
	for k, v := range data {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("progress: encode %q: %w", k, err)
		}
		mapping[k] = string(b)
	}
	return mapping, nil
}

func decodeHash(raw map[string]string) map[string]any {
	decoded := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			decoded[k] = v
			continue
		}
		decoded[k] = val
	}
	return decoded
}

func (s *RedisProgress) readHash(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeHash(raw), nil
}

func (s *RedisProgress) writeHash(ctx context.Context, key string, data map[string]any, replace bool) error {
	if replace {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return nil
	}
	mapping, err := encodeMapping(data)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, key, mapping).Err()
}

func (s *RedisProgress) GetProgress(ctx context.Context, project, batch string) (map[string]any, error) {
	return s.readHash(ctx, progressKey(project, batch))
}

func (s *RedisProgress) SetProgress(ctx context.Context, project, batch string, data map[string]any) error {
	return s.writeHash(ctx, progressKey(project, batch), data, true)
}

func (s *RedisProgress) UpdateProgress(ctx context.Context, project, batch string, updates map[string]any) error {
	return s.writeHash(ctx, progressKey(project, batch), updates, false)
}

func (s *RedisProgress) IncrementProgress(ctx context.Context, project, batch, field string, amount int64) (int64, error) {
	res, err := incrementScript.Run(ctx, s.rdb, []string{progressKey(project, batch)}, field, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("progress: increment: %w", err)
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	default:
		n, _ := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		return n, nil
	}
}

func (s *RedisProgress) RegisterWorker(ctx context.Context, project, batch, workerID string, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultWorkerTTLSeconds
	}
	value := fmt.Sprintf("%d:%d", time.Now().Unix(), ttlSeconds)
	return s.rdb.HSet(ctx, workersKey(project, batch), workerID, value).Err()
}

func (s *RedisProgress) ActiveWorkers(ctx context.Context, project, batch string) ([]string, error) {
	key := workersKey(project, batch)
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	var active, expired []string
	for workerID, value := range raw {
		registeredAt, ttl, ok := parseWorkerValue(value)
		if !ok || now-registeredAt >= ttl {
			expired = append(expired, workerID)
			continue
		}
		active = append(active, workerID)
	}
	if len(expired) > 0 {
		if err := s.rdb.HDel(ctx, key, expired...).Err(); err != nil {
			return active, err
		}
	}
	return active, nil
}

func parseWorkerValue(value string) (registeredAt, ttl int64, ok bool) {
	n, err := fmt.Sscanf(value, "%d:%d", &registeredAt, &ttl)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return registeredAt, ttl, true
}

func (s *RedisProgress) UnregisterWorker(ctx context.Context, project, batch, workerID string) error {
	return s.rdb.HDel(ctx, workersKey(project, batch), workerID).Err()
}

func (s *RedisProgress) SaveCheckpoint(ctx context.Context, project, batch string, data map[string]any) error {
	return s.writeHash(ctx, checkpointKey(project, batch), data, true)
}

func (s *RedisProgress) LoadCheckpoint(ctx context.Context, project, batch string) (map[string]any, error) {
	return s.readHash(ctx, checkpointKey(project, batch))
}

func (s *RedisProgress) DeleteCheckpoint(ctx context.Context, project, batch string) error {
	return s.rdb.Del(ctx, checkpointKey(project, batch)).Err()
}

func (s *RedisProgress) Clear(ctx context.Context, project, batch string) error {
	return s.rdb.Del(ctx,
		progressKey(project, batch),
		checkpointKey(project, batch),
		workersKey(project, batch),
	).Err()
}
