package dedup

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// addScript atomically GETBITs every position; if all are already set it
// leaves the bitfield untouched and returns 0 (already present). Otherwise it
// SETBITs every position, bumps the size counter, and returns 1 (newly added).
var addScript = redis.NewScript(`
local bitkey = KEYS[1]
local sizekey = KEYS[2]
local allset = 1
for i = 1, #ARGV do
	if redis.call('GETBIT', bitkey, ARGV[i]) == 0 then
		allset = 0
		break
	end
end
if allset == 1 then
	return 0
end
for i = 1, #ARGV do
	redis.call('SETBIT', bitkey, ARGV[i], 1)
end
redis.call('INCR', sizekey)
return 1
`)

var existsScript = redis.NewScript(`
local bitkey = KEYS[1]
for i = 1, #ARGV do
	if redis.call('GETBIT', bitkey, ARGV[i]) == 0 then
		return 0
	end
end
return 1
`)

// bloomParams holds the bit-array size and hash-function count derived from
// the standard optimal-Bloom-filter formulas, m = ceil(-n*ln(p)/ln(2)^2) and
// k = round(m/n * ln(2)), mirroring what RedisBloom computes internally and
// what the source falls back to when RedisBloom isn't assumed present.
type bloomParams struct {
	m uint64
	k uint64
}

func optimalParams(capacity int, errorRate float64) bloomParams {
	n := float64(capacity)
	if n < 1 {
		n = 1
	}
	m := math.Ceil(-n * math.Log(errorRate) / (math.Ln2 * math.Ln2))
	k := math.Round((m / n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return bloomParams{m: uint64(m), k: uint64(k)}
}

// positions computes k bit positions for fingerprint under the double-hashing
// scheme position_i = (h1 + i*h2) mod m, avoiding k independent hash
// functions while keeping a low false-positive rate.
func (p bloomParams) positions(fingerprint string) ([]string, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 16 {
		return nil, fmt.Errorf("dedup: malformed fingerprint %q", fingerprint)
	}
	h1 := binary.BigEndian.Uint64(raw[0:8])
	h2 := binary.BigEndian.Uint64(raw[8:16])
	out := make([]string, p.k)
	for i := uint64(0); i < p.k; i++ {
		pos := (h1 + i*h2) % p.m
		out[i] = strconv.FormatUint(pos, 10)
	}
	return out, nil
}

// RedisDedup implements Store as a Bloom filter built directly on Redis
// bitfields (GETBIT/SETBIT via Lua), since go-redis doesn't speak the
// RedisBloom module's BF.* commands natively.
type RedisDedup struct {
	rdb *redis.Client
}

func NewRedisDedup(rdb *redis.Client) *RedisDedup {
	return &RedisDedup{rdb: rdb}
}

func bitKey(project string) string   { return fmt.Sprintf("antcode:dedup:bloom:%s", project) }
func sizeKey(project string) string  { return fmt.Sprintf("antcode:dedup:size:%s", project) }
func paramsKey(project string) string { return fmt.Sprintf("antcode:dedup:params:%s", project) }

func (d *RedisDedup) loadParams(ctx context.Context, project string) (bloomParams, error) {
	vals, err := d.rdb.HMGet(ctx, paramsKey(project), "m", "k").Result()
	if err != nil {
		return bloomParams{}, err
	}
	if vals[0] == nil || vals[1] == nil {
		p := optimalParams(DefaultCapacity, DefaultErrorRate)
		if err := d.saveParams(ctx, project, p); err != nil {
			return bloomParams{}, err
		}
		return p, nil
	}
	m, _ := strconv.ParseUint(vals[0].(string), 10, 64)
	k, _ := strconv.ParseUint(vals[1].(string), 10, 64)
	return bloomParams{m: m, k: k}, nil
}

func (d *RedisDedup) saveParams(ctx context.Context, project string, p bloomParams) error {
	return d.rdb.HSet(ctx, paramsKey(project), "m", p.m, "k", p.k).Err()
}

func (d *RedisDedup) EnsureStore(ctx context.Context, project string, capacity int, errorRate float64) (bool, error) {
	n, err := d.rdb.HSetNX(ctx, paramsKey(project), "m", optimalParams(capacity, errorRate).m).Result()
	if err != nil {
		return false, err
	}
	if n {
		p := optimalParams(capacity, errorRate)
		if err := d.saveParams(ctx, project, p); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *RedisDedup) Exists(ctx context.Context, project, fingerprint string) (bool, error) {
	p, err := d.loadParams(ctx, project)
	if err != nil {
		return false, err
	}
	positions, err := p.positions(fingerprint)
	if err != nil {
		return false, err
	}
	argv := make([]interface{}, len(positions))
	for i, s := range positions {
		argv[i] = s
	}
	res, err := existsScript.Run(ctx, d.rdb, []string{bitKey(project)}, argv...).Int()
	if err != nil {
		return false, fmt.Errorf("dedup: exists: %w", err)
	}
	return res == 1, nil
}

func (d *RedisDedup) Add(ctx context.Context, project, fingerprint string) (bool, error) {
	p, err := d.loadParams(ctx, project)
	if err != nil {
		return false, err
	}
	positions, err := p.positions(fingerprint)
	if err != nil {
		return false, err
	}
	argv := make([]interface{}, len(positions))
	for i, s := range positions {
		argv[i] = s
	}
	res, err := addScript.Run(ctx, d.rdb, []string{bitKey(project), sizeKey(project)}, argv...).Int()
	if err != nil {
		return false, fmt.Errorf("dedup: add: %w", err)
	}
	return res == 1, nil
}

func (d *RedisDedup) ExistsMany(ctx context.Context, project string, fingerprints []string) ([]bool, error) {
	out := make([]bool, len(fingerprints))
	for i, fp := range fingerprints {
		exists, err := d.Exists(ctx, project, fp)
		if err != nil {
			return nil, err
		}
		out[i] = exists
	}
	return out, nil
}

func (d *RedisDedup) AddMany(ctx context.Context, project string, fingerprints []string) ([]bool, error) {
	out := make([]bool, len(fingerprints))
	for i, fp := range fingerprints {
		added, err := d.Add(ctx, project, fp)
		if err != nil {
			return nil, err
		}
		out[i] = added
	}
	return out, nil
}

func (d *RedisDedup) Size(ctx context.Context, project string) (int64, error) {
	n, err := d.rdb.Get(ctx, sizeKey(project)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (d *RedisDedup) Clear(ctx context.Context, project string) error {
	return d.rdb.Del(ctx, bitKey(project), sizeKey(project), paramsKey(project)).Err()
}
