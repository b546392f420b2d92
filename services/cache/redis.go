// Package cachesvc keeps computed leaderboards in redis.
//
// Entries are namespaced by a generation counter: invalidating bumps the counter, which
// orphans every cached leaderboard at once; orphans expire with their TTL.
package cachesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/student"
)

const defaultTTL = 5 * time.Minute

type LeaderboardCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ student.LeaderboardCache = (*LeaderboardCache)(nil) // interface compliance check

// NewClient connects to the configured redis server, or returns nil when none is configured.
func NewClient(conf *core.Config) *redis.Client {
	if conf.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

func NewLeaderboardCache(client redis.Cmdable, conf *core.Config) *LeaderboardCache {
	ttl := conf.Redis.LeaderboardTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := conf.AppName
	if prefix == "" {
		prefix = "mtihani"
	}
	return &LeaderboardCache{client: client, prefix: prefix + ":leaderboard", ttl: ttl}
}

func (c *LeaderboardCache) versionKey() string {
	return c.prefix + ":version"
}

func (c *LeaderboardCache) entryKey(version int64, key string) string {
	return fmt.Sprintf("%s:v%d:%s", c.prefix, version, key)
}

func (c *LeaderboardCache) version(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, errors.Wrap(err, "reading leaderboard version")
}

func (c *LeaderboardCache) GetLeaderboard(ctx context.Context, key string) (student.Leaderboard, int64, bool, error) {
	v, err := c.version(ctx)
	if err != nil {
		return student.Leaderboard{}, 0, false, err
	}
	raw, err := c.client.Get(ctx, c.entryKey(v, key)).Bytes()
	if err == redis.Nil {
		return student.Leaderboard{}, v, false, nil
	} else if err != nil {
		return student.Leaderboard{}, 0, false, errors.Wrap(err, "reading leaderboard")
	}

	var lb student.Leaderboard
	if err = json.Unmarshal(raw, &lb); err != nil {
		return student.Leaderboard{}, 0, false, errors.Wrap(err, "decoding leaderboard")
	}
	return lb, v, true, nil
}

// SetLeaderboard stores lb under the generation returned by the GetLeaderboard miss it follows.
// Invalidated generations are never read again.
func (c *LeaderboardCache) SetLeaderboard(ctx context.Context, key string, generation int64, lb student.Leaderboard) error {
	raw, err := json.Marshal(lb)
	if err != nil {
		return errors.Wrap(err, "encoding leaderboard")
	}
	return errors.Wrap(c.client.Set(ctx, c.entryKey(generation, key), raw, c.ttl).Err(), "writing leaderboard")
}

func (c *LeaderboardCache) InvalidateLeaderboards(ctx context.Context) error {
	return errors.Wrap(c.client.Incr(ctx, c.versionKey()).Err(), "bumping leaderboard version")
}
