package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields written by the price publisher for each feed key.
const (
	fieldPrice     = "price"
	fieldDecimals  = "decimals"
	fieldUpdatedAt = "updated_at"
)

// DefaultRedisPrefix is the key prefix feeds live under unless configured otherwise.
const DefaultRedisPrefix = "oracle:feed:"

// RedisFeed reads a price that an external publisher keeps in a redis hash:
//
//	HSET <key> price 200000000000 decimals 8 updated_at 1700000000
//
// updated_at is in unix seconds.
type RedisFeed struct {
	client redis.Cmdable
	key    string
}

// NewRedisFeed creates a feed reading the hash at key.
func NewRedisFeed(client redis.Cmdable, key string) *RedisFeed {
	return &RedisFeed{client: client, key: key}
}

func (f *RedisFeed) LatestPrice(ctx context.Context) (Reading, error) {
	fields, err := f.client.HGetAll(ctx, f.key).Result()
	if err != nil {
		return Reading{}, fmt.Errorf("read price hash %s: %w", f.key, err)
	}
	if len(fields) == 0 {
		return Reading{}, fmt.Errorf("price hash %s not found", f.key)
	}
	return parseReading(fields)
}

func parseReading(fields map[string]string) (Reading, error) {
	price, err := ParsePrice(fields[fieldPrice])
	if err != nil {
		return Reading{}, err
	}

	decimals, err := strconv.ParseUint(fields[fieldDecimals], 10, 8)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid decimals %q: %w", fields[fieldDecimals], err)
	}

	updated, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid updated_at %q: %w", fields[fieldUpdatedAt], err)
	}

	return Reading{
		Price:     price,
		Decimals:  uint8(decimals),
		UpdatedAt: time.Unix(updated, 0),
	}, nil
}

// RedisDirectory resolves every reference to a RedisFeed under a key prefix, so feeds
// registered by the owner need no local configuration.
type RedisDirectory struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDirectory creates a resolver mapping ref to the hash key prefix+ref.
func NewRedisDirectory(client redis.Cmdable, prefix string) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: prefix}
}

func (d *RedisDirectory) Feed(ref string) (Feed, bool) {
	if ref == "" {
		return nil, false
	}
	return NewRedisFeed(d.client, d.prefix+ref), true
}
