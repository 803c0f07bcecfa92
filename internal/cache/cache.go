// Package cache is the Redis-backed enrichment cache: page-title and thread
// memoization plus the debounce bits used by the alerting modules. Redis
// being down after startup is never fatal; operations return errors the
// callers log and the pipeline keeps flowing.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/KockaAdmiralac/kockalogger/internal/config"
	"github.com/KockaAdmiralac/kockalogger/internal/metrics"
)

// Entry TTLs. The title TTL comes from configuration.
const (
	ThreadTTL    = 3 * 24 * time.Hour
	VandalismTTL = 3 * time.Hour
	NewusersTTL  = 30 * time.Minute
)

// expiredChannel is the keyspace notification channel carrying expired keys;
// the newusers module turns those expirations into follow-up triggers.
const expiredChannel = "__keyevent@0__:expired"

// Enrichment wraps the two Redis connections: one for commands and one
// dedicated to the expiration subscription.
type Enrichment struct {
	client   *redis.Client
	sub      *redis.Client
	titleTTL time.Duration
	logger   zerolog.Logger
}

// New connects to Redis per the configuration and verifies the connection.
// A failed ping is the caller's fatal no-redis condition.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Enrichment, error) {
	opts := &redis.Options{DB: cfg.Redis.DB}
	if cfg.Redis.Socket != "" {
		opts.Network = "unix"
		opts.Addr = cfg.Redis.Socket
	} else {
		opts.Addr = cfg.Redis.Addr
	}

	e := &Enrichment{
		client:   redis.NewClient(opts),
		sub:      redis.NewClient(opts),
		titleTTL: cfg.Cache.TitleTTL,
		logger:   logger.With().Str("component", "cache").Logger(),
	}
	if err := e.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return e, nil
}

// NewWithClients builds the cache around existing clients; tests pass
// miniredis-backed ones.
func NewWithClients(client, sub *redis.Client, titleTTL time.Duration, logger zerolog.Logger) *Enrichment {
	return &Enrichment{
		client:   client,
		sub:      sub,
		titleTTL: titleTTL,
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// Ping verifies the command connection, for health reporting.
func (e *Enrichment) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

// Close releases both connections.
func (e *Enrichment) Close() error {
	if err := e.client.Close(); err != nil {
		return err
	}
	return e.sub.Close()
}

// Key builders.

// TitleKey memoizes a revision's page title.
func TitleKey(wiki string, revid int) string {
	return fmt.Sprintf("%s-%d", wiki, revid)
}

// ThreadKey memoizes thread metadata per parent page.
func ThreadKey(wiki, parent string) string {
	return fmt.Sprintf("%s-%s", wiki, parent)
}

// VandalismKey is the alert debounce bit for one user on one wiki.
func VandalismKey(user, language, wiki, domain string) string {
	return fmt.Sprintf("vandalism:%s:%s:%s:%s", user, language, wiki, domain)
}

// NewusersKey is the registration follow-up bit; its expiry is the trigger.
func NewusersKey(user, wiki, language, domain string) string {
	return fmt.Sprintf("newusers:%s:%s:%s:%s", user, wiki, language, domain)
}

// Get returns the value at key, or "" with no error when the key is absent.
func (e *Enrichment) Get(ctx context.Context, key string) (string, error) {
	value, err := e.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return "", err
	}
	return value, nil
}

// Set stores a value with a TTL. A zero TTL stores without expiry.
func (e *Enrichment) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := e.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return err
	}
	return nil
}

// Del removes a key.
func (e *Enrichment) Del(ctx context.Context, key string) error {
	if err := e.client.Del(ctx, key).Err(); err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return err
	}
	return nil
}

// Exists reports whether the key is present.
func (e *Enrichment) Exists(ctx context.Context, key string) (bool, error) {
	n, err := e.client.Exists(ctx, key).Result()
	if err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return false, err
	}
	return n > 0, nil
}

// SetBit sets the debounce bit on a key and arms its TTL.
func (e *Enrichment) SetBit(ctx context.Context, key string, ttl time.Duration) error {
	if err := e.client.SetBit(ctx, key, 0, 1).Err(); err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return err
	}
	if err := e.client.Expire(ctx, key, ttl).Err(); err != nil {
		metrics.RedisErrorsTotal.WithLabelValues().Inc()
		return err
	}
	return nil
}

// Title returns the memoized page title of a revision, "" when unknown.
func (e *Enrichment) Title(ctx context.Context, wiki string, revid int) (string, error) {
	return e.Get(ctx, TitleKey(wiki, revid))
}

// SetTitle memoizes a revision's page title under the configured TTL.
func (e *Enrichment) SetTitle(ctx context.Context, wiki string, revid int, title string) error {
	return e.Set(ctx, TitleKey(wiki, revid), title, e.titleTTL)
}

// ThreadInfo is the memoized thread metadata per parent page.
type ThreadInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Thread returns the memoized thread metadata, ok=false when absent.
func (e *Enrichment) Thread(ctx context.Context, wiki, parent string) (ThreadInfo, bool, error) {
	value, err := e.Get(ctx, ThreadKey(wiki, parent))
	if err != nil || value == "" {
		return ThreadInfo{}, false, err
	}
	var info ThreadInfo
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return ThreadInfo{}, false, err
	}
	return info, true, nil
}

// SetThread memoizes thread metadata for three days.
func (e *Enrichment) SetThread(ctx context.Context, wiki, parent string, info ThreadInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return e.Set(ctx, ThreadKey(wiki, parent), string(data), ThreadTTL)
}

// SubscribeExpired streams the expired newusers:* keys. The channel closes
// when ctx is cancelled.
func (e *Enrichment) SubscribeExpired(ctx context.Context) <-chan string {
	pubsub := e.sub.Subscribe(ctx, expiredChannel)
	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !hasNewusersPrefix(msg.Payload) {
					continue
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func hasNewusersPrefix(key string) bool {
	return len(key) > 9 && key[:9] == "newusers:"
}
