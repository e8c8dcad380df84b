// pkg/tokencache/tokencache.go
package tokencache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entry is one cached session's credentials.
type Entry struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Cache mirrors session credentials outside the process so cooperating
// processes can opt in to sharing one login. The core never requires
// it; an unset cache keeps credentials process-local.
type Cache interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

// Key builds a cache key scoped by user and endpoint so sessions
// against different APIs never mix.
func Key(username, endpoint string) string {
	return "qjob:session:" + username + "@" + strings.TrimRight(endpoint, "/")
}

// Memory is an in-process Cache. It gives cooperating components in
// one process the same contract Redis gives across processes; tests
// use it as the fake.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	e       Entry
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]memoryEntry{}}
}

func (m *Memory) Load(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.entries[key]
	if !ok || time.Now().After(me.expires) {
		return Entry{}, false, nil
	}
	return me.e, true, nil
}

func (m *Memory) Store(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{e: e, expires: time.Now().Add(ttl)}
	return nil
}

func (m *Memory) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type redisCache struct {
	cli *redis.Client
}

// MustRedis connects to the configured Redis or returns nil when url
// is empty (cache disabled).
func MustRedis(url string, log *zap.SugaredLogger) Cache {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "err", err)
	}
	log.Infow("token cache ready", "addr", opts.Addr)
	return &redisCache{cli: cli}
}

func (c *redisCache) Load(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (c *redisCache) Store(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.cli.Set(ctx, key, raw, ttl).Err()
}

func (c *redisCache) Clear(ctx context.Context, key string) error {
	return c.cli.Del(ctx, key).Err()
}
