package executor

import (
	"sync"
	"time"

	"drillflow/internal/ports"
	"drillflow/internal/provenance"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// defaultCacheMaxSize is far above any realistic task: two batches of
// planner output.
const defaultCacheMaxSize = 4096

// CacheConfig configures the task-scoped result cache.
type CacheConfig struct {
	// MaxSize is the maximum number of entries in the LRU cache. Zero
	// selects the default.
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`
	// TTL is how long a cached result remains valid. Zero keeps entries for
	// the life of the task.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// DefaultCacheConfig keeps every successful result for the whole task.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxSize: defaultCacheMaxSize}
}

// Entry is a cached successful result.
type Entry struct {
	Status        provenance.QueryStatus
	Artifact      *ports.Artifact
	Statement     string
	Output        string
	ExecutionTime time.Duration
	Source        provenance.QueryID
	StoredAt      time.Time
}

func (e Entry) outcome() provenance.Outcome {
	return provenance.Outcome{
		Status:          e.Status,
		ServedFromCache: true,
		Artifact:        e.Artifact.Clone(),
		Statement:       e.Statement,
		Output:          e.Output,
		ExecutionTime:   e.ExecutionTime,
	}
}

// Cache maps content hashes to successful results. One Cache belongs to one
// task; every read and write goes through a single mutex.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, Entry]
	ttl     time.Duration
	now     func() time.Time

	// flight coalesces identical in-flight instructions in exactly-once mode.
	flight singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the time source used for TTL checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds a cache. A non-positive MaxSize selects the default; a
// non-positive TTL disables expiry.
func NewCache(config CacheConfig, opts ...CacheOption) *Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL < 0 {
		config.TTL = 0
	}
	// lru.New only errors on a non-positive size, guarded above.
	entries, _ := lru.New[string, Entry](config.MaxSize)
	c := &Cache{
		entries: entries,
		ttl:     config.TTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for hash. Expired entries are evicted.
func (c *Cache) Get(hash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(hash)
}

func (c *Cache) getLocked(hash string) (Entry, bool) {
	entry, ok := c.entries.Get(hash)
	if !ok {
		return Entry{}, false
	}
	if c.ttl > 0 && c.now().Sub(entry.StoredAt) >= c.ttl {
		c.entries.Remove(hash)
		return Entry{}, false
	}
	if entry.Status != provenance.StatusSuccess {
		return Entry{}, false
	}
	return entry, true
}

// Put stores a successful result and reports whether it was accepted.
// Partial and failed results are rejected.
func (c *Cache) Put(hash string, entry Entry) bool {
	switch entry.Status {
	case provenance.StatusSuccess:
	case provenance.StatusPending, provenance.StatusPartial, provenance.StatusFailed:
		return false
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry.Artifact = entry.Artifact.Clone()
	entry.StoredAt = c.now()
	c.entries.Add(hash, entry)
	return true
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops every entry. The controller purges a task's cache once the
// task finishes.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
