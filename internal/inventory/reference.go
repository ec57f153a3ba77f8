package inventory

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/retry"
)

// ReferenceSource reads reference data. Lookups must be safe to retry.
type ReferenceSource interface {
	FindStatus(ctx context.Context, domain StatusDomain, name StatusName) (Status, error)
	FindStatusByID(ctx context.Context, domain StatusDomain, id int64) (Status, error)
	FindAdjustmentType(ctx context.Context, id int64) (AdjustmentType, error)
	FindAdjustmentTypeByName(ctx context.Context, name string) (AdjustmentType, error)
	FindActionType(ctx context.Context, name string) (ActionType, error)
}

// normalizeName folds case and trims whitespace. A Caser is stateful, so one
// is built per call.
func normalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// VersionSource reports the shared reference-data version. A new version
// means every process must drop what it resolved before.
type VersionSource interface {
	ReferenceVersion(ctx context.Context) (int64, error)
}

const defaultMemoLoadTimeout = 30 * time.Second

// MemoOptions controls how resolved reference rows are kept in process.
type MemoOptions struct {
	Retry retry.Policy

	// TTL bounds how long a row is served from memory. Zero keeps rows
	// until Reset or a version change.
	TTL time.Duration

	// Versions is polled at most once per VersionCheck; zero polls on
	// every lookup.
	Versions     VersionSource
	VersionCheck time.Duration

	// LoadTimeout bounds a shared load once it is detached from the caller
	// that started it.
	LoadTimeout time.Duration
}

type memoEntry[V any] struct {
	value   V
	expires time.Time
}

// memo caches successful lookups and collapses concurrent misses into one
// retried load.
type memo[K comparable, V any] struct {
	mu      sync.RWMutex
	values  map[K]memoEntry[V]
	group   singleflight.Group
	opts    MemoOptions
	now     func() time.Time
	version int64
	checked time.Time
}

func newMemo[K comparable, V any](opts MemoOptions) *memo[K, V] {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultMemoLoadTimeout
	}
	return &memo[K, V]{values: make(map[K]memoEntry[V]), opts: opts, now: time.Now}
}

func (m *memo[K, V]) get(ctx context.Context, key K, flightKey string, load func(context.Context) (V, error)) (V, error) {
	m.syncVersion(ctx)
	m.mu.RLock()
	e, ok := m.values[key]
	m.mu.RUnlock()
	if ok && (e.expires.IsZero() || m.now().Before(e.expires)) {
		return e.value, nil
	}

	// the load is shared, so one caller going away must not fail the rest
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(detached, m.opts.LoadTimeout)
		defer cancel()
		value, err := retry.Do(loadCtx, m.opts.Retry, db.IsTransient, load)
		if err != nil {
			return value, err
		}
		entry := memoEntry[V]{value: value}
		if m.opts.TTL > 0 {
			entry.expires = m.now().Add(m.opts.TTL)
		}
		m.mu.Lock()
		m.values[key] = entry
		m.mu.Unlock()
		return value, nil
	})
	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// syncVersion drops every row once the shared version moves. A failed poll
// keeps the rows; the TTL still bounds them.
func (m *memo[K, V]) syncVersion(ctx context.Context) {
	if m.opts.Versions == nil {
		return
	}
	now := m.now()
	m.mu.Lock()
	if !m.checked.IsZero() && now.Sub(m.checked) < m.opts.VersionCheck {
		m.mu.Unlock()
		return
	}
	first := m.checked.IsZero()
	m.checked = now
	m.mu.Unlock()

	version, err := m.opts.Versions.ReferenceVersion(ctx)
	if err != nil {
		return
	}
	m.mu.Lock()
	if !first && version != m.version {
		m.values = make(map[K]memoEntry[V])
	}
	m.version = version
	m.mu.Unlock()
}

func (m *memo[K, V]) forget() {
	m.mu.Lock()
	m.values = make(map[K]memoEntry[V])
	m.mu.Unlock()
}

// CachedReferenceSource shares reference lookups across processes through
// Redis. Cache failures fall back to the wrapped source.
type CachedReferenceSource struct {
	src    ReferenceSource
	cache  *cache.JSONCache
	logger *slog.Logger
}

// NewCachedReferenceSource decorates src with the shared cache.
func NewCachedReferenceSource(src ReferenceSource, c *cache.JSONCache, logger *slog.Logger) *CachedReferenceSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedReferenceSource{src: src, cache: c, logger: logger}
}

// Invalidate drops every cached reference value, here and in every process
// polling ReferenceVersion.
func (c *CachedReferenceSource) Invalidate(ctx context.Context) error {
	return c.cache.Bump(ctx)
}

// ReferenceVersion returns the shared cache version.
func (c *CachedReferenceSource) ReferenceVersion(ctx context.Context) (int64, error) {
	return c.cache.Version(ctx)
}

func (c *CachedReferenceSource) FindStatus(ctx context.Context, domain StatusDomain, name StatusName) (Status, error) {
	return cachedLookup(ctx, c, []string{"status", string(domain), "name", string(name)}, func(ctx context.Context) (Status, error) {
		return c.src.FindStatus(ctx, domain, name)
	})
}

func (c *CachedReferenceSource) FindStatusByID(ctx context.Context, domain StatusDomain, id int64) (Status, error) {
	return cachedLookup(ctx, c, []string{"status", string(domain), "id", formatInt(id)}, func(ctx context.Context) (Status, error) {
		return c.src.FindStatusByID(ctx, domain, id)
	})
}

func (c *CachedReferenceSource) FindAdjustmentType(ctx context.Context, id int64) (AdjustmentType, error) {
	return cachedLookup(ctx, c, []string{"adjustment_type", "id", formatInt(id)}, func(ctx context.Context) (AdjustmentType, error) {
		return c.src.FindAdjustmentType(ctx, id)
	})
}

func (c *CachedReferenceSource) FindAdjustmentTypeByName(ctx context.Context, name string) (AdjustmentType, error) {
	return cachedLookup(ctx, c, []string{"adjustment_type", "name", name}, func(ctx context.Context) (AdjustmentType, error) {
		return c.src.FindAdjustmentTypeByName(ctx, name)
	})
}

func (c *CachedReferenceSource) FindActionType(ctx context.Context, name string) (ActionType, error) {
	return cachedLookup(ctx, c, []string{"action_type", "name", name}, func(ctx context.Context) (ActionType, error) {
		return c.src.FindActionType(ctx, name)
	})
}

func cachedLookup[V any](ctx context.Context, c *CachedReferenceSource, parts []string, load func(context.Context) (V, error)) (V, error) {
	key, err := c.cache.BuildKey(ctx, parts...)
	if err != nil {
		c.logger.WarnContext(ctx, "reference cache unavailable", slog.Any("error", err))
		return load(ctx)
	}
	var (
		out     V
		loaded  V
		fresh   bool
		loadErr error
	)
	err = c.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		v, err := load(ctx)
		loadErr = err
		if err == nil {
			loaded, fresh = v, true
		}
		return v, err
	})
	if loadErr != nil {
		var zero V
		return zero, loadErr
	}
	if err != nil {
		c.logger.WarnContext(ctx, "reference cache unavailable", slog.String("key", key), slog.Any("error", err))
		if fresh {
			return loaded, nil
		}
		return load(ctx)
	}
	return out, nil
}
