package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/cache"
)

// ReferenceCacheNamespace prefixes every shared reference-data key.
const ReferenceCacheNamespace = "odyssey:inventory:reference"

// NewReferenceCache returns the JSON cache shared by the API and the worker.
// A nil client disables sharing.
func NewReferenceCache(cfg *Config, client *redis.Client) *cache.JSONCache {
	return cache.NewJSONCache(client, ReferenceCacheNamespace, cfg.ReferenceCacheTTL)
}

// NewInventoryService wires the inventory engine identically for every process.
func NewInventoryService(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, client *redis.Client, registerer prometheus.Registerer) *inventory.Service {
	repo := inventory.NewRepository(pool)
	refs := inventory.NewCachedReferenceSource(repo, NewReferenceCache(cfg, client), logger)
	opts := cfg.MemoOptions(refs)
	statuses := inventory.NewStatusResolver(refs, opts, logger)
	catalog := inventory.NewCatalog(refs, opts, logger)
	return inventory.NewService(repo, statuses, catalog, cfg.ServiceConfig(), logger, inventory.NewMetrics(registerer))
}
