package inventory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MissingTypePolicy decides what happens to an entry whose adjustment type
// is unknown or inactive.
type MissingTypePolicy string

const (
	// MissingTypeSkip drops the entry with a warning and keeps the batch.
	MissingTypeSkip MissingTypePolicy = "skip"
	// MissingTypeFail aborts the whole batch.
	MissingTypeFail MissingTypePolicy = "fail"
)

// ParseMissingTypePolicy validates a configured policy name.
func ParseMissingTypePolicy(v string) (MissingTypePolicy, error) {
	switch p := MissingTypePolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case MissingTypeSkip, MissingTypeFail:
		return p, nil
	case "":
		return MissingTypeSkip, nil
	}
	return "", fmt.Errorf("inventory: unknown missing type policy %q", v)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	MissingTypePolicy MissingTypePolicy
	// TxTimeout bounds every batch transaction, lock waits included.
	TxTimeout time.Duration
}

// Service coordinates inventory operations. It is the only writer of lot,
// warehouse aggregate and global item rows.
type Service struct {
	repo     RepositoryPort
	statuses *StatusResolver
	catalog  *Catalog
	cfg      ServiceConfig
	logger   *slog.Logger
	metrics  *Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, statuses *StatusResolver, catalog *Catalog, cfg ServiceConfig, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MissingTypePolicy == "" {
		cfg.MissingTypePolicy = MissingTypeSkip
	}
	return &Service{
		repo:     repo,
		statuses: statuses,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.TxTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.TxTimeout)
}

// timestamp is truncated to the precision PostgreSQL stores so checksums
// survive a round trip.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) logFailure(ctx context.Context, operation string, err error) {
	attrs := []any{slog.String("operation", operation), slog.Any("error", err)}
	if entry, ok := asEntryError(err); ok {
		attrs = append(attrs, slog.Int("entry", entry.Index), slog.String("lot_id", lotString(entry.LotID)))
	}
	if isInfrastructure(err) {
		s.logger.ErrorContext(ctx, "inventory batch failed", attrs...)
		return
	}
	s.logger.WarnContext(ctx, "inventory batch rolled back", attrs...)
}

// statusSet holds the statuses a batch may write, resolved before the
// transaction opens so lookups can be retried safely.
type statusSet struct {
	lot       map[StatusName]Status
	aggregate map[StatusName]Status
}

func (s *Service) loadStatuses(ctx context.Context, lotNames ...StatusName) (statusSet, error) {
	set := statusSet{lot: make(map[StatusName]Status), aggregate: make(map[StatusName]Status)}
	for _, name := range append([]StatusName{StatusInStock, StatusOutOfStock}, lotNames...) {
		st, err := s.statuses.Resolve(ctx, DomainLotStatus, name)
		if err != nil {
			return statusSet{}, err
		}
		set.lot[name] = st
	}
	for _, name := range []StatusName{StatusInStock, StatusOutOfStock} {
		st, err := s.statuses.Resolve(ctx, DomainStatus, name)
		if err != nil {
			return statusSet{}, err
		}
		set.aggregate[name] = st
	}
	return set, nil
}

// deriveLotStatus applies the lot rule: empty lots are out of stock and any
// lot holding stock is in stock.
func deriveLotStatus(current StatusName, quantity, reserved int64) StatusName {
	if quantity+reserved == 0 {
		return StatusOutOfStock
	}
	if current != StatusInStock {
		return StatusInStock
	}
	return current
}

func deriveAggregateStatus(quantity, reserved int64) StatusName {
	if quantity == 0 && reserved == 0 {
		return StatusOutOfStock
	}
	return StatusInStock
}

func checkTransition(current StatusName, delta int64) error {
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalLot, current)
	}
	if current == StatusOutOfStock && delta < 0 {
		return ErrDepleteEmptyLot
	}
	return nil
}

// cascade moves the warehouse aggregate by availableDelta and re-derives the
// warehouse and global item statuses from the rows underneath them. Both
// rows must already be locked.
func (s *Service) cascade(ctx context.Context, tx TxRepository, statuses statusSet, key WarehouseKey, availableDelta int64) (WarehouseInventory, InventoryItem, error) {
	quantity, reserved, err := tx.SumLots(ctx, key)
	if err != nil {
		return WarehouseInventory{}, InventoryItem{}, err
	}
	whStatus := statuses.aggregate[deriveAggregateStatus(quantity, reserved)]
	wh, err := tx.ApplyWarehouseDelta(ctx, key, availableDelta, 0, &whStatus.ID)
	if err != nil {
		return WarehouseInventory{}, InventoryItem{}, err
	}
	available, reservedAll, err := tx.SumWarehouses(ctx, key.InventoryID)
	if err != nil {
		return WarehouseInventory{}, InventoryItem{}, err
	}
	itemStatus := statuses.aggregate[deriveAggregateStatus(available, reservedAll)]
	item, err := tx.SetItemStatus(ctx, key.InventoryID, itemStatus.ID)
	if err != nil {
		return WarehouseInventory{}, InventoryItem{}, err
	}
	return wh, item, nil
}
