package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LotStore reads and mutates lots inside a transaction.
type LotStore interface {
	GetLot(ctx context.Context, id uuid.UUID, forUpdate bool) (Lot, error)
	// ApplyLotDelta adds the deltas and optionally swaps the status. It fails
	// with ErrNegativeStock rather than storing a negative quantity.
	ApplyLotDelta(ctx context.Context, id uuid.UUID, quantityDelta, reservedDelta int64, statusID *int64) (Lot, error)
	// InsertLot returns false when a lot with the same number already exists.
	InsertLot(ctx context.Context, lot Lot, actorID int64) (Lot, bool, error)
	SumLots(ctx context.Context, key WarehouseKey) (quantity, reserved int64, err error)
	LockExpiredLots(ctx context.Context, asOf time.Time, statusIDs []int64, limit int) ([]Lot, error)
}

// WarehouseStore reads and mutates warehouse aggregates.
type WarehouseStore interface {
	GetWarehouseInventory(ctx context.Context, key WarehouseKey, forUpdate bool) (WarehouseInventory, error)
	EnsureWarehouseInventory(ctx context.Context, wi WarehouseInventory) error
	ApplyWarehouseDelta(ctx context.Context, key WarehouseKey, availableDelta, reservedDelta int64, statusID *int64) (WarehouseInventory, error)
	SumWarehouses(ctx context.Context, inventoryID int64) (available, reserved int64, err error)
}

// ItemStore reads and mutates global inventory items.
type ItemStore interface {
	GetInventoryItem(ctx context.Context, id int64, forUpdate bool) (InventoryItem, error)
	EnsureInventoryItem(ctx context.Context, ref ItemRef, statusID int64) (InventoryItem, error)
	SetItemStatus(ctx context.Context, id int64, statusID int64) (InventoryItem, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LotStore
	WarehouseStore
	ItemStore
	AuditWriter
	// ClaimBatchKey records an idempotency key within scope; a replay fails
	// with ErrDuplicateBatch.
	ClaimBatchKey(ctx context.Context, scope, key string) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAllocationCandidates(ctx context.Context, req AllocationRequest, inStockID int64) ([]Lot, error)
	ListHistoryLogs(ctx context.Context, afterSeq int64, limit int) ([]HistoryLog, error)
}
