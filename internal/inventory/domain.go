package inventory

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusName is the stable name of a stock status.
type StatusName string

const (
	// StatusInStock marks stock that can be moved.
	StatusInStock StatusName = "in_stock"
	// StatusOutOfStock marks an empty lot or aggregate.
	StatusOutOfStock StatusName = "out_of_stock"
	// StatusExpired marks a lot past its expiry date.
	StatusExpired StatusName = "expired"
	// StatusShipped marks a lot that left the warehouse.
	StatusShipped StatusName = "shipped"
	// StatusSoldOut marks a lot fully consumed by sales.
	StatusSoldOut StatusName = "sold_out"
)

// IsTerminal reports whether no further quantity change is allowed.
func (s StatusName) IsTerminal() bool {
	switch s {
	case StatusShipped, StatusExpired, StatusSoldOut:
		return true
	}
	return false
}

// StatusDomain names the lookup table a status belongs to.
type StatusDomain string

const (
	// DomainLotStatus holds lot level statuses.
	DomainLotStatus StatusDomain = "warehouse_lot_status"
	// DomainStatus holds the generic statuses used by aggregates.
	DomainStatus StatusDomain = "status"
)

// Status is a resolved status row.
type Status struct {
	ID     int64        `json:"id"`
	Name   StatusName   `json:"name"`
	Domain StatusDomain `json:"domain"`
}

// ItemKind distinguishes catalogue products from free identifiers.
type ItemKind string

const (
	ItemKindProduct ItemKind = "product"
	ItemKindOther   ItemKind = "other"
)

// ItemRef identifies a global inventory item by exactly one of its keys.
type ItemRef struct {
	ProductRef *int64 `json:"product_ref,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// Valid reports whether exactly one key is set.
func (r ItemRef) Valid() bool {
	return (r.ProductRef != nil) != (r.Identifier != "")
}

// Kind derives the item kind from the populated key.
func (r ItemRef) Kind() ItemKind {
	if r.ProductRef != nil {
		return ItemKindProduct
	}
	return ItemKindOther
}

func (r ItemRef) less(o ItemRef) bool {
	switch {
	case r.ProductRef != nil && o.ProductRef != nil:
		return *r.ProductRef < *o.ProductRef
	case r.ProductRef != nil:
		return true
	case o.ProductRef != nil:
		return false
	}
	return r.Identifier < o.Identifier
}

func (r ItemRef) key() string {
	if r.ProductRef != nil {
		return "p:" + formatInt(*r.ProductRef)
	}
	return "i:" + r.Identifier
}

// InventoryItem is the global, cross-warehouse record of a stocked item.
type InventoryItem struct {
	ID         int64
	Kind       ItemKind
	ProductRef *int64
	Identifier string
	StatusID   int64
	Status     StatusName
	IsActive   bool
	UpdatedAt  time.Time
}

// WarehouseKey addresses a warehouse aggregate.
type WarehouseKey struct {
	WarehouseID int64
	InventoryID int64
}

func (k WarehouseKey) less(o WarehouseKey) bool {
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	return k.InventoryID < o.InventoryID
}

// WarehouseInventory aggregates the lots of one item in one warehouse.
type WarehouseInventory struct {
	WarehouseID       int64
	InventoryID       int64
	ReservedQuantity  int64
	AvailableQuantity int64
	Fee               decimal.Decimal
	StatusID          int64
	Status            StatusName
	LastUpdate        time.Time
}

// Key returns the aggregate key.
func (w WarehouseInventory) Key() WarehouseKey {
	return WarehouseKey{WarehouseID: w.WarehouseID, InventoryID: w.InventoryID}
}

// Lot is the finest grained unit of stock and the unit of row locking.
type Lot struct {
	ID               uuid.UUID  `json:"id"`
	WarehouseID      int64      `json:"warehouse_id"`
	InventoryID      int64      `json:"inventory_id"`
	LotNumber        string     `json:"lot_number"`
	Quantity         int64      `json:"quantity"`
	ReservedQuantity int64      `json:"reserved_quantity"`
	StatusID         int64      `json:"status_id"`
	Status           StatusName `json:"status"`
	ManufactureDate  *time.Time `json:"manufacture_date,omitempty"`
	ExpiryDate       *time.Time `json:"expiry_date,omitempty"`
	InboundDate      time.Time  `json:"inbound_date"`
	OutboundDate     *time.Time `json:"outbound_date,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Key returns the owning warehouse aggregate key.
func (l Lot) Key() WarehouseKey {
	return WarehouseKey{WarehouseID: l.WarehouseID, InventoryID: l.InventoryID}
}

// Unreserved is the quantity free for allocation.
func (l Lot) Unreserved() int64 {
	return l.Quantity - l.ReservedQuantity
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Adjustment type names.
const (
	AdjustmentDamaged           = "damaged"
	AdjustmentLost              = "lost"
	AdjustmentDefective         = "defective"
	AdjustmentExpired           = "expired"
	AdjustmentStolen            = "stolen"
	AdjustmentRecalled          = "recalled"
	AdjustmentAdjustment        = "adjustment"
	AdjustmentReclassified      = "reclassified"
	AdjustmentConversion        = "conversion"
	AdjustmentManualStockInsert = "manual_stock_insert"
	AdjustmentManualStockUpdate = "manual_stock_update"
)

// Inventory action type names.
const (
	ActionManualAdjustment  = "manual_adjustment"
	ActionManualStockInsert = "manual_stock_insert"
	ActionLotExpiry         = "lot_expiry"
)

// AdjustmentType is a reason code for a lot adjustment.
type AdjustmentType struct {
	ID                    int64  `json:"id"`
	Name                  string `json:"name"`
	IsActive              bool   `json:"is_active"`
	InventoryActionTypeID int64  `json:"inventory_action_type_id"`
}

// ActionType classifies activity and history log rows.
type ActionType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AdjustmentRecord is one requested change to a lot.
type AdjustmentRecord struct {
	LotID            uuid.UUID  `json:"lot_id" validate:"required"`
	AdjustmentTypeID int64      `json:"adjustment_type_id" validate:"required,gt=0"`
	Delta            int64      `json:"delta" validate:"required"`
	Comments         string     `json:"comments" validate:"max=1000"`
	OrderRef         *uuid.UUID `json:"order_ref,omitempty"`
}

// AdjustLotsInput is a batch of adjustments applied atomically.
type AdjustLotsInput struct {
	ActorID        int64              `validate:"required,gt=0"`
	IdempotencyKey string             `validate:"omitempty,max=128"`
	Records        []AdjustmentRecord `validate:"required,min=1,dive"`
}

// AdjustedLot reports the outcome of an applied adjustment.
type AdjustedLot struct {
	LotID       uuid.UUID  `json:"lot_id"`
	WarehouseID int64      `json:"warehouse_id"`
	InventoryID int64      `json:"inventory_id"`
	LotNumber   string     `json:"lot_number"`
	NewQuantity int64      `json:"new_quantity"`
	Status      StatusName `json:"status"`
}

// LotInsertRecord describes newly received stock.
type LotInsertRecord struct {
	WarehouseID     int64            `json:"warehouse_id" validate:"required,gt=0"`
	Item            ItemRef          `json:"item"`
	LotNumber       string           `json:"lot_number" validate:"required,max=64"`
	Quantity        int64            `json:"quantity" validate:"gte=0"`
	Fee             *decimal.Decimal `json:"fee,omitempty"`
	ManufactureDate *time.Time       `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time       `json:"expiry_date,omitempty"`
	InboundDate     time.Time        `json:"inbound_date"`
	Comments        string           `json:"comments" validate:"max=1000"`
}

// InsertLotsInput is a batch of lots stocked atomically.
type InsertLotsInput struct {
	ActorID        int64             `validate:"required,gt=0"`
	IdempotencyKey string            `validate:"omitempty,max=128"`
	Records        []LotInsertRecord `validate:"required,min=1,dive"`
}

// AllocationStrategy orders candidate lots.
type AllocationStrategy string

const (
	// StrategyFIFO picks the earliest inbound lot.
	StrategyFIFO AllocationStrategy = "FIFO"
	// StrategyFEFO picks the earliest expiring lot.
	StrategyFEFO AllocationStrategy = "FEFO"
)

// AllocationRequest is a demand to satisfy from a single lot.
type AllocationRequest struct {
	InventoryID int64              `json:"inventory_id" validate:"required,gt=0"`
	WarehouseID int64              `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64              `json:"quantity" validate:"required,gt=0"`
	Strategy    AllocationStrategy `json:"strategy" validate:"required,oneof=FIFO FEFO"`
}

// LotAdjustment is the audit row of an audit-worthy adjustment.
type LotAdjustment struct {
	ID               uuid.UUID
	LotID            uuid.UUID
	WarehouseID      int64
	InventoryID      int64
	AdjustmentTypeID int64
	PreviousQuantity int64
	AdjustedQuantity int64
	NewQuantity      int64
	AdjustedBy       int64
	AdjustedAt       time.Time
	Comments         string
	OrderRef         *uuid.UUID
}

// ActivityLog is the operational record of a state changing action.
type ActivityLog struct {
	ID               uuid.UUID
	InventoryID      int64
	WarehouseID      int64
	LotID            uuid.UUID
	ActionTypeID     int64
	AdjustmentTypeID *int64
	PreviousQuantity int64
	QuantityChange   int64
	NewQuantity      int64
	StatusID         int64
	OrderRef         *uuid.UUID
	PerformedBy      int64
	PerformedAt      time.Time
	Comments         string
}

// HistoryLog is the checksummed long retention ledger row.
type HistoryLog struct {
	Seq              int64
	ID               uuid.UUID
	InventoryID      int64
	WarehouseID      int64
	LotID            uuid.UUID
	ActionTypeID     int64
	PreviousQuantity int64
	QuantityChange   int64
	NewQuantity      int64
	StatusID         int64
	RecordedBy       int64
	RecordedAt       time.Time
	Comments         string
	Salt             string
	Checksum         string
}
