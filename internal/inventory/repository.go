package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

// WithTx executes the callback inside a read-committed transaction. Row
// locks taken with forUpdate serialize conflicting writers; repeatable read
// would turn every lock wait into a serialization failure instead.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const lotColumns = `l.id, l.warehouse_id, l.inventory_id, l.lot_number, l.quantity, l.reserved_quantity,
	l.status_id, s.name, l.manufacture_date, l.expiry_date, l.inbound_date, l.outbound_date, l.updated_at`

func scanLot(row rowScanner) (Lot, error) {
	var (
		lot    Lot
		status string
	)
	err := row.Scan(&lot.ID, &lot.WarehouseID, &lot.InventoryID, &lot.LotNumber, &lot.Quantity, &lot.ReservedQuantity,
		&lot.StatusID, &status, &lot.ManufactureDate, &lot.ExpiryDate, &lot.InboundDate, &lot.OutboundDate, &lot.UpdatedAt)
	if err != nil {
		return Lot{}, err
	}
	lot.Status = StatusName(status)
	return lot, nil
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepo) GetLot(ctx context.Context, id uuid.UUID, forUpdate bool) (Lot, error) {
	sql := `SELECT ` + lotColumns + `
FROM warehouse_inventory_lots l
JOIN warehouse_lot_status s ON s.id = l.status_id
WHERE l.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF l`
	}
	lot, err := scanLot(r.tx.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, dbError("get lot", err)
	}
	return lot, nil
}

func (r *txRepo) ApplyLotDelta(ctx context.Context, id uuid.UUID, quantityDelta, reservedDelta int64, statusID *int64) (Lot, error) {
	const sql = `WITH updated AS (
	UPDATE warehouse_inventory_lots
	SET quantity = quantity + $2,
		reserved_quantity = reserved_quantity + $3,
		status_id = COALESCE($4, status_id),
		outbound_date = CASE WHEN $2 < 0 AND quantity + $2 = 0 THEN NOW() ELSE outbound_date END,
		updated_at = NOW()
	WHERE id = $1 AND quantity + $2 >= 0 AND reserved_quantity + $3 >= 0
	RETURNING *
)
SELECT ` + lotColumns + `
FROM updated l
JOIN warehouse_lot_status s ON s.id = l.status_id`
	lot, err := scanLot(r.tx.QueryRow(ctx, sql, id, quantityDelta, reservedDelta, statusID))
	if err == nil {
		return lot, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, dbError("apply lot delta", err)
	}
	exists, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM warehouse_inventory_lots WHERE id = $1)`, id)
	if err != nil {
		return Lot{}, dbError("apply lot delta", err)
	}
	if exists {
		return Lot{}, ErrNegativeStock
	}
	return Lot{}, ErrLotNotFound
}

func (r *txRepo) InsertLot(ctx context.Context, lot Lot, actorID int64) (Lot, bool, error) {
	const sql = `WITH inserted AS (
	INSERT INTO warehouse_inventory_lots (id, warehouse_id, inventory_id, lot_number, quantity, reserved_quantity,
		status_id, manufacture_date, expiry_date, inbound_date, created_by, updated_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $10, NOW(), NOW())
	ON CONFLICT (warehouse_id, inventory_id, lot_number) DO NOTHING
	RETURNING *
)
SELECT ` + lotColumns + `
FROM inserted l
JOIN warehouse_lot_status s ON s.id = l.status_id`
	created, err := scanLot(r.tx.QueryRow(ctx, sql, lot.ID, lot.WarehouseID, lot.InventoryID, lot.LotNumber, lot.Quantity,
		lot.StatusID, lot.ManufactureDate, lot.ExpiryDate, lot.InboundDate, nullInt(actorID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, false, nil
		}
		return Lot{}, false, dbError("insert lot", err)
	}
	return created, true, nil
}

func (r *txRepo) SumLots(ctx context.Context, key WarehouseKey) (int64, int64, error) {
	var quantity, reserved int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0)::bigint, COALESCE(SUM(reserved_quantity), 0)::bigint
FROM warehouse_inventory_lots
WHERE warehouse_id = $1 AND inventory_id = $2`, key.WarehouseID, key.InventoryID).Scan(&quantity, &reserved)
	if err != nil {
		return 0, 0, dbError("sum lots", err)
	}
	return quantity, reserved, nil
}

func (r *txRepo) LockExpiredLots(ctx context.Context, asOf time.Time, statusIDs []int64, limit int) ([]Lot, error) {
	const sql = `SELECT ` + lotColumns + `
FROM warehouse_inventory_lots l
JOIN warehouse_lot_status s ON s.id = l.status_id
WHERE l.expiry_date < $1 AND l.status_id = ANY($2)
ORDER BY l.id
LIMIT $3
FOR UPDATE OF l SKIP LOCKED`
	rows, err := r.tx.Query(ctx, sql, asOf, statusIDs, limit)
	if err != nil {
		return nil, dbError("lock expired lots", err)
	}
	lots, err := collectLots(rows)
	if err != nil {
		return nil, dbError("lock expired lots", err)
	}
	return lots, nil
}

const warehouseColumns = `w.warehouse_id, w.inventory_id, w.reserved_quantity, w.available_quantity, w.fee::text,
	w.status_id, s.name, w.last_update`

func scanWarehouse(row rowScanner) (WarehouseInventory, error) {
	var (
		wi     WarehouseInventory
		fee    string
		status string
	)
	err := row.Scan(&wi.WarehouseID, &wi.InventoryID, &wi.ReservedQuantity, &wi.AvailableQuantity, &fee,
		&wi.StatusID, &status, &wi.LastUpdate)
	if err != nil {
		return WarehouseInventory{}, err
	}
	wi.Fee, err = decimal.NewFromString(fee)
	if err != nil {
		return WarehouseInventory{}, fmt.Errorf("parse fee: %w", err)
	}
	wi.Status = StatusName(status)
	return wi, nil
}

func (r *txRepo) GetWarehouseInventory(ctx context.Context, key WarehouseKey, forUpdate bool) (WarehouseInventory, error) {
	sql := `SELECT ` + warehouseColumns + `
FROM warehouse_inventories w
JOIN status s ON s.id = w.status_id
WHERE w.warehouse_id = $1 AND w.inventory_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE OF w`
	}
	wi, err := scanWarehouse(r.tx.QueryRow(ctx, sql, key.WarehouseID, key.InventoryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WarehouseInventory{}, ErrWarehouseInventoryNotFound
		}
		return WarehouseInventory{}, dbError("get warehouse inventory", err)
	}
	return wi, nil
}

func (r *txRepo) EnsureWarehouseInventory(ctx context.Context, wi WarehouseInventory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO warehouse_inventories (warehouse_id, inventory_id, reserved_quantity, available_quantity, fee, status_id, last_update)
VALUES ($1, $2, 0, 0, $3::numeric, $4, NOW())
ON CONFLICT (warehouse_id, inventory_id) DO NOTHING`, wi.WarehouseID, wi.InventoryID, wi.Fee.String(), wi.StatusID)
	if db.IsForeignKeyViolation(err) {
		return ErrWarehouseNotFound
	}
	return dbError("ensure warehouse inventory", err)
}

func (r *txRepo) ApplyWarehouseDelta(ctx context.Context, key WarehouseKey, availableDelta, reservedDelta int64, statusID *int64) (WarehouseInventory, error) {
	const sql = `WITH updated AS (
	UPDATE warehouse_inventories
	SET available_quantity = available_quantity + $3,
		reserved_quantity = reserved_quantity + $4,
		status_id = COALESCE($5, status_id),
		last_update = NOW()
	WHERE warehouse_id = $1 AND inventory_id = $2
		AND available_quantity + $3 >= 0 AND reserved_quantity + $4 >= 0
	RETURNING *
)
SELECT ` + warehouseColumns + `
FROM updated w
JOIN status s ON s.id = w.status_id`
	wi, err := scanWarehouse(r.tx.QueryRow(ctx, sql, key.WarehouseID, key.InventoryID, availableDelta, reservedDelta, statusID))
	if err == nil {
		return wi, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return WarehouseInventory{}, dbError("apply warehouse delta", err)
	}
	exists, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM warehouse_inventories WHERE warehouse_id = $1 AND inventory_id = $2)`,
		key.WarehouseID, key.InventoryID)
	if err != nil {
		return WarehouseInventory{}, dbError("apply warehouse delta", err)
	}
	if exists {
		return WarehouseInventory{}, ErrNegativeAvailable
	}
	return WarehouseInventory{}, ErrWarehouseInventoryNotFound
}

func (r *txRepo) SumWarehouses(ctx context.Context, inventoryID int64) (int64, int64, error) {
	var available, reserved int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(available_quantity), 0)::bigint, COALESCE(SUM(reserved_quantity), 0)::bigint
FROM warehouse_inventories
WHERE inventory_id = $1`, inventoryID).Scan(&available, &reserved)
	if err != nil {
		return 0, 0, dbError("sum warehouses", err)
	}
	return available, reserved, nil
}

const itemColumns = `i.id, i.kind, i.product_ref, i.identifier, i.status_id, s.name, i.is_active, i.updated_at`

func scanItem(row rowScanner) (InventoryItem, error) {
	var (
		item       InventoryItem
		kind       string
		identifier *string
		status     string
	)
	if err := row.Scan(&item.ID, &kind, &item.ProductRef, &identifier, &item.StatusID, &status, &item.IsActive, &item.UpdatedAt); err != nil {
		return InventoryItem{}, err
	}
	item.Kind = ItemKind(kind)
	item.Status = StatusName(status)
	if identifier != nil {
		item.Identifier = *identifier
	}
	return item, nil
}

func (r *txRepo) GetInventoryItem(ctx context.Context, id int64, forUpdate bool) (InventoryItem, error) {
	sql := `SELECT ` + itemColumns + `
FROM inventory_items i
JOIN status s ON s.id = i.status_id
WHERE i.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF i`
	}
	item, err := scanItem(r.tx.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryItem{}, ErrItemNotFound
		}
		return InventoryItem{}, dbError("get inventory item", err)
	}
	return item, nil
}

func (r *txRepo) EnsureInventoryItem(ctx context.Context, ref ItemRef, statusID int64) (InventoryItem, error) {
	if !ref.Valid() {
		return InventoryItem{}, ErrInvalidItemRef
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_items (kind, product_ref, identifier, status_id, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
ON CONFLICT DO NOTHING`, string(ref.Kind()), ref.ProductRef, nullString(ref.Identifier), statusID)
	if err != nil {
		return InventoryItem{}, dbError("ensure inventory item", err)
	}
	sql := `SELECT ` + itemColumns + `
FROM inventory_items i
JOIN status s ON s.id = i.status_id
WHERE `
	var arg any
	if ref.ProductRef != nil {
		sql += `i.product_ref = $1`
		arg = *ref.ProductRef
	} else {
		sql += `i.identifier = $1`
		arg = ref.Identifier
	}
	item, err := scanItem(r.tx.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryItem{}, ErrItemNotFound
		}
		return InventoryItem{}, dbError("ensure inventory item", err)
	}
	return item, nil
}

func (r *txRepo) SetItemStatus(ctx context.Context, id int64, statusID int64) (InventoryItem, error) {
	const sql = `WITH updated AS (
	UPDATE inventory_items SET status_id = $2, updated_at = NOW() WHERE id = $1 RETURNING *
)
SELECT ` + itemColumns + `
FROM updated i
JOIN status s ON s.id = i.status_id`
	item, err := scanItem(r.tx.QueryRow(ctx, sql, id, statusID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryItem{}, ErrItemNotFound
		}
		return InventoryItem{}, dbError("set item status", err)
	}
	return item, nil
}

func (r *txRepo) InsertLotAdjustments(ctx context.Context, rows []LotAdjustment) (int64, error) {
	bulk := db.BulkInsert{
		Table: "warehouse_lot_adjustments",
		Columns: []string{"id", "lot_id", "warehouse_id", "inventory_id", "adjustment_type_id", "previous_quantity",
			"adjusted_quantity", "new_quantity", "adjusted_by", "adjusted_at", "comments", "order_ref"},
		ConflictColumns: []string{"id"},
		Action:          db.ConflictDoNothing,
	}
	for _, row := range rows {
		bulk.Rows = append(bulk.Rows, []any{row.ID, row.LotID, row.WarehouseID, row.InventoryID, row.AdjustmentTypeID,
			row.PreviousQuantity, row.AdjustedQuantity, row.NewQuantity, nullInt(row.AdjustedBy), row.AdjustedAt,
			row.Comments, row.OrderRef})
	}
	return db.ExecBulkInsert(ctx, r.tx, bulk)
}

func (r *txRepo) InsertActivityLogs(ctx context.Context, rows []ActivityLog) (int64, error) {
	bulk := db.BulkInsert{
		Table: "inventory_activity_logs",
		Columns: []string{"id", "inventory_id", "warehouse_id", "lot_id", "action_type_id", "adjustment_type_id",
			"previous_quantity", "quantity_change", "new_quantity", "status_id", "order_ref", "performed_by",
			"performed_at", "comments"},
		ConflictColumns: []string{"id"},
		Action:          db.ConflictDoNothing,
	}
	for _, row := range rows {
		bulk.Rows = append(bulk.Rows, []any{row.ID, row.InventoryID, row.WarehouseID, row.LotID, row.ActionTypeID,
			row.AdjustmentTypeID, row.PreviousQuantity, row.QuantityChange, row.NewQuantity, row.StatusID, row.OrderRef,
			nullInt(row.PerformedBy), row.PerformedAt, row.Comments})
	}
	return db.ExecBulkInsert(ctx, r.tx, bulk)
}

func (r *txRepo) InsertHistoryLogs(ctx context.Context, rows []HistoryLog) (int64, error) {
	bulk := db.BulkInsert{
		Table: "inventory_history_logs",
		Columns: []string{"id", "inventory_id", "warehouse_id", "lot_id", "action_type_id", "previous_quantity",
			"quantity_change", "new_quantity", "status_id", "recorded_by", "recorded_at", "comments", "salt", "checksum"},
		ConflictColumns: []string{"id"},
		Action:          db.ConflictDoNothing,
	}
	for _, row := range rows {
		bulk.Rows = append(bulk.Rows, []any{row.ID, row.InventoryID, row.WarehouseID, row.LotID, row.ActionTypeID,
			row.PreviousQuantity, row.QuantityChange, row.NewQuantity, row.StatusID, nullInt(row.RecordedBy),
			row.RecordedAt, row.Comments, row.Salt, row.Checksum})
	}
	return db.ExecBulkInsert(ctx, r.tx, bulk)
}

func (r *txRepo) ClaimBatchKey(ctx context.Context, scope, key string) error {
	err := shared.NewIdempotencyStore(r.tx).CheckAndInsert(ctx, key, "inventory."+scope)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrDuplicateBatch
	}
	return dbError("claim batch key", err)
}

func (r *txRepo) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, sql, args...).Scan(&ok)
	return ok, err
}

// ListAllocationCandidates returns in-stock lots with enough unreserved
// quantity whose item and warehouse are active. Ordering is left to SelectLot.
func (r *Repository) ListAllocationCandidates(ctx context.Context, req AllocationRequest, inStockID int64) ([]Lot, error) {
	const sql = `SELECT ` + lotColumns + `
FROM warehouse_inventory_lots l
JOIN warehouse_lot_status s ON s.id = l.status_id
JOIN inventory_items i ON i.id = l.inventory_id
JOIN warehouses w ON w.id = l.warehouse_id
WHERE l.inventory_id = $1 AND l.warehouse_id = $2 AND l.status_id = $3
	AND l.quantity - l.reserved_quantity >= $4
	AND i.is_active AND w.is_active`
	rows, err := r.pool.Query(ctx, sql, req.InventoryID, req.WarehouseID, inStockID, req.Quantity)
	if err != nil {
		return nil, dbError("list allocation candidates", err)
	}
	lots, err := collectLots(rows)
	if err != nil {
		return nil, dbError("list allocation candidates", err)
	}
	return lots, nil
}

// ListHistoryLogs pages through the history ledger in insertion order.
func (r *Repository) ListHistoryLogs(ctx context.Context, afterSeq int64, limit int) ([]HistoryLog, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT seq, id, inventory_id, warehouse_id, lot_id, action_type_id, previous_quantity,
	quantity_change, new_quantity, status_id, COALESCE(recorded_by, 0), recorded_at, comments, salt, checksum
FROM inventory_history_logs
WHERE seq > $1
ORDER BY seq
LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, dbError("list history logs", err)
	}
	defer rows.Close()
	var out []HistoryLog
	for rows.Next() {
		var h HistoryLog
		if err := rows.Scan(&h.Seq, &h.ID, &h.InventoryID, &h.WarehouseID, &h.LotID, &h.ActionTypeID, &h.PreviousQuantity,
			&h.QuantityChange, &h.NewQuantity, &h.StatusID, &h.RecordedBy, &h.RecordedAt, &h.Comments, &h.Salt, &h.Checksum); err != nil {
			return nil, dbError("scan history log", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list history logs", err)
	}
	return out, nil
}

// FindStatus implements ReferenceSource.
func (r *Repository) FindStatus(ctx context.Context, domain StatusDomain, name StatusName) (Status, error) {
	table, err := statusTable(domain)
	if err != nil {
		return Status{}, err
	}
	st := Status{Domain: domain}
	var n string
	err = r.pool.QueryRow(ctx, `SELECT id, name FROM `+table+` WHERE name = $1`, string(name)).Scan(&st.ID, &n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrStatusNotFound
		}
		return Status{}, err
	}
	st.Name = StatusName(n)
	return st, nil
}

// FindStatusByID implements ReferenceSource.
func (r *Repository) FindStatusByID(ctx context.Context, domain StatusDomain, id int64) (Status, error) {
	table, err := statusTable(domain)
	if err != nil {
		return Status{}, err
	}
	st := Status{Domain: domain}
	var n string
	err = r.pool.QueryRow(ctx, `SELECT id, name FROM `+table+` WHERE id = $1`, id).Scan(&st.ID, &n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Status{}, ErrStatusNotFound
		}
		return Status{}, err
	}
	st.Name = StatusName(n)
	return st, nil
}

// FindAdjustmentType implements ReferenceSource.
func (r *Repository) FindAdjustmentType(ctx context.Context, id int64) (AdjustmentType, error) {
	return r.findAdjustmentType(ctx, `id = $1`, id)
}

// FindAdjustmentTypeByName implements ReferenceSource.
func (r *Repository) FindAdjustmentTypeByName(ctx context.Context, name string) (AdjustmentType, error) {
	return r.findAdjustmentType(ctx, `name = $1`, name)
}

func (r *Repository) findAdjustmentType(ctx context.Context, where string, arg any) (AdjustmentType, error) {
	var t AdjustmentType
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_active, inventory_action_type_id FROM lot_adjustment_types WHERE `+where, arg).
		Scan(&t.ID, &t.Name, &t.IsActive, &t.InventoryActionTypeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdjustmentType{}, ErrAdjustmentTypeNotFound
		}
		return AdjustmentType{}, err
	}
	return t, nil
}

// FindActionType implements ReferenceSource.
func (r *Repository) FindActionType(ctx context.Context, name string) (ActionType, error) {
	var t ActionType
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM inventory_action_types WHERE name = $1`, name).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActionType{}, ErrActionTypeNotFound
		}
		return ActionType{}, err
	}
	return t, nil
}

func statusTable(domain StatusDomain) (string, error) {
	switch domain {
	case DomainLotStatus:
		return "warehouse_lot_status", nil
	case DomainStatus:
		return "status", nil
	}
	return "", checkDomain(domain)
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
