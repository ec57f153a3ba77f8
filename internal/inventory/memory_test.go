package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-inventory/internal/platform/retry"
)

var lotStatusIDs = map[StatusName]int64{
	StatusInStock:    1,
	StatusOutOfStock: 2,
	StatusExpired:    3,
	StatusShipped:    4,
	StatusSoldOut:    5,
}

var aggregateStatusIDs = map[StatusName]int64{
	StatusInStock:    11,
	StatusOutOfStock: 12,
}

const (
	typeDamaged      int64 = 1
	typeAdjustment   int64 = 2
	typeStockInsert  int64 = 3
	typeStockUpdate  int64 = 4
	typeLegacy       int64 = 9
	typeUnknown      int64 = 999
	actionAdjustment int64 = 1
	actionInsert     int64 = 2
	actionExpiry     int64 = 3
)

func statusNameByID(ids map[StatusName]int64, id int64) StatusName {
	for name, v := range ids {
		if v == id {
			return name
		}
	}
	return ""
}

type memorySource struct {
	mu        sync.Mutex
	calls     int
	transient int
	types     map[int64]AdjustmentType
	actions   map[string]ActionType
}

func newMemorySource() *memorySource {
	return &memorySource{
		types: map[int64]AdjustmentType{
			typeDamaged:     {ID: typeDamaged, Name: AdjustmentDamaged, IsActive: true, InventoryActionTypeID: actionAdjustment},
			typeAdjustment:  {ID: typeAdjustment, Name: AdjustmentAdjustment, IsActive: true, InventoryActionTypeID: actionAdjustment},
			typeStockInsert: {ID: typeStockInsert, Name: AdjustmentManualStockInsert, IsActive: true, InventoryActionTypeID: actionInsert},
			typeStockUpdate: {ID: typeStockUpdate, Name: AdjustmentManualStockUpdate, IsActive: true, InventoryActionTypeID: actionAdjustment},
			typeLegacy:      {ID: typeLegacy, Name: "legacy", IsActive: false, InventoryActionTypeID: actionAdjustment},
		},
		actions: map[string]ActionType{
			ActionManualAdjustment:  {ID: actionAdjustment, Name: ActionManualAdjustment},
			ActionManualStockInsert: {ID: actionInsert, Name: ActionManualStockInsert},
			ActionLotExpiry:         {ID: actionExpiry, Name: ActionLotExpiry},
		},
	}
}

// failNext makes the next n lookups fail with a connection error.
func (s *memorySource) failNext(n int) {
	s.mu.Lock()
	s.transient = n
	s.mu.Unlock()
}

func (s *memorySource) enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.transient > 0 {
		s.transient--
		return &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	return nil
}

// setTypeActive flips an adjustment type the way an operator would in the
// database.
func (s *memorySource) setTypeActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.types[id]
	t.IsActive = active
	s.types[id] = t
}

func (s *memorySource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *memorySource) domainIDs(domain StatusDomain) map[StatusName]int64 {
	if domain == DomainLotStatus {
		return lotStatusIDs
	}
	return aggregateStatusIDs
}

func (s *memorySource) FindStatus(_ context.Context, domain StatusDomain, name StatusName) (Status, error) {
	if err := s.enter(); err != nil {
		return Status{}, err
	}
	id, ok := s.domainIDs(domain)[name]
	if !ok {
		return Status{}, ErrStatusNotFound
	}
	return Status{ID: id, Name: name, Domain: domain}, nil
}

func (s *memorySource) FindStatusByID(_ context.Context, domain StatusDomain, id int64) (Status, error) {
	if err := s.enter(); err != nil {
		return Status{}, err
	}
	name := statusNameByID(s.domainIDs(domain), id)
	if name == "" {
		return Status{}, ErrStatusNotFound
	}
	return Status{ID: id, Name: name, Domain: domain}, nil
}

func (s *memorySource) FindAdjustmentType(_ context.Context, id int64) (AdjustmentType, error) {
	if err := s.enter(); err != nil {
		return AdjustmentType{}, err
	}
	t, ok := s.types[id]
	if !ok {
		return AdjustmentType{}, ErrAdjustmentTypeNotFound
	}
	return t, nil
}

func (s *memorySource) FindAdjustmentTypeByName(_ context.Context, name string) (AdjustmentType, error) {
	if err := s.enter(); err != nil {
		return AdjustmentType{}, err
	}
	for _, t := range s.types {
		if t.Name == name {
			return t, nil
		}
	}
	return AdjustmentType{}, ErrAdjustmentTypeNotFound
}

func (s *memorySource) FindActionType(_ context.Context, name string) (ActionType, error) {
	if err := s.enter(); err != nil {
		return ActionType{}, err
	}
	t, ok := s.actions[name]
	if !ok {
		return ActionType{}, ErrActionTypeNotFound
	}
	return t, nil
}

type memoryState struct {
	lots        map[uuid.UUID]Lot
	warehouses  map[WarehouseKey]WarehouseInventory
	items       map[int64]InventoryItem
	adjustments []LotAdjustment
	activities  []ActivityLog
	history     []HistoryLog
	keys        map[string]bool
	nextItemID  int64
	nextSeq     int64
}

func (s memoryState) clone() memoryState {
	out := s
	out.lots = make(map[uuid.UUID]Lot, len(s.lots))
	for k, v := range s.lots {
		out.lots[k] = v
	}
	out.warehouses = make(map[WarehouseKey]WarehouseInventory, len(s.warehouses))
	for k, v := range s.warehouses {
		out.warehouses[k] = v
	}
	out.items = make(map[int64]InventoryItem, len(s.items))
	for k, v := range s.items {
		out.items[k] = v
	}
	out.keys = make(map[string]bool, len(s.keys))
	for k, v := range s.keys {
		out.keys[k] = v
	}
	out.adjustments = append([]LotAdjustment(nil), s.adjustments...)
	out.activities = append([]ActivityLog(nil), s.activities...)
	out.history = append([]HistoryLog(nil), s.history...)
	return out
}

// memoryRepo is a single-writer stand-in for PostgreSQL. A failed callback
// restores the snapshot taken when the transaction began.
type memoryRepo struct {
	mu               sync.Mutex
	state            memoryState
	activeWarehouses map[int64]bool
	locks            []string
	failAuditFlush   error
	transactions     int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: memoryState{
			lots:       make(map[uuid.UUID]Lot),
			warehouses: make(map[WarehouseKey]WarehouseInventory),
			items:      make(map[int64]InventoryItem),
			keys:       make(map[string]bool),
		},
		activeWarehouses: map[int64]bool{1: true, 2: true, 3: true},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions++
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) ListAllocationCandidates(_ context.Context, req AllocationRequest, inStockID int64) ([]Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Lot
	for _, lot := range r.sortedLots() {
		item := r.state.items[lot.InventoryID]
		if lot.InventoryID != req.InventoryID || lot.WarehouseID != req.WarehouseID || lot.StatusID != inStockID {
			continue
		}
		if lot.Unreserved() < req.Quantity || !item.IsActive || !r.activeWarehouses[lot.WarehouseID] {
			continue
		}
		out = append(out, lot)
	}
	return out, nil
}

func (r *memoryRepo) ListHistoryLogs(_ context.Context, afterSeq int64, limit int) ([]HistoryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryLog
	for _, h := range r.state.history {
		if h.Seq > afterSeq && len(out) < limit {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryRepo) sortedLots() []Lot {
	out := make([]Lot, 0, len(r.state.lots))
	for _, lot := range r.state.lots {
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].ID, out[j].ID) })
	return out
}

func (tx *memoryTx) lock(kind string, key any, forUpdate bool) {
	if forUpdate {
		tx.repo.locks = append(tx.repo.locks, fmt.Sprintf("%s:%v", kind, key))
	}
}

func (tx *memoryTx) GetLot(_ context.Context, id uuid.UUID, forUpdate bool) (Lot, error) {
	lot, ok := tx.repo.state.lots[id]
	if !ok {
		return Lot{}, ErrLotNotFound
	}
	tx.lock("lot", id, forUpdate)
	return lot, nil
}

func (tx *memoryTx) ApplyLotDelta(_ context.Context, id uuid.UUID, quantityDelta, reservedDelta int64, statusID *int64) (Lot, error) {
	lot, ok := tx.repo.state.lots[id]
	if !ok {
		return Lot{}, ErrLotNotFound
	}
	if lot.Quantity+quantityDelta < 0 || lot.ReservedQuantity+reservedDelta < 0 {
		return Lot{}, ErrNegativeStock
	}
	lot.Quantity += quantityDelta
	lot.ReservedQuantity += reservedDelta
	if statusID != nil {
		lot.StatusID = *statusID
		lot.Status = statusNameByID(lotStatusIDs, *statusID)
	}
	lot.UpdatedAt = time.Now()
	tx.repo.state.lots[id] = lot
	return lot, nil
}

func (tx *memoryTx) InsertLot(_ context.Context, lot Lot, _ int64) (Lot, bool, error) {
	for _, existing := range tx.repo.state.lots {
		if existing.Key() == lot.Key() && existing.LotNumber == lot.LotNumber {
			return Lot{}, false, nil
		}
	}
	lot.Status = statusNameByID(lotStatusIDs, lot.StatusID)
	lot.UpdatedAt = time.Now()
	tx.repo.state.lots[lot.ID] = lot
	return lot, true, nil
}

func (tx *memoryTx) SumLots(_ context.Context, key WarehouseKey) (int64, int64, error) {
	var quantity, reserved int64
	for _, lot := range tx.repo.state.lots {
		if lot.Key() == key {
			quantity += lot.Quantity
			reserved += lot.ReservedQuantity
		}
	}
	return quantity, reserved, nil
}

func (tx *memoryTx) LockExpiredLots(_ context.Context, asOf time.Time, statusIDs []int64, limit int) ([]Lot, error) {
	var out []Lot
	for _, lot := range tx.repo.sortedLots() {
		if lot.ExpiryDate == nil || !lot.ExpiryDate.Before(asOf) {
			continue
		}
		eligible := false
		for _, id := range statusIDs {
			eligible = eligible || lot.StatusID == id
		}
		if eligible && len(out) < limit {
			tx.lock("lot", lot.ID, true)
			out = append(out, lot)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetWarehouseInventory(_ context.Context, key WarehouseKey, forUpdate bool) (WarehouseInventory, error) {
	wi, ok := tx.repo.state.warehouses[key]
	if !ok {
		return WarehouseInventory{}, ErrWarehouseInventoryNotFound
	}
	tx.lock("warehouse", fmt.Sprintf("%d/%d", key.WarehouseID, key.InventoryID), forUpdate)
	return wi, nil
}

func (tx *memoryTx) EnsureWarehouseInventory(_ context.Context, wi WarehouseInventory) error {
	if _, ok := tx.repo.activeWarehouses[wi.WarehouseID]; !ok {
		return ErrWarehouseNotFound
	}
	if _, ok := tx.repo.state.warehouses[wi.Key()]; ok {
		return nil
	}
	wi.Status = statusNameByID(aggregateStatusIDs, wi.StatusID)
	tx.repo.state.warehouses[wi.Key()] = wi
	return nil
}

func (tx *memoryTx) ApplyWarehouseDelta(_ context.Context, key WarehouseKey, availableDelta, reservedDelta int64, statusID *int64) (WarehouseInventory, error) {
	wi, ok := tx.repo.state.warehouses[key]
	if !ok {
		return WarehouseInventory{}, ErrWarehouseInventoryNotFound
	}
	if wi.AvailableQuantity+availableDelta < 0 || wi.ReservedQuantity+reservedDelta < 0 {
		return WarehouseInventory{}, ErrNegativeAvailable
	}
	wi.AvailableQuantity += availableDelta
	wi.ReservedQuantity += reservedDelta
	if statusID != nil {
		wi.StatusID = *statusID
		wi.Status = statusNameByID(aggregateStatusIDs, *statusID)
	}
	wi.LastUpdate = time.Now()
	tx.repo.state.warehouses[key] = wi
	return wi, nil
}

func (tx *memoryTx) SumWarehouses(_ context.Context, inventoryID int64) (int64, int64, error) {
	var available, reserved int64
	for key, wi := range tx.repo.state.warehouses {
		if key.InventoryID == inventoryID {
			available += wi.AvailableQuantity
			reserved += wi.ReservedQuantity
		}
	}
	return available, reserved, nil
}

func (tx *memoryTx) GetInventoryItem(_ context.Context, id int64, forUpdate bool) (InventoryItem, error) {
	item, ok := tx.repo.state.items[id]
	if !ok {
		return InventoryItem{}, ErrItemNotFound
	}
	tx.lock("item", id, forUpdate)
	return item, nil
}

func (tx *memoryTx) EnsureInventoryItem(_ context.Context, ref ItemRef, statusID int64) (InventoryItem, error) {
	if !ref.Valid() {
		return InventoryItem{}, ErrInvalidItemRef
	}
	for _, item := range tx.repo.state.items {
		if (ref.ProductRef != nil && item.ProductRef != nil && *item.ProductRef == *ref.ProductRef) ||
			(ref.Identifier != "" && item.Identifier == ref.Identifier) {
			return item, nil
		}
	}
	return tx.repo.addItem(ref, statusID), nil
}

func (r *memoryRepo) addItem(ref ItemRef, statusID int64) InventoryItem {
	r.state.nextItemID++
	item := InventoryItem{
		ID:         r.state.nextItemID,
		Kind:       ref.Kind(),
		ProductRef: ref.ProductRef,
		Identifier: ref.Identifier,
		StatusID:   statusID,
		Status:     statusNameByID(aggregateStatusIDs, statusID),
		IsActive:   true,
	}
	r.state.items[item.ID] = item
	return item
}

func (tx *memoryTx) SetItemStatus(_ context.Context, id int64, statusID int64) (InventoryItem, error) {
	item, ok := tx.repo.state.items[id]
	if !ok {
		return InventoryItem{}, ErrItemNotFound
	}
	item.StatusID = statusID
	item.Status = statusNameByID(aggregateStatusIDs, statusID)
	tx.repo.state.items[id] = item
	return item, nil
}

func (tx *memoryTx) InsertLotAdjustments(_ context.Context, rows []LotAdjustment) (int64, error) {
	if tx.repo.failAuditFlush != nil {
		return 0, tx.repo.failAuditFlush
	}
	tx.repo.state.adjustments = append(tx.repo.state.adjustments, rows...)
	return int64(len(rows)), nil
}

func (tx *memoryTx) InsertActivityLogs(_ context.Context, rows []ActivityLog) (int64, error) {
	if tx.repo.failAuditFlush != nil {
		return 0, tx.repo.failAuditFlush
	}
	tx.repo.state.activities = append(tx.repo.state.activities, rows...)
	return int64(len(rows)), nil
}

func (tx *memoryTx) InsertHistoryLogs(_ context.Context, rows []HistoryLog) (int64, error) {
	if tx.repo.failAuditFlush != nil {
		return 0, tx.repo.failAuditFlush
	}
	for _, row := range rows {
		tx.repo.state.nextSeq++
		row.Seq = tx.repo.state.nextSeq
		tx.repo.state.history = append(tx.repo.state.history, row)
	}
	return int64(len(rows)), nil
}

func (tx *memoryTx) ClaimBatchKey(_ context.Context, scope, key string) error {
	k := scope + ":" + key
	if tx.repo.state.keys[k] {
		return ErrDuplicateBatch
	}
	tx.repo.state.keys[k] = true
	return nil
}

// seedLot stocks a lot directly, keeping the aggregates consistent with it.
func (r *memoryRepo) seedLot(t *testing.T, warehouseID int64, identifier, number string, quantity, reserved int64, status StatusName) Lot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var item InventoryItem
	for _, it := range r.state.items {
		if it.Identifier == identifier {
			item = it
		}
	}
	if item.ID == 0 {
		item = r.addItem(ItemRef{Identifier: identifier}, aggregateStatusIDs[StatusOutOfStock])
	}
	lot := Lot{
		ID:               uuid.New(),
		WarehouseID:      warehouseID,
		InventoryID:      item.ID,
		LotNumber:        number,
		Quantity:         quantity,
		ReservedQuantity: reserved,
		StatusID:         lotStatusIDs[status],
		Status:           status,
		InboundDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NotZero(t, lot.StatusID, "unknown lot status %s", status)
	r.state.lots[lot.ID] = lot

	wi, ok := r.state.warehouses[lot.Key()]
	if !ok {
		wi = WarehouseInventory{WarehouseID: warehouseID, InventoryID: item.ID, Fee: decimal.Zero}
	}
	wi.AvailableQuantity += quantity - reserved
	wi.ReservedQuantity += reserved
	whStatus := deriveAggregateStatus(wi.AvailableQuantity, wi.ReservedQuantity)
	wi.Status, wi.StatusID = whStatus, aggregateStatusIDs[whStatus]
	r.state.warehouses[lot.Key()] = wi

	var available, reservedAll int64
	for key, w := range r.state.warehouses {
		if key.InventoryID == item.ID {
			available += w.AvailableQuantity
			reservedAll += w.ReservedQuantity
		}
	}
	itemStatus := deriveAggregateStatus(available, reservedAll)
	item.Status, item.StatusID = itemStatus, aggregateStatusIDs[itemStatus]
	r.state.items[item.ID] = item
	return lot
}

func (r *memoryRepo) lot(id uuid.UUID) Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.lots[id]
}

func (r *memoryRepo) warehouse(key WarehouseKey) WarehouseInventory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.warehouses[key]
}

func (r *memoryRepo) item(id int64) InventoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.items[id]
}

func (r *memoryRepo) setLot(lot Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.lots[lot.ID] = lot
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func testMemo() MemoOptions {
	return MemoOptions{Retry: fastRetry()}
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *memoryRepo, *memorySource) {
	t.Helper()
	repo := newMemoryRepo()
	src := newMemorySource()
	svc := NewService(repo, NewStatusResolver(src, testMemo(), nil), NewCatalog(src, testMemo(), nil), cfg, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC) }
	return svc, repo, src
}
