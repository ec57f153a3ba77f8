package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-inventory/internal/app"
	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/migrations"
)

const seedActorID = 1

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	fmt.Println("→ Seeding reference data...")
	if err := seedReference(ctx, pool); err != nil {
		log.Fatalf("seed reference data: %v", err)
	}

	fmt.Println("→ Seeding warehouses...")
	if err := seedWarehouses(ctx, pool); err != nil {
		log.Fatalf("seed warehouses: %v", err)
	}

	if getenv("SEED_DEMO_LOTS", "1") == "1" {
		fmt.Println("→ Stocking demo lots...")
		if err := seedDemoLots(ctx, cfg, pool); err != nil {
			log.Fatalf("seed demo lots: %v", err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedReference(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	lotStatuses := []inventory.StatusName{
		inventory.StatusInStock,
		inventory.StatusOutOfStock,
		inventory.StatusExpired,
		inventory.StatusShipped,
		inventory.StatusSoldOut,
	}
	for _, name := range lotStatuses {
		if _, err := tx.Exec(ctx, `INSERT INTO warehouse_lot_status (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, string(name)); err != nil {
			return err
		}
	}
	for _, name := range []inventory.StatusName{inventory.StatusInStock, inventory.StatusOutOfStock} {
		if _, err := tx.Exec(ctx, `INSERT INTO status (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, string(name)); err != nil {
			return err
		}
	}

	actions := []string{
		inventory.ActionManualAdjustment,
		inventory.ActionManualStockInsert,
		inventory.ActionLotExpiry,
	}
	for _, name := range actions {
		if _, err := tx.Exec(ctx, `INSERT INTO inventory_action_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return err
		}
	}

	adjustments := []struct {
		name   string
		action string
	}{
		{inventory.AdjustmentDamaged, inventory.ActionManualAdjustment},
		{inventory.AdjustmentLost, inventory.ActionManualAdjustment},
		{inventory.AdjustmentDefective, inventory.ActionManualAdjustment},
		{inventory.AdjustmentExpired, inventory.ActionManualAdjustment},
		{inventory.AdjustmentStolen, inventory.ActionManualAdjustment},
		{inventory.AdjustmentRecalled, inventory.ActionManualAdjustment},
		{inventory.AdjustmentAdjustment, inventory.ActionManualAdjustment},
		{inventory.AdjustmentReclassified, inventory.ActionManualAdjustment},
		{inventory.AdjustmentConversion, inventory.ActionManualAdjustment},
		{inventory.AdjustmentManualStockInsert, inventory.ActionManualStockInsert},
		{inventory.AdjustmentManualStockUpdate, inventory.ActionManualAdjustment},
	}
	for _, a := range adjustments {
		_, err := tx.Exec(ctx, `
			INSERT INTO lot_adjustment_types (name, is_active, inventory_action_type_id)
			SELECT $1, TRUE, t.id FROM inventory_action_types t WHERE t.name = $2
			ON CONFLICT (name) DO NOTHING`, a.name, a.action)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func seedWarehouses(ctx context.Context, pool *pgxpool.Pool) error {
	warehouses := []struct {
		code string
		name string
	}{
		{"WH-JKT-01", "Gudang Jakarta Pusat"},
		{"WH-SBY-01", "Gudang Surabaya"},
	}
	batch := &pgx.Batch{}
	for _, w := range warehouses {
		batch.Queue(`INSERT INTO warehouses (code, name, is_active) VALUES ($1, $2, TRUE) ON CONFLICT (code) DO NOTHING`, w.code, w.name)
	}
	return pool.SendBatch(ctx, batch).Close()
}

// seedDemoLots stocks two lots through the engine so the audit tables carry
// real rows. Reruns skip the existing lots.
func seedDemoLots(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool) error {
	var warehouseID int64
	if err := pool.QueryRow(ctx, `SELECT id FROM warehouses WHERE code = 'WH-JKT-01'`).Scan(&warehouseID); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	service := app.NewInventoryService(cfg, logger, pool, nil, prometheus.NewRegistry())

	item := inventory.ItemRef{Identifier: "DEMO-SKU-001"}
	inbound := time.Now().UTC().Truncate(24 * time.Hour)
	expiry := inbound.AddDate(0, 6, 0)
	fee := decimal.RequireFromString("12500.00")
	lots, err := service.InsertLots(ctx, inventory.InsertLotsInput{
		ActorID:        seedActorID,
		IdempotencyKey: "seed:demo-lots:" + inbound.Format("2006-01-02"),
		Records: []inventory.LotInsertRecord{
			{WarehouseID: warehouseID, Item: item, LotNumber: "DEMO-LOT-A", Quantity: 120, Fee: &fee, InboundDate: inbound, ExpiryDate: &expiry},
			{WarehouseID: warehouseID, Item: item, LotNumber: "DEMO-LOT-B", Quantity: 40, Fee: &fee, InboundDate: inbound.AddDate(0, 0, -14)},
		},
	})
	if errors.Is(err, inventory.ErrDuplicateBatch) {
		fmt.Println("  demo lots already stocked today")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("  stocked %d lots\n", len(lots))
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
