package inventory

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// HistoryChecksum hashes the canonical form of a history row. The field set
// covers everything a reader would rely on; Seq and Checksum are excluded.
func HistoryChecksum(row HistoryLog) string {
	fields := map[string]string{
		"inventory_id":      formatInt(row.InventoryID),
		"warehouse_id":      formatInt(row.WarehouseID),
		"lot_id":            lotString(row.LotID),
		"action_type_id":    formatInt(row.ActionTypeID),
		"previous_quantity": formatInt(row.PreviousQuantity),
		"quantity_change":   formatInt(row.QuantityChange),
		"new_quantity":      formatInt(row.NewQuantity),
		"status_id":         formatInt(row.StatusID),
		"recorded_by":       formatInt(row.RecordedBy),
		"recorded_at":       row.RecordedAt.UTC().Format(time.RFC3339Nano),
		"comments":          row.Comments,
		"salt":              row.Salt,
	}
	// map keys marshal in sorted order
	payload, _ := json.Marshal(fields)
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyHistoryRow reports whether the stored checksum matches the row.
func VerifyHistoryRow(row HistoryLog) bool {
	expected := HistoryChecksum(row)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(row.Checksum)) == 1
}

// seal stamps a fresh salt and the matching checksum.
func seal(row *HistoryLog) {
	row.Salt = uuid.NewString()
	row.Checksum = HistoryChecksum(*row)
}

func lotString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
