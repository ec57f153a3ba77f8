package inventory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleHistory() HistoryLog {
	row := HistoryLog{
		ID:               uuid.New(),
		InventoryID:      4,
		WarehouseID:      2,
		LotID:            uuid.MustParse("6f1c2d3e-4b5a-4c6d-8e7f-901a2b3c4d5e"),
		ActionTypeID:     1,
		PreviousQuantity: 10,
		QuantityChange:   -3,
		NewQuantity:      7,
		StatusID:         1,
		RecordedBy:       9,
		RecordedAt:       time.Date(2026, 2, 3, 4, 5, 6, 789000, time.UTC),
		Comments:         "cycle count",
	}
	seal(&row)
	return row
}

func TestHistoryChecksumRoundTrip(t *testing.T) {
	row := sampleHistory()
	require.Len(t, row.Checksum, 64)
	require.True(t, VerifyHistoryRow(row))

	// seq and id are storage details outside the checksum
	row.Seq = 99
	row.ID = uuid.New()
	require.True(t, VerifyHistoryRow(row))

	// same instant in another zone
	row.RecordedAt = row.RecordedAt.In(time.FixedZone("WIB", 7*3600))
	require.True(t, VerifyHistoryRow(row))
}

func TestHistoryChecksumDetectsMutation(t *testing.T) {
	mutations := map[string]func(*HistoryLog){
		"inventory":   func(h *HistoryLog) { h.InventoryID++ },
		"warehouse":   func(h *HistoryLog) { h.WarehouseID++ },
		"lot":         func(h *HistoryLog) { h.LotID = uuid.New() },
		"action":      func(h *HistoryLog) { h.ActionTypeID++ },
		"previous":    func(h *HistoryLog) { h.PreviousQuantity++ },
		"change":      func(h *HistoryLog) { h.QuantityChange++ },
		"new":         func(h *HistoryLog) { h.NewQuantity++ },
		"status":      func(h *HistoryLog) { h.StatusID++ },
		"actor":       func(h *HistoryLog) { h.RecordedBy++ },
		"recorded at": func(h *HistoryLog) { h.RecordedAt = h.RecordedAt.Add(time.Microsecond) },
		"comments":    func(h *HistoryLog) { h.Comments += "!" },
		"salt":        func(h *HistoryLog) { h.Salt = uuid.NewString() },
		"checksum":    func(h *HistoryLog) { h.Checksum = HistoryChecksum(sampleHistory()) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			row := sampleHistory()
			mutate(&row)
			require.False(t, VerifyHistoryRow(row))
		})
	}
}

func TestHistoryChecksumSaltSeparatesIdenticalRows(t *testing.T) {
	a, b := sampleHistory(), sampleHistory()
	require.NotEqual(t, a.Salt, b.Salt)
	require.NotEqual(t, a.Checksum, b.Checksum)
}
