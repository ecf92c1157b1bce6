package model

import (
	"testing"
	"time"

	"movementflow/internal/flow"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestItemNormalize(t *testing.T) {
	tests := []struct {
		name      string
		item      Item
		index     int
		wantSeq   int
		wantDiff  string
		wantDest  string
		wantTotal string
	}{
		{
			name:      "difference inferred from destination",
			item:      Item{SourceQty: dec("10"), DestinationQty: dec("7"), UnitCost: dec("2.5")},
			index:     0,
			wantSeq:   1,
			wantDiff:  "3",
			wantDest:  "7",
			wantTotal: "7.5",
		},
		{
			name:      "supplied difference wins over destination",
			item:      Item{Sequence: 4, SourceQty: dec("10"), DestinationQty: dec("1"), Difference: dec("-2"), UnitCost: dec("1.005")},
			index:     2,
			wantSeq:   4,
			wantDiff:  "-2",
			wantDest:  "12",
			wantTotal: "2.01",
		},
		{
			name:      "missing destination defaults to source",
			item:      Item{Sequence: -1, SourceQty: dec("5"), UnitCost: dec("3")},
			index:     3,
			wantSeq:   4,
			wantDiff:  "0",
			wantDest:  "5",
			wantTotal: "0",
		},
		{
			name:      "half rounds away from zero",
			item:      Item{SourceQty: dec("1"), Difference: dec("1"), UnitCost: dec("0.125")},
			wantSeq:   1,
			wantDiff:  "1",
			wantDest:  "0",
			wantTotal: "0.13",
		},
		{
			name:      "nil quantities and cost",
			item:      Item{Difference: dec("4")},
			wantSeq:   1,
			wantDiff:  "4",
			wantDest:  "-4",
			wantTotal: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := tt.item
			it.Normalize(tt.index)

			assert.Equal(t, tt.wantSeq, it.Sequence)
			require.True(t, it.Difference.Valid)
			assert.True(t, decimal.RequireFromString(tt.wantDiff).Equal(it.Difference.Decimal), "diff %s", it.Difference.Decimal)
			assert.True(t, decimal.RequireFromString(tt.wantDest).Equal(it.DestinationQty.Decimal), "dest %s", it.DestinationQty.Decimal)
			assert.True(t, decimal.RequireFromString(tt.wantTotal).Equal(it.Total.Decimal), "total %s", it.Total.Decimal)
		})
	}
}

func TestItemValidate(t *testing.T) {
	base := Item{Sequence: 1, PartNumber: "P-1", Description: "bolt"}

	ok := base
	ok.SourceStatus, ok.DestinationStatus, ok.Currency = "y", "h", "usd"
	ok.Normalize(0)
	assert.NoError(t, ok.Validate())

	bad := []func(*Item){
		func(i *Item) { i.PartNumber = " " },
		func(i *Item) { i.Description = "" },
		func(i *Item) { i.SourceStatus = "X" },
		func(i *Item) { i.DestinationStatus = "Q" },
		func(i *Item) { i.Currency = "EUR" },
	}
	for _, mutate := range bad {
		it := base
		mutate(&it)
		assert.ErrorIs(t, it.Validate(), ErrInvalidItem)
	}
}

func TestNormalizeItems(t *testing.T) {
	assert.ErrorIs(t, NormalizeItems(nil), ErrInvalidItem)

	items := []Item{
		{PartNumber: "A", Description: "a"},
		{PartNumber: "B", Description: "b"},
	}
	require.NoError(t, NormalizeItems(items))
	assert.Equal(t, 1, items[0].Sequence)
	assert.Equal(t, 2, items[1].Sequence)

	dup := []Item{
		{Sequence: 2, PartNumber: "A", Description: "a"},
		{PartNumber: "B", Description: "b"},
	}
	assert.ErrorIs(t, NormalizeItems(dup), ErrInvalidItem)
}

func TestRequestSubject(t *testing.T) {
	r := Request{
		MovementTypes: []string{"fdo", "bogus", "FDO"},
		Items:         []Item{{SourceClass: "112"}, {SourceClass: "999"}},
	}
	s := r.Subject()
	assert.Equal(t, []flow.MovementType{flow.MovementFDO}, s.MovementTypes)
	assert.Equal(t, []string{"112", "999"}, s.SourceClasses)
}

func TestApprovalRecordRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := flow.NewRecord(flow.Eligibility{MC: false, FIN: true}, at)
	_, err := rec.Approve(flow.StageMNG, "Ana", at, "fine")
	require.NoError(t, err)

	var a ApprovalRecord
	a.Apply(rec)

	assert.Equal(t, "Ana", a.Mng.Responsible)
	assert.Equal(t, flow.StatusApproved, a.Mng.Status)
	assert.Equal(t, flow.SystemActor, a.Mc.Responsible)
	assert.Equal(t, flow.StatusPending, a.FinJpn.Status)

	back := a.ToRecord(rec.RequestStatus)
	assert.Equal(t, *rec, *back)

	cols := a.Columns()
	assert.Equal(t, flow.StatusApproved, cols["mng_status"])
	assert.Equal(t, "fine", cols["mng_comment"])
	assert.Equal(t, "finjpn_decided_at", StageColumn(flow.StageFINJPN, "decided_at"))
	assert.Len(t, cols, flow.StageCount*4)
}
