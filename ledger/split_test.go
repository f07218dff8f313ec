package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monark/workshop/ledger"
)

func amt(s string) ledger.Amount { return ledger.MustParseAmount(s) }

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name                             string
		labor                            string
		percent                          int
		parts                            string
		mechanic, shopLabor, shop, total string
	}{
		{"typical", "100.00", 80, "50.00", "80.00", "20.00", "70.00", "150.00"},
		{"zero percent", "100.00", 0, "0", "0.00", "100.00", "100.00", "100.00"},
		{"full percent", "100.00", 100, "0", "100.00", "0.00", "0.00", "100.00"},
		{"full percent keeps parts in shop", "100.00", 100, "35.90", "100.00", "0.00", "35.90", "135.90"},
		{"rounds mechanic half away from zero", "0.05", 50, "0", "0.03", "0.02", "0.02", "0.05"},
		{"remainder goes to shop", "99.99", 33, "0", "33.00", "66.99", "66.99", "99.99"},
		{"parts with many lines", "0", 50, "12.345", "0.00", "0.00", "12.35", "12.35"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ledger.ComputeSplit(amt(tt.labor), tt.percent, amt(tt.parts))
			require.NoError(t, err)
			assert.Equal(t, tt.mechanic, s.MechanicShare.String())
			assert.Equal(t, tt.shopLabor, s.ShopLaborShare.String())
			assert.Equal(t, tt.shop, s.ShopTotalShare.String())
			assert.Equal(t, tt.total, s.Total.String())
		})
	}
}

func TestComputeSplit_SharesAlwaysAddUpToTotal(t *testing.T) {
	// GIVEN: a spread of labor prices, percentages and parts values
	// THEN: mechanic + shop == total, to the cent, every time

	labors := []string{"0", "0.01", "1.11", "33.33", "99.99", "100.00", "1234.57"}
	parts := []string{"0", "0.01", "19.90", "250.00"}
	for _, l := range labors {
		for _, v := range parts {
			for p := 0; p <= 100; p += 7 {
				s, err := ledger.ComputeSplit(amt(l), p, amt(v))
				require.NoError(t, err)
				assert.True(t, s.MechanicShare.Add(s.ShopTotalShare).Equal(s.Total),
					"L=%s P=%d V=%s: %s + %s != %s", l, p, v, s.MechanicShare, s.ShopTotalShare, s.Total)
				assert.True(t, s.ShopLaborShare.Add(s.ShopPartsShare).Equal(s.ShopTotalShare))
				assert.False(t, s.MechanicShare.IsNegative())
				assert.False(t, s.ShopLaborShare.IsNegative())
			}
		}
	}
}

func TestComputeSplit_RejectsBadInput(t *testing.T) {
	_, err := ledger.ComputeSplit(amt("-1"), 50, ledger.Zero())
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.ComputeSplit(amt("10"), 101, ledger.Zero())
	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mechanic_percent", verr.Field)

	_, err = ledger.ComputeSplit(amt("10"), -1, ledger.Zero())
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.ComputeSplit(amt("10"), 10, amt("-0.01"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSnapshot_CopiesOrderAndSplit(t *testing.T) {
	mech := ledger.MechanicID(3)
	o := &ledger.Order{
		ID:              9,
		ClientName:      "Ana",
		MechanicID:      &mech,
		LaborPrice:      amt("100"),
		MechanicPercent: 80,
		Status:          ledger.StatusCompleted,
		Parts: []ledger.PartLine{
			{PartID: "1", Description: "Chain", UnitPrice: amt("25.00"), Quantity: 2},
		},
	}

	snap, err := ledger.Snapshot(o, "Bruno")
	require.NoError(t, err)

	// Mutating the order afterwards must not leak into the snapshot.
	o.Parts[0].Quantity = 10
	*o.MechanicID = 4

	assert.Equal(t, "Bruno", snap.MechanicName)
	assert.Equal(t, 2, snap.Parts[0].Quantity)
	assert.Equal(t, ledger.MechanicID(3), *snap.MechanicID)
	assert.Equal(t, "50.00", snap.PartsValue.String())
	assert.Equal(t, "80.00", snap.MechanicShare.String())
	assert.Equal(t, "70.00", snap.ShopTotalShare.String())
	assert.Equal(t, "150.00", snap.Total.String())
}
