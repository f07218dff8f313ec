package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Split is the division of an order's value between mechanic and shop.
//
// The mechanic percentage applies to labor only; the shop always keeps the
// full parts value. All fields are rounded to CurrencyPlaces and
// MechanicShare + ShopTotalShare == Total exactly.
type Split struct {
	MechanicShare  Amount
	ShopLaborShare Amount
	ShopPartsShare Amount
	ShopTotalShare Amount
	Total          Amount
}

// ComputeSplit derives the split for labor price L, mechanic percentage P and
// parts value V. Rounding is applied once, to the mechanic share and to the
// inputs' totals; the shop's labor share is the exact remainder so nothing
// leaks between the two parties.
func ComputeSplit(labor Amount, percent int, partsValue Amount) (Split, error) {
	if err := validateLabor(labor); err != nil {
		return Split{}, err
	}
	if err := validatePercent(percent); err != nil {
		return Split{}, err
	}
	if partsValue.IsNegative() {
		return Split{}, &ValidationError{Field: "parts", Message: "parts value must not be negative"}
	}

	laborTotal := labor.Round()
	mechanic := labor.Mul(decimal.NewFromInt(int64(percent))).Div(hundred).Round()
	shopLabor := laborTotal.Sub(mechanic)
	shopParts := partsValue.Round()

	return Split{
		MechanicShare:  mechanic,
		ShopLaborShare: shopLabor,
		ShopPartsShare: shopParts,
		ShopTotalShare: shopLabor.Add(shopParts),
		Total:          laborTotal.Add(shopParts),
	}, nil
}

func validateLabor(labor Amount) error {
	if labor.IsNegative() {
		return &ValidationError{Field: "labor_price", Message: "labor price must not be negative"}
	}
	return nil
}

func validatePercent(percent int) error {
	if percent < 0 || percent > 100 {
		return &ValidationError{Field: "mechanic_percent", Message: "percentage must be between 0 and 100"}
	}
	return nil
}
