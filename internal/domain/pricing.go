package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for monetary amounts.
const MoneyPlaces = 2

// LinePricing is the derived pricing for one order line.
type LinePricing struct {
	UnitPrice decimal.Decimal
	Quantity  int
	Subtotal  decimal.Decimal
}

// Round2 rounds half-up to two decimal places. Amounts handled here are never negative, so
// decimal's half-away-from-zero rounding is equivalent.
func Round2(value decimal.Decimal) decimal.Decimal {
	return value.Round(MoneyPlaces)
}

// PriceLine derives unit price, quantity and subtotal from purchasing terms.
func PriceLine(purchasePrice decimal.Decimal, setSize, setCount int) (LinePricing, error) {
	if setSize <= 0 {
		return LinePricing{}, fmt.Errorf("set size must be positive (got %d)", setSize)
	}
	if setCount <= 0 {
		return LinePricing{}, fmt.Errorf("set count must be positive (got %d)", setCount)
	}
	if setCount > math.MaxInt/setSize {
		return LinePricing{}, fmt.Errorf("set count %d overflows quantity for set size %d", setCount, setSize)
	}
	if purchasePrice.IsNegative() {
		return LinePricing{}, errors.New("purchase price must not be negative")
	}

	unitPrice := Round2(purchasePrice.Div(decimal.NewFromInt(int64(setSize))))
	quantity := setCount * setSize
	subtotal := Round2(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))

	return LinePricing{
		UnitPrice: unitPrice,
		Quantity:  quantity,
		Subtotal:  subtotal,
	}, nil
}

// CheckLot reports whether setCount satisfies the minimum lot multiple. A non-positive
// minLot disables the check.
func CheckLot(setCount, minLot int) error {
	if minLot <= 0 {
		return nil
	}
	if setCount%minLot != 0 {
		return fmt.Errorf("setCount must be a multiple of minLot %d (got %d)", minLot, setCount)
	}
	return nil
}
