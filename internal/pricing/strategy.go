package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

const pricePlaces = 2

var hundred = decimal.NewFromInt(100)

// Strategy turns a base unit price and one promotion detail into a
// promotional unit price.
type Strategy interface {
	UnitPrice(base decimal.Decimal, detail models.PromotionDetail) (decimal.Decimal, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(base decimal.Decimal, detail models.PromotionDetail) (decimal.Decimal, error)

func (f StrategyFunc) UnitPrice(base decimal.Decimal, detail models.PromotionDetail) (decimal.Decimal, error) {
	return f(base, detail)
}

// PercentStrategy applies base * (1 - discount/100), never below zero.
type PercentStrategy struct{}

func (PercentStrategy) UnitPrice(base decimal.Decimal, detail models.PromotionDetail) (decimal.Decimal, error) {
	if detail.Discount == nil {
		return decimal.Zero, fmt.Errorf("percent detail %s has no discount", detail.ID)
	}
	discount := *detail.Discount
	if discount.IsNegative() || discount.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("percent detail %s discount %s out of range", detail.ID, discount)
	}
	price := base.Mul(decimal.NewFromInt(1).Sub(discount.Div(hundred)))
	return clamp(price), nil
}

// SubtractStrategy prices "buy base_amount, get add_amount extra" as the
// blended unit price base * base_amount / (base_amount + add_amount).
// Confirm the formula with the business owner before relying on it for
// anything other than display; swap it with WithStrategy if it changes.
type SubtractStrategy struct{}

func (SubtractStrategy) UnitPrice(base decimal.Decimal, detail models.PromotionDetail) (decimal.Decimal, error) {
	if detail.BaseAmount == nil || detail.AddAmount == nil {
		return decimal.Zero, fmt.Errorf("subtract detail %s missing base_amount or add_amount", detail.ID)
	}
	paid, free := *detail.BaseAmount, *detail.AddAmount
	if !paid.IsPositive() || !free.IsPositive() {
		return decimal.Zero, fmt.Errorf("subtract detail %s amounts must be positive", detail.ID)
	}
	price := base.Mul(paid).Div(paid.Add(free))
	return clamp(price), nil
}

func clamp(price decimal.Decimal) decimal.Decimal {
	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(pricePlaces)
}

func defaultStrategies() map[enums.PromotionType]Strategy {
	return map[enums.PromotionType]Strategy{
		enums.PromotionTypePercent:  PercentStrategy{},
		enums.PromotionTypeSubtract: SubtractStrategy{},
	}
}
