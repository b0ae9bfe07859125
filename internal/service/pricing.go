package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store"
)

var minimumWeightKg = decimal.NewFromInt(1)

type NewOrderItem struct {
	ItemType string
	Quantity int
}

// quote prices an order by weight or by items depending on the service type.
func (service *service) quote(ctx context.Context, serviceType string, weight decimal.NullDecimal, items []NewOrderItem) (decimal.Decimal, []model.OrderItem, error) {
	st, err := service.store.ServiceTypeGet(ctx, serviceType)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return decimal.Zero, nil, fmt.Errorf("%w: unknown service type %q", model.ErrValidation, serviceType)
		}
		return decimal.Zero, nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}

	if !st.ByItem {
		if !weight.Valid || !weight.Decimal.IsPositive() {
			return decimal.Zero, nil, fmt.Errorf("%w: weight_kg is required for %s", model.ErrValidation, st.Code)
		}
		if len(items) > 0 {
			return decimal.Zero, nil, fmt.Errorf("%w: %s is priced by weight, items are not accepted", model.ErrValidation, st.Code)
		}
		kg := decimal.Max(weight.Decimal, minimumWeightKg)
		return kg.Mul(st.PricePerKg).Round(2), nil, nil
	}

	if len(items) == 0 {
		return decimal.Zero, nil, fmt.Errorf("%w: items are required for %s", model.ErrValidation, st.Code)
	}
	total := decimal.Zero
	priced := make([]model.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return decimal.Zero, nil, fmt.Errorf("%w: quantity of %q must be positive", model.ErrValidation, item.ItemType)
		}
		it, err := service.store.ItemTypeGet(ctx, item.ItemType)
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return decimal.Zero, nil, fmt.Errorf("%w: unknown item type %q", model.ErrValidation, item.ItemType)
			}
			return decimal.Zero, nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		priced = append(priced, model.OrderItem{ItemType: it.Code, Quantity: item.Quantity, UnitPrice: it.Price})
	}
	return total.Round(2), priced, nil
}
