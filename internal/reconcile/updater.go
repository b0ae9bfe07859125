package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store"
	"github.com/iurnickita/laundry/internal/tracking"
)

type Outcome string

const (
	// OutcomeApplied: the order state changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeUnchanged: the signal agrees with the stored state.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeConflict: the signal would regress a paid, cancelled, completed or in-work order; ignored.
	OutcomeConflict Outcome = "conflict"
)

const maxUpdateAttempts = 3

// Identifiers are gateway fields recorded alongside a transition. Empty values are skipped.
type Identifiers struct {
	GatewayOrderID       string
	GatewayTransactionID string
	PaymentType          string
}

type Applied struct {
	Order    model.Order
	Previous model.OrderState
	Outcome  Outcome
	Note     string
	// TrackingErr is set when the order row was written but the history entry was not.
	TrackingErr error
}

// Changed reports whether the order status or payment status moved.
func (a Applied) Changed() bool {
	return a.Outcome == OutcomeApplied
}

// Updater applies mappings to stored orders, one order row at a time.
type Updater struct {
	store    store.Store
	tracking tracking.Tracking
	zaplog   *zap.Logger
	now      func() time.Time
}

func NewUpdater(store store.Store, tracking tracking.Tracking, zaplog *zap.Logger) *Updater {
	return &Updater{
		store:    store,
		tracking: tracking,
		zaplog:   zaplog.Named("updater"),
		now:      time.Now,
	}
}

type decision struct {
	next    model.OrderState
	outcome Outcome
}

func decide(current model.OrderState, m Mapping) decision {
	resolved := m.Resolve(current)

	switch {
	case current.PaymentStatus == model.PaymentStatusPaid:
		// terminal fields of a settled order stay as they are
		if resolved.PaymentStatus != model.PaymentStatusPaid {
			return decision{next: current, outcome: OutcomeConflict}
		}
		return decision{next: current, outcome: OutcomeUnchanged}
	case current.Status == model.OrderStatusCancelled:
		if resolved == current {
			return decision{next: current, outcome: OutcomeUnchanged}
		}
		if resolved.Status == model.OrderStatusCancelled && resolved.PaymentStatus == model.PaymentStatusFailed {
			return decision{next: resolved, outcome: OutcomeApplied}
		}
		return decision{next: current, outcome: OutcomeConflict}
	case current.Status == model.OrderStatusCompleted:
		if resolved == current {
			return decision{next: current, outcome: OutcomeUnchanged}
		}
		return decision{next: current, outcome: OutcomeConflict}
	case current.Status == model.OrderStatusInProcess || current.Status == model.OrderStatusDelivered:
		// заказ уже в работе: принимаем только статус оплаты, отмены нет
		if resolved.Status == model.OrderStatusCancelled {
			return decision{next: current, outcome: OutcomeConflict}
		}
		next := model.OrderState{Status: current.Status, PaymentStatus: resolved.PaymentStatus}
		if next == current {
			return decision{next: current, outcome: OutcomeUnchanged}
		}
		return decision{next: next, outcome: OutcomeApplied}
	case resolved == current:
		return decision{next: current, outcome: OutcomeUnchanged}
	}
	return decision{next: resolved, outcome: OutcomeApplied}
}

func newIdentifiers(order model.Order, ids Identifiers) Identifiers {
	var fresh Identifiers
	if ids.GatewayOrderID != "" && ids.GatewayOrderID != order.GatewayOrderID {
		fresh.GatewayOrderID = ids.GatewayOrderID
	}
	if ids.GatewayTransactionID != "" && ids.GatewayTransactionID != order.GatewayTransactionID {
		fresh.GatewayTransactionID = ids.GatewayTransactionID
	}
	if ids.PaymentType != "" && ids.PaymentType != order.PaymentType {
		fresh.PaymentType = ids.PaymentType
	}
	return fresh
}

// Apply re-reads the order, decides the transition and writes it with a compare-and-swap
// on the current state. A lost race is retried from a fresh read.
func (u *Updater) Apply(ctx context.Context, orderID string, m Mapping, ids Identifiers) (Applied, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := u.store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByID, Value: orderID})
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return Applied{}, fmt.Errorf("%w: %s", model.ErrNotFound, orderID)
			}
			return Applied{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}

		d := decide(current.State, m)
		fresh := newIdentifiers(current, ids)
		result := Applied{
			Order:    current,
			Previous: current.State,
			Outcome:  d.outcome,
			Note:     m.Note,
		}

		if d.outcome == OutcomeConflict {
			u.zaplog.Warn("signal ignored for order in terminal state",
				zap.String("order_id", orderID),
				zap.String("status", string(current.State.Status)),
				zap.String("payment_status", string(current.State.PaymentStatus)),
				zap.String("note", m.Note))
		}
		if d.outcome != OutcomeApplied && fresh == (Identifiers{}) {
			return result, nil
		}

		updated, err := u.store.OrderUpdateIf(ctx, orderID, current.State, model.OrderUpdate{
			State:                d.next,
			GatewayOrderID:       fresh.GatewayOrderID,
			GatewayTransactionID: fresh.GatewayTransactionID,
			PaymentType:          fresh.PaymentType,
			UpdatedAt:            u.now().UTC(),
		})
		if errors.Is(err, store.ErrStateChanged) {
			u.zaplog.Debug("order changed concurrently, retrying", zap.String("order_id", orderID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return Applied{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}
		result.Order = updated

		if d.outcome == OutcomeApplied {
			u.zaplog.Info("order state reconciled",
				zap.String("order_id", orderID),
				zap.String("from_status", string(current.State.Status)),
				zap.String("to_status", string(d.next.Status)),
				zap.String("payment_status", string(d.next.PaymentStatus)))
			if _, err := u.tracking.Append(ctx, orderID, d.next.Status, m.Note); err != nil {
				u.zaplog.Error("tracking append failed", zap.String("order_id", orderID), zap.Error(err))
				result.TrackingErr = err
			}
		}
		return result, nil
	}
	return Applied{}, fmt.Errorf("%w: %s: %v", model.ErrPersistence, orderID, store.ErrStateChanged)
}
