package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/service/gatewayclient"
	"github.com/iurnickita/laundry/internal/store"
)

// Notification is the payload pushed by the gateway.
type Notification struct {
	OrderID           string
	TransactionStatus string
	FraudStatus       string
	PaymentType       string
	TransactionID     string
	GrossAmount       string
	StatusCode        string
	SignatureKey      string
}

type PollOutcome string

const (
	PollReconciled    PollOutcome = "reconciled"
	PollNotApplicable PollOutcome = "not_applicable"
)

type PollResult struct {
	Outcome PollOutcome
	Reason  string
	Applied Applied
	Gateway gatewayclient.StatusAnswer
}

// PollAgain tells a polling client whether the payment is still unresolved.
func (r PollResult) PollAgain() bool {
	order := r.Applied.Order
	if order.GatewayOrderID == "" {
		return false
	}
	switch {
	case order.State.PaymentStatus == model.PaymentStatusPaid:
		return false
	case order.State.Status == model.OrderStatusCancelled, order.State.Status == model.OrderStatusCompleted:
		return false
	}
	return true
}

type ManualResult struct {
	Orders  []model.Order
	Matched int
	Updated int
	Ignored int
}

// Gateway is the part of the gateway client used for polling.
type Gateway interface {
	TransactionStatus(ctx context.Context, gatewayOrderID string) (gatewayclient.StatusAnswer, error)
}

// Reconciler feeds gateway signals from every channel through Map and the Updater.
type Reconciler struct {
	store     store.Store
	updater   *Updater
	gateway   Gateway
	serverKey string
	polls     singleflight.Group
	zaplog    *zap.Logger
}

func NewReconciler(store store.Store, updater *Updater, gateway Gateway, serverKey string, zaplog *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		updater:   updater,
		gateway:   gateway,
		serverKey: serverKey,
		zaplog:    zaplog.Named("reconcile"),
	}
}

// Webhook verifies and applies a pushed notification.
func (r *Reconciler) Webhook(ctx context.Context, n Notification) (Applied, error) {
	if strings.TrimSpace(n.OrderID) == "" || strings.TrimSpace(n.TransactionStatus) == "" {
		return Applied{}, fmt.Errorf("%w: order_id and transaction_status are required", model.ErrValidation)
	}

	if n.SignatureKey != "" && r.serverKey != "" {
		if !gatewayclient.VerifySignature(n.SignatureKey, n.OrderID, n.StatusCode, n.GrossAmount, r.serverKey) {
			r.zaplog.Warn("webhook signature mismatch",
				zap.String("gateway_order_id", n.OrderID),
				zap.String("transaction_status", n.TransactionStatus))
			return Applied{}, fmt.Errorf("%w: invalid signature", model.ErrAuthentication)
		}
	}

	order, err := r.lookup(ctx, model.OrderIdentifier{Kind: model.ByGatewayOrderID, Value: n.OrderID})
	if err != nil {
		return Applied{}, err
	}

	applied, err := r.updater.Apply(ctx, order.ID, Map(n.TransactionStatus, n.FraudStatus), Identifiers{
		GatewayTransactionID: n.TransactionID,
		PaymentType:          n.PaymentType,
	})
	if err != nil {
		return Applied{}, err
	}
	r.zaplog.Info("webhook handled",
		zap.String("gateway_order_id", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("outcome", string(applied.Outcome)))
	return applied, nil
}

// Poll queries the gateway for the order and applies the answer.
// Concurrent polls of one order share a single gateway call, which outlives
// the cancellation of the caller that started it.
func (r *Reconciler) Poll(ctx context.Context, orderID string) (PollResult, error) {
	// общий вызов не должен зависеть от отмены запроса, который его начал
	shared := context.WithoutCancel(ctx)
	v, err, _ := r.polls.Do(orderID, func() (any, error) {
		return r.poll(shared, orderID)
	})
	if err != nil {
		return PollResult{}, err
	}
	return v.(PollResult), nil
}

func (r *Reconciler) poll(ctx context.Context, orderID string) (PollResult, error) {
	order, err := r.lookup(ctx, model.OrderIdentifier{Kind: model.ByID, Value: orderID})
	if err != nil {
		return PollResult{}, err
	}
	if order.GatewayOrderID == "" {
		return PollResult{
			Outcome: PollNotApplicable,
			Reason:  "payment has not been initiated",
			Applied: Applied{Order: order, Previous: order.State, Outcome: OutcomeUnchanged},
		}, nil
	}

	answer, err := r.gateway.TransactionStatus(ctx, order.GatewayOrderID)
	if errors.Is(err, gatewayclient.ErrTransactionNotFound) {
		return PollResult{
			Outcome: PollNotApplicable,
			Reason:  "no transaction at the gateway yet",
			Applied: Applied{Order: order, Previous: order.State, Outcome: OutcomeUnchanged},
		}, nil
	}
	if err != nil {
		r.zaplog.Warn("gateway status query failed", zap.String("order_id", orderID), zap.Error(err))
		return PollResult{}, err
	}

	signal := answer.Signal()
	applied, err := r.updater.Apply(ctx, order.ID, Map(signal.TransactionStatus, signal.FraudStatus), Identifiers{
		GatewayTransactionID: signal.GatewayTransactionID,
		PaymentType:          signal.PaymentType,
	})
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Outcome: PollReconciled, Applied: applied, Gateway: answer}, nil
}

// Manual applies an operator supplied payment label to every order matching identifier.
func (r *Reconciler) Manual(ctx context.Context, identifier, label string) (ManualResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ManualResult{}, fmt.Errorf("%w: order identifier is required", model.ErrValidation)
	}
	if strings.TrimSpace(label) == "" {
		return ManualResult{}, fmt.Errorf("%w: target status is required", model.ErrValidation)
	}

	orders, err := r.store.OrderSearch(ctx, identifier)
	if err != nil {
		return ManualResult{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if len(orders) == 0 {
		return ManualResult{}, fmt.Errorf("%w: %s", model.ErrNotFound, identifier)
	}

	mapping := MapManual(label)
	result := ManualResult{Matched: len(orders)}
	for _, order := range orders {
		applied, err := r.updater.Apply(ctx, order.ID, mapping, Identifiers{})
		if err != nil {
			return ManualResult{}, err
		}
		if applied.Changed() {
			result.Updated++
		} else {
			result.Ignored++
		}
		result.Orders = append(result.Orders, applied.Order)
	}
	r.zaplog.Info("manual payment update",
		zap.String("identifier", identifier),
		zap.String("target", label),
		zap.Int("matched", result.Matched),
		zap.Int("updated", result.Updated))
	return result, nil
}

func (r *Reconciler) lookup(ctx context.Context, id model.OrderIdentifier) (model.Order, error) {
	order, err := r.store.OrderFind(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%w: %s %s", model.ErrNotFound, id.Kind, id.Value)
		}
		return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return order, nil
}
