package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/reconcile"
	"github.com/iurnickita/laundry/internal/service/config"
	"github.com/iurnickita/laundry/internal/service/gatewayclient"
	"github.com/iurnickita/laundry/internal/store"
	"github.com/iurnickita/laundry/internal/tracking"
)

type Service interface {
	// Заказы клиента
	CreateOrder(ctx context.Context, customer string, req NewOrder) (model.Order, error)
	GetOrder(ctx context.Context, customer string, orderID string) (model.Order, error)
	ListOrders(ctx context.Context, customer string) ([]model.Order, error)
	GetTracking(ctx context.Context, customer string, orderID string) (TrackingView, error)
	InitiatePayment(ctx context.Context, customer string, orderID string) (PaymentSession, error)
	CheckPaymentStatus(ctx context.Context, customer string, orderID string) (reconcile.PollResult, error)
	CancelOrder(ctx context.Context, customer string, orderID string, reason string) (model.Order, error)
	SubmitFeedback(ctx context.Context, customer string, orderID string, feedback model.Feedback) (model.Order, error)

	// Платежный шлюз
	HandleWebhook(ctx context.Context, n reconcile.Notification) (reconcile.Applied, error)

	// Оператор
	ManualPaymentUpdate(ctx context.Context, identifier string, target string) (reconcile.ManualResult, error)
	SearchOrders(ctx context.Context, query string) ([]model.Order, error)
	TransitionStatus(ctx context.Context, orderID string, target model.OrderStatus, note string) (model.Order, error)

	PollInterval() time.Duration
	Ping(ctx context.Context) error
}

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNumberExhausted  = errors.New("could not allocate order number")
	ErrRefundRequired   = errors.New("paid order cannot be cancelled without a refund")
)

const (
	numberPrefix       = "LDY-"
	maxNumberAttempts  = 5
	maxWriteAttempts   = 3
	defaultCancelNote  = "no reason given"
	feedbackMinRating  = 1
	feedbackMaxRating  = 5
	noteTimeLayout     = "2006-01-02 15:04:05"
	pickupDateLayout   = "2006-01-02"
	cancelRequestTrack = "cancellation requested"
)

type NewOrder struct {
	Customer    model.Customer
	ServiceType string
	WeightKg    decimal.NullDecimal
	Items       []NewOrderItem
	Schedule    model.Schedule
	Notes       string
}

type TrackingView struct {
	History   []model.OrderTracking
	Effective model.OrderStatus
}

type PaymentSession struct {
	Order       model.Order
	Token       string
	RedirectURL string
}

// allowed operator transitions
var operatorTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:             {model.OrderStatusConfirmed, model.OrderStatusCancelled},
	model.OrderStatusConfirmed:           {model.OrderStatusInProcess, model.OrderStatusCancelled},
	model.OrderStatusInProcess:           {model.OrderStatusDelivered},
	model.OrderStatusPendingCancellation: {model.OrderStatusCancelled, model.OrderStatusConfirmed, model.OrderStatusPending},
}

var cancellableStatuses = map[model.OrderStatus]struct{}{
	model.OrderStatusPending:   {},
	model.OrderStatusConfirmed: {},
}

type service struct {
	cfg        config.Config
	store      store.Store
	tracking   tracking.Tracking
	reconciler *reconcile.Reconciler
	gateway    gatewayclient.GatewayClient
	zaplog     *zap.Logger
	now        func() time.Time
}

func NewService(cfg config.Config, store store.Store, gateway gatewayclient.GatewayClient, zaplog *zap.Logger) (Service, error) {
	if store == nil || gateway == nil {
		return nil, ErrInsufficientData
	}
	zaplog = zaplog.Named("service")
	tracking := tracking.NewTracking(store)
	updater := reconcile.NewUpdater(store, tracking, zaplog)
	reconciler := reconcile.NewReconciler(store, updater, gateway, cfg.Gateway.ServerKey, zaplog)

	service := service{
		cfg:        cfg,
		store:      store,
		tracking:   tracking,
		reconciler: reconciler,
		gateway:    gateway,
		zaplog:     zaplog,
		now:        time.Now,
	}

	return &service, nil
}

func (service *service) PollInterval() time.Duration {
	return service.cfg.PollInterval
}

func (service *service) Ping(ctx context.Context) error {
	return service.store.Ping(ctx)
}

func (service *service) CreateOrder(ctx context.Context, customer string, req NewOrder) (model.Order, error) {
	if customer == "" {
		return model.Order{}, fmt.Errorf("%w: %v", model.ErrAuthentication, ErrInsufficientData)
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Phone) == "" {
		return model.Order{}, fmt.Errorf("%w: customer name and phone are required", model.ErrValidation)
	}
	if strings.TrimSpace(req.ServiceType) == "" {
		return model.Order{}, fmt.Errorf("%w: service_type is required", model.ErrValidation)
	}
	if _, err := time.Parse(pickupDateLayout, req.Schedule.PickupDate); err != nil {
		return model.Order{}, fmt.Errorf("%w: pickup_date must be YYYY-MM-DD", model.ErrValidation)
	}
	if req.Schedule.DeliveryDate != "" {
		if _, err := time.Parse(pickupDateLayout, req.Schedule.DeliveryDate); err != nil {
			return model.Order{}, fmt.Errorf("%w: delivery_date must be YYYY-MM-DD", model.ErrValidation)
		}
	}

	total, items, err := service.quote(ctx, req.ServiceType, req.WeightKg, req.Items)
	if err != nil {
		return model.Order{}, err
	}

	now := service.now().UTC()
	req.Customer.ID = customer
	order := model.Order{
		ID:       uuid.NewString(),
		State:    model.OrderState{Status: model.OrderStatusPending, PaymentStatus: model.PaymentStatusPending},
		Customer: req.Customer,
		Service: model.ServiceSelection{
			ServiceType: req.ServiceType,
			WeightKg:    req.WeightKg,
			Items:       items,
		},
		TotalAmount: total,
		Schedule:    req.Schedule,
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(items) > 0 {
		order.Service.WeightKg = decimal.NullDecimal{}
	}

	// Номер заказа: LDY-YYYYMMDD-NNNN, последовательность в пределах дня
	prefix := numberPrefix + now.Format("20060102") + "-"
	count, err := service.store.OrderCountByNumberPrefix(ctx, prefix)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	for attempt := 0; ; attempt++ {
		if attempt == maxNumberAttempts {
			return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, ErrNumberExhausted)
		}
		order.Number = fmt.Sprintf("%s%04d", prefix, count+1+attempt)
		err = service.store.OrderCreate(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}
	}

	if _, err := service.tracking.Append(ctx, order.ID, order.State.Status, "order placed"); err != nil {
		service.zaplog.Error("tracking append failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	service.zaplog.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.Number),
		zap.String("total", order.TotalAmount.StringFixed(2)))
	return order, nil
}

// ownedOrder loads an order the customer may see. Orders of other customers are reported as missing.
func (service *service) ownedOrder(ctx context.Context, customer string, orderID string) (model.Order, error) {
	if customer == "" {
		return model.Order{}, fmt.Errorf("%w: %v", model.ErrAuthentication, ErrInsufficientData)
	}
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, fmt.Errorf("%w: order id is required", model.ErrValidation)
	}
	order, err := service.store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByID, Value: orderID})
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%w: %s", model.ErrNotFound, orderID)
		}
		return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	if order.Customer.ID != customer {
		return model.Order{}, fmt.Errorf("%w: %s", model.ErrNotFound, orderID)
	}
	return order, nil
}

func (service *service) GetOrder(ctx context.Context, customer string, orderID string) (model.Order, error) {
	return service.ownedOrder(ctx, customer, orderID)
}

func (service *service) ListOrders(ctx context.Context, customer string) ([]model.Order, error) {
	if customer == "" {
		return nil, fmt.Errorf("%w: %v", model.ErrAuthentication, ErrInsufficientData)
	}
	orders, err := service.store.OrderListByCustomer(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return orders, nil
}

func (service *service) GetTracking(ctx context.Context, customer string, orderID string) (TrackingView, error) {
	order, err := service.ownedOrder(ctx, customer, orderID)
	if err != nil {
		return TrackingView{}, err
	}
	history, err := service.tracking.History(ctx, order.ID)
	if err != nil {
		return TrackingView{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	view := TrackingView{History: history, Effective: order.State.Status}
	if effective, ok := tracking.Effective(history); ok {
		view.Effective = effective
	}
	return view, nil
}

func (service *service) InitiatePayment(ctx context.Context, customer string, orderID string) (PaymentSession, error) {
	order, err := service.ownedOrder(ctx, customer, orderID)
	if err != nil {
		return PaymentSession{}, err
	}

	// Идентификатор в шлюзе назначается один раз и переиспользуется
	if order.GatewayOrderID == "" {
		order, err = service.write(ctx, order.ID, func(current model.Order) (model.OrderUpdate, error) {
			if err := payable(current); err != nil {
				return model.OrderUpdate{}, err
			}
			gatewayOrderID := current.GatewayOrderID
			if gatewayOrderID == "" {
				gatewayOrderID = current.Number
			}
			return model.OrderUpdate{State: current.State, GatewayOrderID: gatewayOrderID}, nil
		})
		if err != nil {
			return PaymentSession{}, err
		}
	} else if err := payable(order); err != nil {
		return PaymentSession{}, err
	}

	answer, err := service.gateway.CreateTransaction(ctx, gatewayclient.SnapRequest{
		OrderID:     order.GatewayOrderID,
		GrossAmount: order.TotalAmount,
		Customer:    order.Customer,
	})
	if err != nil {
		service.zaplog.Warn("payment initiation failed", zap.String("order_id", order.ID), zap.Error(err))
		return PaymentSession{}, err
	}
	service.zaplog.Info("payment initiated",
		zap.String("order_id", order.ID),
		zap.String("gateway_order_id", order.GatewayOrderID))
	return PaymentSession{Order: order, Token: answer.Token, RedirectURL: answer.RedirectURL}, nil
}

func payable(order model.Order) error {
	if order.State.PaymentStatus == model.PaymentStatusPaid {
		return fmt.Errorf("%w: order is already paid", model.ErrConflict)
	}
	switch order.State.Status {
	case model.OrderStatusCancelled, model.OrderStatusPendingCancellation:
		return &model.StatusError{Current: order.State.Status, Action: "pay for"}
	}
	return nil
}

func (service *service) CheckPaymentStatus(ctx context.Context, customer string, orderID string) (reconcile.PollResult, error) {
	order, err := service.ownedOrder(ctx, customer, orderID)
	if err != nil {
		return reconcile.PollResult{}, err
	}
	return service.reconciler.Poll(ctx, order.ID)
}

func (service *service) CancelOrder(ctx context.Context, customer string, orderID string, reason string) (model.Order, error) {
	order, err := service.ownedOrder(ctx, customer, orderID)
	if err != nil {
		return model.Order{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelNote
	}

	order, err = service.write(ctx, order.ID, func(current model.Order) (model.OrderUpdate, error) {
		if _, ok := cancellableStatuses[current.State.Status]; !ok {
			return model.OrderUpdate{}, &model.StatusError{Current: current.State.Status, Action: "cancel"}
		}
		note := fmt.Sprintf("[%s] cancellation requested: %s", service.now().UTC().Format(noteTimeLayout), reason)
		return model.OrderUpdate{
			State:       model.OrderState{Status: model.OrderStatusPendingCancellation, PaymentStatus: current.State.PaymentStatus},
			NotesAppend: appendNote(current.Notes, note),
		}, nil
	})
	if err != nil {
		return model.Order{}, err
	}
	service.track(ctx, order, cancelRequestTrack+": "+reason)
	return order, nil
}

func (service *service) SubmitFeedback(ctx context.Context, customer string, orderID string, feedback model.Feedback) (model.Order, error) {
	if feedback.Rating < feedbackMinRating || feedback.Rating > feedbackMaxRating {
		return model.Order{}, fmt.Errorf("%w: rating must be between %d and %d", model.ErrValidation, feedbackMinRating, feedbackMaxRating)
	}
	feedback.Comment = strings.TrimSpace(feedback.Comment)
	order, err := service.ownedOrder(ctx, customer, orderID)
	if err != nil {
		return model.Order{}, err
	}

	order, err = service.write(ctx, order.ID, func(current model.Order) (model.OrderUpdate, error) {
		if current.State.Status != model.OrderStatusDelivered {
			return model.OrderUpdate{}, &model.StatusError{Current: current.State.Status, Action: "leave feedback on"}
		}
		return model.OrderUpdate{
			State:    model.OrderState{Status: model.OrderStatusCompleted, PaymentStatus: current.State.PaymentStatus},
			Feedback: &feedback,
		}, nil
	})
	if err != nil {
		return model.Order{}, err
	}
	service.track(ctx, order, fmt.Sprintf("feedback received, rating %d", feedback.Rating))
	return order, nil
}

func (service *service) HandleWebhook(ctx context.Context, n reconcile.Notification) (reconcile.Applied, error) {
	return service.reconciler.Webhook(ctx, n)
}

func (service *service) ManualPaymentUpdate(ctx context.Context, identifier string, target string) (reconcile.ManualResult, error) {
	return service.reconciler.Manual(ctx, identifier, target)
}

func (service *service) SearchOrders(ctx context.Context, query string) ([]model.Order, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", model.ErrValidation)
	}
	orders, err := service.store.OrderSearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrPersistence, err)
	}
	return orders, nil
}

func (service *service) TransitionStatus(ctx context.Context, orderID string, target model.OrderStatus, note string) (model.Order, error) {
	if !target.Valid() {
		return model.Order{}, fmt.Errorf("%w: unknown status %q", model.ErrValidation, target)
	}
	note = strings.TrimSpace(note)

	order, err := service.write(ctx, orderID, func(current model.Order) (model.OrderUpdate, error) {
		if !transitionAllowed(current.State.Status, target) {
			return model.OrderUpdate{}, &model.StatusError{Current: current.State.Status, Action: "set " + string(target) + " on"}
		}
		paid := current.State.PaymentStatus == model.PaymentStatusPaid
		if paid && target == model.OrderStatusCancelled {
			return model.OrderUpdate{}, fmt.Errorf("%w: %v", model.ErrConflict, ErrRefundRequired)
		}
		if paid && target == model.OrderStatusPending {
			return model.OrderUpdate{}, fmt.Errorf("%w: paid order cannot return to pending", model.ErrConflict)
		}
		upd := model.OrderUpdate{State: model.OrderState{Status: target, PaymentStatus: current.State.PaymentStatus}}
		if note != "" {
			upd.NotesAppend = appendNote(current.Notes,
				fmt.Sprintf("[%s] %s: %s", service.now().UTC().Format(noteTimeLayout), target, note))
		}
		return upd, nil
	})
	if err != nil {
		return model.Order{}, err
	}

	trackNote := "status changed by operator"
	if note != "" {
		trackNote += ": " + note
	}
	service.track(ctx, order, trackNote)
	return order, nil
}

func transitionAllowed(from, to model.OrderStatus) bool {
	for _, next := range operatorTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// write applies the update built by decide with a compare-and-swap on the order state.
// decide sees a freshly read order on every attempt.
func (service *service) write(ctx context.Context, orderID string, decide func(current model.Order) (model.OrderUpdate, error)) (model.Order, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := service.store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByID, Value: orderID})
		if err != nil {
			if errors.Is(err, store.ErrNoRows) {
				return model.Order{}, fmt.Errorf("%w: %s", model.ErrNotFound, orderID)
			}
			return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}
		upd, err := decide(current)
		if err != nil {
			return model.Order{}, err
		}
		upd.UpdatedAt = service.now().UTC()

		updated, err := service.store.OrderUpdateIf(ctx, current.ID, current.State, upd)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, store.ErrStateChanged) {
			return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
		}
		service.zaplog.Debug("order changed concurrently, retrying", zap.String("order_id", orderID), zap.Int("attempt", attempt+1))
	}
	return model.Order{}, fmt.Errorf("%w: %v", model.ErrPersistence, store.ErrStateChanged)
}

func (service *service) track(ctx context.Context, order model.Order, note string) {
	if _, err := service.tracking.Append(ctx, order.ID, order.State.Status, note); err != nil {
		service.zaplog.Error("tracking append failed",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.State.Status)),
			zap.Error(err))
	}
}

func appendNote(current, note string) string {
	if current == "" {
		return note
	}
	return "\n" + note
}
