package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/reconcile"
	"github.com/iurnickita/laundry/internal/service"
)

// Запросы

type CustomerJSON struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

type OrderItemJSONRequest struct {
	ItemType string `json:"item_type"`
	Quantity int    `json:"quantity"`
}

type PostOrderJSONRequest struct {
	Customer     CustomerJSON           `json:"customer"`
	ServiceType  string                 `json:"service_type"`
	WeightKg     decimal.NullDecimal    `json:"weight_kg"`
	Items        []OrderItemJSONRequest `json:"items"`
	PickupDate   string                 `json:"pickup_date"`
	PickupTime   string                 `json:"pickup_time"`
	DeliveryDate string                 `json:"delivery_date"`
	Notes        string                 `json:"notes"`
}

func (req PostOrderJSONRequest) newOrder() service.NewOrder {
	items := make([]service.NewOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.NewOrderItem{ItemType: item.ItemType, Quantity: item.Quantity})
	}
	return service.NewOrder{
		Customer: model.Customer{
			Name:    req.Customer.Name,
			Phone:   req.Customer.Phone,
			Email:   req.Customer.Email,
			Address: req.Customer.Address,
		},
		ServiceType: req.ServiceType,
		WeightKg:    req.WeightKg,
		Items:       items,
		Schedule: model.Schedule{
			PickupDate:   req.PickupDate,
			PickupTime:   req.PickupTime,
			DeliveryDate: req.DeliveryDate,
		},
		Notes: req.Notes,
	}
}

type PostCancelJSONRequest struct {
	Reason string `json:"reason"`
}

type PostFeedbackJSONRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type PostWebhookJSONRequest struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	TransactionID     string `json:"transaction_id"`
	GrossAmount       string `json:"gross_amount"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
}

type PostManualUpdateJSONRequest struct {
	OrderIdentifier string `json:"orderIdentifier"`
	TargetStatus    string `json:"targetStatus"`
}

type PostOrderStatusJSONRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// Ответы

type OrderItemJSONResponse struct {
	ItemType  string          `json:"item_type"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type FeedbackJSON struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type GetOrderJSONResponse struct {
	ID                   string                  `json:"id"`
	Number               string                  `json:"order_number"`
	Status               string                  `json:"status"`
	PaymentStatus        string                  `json:"payment_status"`
	GatewayOrderID       string                  `json:"gateway_order_id,omitempty"`
	GatewayTransactionID string                  `json:"gateway_transaction_id,omitempty"`
	PaymentType          string                  `json:"payment_type,omitempty"`
	Customer             CustomerJSON            `json:"customer"`
	ServiceType          string                  `json:"service_type"`
	WeightKg             *decimal.Decimal        `json:"weight_kg,omitempty"`
	Items                []OrderItemJSONResponse `json:"items,omitempty"`
	TotalAmount          decimal.Decimal         `json:"total_amount"`
	PickupDate           string                  `json:"pickup_date"`
	PickupTime           string                  `json:"pickup_time,omitempty"`
	DeliveryDate         string                  `json:"delivery_date,omitempty"`
	Notes                string                  `json:"notes,omitempty"`
	Feedback             *FeedbackJSON           `json:"feedback,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

func orderJSON(order model.Order) GetOrderJSONResponse {
	resp := GetOrderJSONResponse{
		ID:                   order.ID,
		Number:               order.Number,
		Status:               string(order.State.Status),
		PaymentStatus:        string(order.State.PaymentStatus),
		GatewayOrderID:       order.GatewayOrderID,
		GatewayTransactionID: order.GatewayTransactionID,
		PaymentType:          order.PaymentType,
		Customer: CustomerJSON{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Email:   order.Customer.Email,
			Address: order.Customer.Address,
		},
		ServiceType:  order.Service.ServiceType,
		TotalAmount:  order.TotalAmount,
		PickupDate:   order.Schedule.PickupDate,
		PickupTime:   order.Schedule.PickupTime,
		DeliveryDate: order.Schedule.DeliveryDate,
		Notes:        order.Notes,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
	if order.Service.WeightKg.Valid {
		weight := order.Service.WeightKg.Decimal
		resp.WeightKg = &weight
	}
	for _, item := range order.Service.Items {
		resp.Items = append(resp.Items, OrderItemJSONResponse{ItemType: item.ItemType, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	if order.Feedback.Rating > 0 {
		resp.Feedback = &FeedbackJSON{Rating: order.Feedback.Rating, Comment: order.Feedback.Comment}
	}
	return resp
}

func ordersJSON(orders []model.Order) []GetOrderJSONResponse {
	resp := make([]GetOrderJSONResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, orderJSON(order))
	}
	return resp
}

type TrackingEntryJSON struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type GetTrackingJSONResponse struct {
	OrderID   string              `json:"order_id"`
	Effective string              `json:"effective_status"`
	History   []TrackingEntryJSON `json:"history"`
}

func trackingJSON(orderID string, view service.TrackingView) GetTrackingJSONResponse {
	resp := GetTrackingJSONResponse{
		OrderID:   orderID,
		Effective: string(view.Effective),
		History:   make([]TrackingEntryJSON, 0, len(view.History)),
	}
	for _, entry := range view.History {
		resp.History = append(resp.History, TrackingEntryJSON{
			ID:        entry.Key.ID,
			Status:    string(entry.Data.Status),
			Note:      entry.Data.Note,
			CreatedAt: entry.Data.CreatedAt,
		})
	}
	return resp
}

type PostPayJSONResponse struct {
	Order       GetOrderJSONResponse `json:"order"`
	Token       string               `json:"token"`
	RedirectURL string               `json:"redirect_url"`
}

type PostCheckPaymentJSONResponse struct {
	Outcome             string               `json:"outcome"`
	Reason              string               `json:"reason,omitempty"`
	Transition          string               `json:"transition"`
	Applied             bool                 `json:"applied"`
	Order               GetOrderJSONResponse `json:"order"`
	Gateway             json.RawMessage      `json:"gateway,omitempty"`
	PollAgain           bool                 `json:"poll_again"`
	PollIntervalSeconds int                  `json:"poll_interval_seconds"`
	TrackingWarning     string               `json:"tracking_warning,omitempty"`
}

type PostWebhookJSONResponse struct {
	Outcome       string `json:"outcome"`
	Applied       bool   `json:"applied"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`

	// заказ обновлен, но запись истории не сохранилась
	TrackingWarning string `json:"tracking_warning,omitempty"`
}

type PostManualUpdateJSONResponse struct {
	Orders  []GetOrderJSONResponse `json:"orders"`
	Matched int                    `json:"matched"`
	Updated int                    `json:"updated"`
	Ignored int                    `json:"ignored"`
}

func webhookJSON(applied reconcile.Applied) PostWebhookJSONResponse {
	return PostWebhookJSONResponse{
		Outcome:         string(applied.Outcome),
		Applied:         applied.Changed(),
		OrderID:         applied.Order.ID,
		Status:          string(applied.Order.State.Status),
		PaymentStatus:   string(applied.Order.State.PaymentStatus),
		TrackingWarning: trackingWarning(applied),
	}
}

func trackingWarning(applied reconcile.Applied) string {
	if applied.TrackingErr == nil {
		return ""
	}
	return "order updated, tracking entry not recorded"
}

func checkPaymentJSON(result reconcile.PollResult, interval time.Duration) PostCheckPaymentJSONResponse {
	return PostCheckPaymentJSONResponse{
		Outcome:             string(result.Outcome),
		Reason:              result.Reason,
		Transition:          string(result.Applied.Outcome),
		Applied:             result.Applied.Changed(),
		Order:               orderJSON(result.Applied.Order),
		Gateway:             result.Gateway.Raw,
		PollAgain:           result.PollAgain(),
		PollIntervalSeconds: int(interval / time.Second),
		TrackingWarning:     trackingWarning(result.Applied),
	}
}
