package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Заказы

type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusConfirmed           OrderStatus = "confirmed"
	OrderStatusInProcess           OrderStatus = "in_process"
	OrderStatusPendingCancellation OrderStatus = "pending_cancellation"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusDelivered           OrderStatus = "delivered"
	OrderStatusCompleted           OrderStatus = "completed"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusInProcess,
		OrderStatusPendingCancellation, OrderStatusCancelled,
		OrderStatusDelivered, OrderStatusCompleted:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// OrderState is the pair of fields guarded by the reconciliation rules.
type OrderState struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

type Order struct {
	ID                   string
	Number               string
	GatewayOrderID       string
	GatewayTransactionID string
	State                OrderState
	Customer             Customer
	Service              ServiceSelection
	TotalAmount          decimal.Decimal
	Schedule             Schedule
	Notes                string
	PaymentType          string
	Feedback             Feedback
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Customer struct {
	ID      string
	Name    string
	Phone   string
	Email   string
	Address string
}

// ServiceSelection holds either a weight or an item list.
type ServiceSelection struct {
	ServiceType string
	WeightKg    decimal.NullDecimal
	Items       []OrderItem
}

type OrderItem struct {
	ItemType  string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Schedule struct {
	PickupDate   string
	PickupTime   string
	DeliveryDate string
}

type Feedback struct {
	Rating  int
	Comment string
}

// OrderUpdate lists the fields written by a state transition. Empty values are left as stored.
type OrderUpdate struct {
	State                OrderState
	GatewayOrderID       string
	GatewayTransactionID string
	PaymentType          string
	NotesAppend          string
	Feedback             *Feedback
	UpdatedAt            time.Time
}

// История статусов заказа.
// Журнал: строки только добавляются.

type OrderTracking struct {
	Key  OrderTrackingKey
	Data OrderTrackingData
}
type OrderTrackingKey struct {
	OrderID string
	ID      string
}
type OrderTrackingData struct {
	Status    OrderStatus
	Note      string
	CreatedAt time.Time
}

// Справочники

type ServiceType struct {
	Code        string
	Name        string
	PricePerKg  decimal.Decimal
	ByItem      bool
	Description string
}

type ItemType struct {
	Code  string
	Name  string
	Price decimal.Decimal
}

// Сигнал платежного шлюза

type TransactionSignal struct {
	TransactionStatus    string
	FraudStatus          string
	PaymentType          string
	GatewayTransactionID string
}

// Поиск заказа

type IdentifierKind string

const (
	ByID                   IdentifierKind = "id"
	ByNumber               IdentifierKind = "number"
	ByGatewayOrderID       IdentifierKind = "gateway_order_id"
	ByGatewayTransactionID IdentifierKind = "gateway_transaction_id"
)

// LookupOrder is the preference order used when the identifier kind is unknown.
var LookupOrder = []IdentifierKind{ByID, ByNumber, ByGatewayOrderID, ByGatewayTransactionID}

type OrderIdentifier struct {
	Kind  IdentifierKind
	Value string
}
