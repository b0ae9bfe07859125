package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/laundry/internal/model"
)

// MemoryStore keeps everything in process memory. Used for local development and tests.
type MemoryStore struct {
	mu           sync.Mutex
	orders       map[string]model.Order
	tracking     map[string][]model.OrderTracking
	serviceTypes map[string]model.ServiceType
	itemTypes    map[string]model.ItemType
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[string]model.Order),
		tracking:     make(map[string][]model.OrderTracking),
		serviceTypes: make(map[string]model.ServiceType),
		itemTypes:    make(map[string]model.ItemType),
	}
}

// PutServiceType registers a service type in the catalogue.
func (s *MemoryStore) PutServiceType(st model.ServiceType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceTypes[st.Code] = st
}

// PutItemType registers an item type in the catalogue.
func (s *MemoryStore) PutItemType(it model.ItemType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemTypes[it.Code] = it
}

// Справочник для локального запуска без базы
func (s *MemoryStore) loadCatalogue() {
	s.PutServiceType(model.ServiceType{Code: "wash_fold", Name: "Wash & Fold", PricePerKg: decimal.NewFromInt(7000)})
	s.PutServiceType(model.ServiceType{Code: "wash_iron", Name: "Wash & Iron", PricePerKg: decimal.NewFromInt(10000)})
	s.PutServiceType(model.ServiceType{Code: "dry_clean", Name: "Dry Clean", ByItem: true})
	s.PutItemType(model.ItemType{Code: "shirt", Name: "Shirt", Price: decimal.NewFromInt(15000)})
	s.PutItemType(model.ItemType{Code: "trousers", Name: "Trousers", Price: decimal.NewFromInt(15000)})
	s.PutItemType(model.ItemType{Code: "jacket", Name: "Jacket", Price: decimal.NewFromInt(35000)})
	s.PutItemType(model.ItemType{Code: "bed_cover", Name: "Bed cover", Price: decimal.NewFromInt(45000)})
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyOrder(order model.Order) model.Order {
	if order.Service.Items != nil {
		items := make([]model.OrderItem, len(order.Service.Items))
		copy(items, order.Service.Items)
		order.Service.Items = items
	}
	return order
}

func (s *MemoryStore) OrderCreate(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range s.orders {
		if existing.Number == order.Number {
			return ErrAlreadyExists
		}
	}
	s.orders[order.ID] = copyOrder(order)
	return nil
}

func matches(order model.Order, kind model.IdentifierKind, value string) bool {
	switch kind {
	case model.ByID:
		return order.ID == value
	case model.ByNumber:
		return order.Number == value
	case model.ByGatewayOrderID:
		return order.GatewayOrderID == value
	case model.ByGatewayTransactionID:
		return order.GatewayTransactionID == value
	}
	return false
}

// sorted returns orders by creation time, oldest first.
func (s *MemoryStore) sorted() []model.Order {
	orders := make([]model.Order, 0, len(s.orders))
	for _, order := range s.orders {
		orders = append(orders, order)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].Number < orders[j].Number
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

func (s *MemoryStore) OrderFind(_ context.Context, id model.OrderIdentifier) (model.Order, error) {
	value := strings.TrimSpace(id.Value)
	if value == "" {
		return model.Order{}, ErrNoRows
	}
	kinds := []model.IdentifierKind{id.Kind}
	if id.Kind == "" {
		kinds = model.LookupOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.sorted()
	for _, kind := range kinds {
		for i := len(orders) - 1; i >= 0; i-- {
			if matches(orders[i], kind, value) {
				return copyOrder(orders[i]), nil
			}
		}
	}
	return model.Order{}, ErrNoRows
}

func (s *MemoryStore) OrderSearch(_ context.Context, value string) ([]model.Order, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []model.Order
	for _, order := range s.sorted() {
		for _, kind := range model.LookupOrder {
			if matches(order, kind, value) {
				found = append(found, copyOrder(order))
				break
			}
		}
	}
	return found, nil
}

func (s *MemoryStore) OrderListByCustomer(_ context.Context, customer string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := s.sorted()
	var found []model.Order
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Customer.ID == customer {
			found = append(found, copyOrder(orders[i]))
		}
	}
	return found, nil
}

func (s *MemoryStore) OrderCountByNumberPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, order := range s.orders {
		if strings.HasPrefix(order.Number, prefix) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) OrderUpdateIf(_ context.Context, id string, expected model.OrderState, upd model.OrderUpdate) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.State != expected {
		return model.Order{}, ErrStateChanged
	}
	order.State = upd.State
	if upd.GatewayOrderID != "" {
		order.GatewayOrderID = upd.GatewayOrderID
	}
	if upd.GatewayTransactionID != "" {
		order.GatewayTransactionID = upd.GatewayTransactionID
	}
	if upd.PaymentType != "" {
		order.PaymentType = upd.PaymentType
	}
	order.Notes += upd.NotesAppend
	if upd.Feedback != nil {
		order.Feedback = *upd.Feedback
	}
	order.UpdatedAt = upd.UpdatedAt
	s.orders[id] = order
	return copyOrder(order), nil
}

func (s *MemoryStore) TrackingInsert(_ context.Context, tracking model.OrderTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[tracking.Key.OrderID]; !ok {
		return ErrNoRows
	}
	s.tracking[tracking.Key.OrderID] = append(s.tracking[tracking.Key.OrderID], tracking)
	return nil
}

func (s *MemoryStore) TrackingList(_ context.Context, orderID string) ([]model.OrderTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]model.OrderTracking, len(s.tracking[orderID]))
	copy(history, s.tracking[orderID])
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Data.CreatedAt.Equal(history[j].Data.CreatedAt) {
			return history[i].Key.ID < history[j].Key.ID
		}
		return history[i].Data.CreatedAt.Before(history[j].Data.CreatedAt)
	})
	return history, nil
}

func (s *MemoryStore) ServiceTypeGet(_ context.Context, code string) (model.ServiceType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.serviceTypes[code]
	if !ok {
		return model.ServiceType{}, ErrNoRows
	}
	return st, nil
}

func (s *MemoryStore) ItemTypeGet(_ context.Context, code string) (model.ItemType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.itemTypes[code]
	if !ok {
		return model.ItemType{}, ErrNoRows
	}
	return it, nil
}
