package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store/config"
)

// testStores returns the memory store and, when DATABASE_URI is set, PostgreSQL.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemoryStore()}
	if dsn := os.Getenv("DATABASE_URI"); dsn != "" {
		pg, err := NewPostgresStore(config.Config{DBDsn: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func newTestOrder(customer string) model.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.NewString()
	return model.Order{
		ID:     id,
		Number: "LDY-TEST-" + id[:8],
		State: model.OrderState{
			Status:        model.OrderStatusPending,
			PaymentStatus: model.PaymentStatusPending,
		},
		Customer: model.Customer{ID: customer, Name: "Rina", Phone: "0812"},
		Service: model.ServiceSelection{
			ServiceType: "wash_fold",
			WeightKg:    decimal.NewNullDecimal(decimal.RequireFromString("3.5")),
		},
		TotalAmount: decimal.RequireFromString("24500"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreOrder(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := newTestOrder("cust-" + uuid.NewString()[:8])

			// Создание заказа
			require.NoError(t, store.OrderCreate(ctx, order))
			require.ErrorIs(t, store.OrderCreate(ctx, order), ErrAlreadyExists)

			// Чтение заказа по каждому ключу
			got, err := store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByID, Value: order.ID})
			require.NoError(t, err)
			require.Equal(t, order.Number, got.Number)
			require.True(t, order.TotalAmount.Equal(got.TotalAmount))

			got, err = store.OrderFind(ctx, model.OrderIdentifier{Value: order.Number})
			require.NoError(t, err)
			require.Equal(t, order.ID, got.ID)

			_, err = store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByGatewayOrderID, Value: "GX-none"})
			require.ErrorIs(t, err, ErrNoRows)

			_, err = store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByID, Value: "not-a-uuid"})
			require.ErrorIs(t, err, ErrNoRows)

			// Обновление заказа
			expected := order.State
			upd := model.OrderUpdate{
				State:          model.OrderState{Status: model.OrderStatusConfirmed, PaymentStatus: model.PaymentStatusPaid},
				GatewayOrderID: "GX-" + order.ID[:8],
				NotesAppend:    "first;",
				UpdatedAt:      time.Now().UTC(),
			}
			updated, err := store.OrderUpdateIf(ctx, order.ID, expected, upd)
			require.NoError(t, err)
			require.Equal(t, upd.State, updated.State)
			require.Equal(t, upd.GatewayOrderID, updated.GatewayOrderID)
			require.Equal(t, "first;", updated.Notes)

			// Устаревшее ожидаемое состояние
			_, err = store.OrderUpdateIf(ctx, order.ID, expected, upd)
			require.ErrorIs(t, err, ErrStateChanged)

			// Пустые поля не затирают сохраненные
			updated, err = store.OrderUpdateIf(ctx, order.ID, upd.State, model.OrderUpdate{
				State:                upd.State,
				GatewayTransactionID: "TX-1",
				NotesAppend:          "second;",
				UpdatedAt:            time.Now().UTC(),
			})
			require.NoError(t, err)
			require.Equal(t, upd.GatewayOrderID, updated.GatewayOrderID)
			require.Equal(t, "TX-1", updated.GatewayTransactionID)
			require.Equal(t, "first;second;", updated.Notes)

			found, err := store.OrderSearch(ctx, upd.GatewayOrderID)
			require.NoError(t, err)
			require.Len(t, found, 1)

			list, err := store.OrderListByCustomer(ctx, order.Customer.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)

			count, err := store.OrderCountByNumberPrefix(ctx, "LDY-TEST-"+order.ID[:8])
			require.NoError(t, err)
			require.Equal(t, 1, count)
		})
	}
}

func TestStoreOrderSearchDuplicates(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gatewayID := "GX-" + uuid.NewString()

			first := newTestOrder("c1")
			first.GatewayOrderID = gatewayID
			second := newTestOrder("c1")
			second.GatewayOrderID = gatewayID
			second.CreatedAt = first.CreatedAt.Add(time.Second)
			require.NoError(t, store.OrderCreate(ctx, first))
			require.NoError(t, store.OrderCreate(ctx, second))

			found, err := store.OrderSearch(ctx, gatewayID)
			require.NoError(t, err)
			require.Len(t, found, 2)

			// По одному ключу возвращается последняя попытка
			got, err := store.OrderFind(ctx, model.OrderIdentifier{Kind: model.ByGatewayOrderID, Value: gatewayID})
			require.NoError(t, err)
			require.Equal(t, second.ID, got.ID)
		})
	}
}

func TestStoreTracking(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := newTestOrder("c2")
			require.NoError(t, store.OrderCreate(ctx, order))

			now := time.Now().UTC().Truncate(time.Millisecond)
			for i, status := range []model.OrderStatus{model.OrderStatusPending, model.OrderStatusConfirmed} {
				createdAt := now.Add(time.Duration(i) * time.Second)
				err := store.TrackingInsert(ctx, model.OrderTracking{
					Key:  model.OrderTrackingKey{OrderID: order.ID, ID: ulid.Make().String()},
					Data: model.OrderTrackingData{Status: status, Note: string(status), CreatedAt: createdAt},
				})
				require.NoError(t, err)
			}

			history, err := store.TrackingList(ctx, order.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			require.Equal(t, model.OrderStatusConfirmed, history[1].Data.Status)
		})
	}
}

func TestNewStoreWithoutDSN(t *testing.T) {
	store, err := NewStore(config.Config{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	st, err := store.ServiceTypeGet(context.Background(), "wash_fold")
	require.NoError(t, err)
	require.False(t, st.ByItem)
}
