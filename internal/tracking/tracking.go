package tracking

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store"
)

// Tracking is the append-only status journal of an order.
type Tracking interface {
	Append(ctx context.Context, orderID string, status model.OrderStatus, note string) (model.OrderTracking, error)
	History(ctx context.Context, orderID string) ([]model.OrderTracking, error)
}

type tracking struct {
	store store.Store
	now   func() time.Time
}

func NewTracking(store store.Store) Tracking {
	return &tracking{store: store, now: time.Now}
}

func (tracking *tracking) Append(ctx context.Context, orderID string, status model.OrderStatus, note string) (model.OrderTracking, error) {
	createdAt := tracking.now().UTC()
	entry := model.OrderTracking{
		Key: model.OrderTrackingKey{
			OrderID: orderID,
			ID:      ulid.MustNew(ulid.Timestamp(createdAt), ulid.DefaultEntropy()).String(),
		},
		Data: model.OrderTrackingData{
			Status:    status,
			Note:      note,
			CreatedAt: createdAt,
		},
	}
	if err := tracking.store.TrackingInsert(ctx, entry); err != nil {
		return model.OrderTracking{}, err
	}
	return entry, nil
}

func (tracking *tracking) History(ctx context.Context, orderID string) ([]model.OrderTracking, error) {
	return tracking.store.TrackingList(ctx, orderID)
}

// Effective returns the status of the latest entry in history; false when there are none.
func Effective(history []model.OrderTracking) (model.OrderStatus, bool) {
	if len(history) == 0 {
		return "", false
	}
	return history[len(history)-1].Data.Status, true
}
