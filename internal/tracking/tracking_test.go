package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/store"
)

func TestTrackingEffective(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.OrderCreate(ctx, model.Order{ID: "o-1", Number: "LDY-20261014-0001"}))

	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	tr := &tracking{store: mem, now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}

	history, err := tr.History(ctx, "o-1")
	require.NoError(t, err)
	_, ok := Effective(history)
	require.False(t, ok)

	_, err = tr.Append(ctx, "o-1", model.OrderStatusPending, "order placed")
	require.NoError(t, err)
	last, err := tr.Append(ctx, "o-1", model.OrderStatusConfirmed, "payment settled, order confirmed")
	require.NoError(t, err)
	require.Len(t, last.Key.ID, 26)

	history, err = tr.History(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	status, ok := Effective(history)
	require.True(t, ok)
	require.Equal(t, model.OrderStatusConfirmed, status)
	require.Equal(t, "order placed", history[0].Data.Note)
}

func TestTrackingAppendUnknownOrder(t *testing.T) {
	tr := NewTracking(store.NewMemoryStore())
	_, err := tr.Append(context.Background(), "missing", model.OrderStatusPending, "")
	require.Error(t, err)
}
