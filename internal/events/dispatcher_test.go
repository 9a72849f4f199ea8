package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	d := NewDispatcher(nil)
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		d.Subscribe(TopicSalesOrderConfirmed, func(ctx context.Context, evt Event) error {
			calls.Add(1)
			return nil
		})
	}
	d.Subscribe(TopicPurchaseOrderReceived, func(ctx context.Context, evt Event) error {
		t.Errorf("unexpected delivery to %s", evt.Topic)
		return nil
	})

	d.Publish(context.Background(), TopicSalesOrderConfirmed, Event{TenantID: uuid.New(), SourceID: uuid.New()})
	d.Wait()
	require.Equal(t, int32(3), calls.Load())
}

func TestPublishDoesNotWaitForHandlers(t *testing.T) {
	d := NewDispatcher(nil)
	release := make(chan struct{})
	d.Subscribe("slow", func(ctx context.Context, evt Event) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		d.Publish(context.Background(), "slow", Event{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on handler")
	}
	close(release)
	d.Wait()
}

func TestHandlerFailuresAreReportedOnErrorTopic(t *testing.T) {
	d := NewDispatcher(nil)
	var (
		mu      sync.Mutex
		reports []Event
	)
	d.Subscribe(TopicError, func(ctx context.Context, evt Event) error {
		mu.Lock()
		reports = append(reports, evt)
		mu.Unlock()
		return nil
	})
	var healthy atomic.Bool
	d.Subscribe(TopicPayrollCycleProcessed, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})
	d.Subscribe(TopicPayrollCycleProcessed, func(ctx context.Context, evt Event) error {
		panic("kaboom")
	})
	d.Subscribe(TopicPayrollCycleProcessed, func(ctx context.Context, evt Event) error {
		healthy.Store(true)
		return nil
	})

	source := uuid.New()
	require.NotPanics(t, func() {
		d.Publish(context.Background(), TopicPayrollCycleProcessed, Event{SourceID: source})
		d.Wait()
	})
	require.True(t, healthy.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 2)
	for _, r := range reports {
		require.Equal(t, TopicError, r.Topic)
		require.Equal(t, source, r.SourceID)
		require.Equal(t, TopicPayrollCycleProcessed, r.Data["topic"])
		require.NotEmpty(t, r.Data["error"])
	}
}

func TestErrorHandlerFailureIsNotRepublished(t *testing.T) {
	d := NewDispatcher(nil)
	var calls atomic.Int32
	d.Subscribe(TopicError, func(ctx context.Context, evt Event) error {
		calls.Add(1)
		return errors.New("error sink down")
	})
	d.Subscribe("work", func(ctx context.Context, evt Event) error {
		return errors.New("failed")
	})

	d.Publish(context.Background(), "work", Event{})
	d.Wait()
	require.Equal(t, int32(1), calls.Load())
}

func TestHandlersOutliveCancelledPublisherContext(t *testing.T) {
	d := NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	var sawErr atomic.Value
	d.Subscribe("t", func(ctx context.Context, evt Event) error {
		time.Sleep(10 * time.Millisecond)
		sawErr.Store(ctx.Err() == nil)
		return nil
	})
	d.Publish(ctx, "t", Event{})
	cancel()
	d.Wait()
	require.Equal(t, true, sawErr.Load())
}

func TestSyncedTopic(t *testing.T) {
	require.Equal(t, "integration.stock_adjustment.synced", SyncedTopic("STOCK_ADJUSTMENT"))
}
