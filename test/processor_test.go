package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dailydevops/outbox"
)

type orderCreated struct {
	OrderID int `json:"order_id"`
}

func TestProcessorDeliversStoredEvents(t *testing.T) {
	truncateOutboxTable(t)
	repo := newRepository()
	store := outbox.NewStore(dbCtx, repo)

	var (
		mu       sync.Mutex
		received []int
	)
	transport := outbox.NewLocalTransport()
	transport.Register("order.created",
		outbox.JSONDecoder(outbox.JSONCodec(), func() any { return &orderCreated{} }),
		func(_ context.Context, event any, _ *outbox.Message) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, event.(*orderCreated).OrderID)
			return nil
		})

	processor := outbox.NewProcessor(repo, transport, outbox.WithPollInterval(50*time.Millisecond))
	processor.Start()
	defer func() {
		require.NoError(t, processor.Stop(context.Background()))
	}()

	err := store.Within(context.Background(), func(ctx context.Context, _ outbox.TxQueryer, events outbox.EventStorer) error {
		for orderID := 1; orderID <= 3; orderID++ {
			if _, err := events.Publish(ctx, outbox.Event{
				Type:    "order.created",
				Payload: orderCreated{OrderID: orderID},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var completed int
		err := db.QueryRow("SELECT COUNT(*) FROM outbox WHERE status = $1", outbox.StatusCompleted).Scan(&completed)
		return err == nil && completed == 3
	}, testTimeout, pollInterval)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []int{1, 2, 3}, received)
}

func TestProcessorDeadLettersPoisonMessage(t *testing.T) {
	truncateOutboxTable(t)
	repo := newRepository()
	store := outbox.NewStore(dbCtx, repo)

	transport := outbox.NewLocalTransport()
	transport.Register("order.created",
		outbox.JSONDecoder(outbox.JSONCodec(), func() any { return &orderCreated{} }),
		func(_ context.Context, _ any, _ *outbox.Message) error {
			return errors.New("poison message")
		})

	processor := outbox.NewProcessor(repo, transport,
		outbox.WithPollInterval(50*time.Millisecond),
		outbox.WithMaxRetryCount(2))
	processor.Start()
	defer func() {
		require.NoError(t, processor.Stop(context.Background()))
	}()

	msg, err := store.Publish(context.Background(), nil, outbox.Event{
		Type:    "order.created",
		Payload: orderCreated{OrderID: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var status outbox.Status
		err := db.QueryRow("SELECT status FROM outbox WHERE id = $1", msg.ID).Scan(&status)
		return err == nil && status == outbox.StatusDeadLetter
	}, testTimeout, pollInterval)

	select {
	case dead := <-processor.DeadLetters():
		require.Equal(t, msg.ID, dead.ID)
		require.Equal(t, int32(2), dead.RetryCount)
	case <-time.After(testTimeout):
		t.Fatal("expected a dead letter notification")
	}
}

func TestProcessorRecoversAfterTransientFailures(t *testing.T) {
	truncateOutboxTable(t)
	repo := newRepository()
	store := outbox.NewStore(dbCtx, repo)

	var (
		mu       sync.Mutex
		attempts int
	)
	transport := outbox.NewLocalTransport()
	transport.Register("order.created",
		outbox.JSONDecoder(outbox.JSONCodec(), func() any { return &orderCreated{} }),
		func(_ context.Context, _ any, _ *outbox.Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("transient failure")
			}
			return nil
		})

	processor := outbox.NewProcessor(repo, transport,
		outbox.WithPollInterval(50*time.Millisecond),
		outbox.WithMaxRetryCount(5))
	processor.Start()
	defer func() {
		require.NoError(t, processor.Stop(context.Background()))
	}()

	msg, err := store.Publish(context.Background(), nil, outbox.Event{
		Type:    "order.created",
		Payload: orderCreated{OrderID: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var status outbox.Status
		var retryCount int32
		err := db.QueryRow("SELECT status, retry_count FROM outbox WHERE id = $1", msg.ID).Scan(&status, &retryCount)
		return err == nil && status == outbox.StatusCompleted && retryCount == 2
	}, testTimeout, pollInterval)
}
