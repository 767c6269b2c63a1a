package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_PublishThenRunDelivers(t *testing.T) {
	t.Parallel()
	q := NewInProcess(4)

	require.NoError(t, q.Publish(context.Background(), EnrichmentTask{EntityID: 1, EntityName: "Go"}))

	ctx, cancel := context.WithCancel(context.Background())
	var got EnrichmentTask
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(_ context.Context, task EnrichmentTask) error {
			mu.Lock()
			got = task
			mu.Unlock()
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task delivery")
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1), got.EntityID)
	assert.Equal(t, "Go", got.EntityName)
}

func TestInProcess_PublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	q := NewInProcess(1)

	require.NoError(t, q.Publish(context.Background(), EnrichmentTask{EntityID: 1}))
	err := q.Publish(context.Background(), EnrichmentTask{EntityID: 2})
	assert.NoError(t, err) // dropped silently, not an error
}

func TestInProcess_RunStopsOnContextCancellation(t *testing.T) {
	t.Parallel()
	q := NewInProcess(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Run(ctx, func(context.Context, EnrichmentTask) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInProcess_HandlerErrorDoesNotStopConsumption(t *testing.T) {
	t.Parallel()
	q := NewInProcess(2)
	require.NoError(t, q.Publish(context.Background(), EnrichmentTask{EntityID: 1}))
	require.NoError(t, q.Publish(context.Background(), EnrichmentTask{EntityID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	var seen []int64
	var mu sync.Mutex
	go func() {
		q.Run(ctx, func(_ context.Context, task EnrichmentTask) error {
			mu.Lock()
			seen = append(seen, task.EntityID)
			mu.Unlock()
			if task.EntityID == 1 {
				return errors.New("boom")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, time.Millisecond)
	cancel()
}
