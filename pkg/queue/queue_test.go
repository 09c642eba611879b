package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nwcp.dev/pkg/utils/context"
)

func TestDoReturnsOutcome(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q := New(8)
	go q.Run(ctx)

	result, err := q.Do(ctx, func() (any, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, result)

	_, err = q.Do(ctx, func() (any, error) {
		return nil, context.Canceled
	})
	require.Error(t, err)
}

func TestActionsAreSerialized(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q := New(64)
	go q.Run(ctx)

	// a classic read-modify-write race: without serialization some
	// increments would be lost
	var balance int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Do(ctx, func() (any, error) {
				v := balance
				time.Sleep(100 * time.Microsecond)
				balance = v + 1
				return nil, nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 50, balance)
}

func TestWorkerSurvivesPanickingAction(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q := New(8)
	go q.Run(ctx)

	// the producer gets an error instead of blocking forever
	done := make(chan error, 1)
	go func() {
		_, err := q.Do(ctx, func() (any, error) {
			panic("amount out of range")
		})
		done <- err
	}()
	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), "panicked")
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after its action panicked")
	}

	// and the worker is still serving
	result, err := q.Do(ctx, func() (any, error) { return "alive", nil })
	require.NoError(t, err)
	require.Equal(t, "alive", result)
}

func TestShutdownFailsBlockedProducers(t *testing.T) {
	ctx, cancel := context.Cancel(context.Bg())
	q := New(1)
	go q.Run(ctx)

	// park the worker on a slow action
	started := make(chan struct{})
	go func() {
		_, _ = q.Do(ctx, func() (any, error) {
			close(started)
			time.Sleep(200 * time.Millisecond)
			return nil, nil
		})
	}()
	<-started

	prodCtx, prodCancel := context.Cancel(context.Bg())
	defer prodCancel()
	done := make(chan error, 1)
	go func() {
		_, err := q.Do(prodCtx, func() (any, error) { return nil, nil })
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after shutdown")
	}
}
