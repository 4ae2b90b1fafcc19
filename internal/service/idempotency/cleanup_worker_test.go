package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func TestCleanupWorker_DeleteExpiredInBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	past := time.Now().UTC().Add(-time.Minute)
	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		_, err := repo.CreateProcessing(ctx, key, "hash-"+key, past)
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "alive", "hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2))
	deleted, err := worker.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	_, err = repo.Get(ctx, "alive")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "k1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

type failingRepo struct {
	domain.IdempotencyRepository
	mu    sync.Mutex
	calls int
}

func (r *failingRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return 0, errors.New("connection reset")
}

func (r *failingRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestCleanupWorker_DeleteExpiredError(t *testing.T) {
	t.Parallel()

	worker := NewCleanupWorker(&failingRepo{}, WithBatchSize(10))
	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	require.Error(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupWorker_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &failingRepo{}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
