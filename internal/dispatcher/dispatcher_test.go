package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/storage/memory"
	"github.com/JakeFAU/supplier-discovery/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w, err := worker.New(worker.Deps{
		Queue:   queue,
		Catalog: memory.NewCatalog(nil, nil),
		Planner: noPlan{},
		Logger:  zap.NewNop(),
	}, worker.Config{})
	require.NoError(t, err)
	dispatch := New(queue, []Runner{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil)
	err := dispatch.Enqueue(context.Background(), crawler.RunRequest{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type noPlan struct{}

func (noPlan) Plan(string, crawler.RunParameters) (worker.Plan, error) {
	return worker.Plan{}, errors.New("no sites")
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, crawler.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.RunRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.RunRequest, error) {
	return crawler.RunRequest{}, nil
}
