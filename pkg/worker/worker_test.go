package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	w := NewWorkerManager(10, 3, nil)
	var done int64
	w.SetWorker(func(_ int, job interface{}) {
		atomic.AddInt64(&done, int64(job.(int)))
	})

	stopped := make(chan error, 1)
	go func() { stopped <- w.Start() }()

	for i := 1; i <= 4; i++ {
		require.True(t, w.Enqueue(context.Background(), i))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt64(&done) == 10 }, time.Second, 5*time.Millisecond)

	w.Exit()
	select {
	case err := <-stopped:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_EnqueueAfterExit(t *testing.T) {
	w := NewWorkerManager(0, 1, nil)
	w.Exit()
	assert.False(t, w.Enqueue(context.Background(), 1))
}

func TestWorkerManager_EnqueueRespectsContext(t *testing.T) {
	w := NewWorkerManager(0, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, w.Enqueue(ctx, 1))
}
