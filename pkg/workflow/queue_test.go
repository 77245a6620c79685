package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryEnqueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(&Job{RunID: "a"}))
	require.NoError(t, q.TryEnqueue(&Job{RunID: "b"}))
	err := q.TryEnqueue(&Job{RunID: "c"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestWorkerReceivesPayloadCopy(t *testing.T) {
	q := NewQueue(4)
	payload := []byte(`{"postId":7}`)
	require.NoError(t, q.TryEnqueue(&Job{RunID: "r", Workflow: "w", Payload: payload}))
	// mutate the caller's slice after enqueue
	payload[0] = 'X'

	got := make(chan string, 1)
	stop := make(chan struct{})
	go q.RunWorker(stop, func(j *Job) error {
		got <- string(j.Payload)
		return nil
	})
	assert.Equal(t, `{"postId":7}`, <-got)
	close(stop)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryEnqueue(&Job{RunID: "a"}))
	q.CloseAndDrain()
	assert.ErrorIs(t, q.TryEnqueue(&Job{RunID: "b"}), ErrQueueClosed)
	assert.Equal(t, 0, q.Len())
}

// Closing while enqueuers are mid-flight must never panic on a send to
// the closed channel; late enqueues surface as ErrQueueClosed.
func TestConcurrentEnqueueAndCloseDoesNotPanic(t *testing.T) {
	q := NewQueue(8)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 200; i++ {
				err := q.TryEnqueue(&Job{RunID: fmt.Sprintf("%d-%d", g, i)})
				if err != nil && err != ErrQueueFull && err != ErrQueueClosed {
					t.Errorf("unexpected enqueue error: %v", err)
					return
				}
			}
		}(g)
	}
	close(start)
	q.CloseAndDrain()
	wg.Wait()
	assert.ErrorIs(t, q.TryEnqueue(&Job{RunID: "late"}), ErrQueueClosed)
}
