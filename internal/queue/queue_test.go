package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopOrdersByPriorityThenArrival(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Push(&Task{ID: "b", Priority: 5}))
	require.NoError(t, q.Push(&Task{ID: "c"}))
	require.NoError(t, q.Push(&Task{ID: "d", Priority: 5}))

	var got []string
	for i := 0; i < 4; i++ {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		got = append(got, task.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
	assert.Zero(t, q.Size())
}

func TestPushSetsCreatedAt(t *testing.T) {
	q := NewInMemoryQueue()
	task := &Task{ID: "a"}
	require.NoError(t, q.Push(task))
	assert.False(t, task.CreatedAt.IsZero())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()

	got := make(chan *Task, 1)
	go func() {
		task, err := q.Pop(context.Background())
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&Task{ID: "late"}))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestPopHonorsContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenFails(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(&Task{ID: "b"}), ErrQueueClosed)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", task.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseWakesWaiter(t *testing.T) {
	q := NewInMemoryQueue()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
}

func TestRemove(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(&Task{ID: "a"}))
	require.NoError(t, q.Push(&Task{ID: "b"}))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))
	assert.Equal(t, 1, q.Size())

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", task.ID)
}
