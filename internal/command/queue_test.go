package command

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainKeepsOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(NewCommand("test", map[string]any{"records": i})))
	}
	assert.Equal(t, 5, q.Len())
	assert.False(t, q.Empty())

	got := q.Drain()
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, i, c.Params["records"])
		assert.NotEmpty(t, c.ID)
	}
	assert.True(t, q.Empty())
	assert.Nil(t, q.Drain())

	stats := q.Stats()
	assert.Equal(t, int64(5), stats.TotalPushed)
	assert.Equal(t, int64(5), stats.TotalDrained)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	require.True(t, q.Push(NewCommand("test", nil)))
	q.Close()
	assert.False(t, q.Push(NewCommand("test", nil)))

	assert.Len(t, q.Drain(), 1, "queued items survive close")
	assert.Nil(t, q.Drain())
	assert.Equal(t, QueueStats{TotalPushed: 1, TotalDrained: 1}, q.Stats())
}

func TestQueueConcurrentPush(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(NewCommand("test", nil))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 800)
}
