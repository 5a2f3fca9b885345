package enrich

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdeck/internal/catalog"
)

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Push(catalog.EnrichmentTask{ListingID: 1}))
	assert.True(t, q.Push(catalog.EnrichmentTask{ListingID: 2}))
	assert.Equal(t, 2, q.Size())

	task, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), task.ListingID)

	task, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(2), task.ListingID)
	assert.True(t, q.IsEmpty())
}

func TestQueue_DeduplicatesPending(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Push(catalog.EnrichmentTask{ListingID: 7}))
	assert.False(t, q.Push(catalog.EnrichmentTask{ListingID: 7}))
	assert.Equal(t, 1, q.Size())

	// Once popped the listing may be re-enqueued for a retry
	_, ok := q.Pop()
	require.True(t, ok)
	assert.True(t, q.Push(catalog.EnrichmentTask{ListingID: 7, Attempts: 1}))
}

func TestQueue_StopDrainsThenReleases(t *testing.T) {
	q := NewQueue()
	q.Push(catalog.EnrichmentTask{ListingID: 1})
	q.Stop()

	// Remaining tasks drain first
	_, ok := q.Pop()
	assert.True(t, ok)

	// Then blocked workers are released
	_, ok = q.Pop()
	assert.False(t, ok)

	// No new tasks after stop
	assert.False(t, q.Push(catalog.EnrichmentTask{ListingID: 2}))
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := NewQueue()
	const n = 100

	var got sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.Pop()
				if !ok {
					return
				}
				got.Store(task.ListingID, true)
			}
		}()
	}

	for i := int64(1); i <= n; i++ {
		q.Push(catalog.EnrichmentTask{ListingID: i})
	}
	for q.Size() > 0 {
		time.Sleep(time.Millisecond)
	}
	q.Stop()
	wg.Wait()

	count := 0
	got.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, n, count)
}
