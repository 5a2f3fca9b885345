package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdeck/internal/catalog"
)

func TestTracker_ConcurrentIncrements(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.IncrementPagesFetched()
			tracker.AddListingsPersisted(2)
		}()
	}
	wg.Wait()

	snap := tracker.GetSnapshot()
	assert.Equal(t, 50, snap.PagesFetched)
	assert.Equal(t, 100, snap.ListingsPersisted)
}

func TestTracker_WriteToFile(t *testing.T) {
	tracker := NewTracker()
	tracker.IncrementKeywordsScraped()
	tracker.IncrementEnrichSucceeded()

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tracker.WriteToFile(path, "completed"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got catalog.IngestMetrics
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 1, got.KeywordsScraped)
	assert.Equal(t, 1, got.EnrichSucceeded)
	assert.Equal(t, "completed", got.TerminationReason)
	assert.False(t, got.EndTime.IsZero())
}
