package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"marketdeck/internal/catalog"
)

// Tracker holds and manages ingestion metrics
type Tracker struct {
	mu   sync.Mutex
	data catalog.IngestMetrics
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	return &Tracker{
		data: catalog.IngestMetrics{
			StartTime: time.Now(),
		},
	}
}

// IncrementKeywordsScraped increments the completed keyword counter
func (t *Tracker) IncrementKeywordsScraped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.KeywordsScraped++
}

// IncrementKeywordsFailed increments the failed keyword counter
func (t *Tracker) IncrementKeywordsFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.KeywordsFailed++
}

// IncrementPagesFetched increments the successful page counter
func (t *Tracker) IncrementPagesFetched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFetched++
}

// IncrementPagesFailed increments the failed page counter
func (t *Tracker) IncrementPagesFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.PagesFailed++
}

// AddListingsDiscovered adds to the discovered listings counter
func (t *Tracker) AddListingsDiscovered(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ListingsDiscovered += n
}

// AddListingsPersisted adds to the persisted listings counter
func (t *Tracker) AddListingsPersisted(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ListingsPersisted += n
}

// AddListingsHidden adds to the hidden-at-ingest counter
func (t *Tracker) AddListingsHidden(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ListingsHidden += n
}

// IncrementEnrichSucceeded increments the enriched listings counter
func (t *Tracker) IncrementEnrichSucceeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EnrichSucceeded++
}

// IncrementEnrichRetried increments the enrichment retry counter
func (t *Tracker) IncrementEnrichRetried() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EnrichRetried++
}

// IncrementEnrichFailed increments the permanently-failed enrichment counter
func (t *Tracker) IncrementEnrichFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.EnrichFailed++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() catalog.IngestMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason

	// Marshal to JSON
	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress prints current metrics to console (for periodic updates)
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Keywords: %d scraped, %d failed | Pages: %d fetched, %d failed | Listings: %d discovered, %d persisted, %d hidden",
		t.data.KeywordsScraped,
		t.data.KeywordsFailed,
		t.data.PagesFetched,
		t.data.PagesFailed,
		t.data.ListingsDiscovered,
		t.data.ListingsPersisted,
		t.data.ListingsHidden,
	)
}
