package scrape

import (
	"fmt"
	"sync"
)

const maxTrackedErrors = 10

// Snapshot is a point-in-time view of the status tracker
type Snapshot struct {
	Running        bool     `json:"running"`
	CurrentKeyword string   `json:"current_keyword,omitempty"`
	KeywordsDone   int      `json:"keywords_done"`
	KeywordsFailed int      `json:"keywords_failed"`
	LastErrors     []string `json:"last_errors,omitempty"`
}

// Tracker reports scrape progress while a run is active. A single run
// holds the tracker at a time; TryStart refuses a second.
type Tracker struct {
	mu             sync.Mutex
	running        bool
	currentKeyword string
	keywordsDone   int
	keywordsFailed int
	lastErrors     []string
}

// NewTracker creates an idle status tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart claims the tracker for a run. Returns false if a run is
// already active.
func (t *Tracker) TryStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.currentKeyword = ""
	t.keywordsDone = 0
	t.keywordsFailed = 0
	t.lastErrors = nil
	return true
}

// Finish releases the tracker at the end of a run
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.currentKeyword = ""
}

// SetCurrent records the keyword being scraped
func (t *Tracker) SetCurrent(keyword string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentKeyword = keyword
}

// RecordDone counts a completed keyword
func (t *Tracker) RecordDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keywordsDone++
}

// RecordFailure counts a failed keyword and keeps its error for the
// status endpoint, bounded to the most recent few.
func (t *Tracker) RecordFailure(keyword string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keywordsFailed++
	t.lastErrors = append(t.lastErrors, fmt.Sprintf("%s: %v", keyword, err))
	if len(t.lastErrors) > maxTrackedErrors {
		t.lastErrors = t.lastErrors[len(t.lastErrors)-maxTrackedErrors:]
	}
}

// GetSnapshot returns a copy of the current status
func (t *Tracker) GetSnapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Running:        t.running,
		CurrentKeyword: t.currentKeyword,
		KeywordsDone:   t.keywordsDone,
		KeywordsFailed: t.keywordsFailed,
	}
	snap.LastErrors = append(snap.LastErrors, t.lastErrors...)
	return snap
}
