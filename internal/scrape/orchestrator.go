package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketdeck/internal/catalog"
	"marketdeck/internal/category"
	"marketdeck/internal/config"
	"marketdeck/internal/marketplace"
	"marketdeck/internal/metrics"
)

// stopThreshold is how many consecutive already-known listings end a
// keyword walk. Listings surface newest-first, so a run of known items
// means the walk has reached the previous crawl's frontier.
const stopThreshold = 5

// ErrScrapeRunning is returned when a run is requested while one is active
var ErrScrapeRunning = errors.New("a scrape is already running")

// State tracks a keyword crawl through its phases
type State int

const (
	StatePending State = iota
	StateFetching
	StateDeduplicating
	StatePersisting
	StateDone
	StateFailed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateDeduplicating:
		return "deduplicating"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the state as its name
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Store is the slice of the catalog the orchestrator needs
type Store interface {
	GetKeyword(id int64) (*catalog.Keyword, error)
	ListKeywordsByPriority() ([]*catalog.Keyword, error)
	ItemExists(marketplace, externalID string) (bool, error)
	UpsertItem(l *catalog.Listing) (int64, error)
	UpdateKeywordStats(id int64, lastScrapedAt time.Time, added int) error
}

// Enqueuer schedules a newly persisted listing for detail enrichment
type Enqueuer interface {
	Enqueue(listingID int64) error
}

// KeywordResult summarizes one keyword crawl
type KeywordResult struct {
	KeywordID  int64  `json:"keyword_id"`
	Keyword    string `json:"keyword"`
	State      State  `json:"state"`
	Pages      int    `json:"pages"`
	Discovered int    `json:"discovered"`
	Added      int    `json:"added"`
	Hidden     int    `json:"hidden"`
	Error      string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Orchestrator runs incremental keyword crawls against the marketplace
// clients and persists what is new.
type Orchestrator struct {
	cfg      *config.Config
	store    Store
	clients  map[string]marketplace.Client
	filter   *category.Filter
	enricher Enqueuer
	tracker  *Tracker
	metrics  *metrics.Tracker
}

// NewOrchestrator creates a crawl orchestrator. enricher may be nil when
// enrichment is not wired (one-shot scrape runs).
func NewOrchestrator(cfg *config.Config, store Store, clients map[string]marketplace.Client,
	filter *category.Filter, enricher Enqueuer, tracker *Tracker, m *metrics.Tracker) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		clients:  clients,
		filter:   filter,
		enricher: enricher,
		tracker:  tracker,
		metrics:  m,
	}
}

// Status returns the live status tracker
func (o *Orchestrator) Status() *Tracker {
	return o.tracker
}

// RunAll crawls every keyword in priority order. Keyword failures are
// collected into the results, never aborting the run; cancellation is
// honored between keywords. Only one run may be active at a time.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*KeywordResult, error) {
	if !o.tracker.TryStart() {
		return nil, ErrScrapeRunning
	}
	defer o.tracker.Finish()
	return o.runAll(ctx)
}

// StartAll launches a full scrape in the background, returning
// ErrScrapeRunning immediately when one is active.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	if !o.tracker.TryStart() {
		return ErrScrapeRunning
	}
	go func() {
		defer o.tracker.Finish()
		if _, err := o.runAll(ctx); err != nil {
			logrus.Errorf("Background scrape failed: %v", err)
		}
	}()
	return nil
}

func (o *Orchestrator) runAll(ctx context.Context) ([]*KeywordResult, error) {
	keywords, err := o.store.ListKeywordsByPriority()
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}

	logrus.Infof("Starting full scrape: %d keywords, parallelism %d", len(keywords), o.cfg.ScrapeParallelism)

	sem := make(chan struct{}, o.cfg.ScrapeParallelism)
	results := make([]*KeywordResult, len(keywords))
	var wg sync.WaitGroup

	for i, kw := range keywords {
		select {
		case <-ctx.Done():
			logrus.Warnf("Scrape cancelled after %d/%d keywords", i, len(keywords))
			wg.Wait()
			return compact(results), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, kw *catalog.Keyword) {
			defer wg.Done()
			defer func() { <-sem }()

			o.tracker.SetCurrent(kw.Keyword)
			res := o.runKeyword(ctx, kw)
			results[i] = res

			if res.Err != nil {
				o.tracker.RecordFailure(kw.Keyword, res.Err)
				o.metrics.IncrementKeywordsFailed()
			} else {
				o.tracker.RecordDone()
				o.metrics.IncrementKeywordsScraped()
			}
		}(i, kw)
	}

	wg.Wait()
	logrus.Infof("Full scrape finished: %s", o.tracker.GetSnapshot().summary())
	return compact(results), nil
}

// RunKeyword crawls a single keyword by id. Shares the run lock with
// RunAll so concurrent crawls never race on the same keyword.
func (o *Orchestrator) RunKeyword(ctx context.Context, keywordID int64) (*KeywordResult, error) {
	if !o.tracker.TryStart() {
		return nil, ErrScrapeRunning
	}
	defer o.tracker.Finish()

	kw, err := o.store.GetKeyword(keywordID)
	if err != nil {
		return nil, err
	}
	if kw == nil {
		return nil, fmt.Errorf("keyword %d not found", keywordID)
	}

	o.tracker.SetCurrent(kw.Keyword)
	res := o.runKeyword(ctx, kw)
	if res.Err != nil {
		o.tracker.RecordFailure(kw.Keyword, res.Err)
		o.metrics.IncrementKeywordsFailed()
	} else {
		o.tracker.RecordDone()
		o.metrics.IncrementKeywordsScraped()
	}
	return res, nil
}

// runKeyword walks the keyword's listing feed newest-first, stopping at
// the known-item frontier, and persists what survives the blocklist.
func (o *Orchestrator) runKeyword(ctx context.Context, kw *catalog.Keyword) *KeywordResult {
	res := &KeywordResult{KeywordID: kw.ID, Keyword: kw.Keyword, State: StatePending}

	client, ok := o.clients[kw.Marketplace]
	if !ok {
		res.fail(fmt.Errorf("no client for marketplace %q", kw.Marketplace))
		return res
	}

	logrus.Infof("Scraping keyword %q (%s, id=%d)", kw.Keyword, kw.Marketplace, kw.ID)

	fresh, err := o.collect(ctx, client, kw, res)
	if err != nil {
		res.fail(err)
		return res
	}

	res.State = StatePersisting
	if err := o.persist(ctx, kw, fresh, res); err != nil {
		res.fail(err)
		return res
	}

	if err := o.store.UpdateKeywordStats(kw.ID, time.Now(), res.Added); err != nil {
		logrus.Warnf("Failed to update stats for keyword %d: %v", kw.ID, err)
	}

	res.State = StateDone
	logrus.Infof("Keyword %q done: %d pages, %d discovered, %d added, %d hidden",
		kw.Keyword, res.Pages, res.Discovered, res.Added, res.Hidden)
	return res
}

// collect pages through the feed until the stop threshold, the page-walk
// bound, or the end of results. Duplicate ids within the run are skipped
// without touching the consecutive-known counter.
func (o *Orchestrator) collect(ctx context.Context, client marketplace.Client,
	kw *catalog.Keyword, res *KeywordResult) ([]marketplace.ListingSummary, error) {

	var fresh []marketplace.ListingSummary
	seen := make(map[string]bool)
	consecutiveKnown := 0
	cursor := ""

walk:
	for {
		res.State = StateFetching
		page, err := client.Search(ctx, kw.Keyword, cursor)
		if err != nil {
			o.metrics.IncrementPagesFailed()
			return nil, fmt.Errorf("search page %d failed: %w", res.Pages+1, err)
		}
		res.Pages++
		o.metrics.IncrementPagesFetched()

		res.State = StateDeduplicating
		for _, item := range page.Items {
			if seen[item.ExternalID] {
				continue
			}
			seen[item.ExternalID] = true
			res.Discovered++

			exists, err := o.store.ItemExists(kw.Marketplace, item.ExternalID)
			if err != nil {
				return nil, fmt.Errorf("failed to check listing %s: %w", item.ExternalID, err)
			}
			if exists {
				consecutiveKnown++
				if consecutiveKnown >= stopThreshold {
					logrus.Debugf("Keyword %q: %d consecutive known listings, stopping", kw.Keyword, consecutiveKnown)
					break walk
				}
				continue
			}

			consecutiveKnown = 0
			fresh = append(fresh, item)
			if len(fresh) >= o.cfg.MaxItemsPerKeyword {
				logrus.Warnf("Keyword %q hit the %d item bound, stopping", kw.Keyword, o.cfg.MaxItemsPerKeyword)
				break walk
			}
		}

		if page.NextCursor == "" {
			break
		}
		// Repeating feeds can re-serve known ids with a fresh cursor
		// forever; the run-local dedup would swallow them without ever
		// advancing the stop counter, so the walk carries a hard bound.
		if res.Pages >= o.cfg.MaxPagesPerKeyword {
			logrus.Warnf("Keyword %q hit the %d page bound, stopping", kw.Keyword, o.cfg.MaxPagesPerKeyword)
			break
		}
		cursor = page.NextCursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	o.metrics.AddListingsDiscovered(res.Discovered)
	return fresh, nil
}

// persist writes the new listings, applying the keyword's blocklist scope
// and queueing each for enrichment.
func (o *Orchestrator) persist(ctx context.Context, kw *catalog.Keyword,
	fresh []marketplace.ListingSummary, res *KeywordResult) error {

	scope, err := o.filter.Scope(ctx, kw.Marketplace, kw.ID)
	if err != nil {
		return fmt.Errorf("failed to load blocklist: %w", err)
	}

	for _, item := range fresh {
		blocked := scope.Blocked(item.CategoryID)

		id, err := o.store.UpsertItem(&catalog.Listing{
			Marketplace: kw.Marketplace,
			ExternalID:  item.ExternalID,
			Title:       item.Title,
			Price:       item.Price,
			ImageURL:    item.ImageURL,
			URL:         item.URL,
			KeywordID:   kw.ID,
			CategoryID:  item.CategoryID,
			Hidden:      blocked,
			Status:      catalog.StatusAvailable,
		})
		if err != nil {
			return fmt.Errorf("failed to persist listing %s: %w", item.ExternalID, err)
		}

		res.Added++
		if blocked {
			res.Hidden++
		}

		if o.enricher != nil {
			if err := o.enricher.Enqueue(id); err != nil {
				logrus.Warnf("Failed to queue listing %d for enrichment: %v", id, err)
			}
		}
	}

	o.metrics.AddListingsPersisted(res.Added)
	o.metrics.AddListingsHidden(res.Hidden)
	return nil
}

func (r *KeywordResult) fail(err error) {
	r.State = StateFailed
	r.Err = err
	r.Error = err.Error()
	logrus.Errorf("Keyword %q failed: %v", r.Keyword, err)
}

func (s Snapshot) summary() string {
	return fmt.Sprintf("%d done, %d failed", s.KeywordsDone, s.KeywordsFailed)
}

func compact(results []*KeywordResult) []*KeywordResult {
	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
