package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"marketdeck/internal/catalog"
	"marketdeck/internal/category"
	"marketdeck/internal/config"
	"marketdeck/internal/marketplace"
	"marketdeck/internal/metrics"
)

// resumeBatchSize bounds how many persisted tasks are reloaded at once
const resumeBatchSize = 500

// Store is the slice of the catalog the pool needs
type Store interface {
	GetItem(id int64) (*catalog.Listing, error)
	UpdateItemDetail(id int64, d *catalog.Detail) error
	SetItemStatus(id int64, status string, price int64) error
	MarkEnrichFailed(id int64) error
	EnqueueEnrichment(listingID int64) (bool, error)
	DequeueEnrichmentBatch(n int) ([]catalog.EnrichmentTask, error)
	UpdateEnrichmentAttempts(listingID int64, attempts int) error
	RemoveEnrichment(listingID int64) error
}

// Pool runs detail fetches for newly discovered listings on a fixed set
// of workers. Tasks are mirrored in the catalog so the backlog survives
// restarts; retries back off per task without blocking a worker.
type Pool struct {
	cfg     *config.Config
	store   Store
	clients map[string]marketplace.Client
	cache   *category.Cache
	metrics *metrics.Tracker

	queue *Queue
	wg    sync.WaitGroup

	retryMu sync.Mutex
	retries map[int64]*backoff.ExponentialBackOff
	timers  map[int64]*time.Timer
	stopped bool
}

// NewPool creates an enrichment pool. Start must be called before tasks
// are processed.
func NewPool(cfg *config.Config, store Store, clients map[string]marketplace.Client,
	cache *category.Cache, m *metrics.Tracker) *Pool {
	return &Pool{
		cfg:     cfg,
		store:   store,
		clients: clients,
		cache:   cache,
		metrics: m,
		queue:   NewQueue(),
		retries: make(map[int64]*backoff.ExponentialBackOff),
		timers:  make(map[int64]*time.Timer),
	}
}

// Start reloads the persisted backlog and launches the workers
func (p *Pool) Start() error {
	if err := p.resume(); err != nil {
		return err
	}

	for i := 0; i < p.cfg.EnrichWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logrus.Infof("Enrichment pool started: %d workers, %d tasks resumed", p.cfg.EnrichWorkers, p.queue.Size())
	return nil
}

// resume reloads pending tasks from the catalog mirror
func (p *Pool) resume() error {
	tasks, err := p.store.DequeueEnrichmentBatch(resumeBatchSize)
	if err != nil {
		return fmt.Errorf("failed to reload enrichment backlog: %w", err)
	}
	for _, task := range tasks {
		p.queue.Push(task)
	}
	return nil
}

// Enqueue schedules a listing for enrichment. Already-pending listings
// are skipped at both the catalog mirror and the in-memory queue.
func (p *Pool) Enqueue(listingID int64) error {
	inserted, err := p.store.EnqueueEnrichment(listingID)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	p.queue.Push(catalog.EnrichmentTask{
		ListingID:  listingID,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// Backlog returns the number of tasks waiting in memory
func (p *Pool) Backlog() int {
	return p.queue.Size()
}

// Stop drains the queue and waits for workers to finish in-flight tasks.
// Retry timers are cancelled; their tasks stay in the catalog mirror and
// reload on the next start.
func (p *Pool) Stop() {
	p.retryMu.Lock()
	p.stopped = true
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.retryMu.Unlock()

	p.queue.Stop()
	p.wg.Wait()
	logrus.Info("Enrichment pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		task, ok := p.queue.Pop()
		if !ok {
			logrus.Debugf("Enrichment worker %d exiting", id)
			return
		}
		p.process(task)
	}
}

// process runs one detail fetch and routes the outcome
func (p *Pool) process(task catalog.EnrichmentTask) {
	listing, err := p.store.GetItem(task.ListingID)
	if err != nil {
		p.retry(task, err)
		return
	}
	if listing == nil {
		// Listing removed underneath the queue, drop the task
		logrus.Warnf("Enrichment task for missing listing %d dropped", task.ListingID)
		p.finish(task.ListingID)
		return
	}

	client, ok := p.clients[listing.Marketplace]
	if !ok {
		logrus.Errorf("No client for marketplace %q, dropping task for listing %d", listing.Marketplace, listing.ID)
		p.finish(task.ListingID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.cfg.RequestTimeoutMs)*time.Millisecond)
	defer cancel()

	detail, err := client.FetchDetail(ctx, listing.ExternalID)
	switch {
	case err == nil:
		p.applyDetail(ctx, task, listing, detail)

	case errors.Is(err, marketplace.ErrNotFound):
		// Gone from the marketplace, one attempt is enough
		logrus.Infof("Listing %d (%s/%s) is gone, marking delisted", listing.ID, listing.Marketplace, listing.ExternalID)
		if serr := p.store.SetItemStatus(listing.ID, catalog.StatusDelisted, 0); serr != nil {
			logrus.Warnf("Failed to mark listing %d delisted: %v", listing.ID, serr)
		}
		p.finish(task.ListingID)

	case marketplace.IsPermanent(err):
		// Retrying cannot fix a response we cannot parse
		logrus.Warnf("Enrichment for listing %d failed permanently: %v", listing.ID, err)
		if serr := p.store.MarkEnrichFailed(listing.ID); serr != nil {
			logrus.Warnf("Failed to flag listing %d: %v", listing.ID, serr)
		}
		p.metrics.IncrementEnrichFailed()
		p.finish(task.ListingID)

	default:
		p.retry(task, err)
	}
}

// applyDetail persists a successful fetch and writes newly discovered
// category chains through the hierarchy cache
func (p *Pool) applyDetail(ctx context.Context, task catalog.EnrichmentTask, listing *catalog.Listing, detail *marketplace.ListingDetail) {
	d := &catalog.Detail{
		Description:    detail.Description,
		Price:          detail.Price,
		Images:         detail.Images,
		Status:         detail.Status,
		IsAuction:      detail.IsAuction,
		AuctionSet:     detail.AuctionSet,
		AuctionEndTime: detail.AuctionEndTime,
	}
	if n := len(detail.CategoryPath); n > 0 {
		d.CategoryID = detail.CategoryPath[n-1].ID
		if err := p.cache.InsertChain(ctx, listing.Marketplace, detail.CategoryPath); err != nil {
			logrus.Warnf("Failed to record category chain for listing %d: %v", listing.ID, err)
		}
	}

	if err := p.store.UpdateItemDetail(listing.ID, d); err != nil {
		logrus.Errorf("Failed to store detail for listing %d: %v", listing.ID, err)
		p.retry(task, err)
		return
	}

	p.metrics.IncrementEnrichSucceeded()
	p.finish(listing.ID)
}

// retry re-enqueues a task after its backoff delay, or gives up once the
// attempt budget is spent
func (p *Pool) retry(task catalog.EnrichmentTask, cause error) {
	attempts := task.Attempts + 1
	if attempts >= p.cfg.EnrichMaxAttempts {
		logrus.Warnf("Enrichment for listing %d failed after %d attempts: %v", task.ListingID, attempts, cause)
		if err := p.store.MarkEnrichFailed(task.ListingID); err != nil {
			logrus.Warnf("Failed to flag listing %d: %v", task.ListingID, err)
		}
		p.metrics.IncrementEnrichFailed()
		p.finish(task.ListingID)
		return
	}

	if err := p.store.UpdateEnrichmentAttempts(task.ListingID, attempts); err != nil {
		logrus.Warnf("Failed to record attempt %d for listing %d: %v", attempts, task.ListingID, err)
	}

	delay := p.nextDelay(task.ListingID)
	logrus.Debugf("Retrying listing %d in %s (attempt %d/%d): %v",
		task.ListingID, delay, attempts, p.cfg.EnrichMaxAttempts, cause)
	p.metrics.IncrementEnrichRetried()

	requeued := catalog.EnrichmentTask{
		ListingID:  task.ListingID,
		EnqueuedAt: task.EnqueuedAt,
		Attempts:   attempts,
	}

	p.retryMu.Lock()
	defer p.retryMu.Unlock()
	if p.stopped {
		// Task stays in the catalog mirror for the next start
		return
	}
	p.timers[task.ListingID] = time.AfterFunc(delay, func() {
		p.retryMu.Lock()
		delete(p.timers, requeued.ListingID)
		p.retryMu.Unlock()
		p.queue.Push(requeued)
	})
}

// nextDelay advances the per-task exponential backoff
func (p *Pool) nextDelay(listingID int64) time.Duration {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	bo, ok := p.retries[listingID]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Duration(p.cfg.EnrichBackoffInitialMs) * time.Millisecond
		bo.MaxElapsedTime = 0
		p.retries[listingID] = bo
	}
	return bo.NextBackOff()
}

// finish clears all scheduling state for a task
func (p *Pool) finish(listingID int64) {
	if err := p.store.RemoveEnrichment(listingID); err != nil {
		logrus.Warnf("Failed to remove enrichment task %d: %v", listingID, err)
	}
	p.retryMu.Lock()
	delete(p.retries, listingID)
	p.retryMu.Unlock()
}

// RefreshItem fetches a single listing's current status synchronously
// and returns the updated listing. A listing gone from its marketplace
// is marked delisted rather than erroring.
func (p *Pool) RefreshItem(ctx context.Context, itemID int64) (*catalog.Listing, error) {
	listing, err := p.store.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("listing %d not found", itemID)
	}

	client, ok := p.clients[listing.Marketplace]
	if !ok {
		return nil, fmt.Errorf("no client for marketplace %q", listing.Marketplace)
	}

	detail, err := client.FetchDetail(ctx, listing.ExternalID)
	switch {
	case err == nil:
		if serr := p.store.SetItemStatus(itemID, detail.Status, detail.Price); serr != nil {
			return nil, serr
		}
	case errors.Is(err, marketplace.ErrNotFound):
		if serr := p.store.SetItemStatus(itemID, catalog.StatusDelisted, 0); serr != nil {
			return nil, serr
		}
	default:
		return nil, fmt.Errorf("refresh of listing %d failed: %w", itemID, err)
	}

	return p.store.GetItem(itemID)
}
