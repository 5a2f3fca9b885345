package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store handles all catalog database operations
type Store struct {
	db *sql.DB
}

// NewStore opens/creates the catalog database and initializes the schema
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables and indices if they don't exist
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS keywords (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		keyword TEXT NOT NULL,
		marketplace TEXT NOT NULL,
		priority INTEGER DEFAULT 0,
		last_scraped_at TIMESTAMP,
		item_count INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(keyword, marketplace)
	);

	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		marketplace TEXT NOT NULL,
		external_id TEXT NOT NULL,
		title TEXT DEFAULT '',
		price INTEGER DEFAULT 0,
		image_url TEXT DEFAULT '',
		images TEXT DEFAULT '[]',
		description TEXT DEFAULT '',
		url TEXT DEFAULT '',
		keyword_id INTEGER,
		category_id TEXT DEFAULT '',
		hidden BOOLEAN DEFAULT FALSE,
		seen BOOLEAN DEFAULT FALSE,
		saved BOOLEAN DEFAULT FALSE,
		status TEXT DEFAULT 'unknown',
		is_auction BOOLEAN DEFAULT FALSE,
		auction_end_time INTEGER DEFAULT 0,
		enrich_failed BOOLEAN DEFAULT FALSE,
		first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_refreshed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(marketplace, external_id),
		FOREIGN KEY (keyword_id) REFERENCES keywords(id)
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		marketplace TEXT NOT NULL,
		name TEXT DEFAULT '',
		parent_id TEXT DEFAULT '',
		path TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS category_blocklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category_id TEXT NOT NULL,
		keyword_id INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(category_id, keyword_id)
	);

	CREATE TABLE IF NOT EXISTS enrichment_queue (
		listing_id INTEGER PRIMARY KEY,
		enqueued_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		attempts INTEGER DEFAULT 0,
		FOREIGN KEY (listing_id) REFERENCES listings(id)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_identity ON listings(marketplace, external_id);
	CREATE INDEX IF NOT EXISTS idx_listings_keyword ON listings(keyword_id);
	CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category_id);
	CREATE INDEX IF NOT EXISTS idx_categories_marketplace ON categories(marketplace);
	CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ---- keywords ----

// CreateKeyword inserts a keyword, returning its id
func (s *Store) CreateKeyword(keyword, marketplace string, priority int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO keywords (keyword, marketplace, priority)
		VALUES (?, ?, ?)
	`, keyword, marketplace, priority)
	if err != nil {
		return 0, fmt.Errorf("failed to create keyword: %w", err)
	}
	return res.LastInsertId()
}

// GetKeyword retrieves a keyword by id, returns nil if not found
func (s *Store) GetKeyword(id int64) (*Keyword, error) {
	var kw Keyword
	var lastScraped sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, keyword, marketplace, priority, last_scraped_at, item_count, created_at
		FROM keywords WHERE id = ?
	`, id).Scan(&kw.ID, &kw.Keyword, &kw.Marketplace, &kw.Priority, &lastScraped, &kw.ItemCount, &kw.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get keyword: %w", err)
	}

	kw.LastScrapedAt = lastScraped.Time
	return &kw, nil
}

// ListKeywordsByPriority returns all keywords, highest priority first
func (s *Store) ListKeywordsByPriority() ([]*Keyword, error) {
	rows, err := s.db.Query(`
		SELECT id, keyword, marketplace, priority, last_scraped_at, item_count, created_at
		FROM keywords ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []*Keyword
	for rows.Next() {
		var kw Keyword
		var lastScraped sql.NullTime
		if err := rows.Scan(&kw.ID, &kw.Keyword, &kw.Marketplace, &kw.Priority, &lastScraped, &kw.ItemCount, &kw.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		kw.LastScrapedAt = lastScraped.Time
		keywords = append(keywords, &kw)
	}
	return keywords, rows.Err()
}

// UpdateKeywordStats records a completed crawl: sets last_scraped_at and
// adds the number of newly persisted listings to item_count
func (s *Store) UpdateKeywordStats(id int64, lastScrapedAt time.Time, added int) error {
	_, err := s.db.Exec(`
		UPDATE keywords SET last_scraped_at = ?, item_count = item_count + ? WHERE id = ?
	`, lastScrapedAt, added, id)
	if err != nil {
		return fmt.Errorf("failed to update keyword stats: %w", err)
	}
	return nil
}

// ---- listings ----

// ItemExists reports whether a listing with the given identity is already known
func (s *Store) ItemExists(marketplace, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM listings WHERE marketplace = ? AND external_id = ?
	`, marketplace, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check listing existence: %w", err)
	}
	return true, nil
}

// UpsertItem inserts a listing or, on identity conflict, updates its mutable
// fields (title, price, image, hidden, status). Identity, seen/saved flags
// and enriched detail are never overwritten by a re-discovery.
// Returns the listing id.
func (s *Store) UpsertItem(l *Listing) (int64, error) {
	images, err := json.Marshal(l.Images)
	if err != nil {
		return 0, fmt.Errorf("failed to encode images: %w", err)
	}
	if l.Status == "" {
		l.Status = StatusUnknown
	}

	_, err = s.db.Exec(`
		INSERT INTO listings (marketplace, external_id, title, price, image_url, images,
			url, keyword_id, category_id, hidden, status, is_auction, auction_end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(marketplace, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			image_url = EXCLUDED.image_url,
			hidden = EXCLUDED.hidden,
			status = CASE WHEN EXCLUDED.status != 'unknown' THEN EXCLUDED.status ELSE listings.status END,
			last_refreshed_at = CURRENT_TIMESTAMP
	`, l.Marketplace, l.ExternalID, l.Title, l.Price, l.ImageURL, string(images),
		l.URL, l.KeywordID, l.CategoryID, l.Hidden, l.Status, l.IsAuction, l.AuctionEndTime)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert listing: %w", err)
	}

	var id int64
	err = s.db.QueryRow(
		"SELECT id FROM listings WHERE marketplace = ? AND external_id = ?",
		l.Marketplace, l.ExternalID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve listing id: %w", err)
	}
	return id, nil
}

const listingColumns = `id, marketplace, external_id, title, price, image_url, images,
	description, url, keyword_id, category_id, hidden, seen, saved, status,
	is_auction, auction_end_time, enrich_failed, first_seen_at, last_refreshed_at`

func scanListing(row interface{ Scan(...any) error }) (*Listing, error) {
	var l Listing
	var images string
	var keywordID sql.NullInt64
	err := row.Scan(&l.ID, &l.Marketplace, &l.ExternalID, &l.Title, &l.Price, &l.ImageURL,
		&images, &l.Description, &l.URL, &keywordID, &l.CategoryID, &l.Hidden, &l.Seen,
		&l.Saved, &l.Status, &l.IsAuction, &l.AuctionEndTime, &l.EnrichFailed,
		&l.FirstSeenAt, &l.LastRefreshedAt)
	if err != nil {
		return nil, err
	}
	l.KeywordID = keywordID.Int64
	if err := json.Unmarshal([]byte(images), &l.Images); err != nil {
		l.Images = nil
	}
	return &l, nil
}

// GetItem retrieves a listing by id, returns nil if not found
func (s *Store) GetItem(id int64) (*Listing, error) {
	row := s.db.QueryRow("SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}

// SetHidden flips the hidden flag on the given listings
func (s *Store) SetHidden(ids []int64, hidden bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, hidden)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec("UPDATE listings SET hidden = ? WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to set hidden: %w", err)
	}
	return nil
}

// HideByCategories hides every listing whose category is in the given set,
// in one pass. A keywordID of 0 applies across all keywords. Listings the
// user already acted on (seen or saved) are left alone.
// Returns the number of listings affected.
func (s *Store) HideByCategories(categoryIDs []string, keywordID int64) (int64, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(categoryIDs)), ",")
	args := make([]any, 0, len(categoryIDs)+1)
	for _, id := range categoryIDs {
		args = append(args, id)
	}

	query := `UPDATE listings SET hidden = TRUE
		WHERE category_id IN (` + placeholders + `)
		AND hidden = FALSE AND seen = FALSE AND saved = FALSE`
	if keywordID != 0 {
		query += " AND keyword_id = ?"
		args = append(args, keywordID)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to hide listings by category: %w", err)
	}
	return res.RowsAffected()
}

// MarkSaved flags a listing as saved by the user
func (s *Store) MarkSaved(id int64) error {
	_, err := s.db.Exec("UPDATE listings SET saved = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark listing saved: %w", err)
	}
	return nil
}

// UpdateItemDetail writes enriched detail onto a listing. The price is only
// overwritten when the detail reported one; a successful enrichment clears
// any earlier failure flag.
func (s *Store) UpdateItemDetail(id int64, d *Detail) error {
	images, err := json.Marshal(d.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	parts := []string{"description = ?", "images = ?", "enrich_failed = FALSE", "last_refreshed_at = CURRENT_TIMESTAMP"}
	args := []any{d.Description, string(images)}

	if d.Price > 0 {
		parts = append(parts, "price = ?")
		args = append(args, d.Price)
	}
	if d.Status != "" && d.Status != StatusUnknown {
		parts = append(parts, "status = ?")
		args = append(args, d.Status)
	}
	if d.AuctionSet {
		parts = append(parts, "is_auction = ?", "auction_end_time = ?")
		args = append(args, d.IsAuction, d.AuctionEndTime)
	}
	if d.CategoryID != "" {
		parts = append(parts, "category_id = ?")
		args = append(args, d.CategoryID)
	}
	args = append(args, id)

	_, err = s.db.Exec("UPDATE listings SET "+strings.Join(parts, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update listing detail: %w", err)
	}
	return nil
}

// SetItemStatus updates a listing's status and, when price > 0, its price
func (s *Store) SetItemStatus(id int64, status string, price int64) error {
	var err error
	if price > 0 {
		_, err = s.db.Exec(
			"UPDATE listings SET status = ?, price = ?, last_refreshed_at = CURRENT_TIMESTAMP WHERE id = ?",
			status, price, id)
	} else {
		_, err = s.db.Exec(
			"UPDATE listings SET status = ?, last_refreshed_at = CURRENT_TIMESTAMP WHERE id = ?",
			status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set listing status: %w", err)
	}
	return nil
}

// MarkEnrichFailed flags a listing whose enrichment was dropped after
// exhausting its retry budget
func (s *Store) MarkEnrichFailed(id int64) error {
	_, err := s.db.Exec("UPDATE listings SET enrich_failed = TRUE WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark enrichment failed: %w", err)
	}
	return nil
}

// ---- categories ----

// AddCategory inserts or updates a category in the cache table
func (s *Store) AddCategory(c *Category) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO categories (id, marketplace, name, parent_id, path)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Marketplace, c.Name, c.ParentID, c.Path)
	if err != nil {
		return fmt.Errorf("failed to add category: %w", err)
	}
	return nil
}

// GetCategory retrieves a category by id, returns nil if not found
func (s *Store) GetCategory(id string) (*Category, error) {
	var c Category
	err := s.db.QueryRow(`
		SELECT id, marketplace, name, parent_id, path FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Marketplace, &c.Name, &c.ParentID, &c.Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns all cached categories for a marketplace, parents
// before children so a tree can be rebuilt in one pass
func (s *Store) ListCategories(marketplace string) ([]*Category, error) {
	rows, err := s.db.Query(`
		SELECT id, marketplace, name, parent_id, path
		FROM categories WHERE marketplace = ?
		ORDER BY LENGTH(path) ASC, id ASC
	`, marketplace)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Marketplace, &c.Name, &c.ParentID, &c.Path); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// ---- blocklist ----

// AddBlocklistEntry blocks a category, globally (keywordID 0) or for one keyword
func (s *Store) AddBlocklistEntry(categoryID string, keywordID int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO category_blocklist (category_id, keyword_id) VALUES (?, ?)
		ON CONFLICT(category_id, keyword_id) DO NOTHING
	`, categoryID, keywordID)
	if err != nil {
		return 0, fmt.Errorf("failed to add blocklist entry: %w", err)
	}
	return res.LastInsertId()
}

// GetBlocklistEntries returns all blocklist entries for a marketplace.
// Category ids carry the marketplace prefix, so a prefix match suffices.
func (s *Store) GetBlocklistEntries(marketplace string) ([]BlocklistEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, category_id, keyword_id FROM category_blocklist
		WHERE category_id LIKE ? || ':%'
	`, marketplace)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocklist entries: %w", err)
	}
	defer rows.Close()

	var entries []BlocklistEntry
	for rows.Next() {
		var e BlocklistEntry
		if err := rows.Scan(&e.ID, &e.CategoryID, &e.KeywordID); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ---- enrichment queue ----

// EnqueueEnrichment records a pending enrichment task. Returns false if the
// listing was already queued.
func (s *Store) EnqueueEnrichment(listingID int64) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO enrichment_queue (listing_id) VALUES (?)", listingID)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue enrichment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DequeueEnrichmentBatch returns up to n pending tasks, oldest first.
// Tasks stay in the table until RemoveEnrichment; the in-memory queue
// deduplicates, so reload after a restart is safe.
func (s *Store) DequeueEnrichmentBatch(n int) ([]EnrichmentTask, error) {
	rows, err := s.db.Query(`
		SELECT listing_id, enqueued_at, attempts FROM enrichment_queue
		ORDER BY enqueued_at ASC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue enrichment batch: %w", err)
	}
	defer rows.Close()

	var tasks []EnrichmentTask
	for rows.Next() {
		var t EnrichmentTask
		if err := rows.Scan(&t.ListingID, &t.EnqueuedAt, &t.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan enrichment task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateEnrichmentAttempts persists a task's retry count
func (s *Store) UpdateEnrichmentAttempts(listingID int64, attempts int) error {
	_, err := s.db.Exec(
		"UPDATE enrichment_queue SET attempts = ? WHERE listing_id = ?", attempts, listingID)
	if err != nil {
		return fmt.Errorf("failed to update enrichment attempts: %w", err)
	}
	return nil
}

// RemoveEnrichment drops a task after a terminal outcome
func (s *Store) RemoveEnrichment(listingID int64) error {
	_, err := s.db.Exec("DELETE FROM enrichment_queue WHERE listing_id = ?", listingID)
	if err != nil {
		return fmt.Errorf("failed to remove enrichment task: %w", err)
	}
	return nil
}

// ---- stats ----

// GetStats returns catalog-wide counts
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM listings),
			(SELECT COUNT(*) FROM listings WHERE hidden),
			(SELECT COUNT(*) FROM listings WHERE description != ''),
			(SELECT COUNT(*) FROM keywords),
			(SELECT COUNT(*) FROM enrichment_queue),
			(SELECT COUNT(*) FROM listings WHERE enrich_failed),
			(SELECT COUNT(*) FROM category_blocklist)
	`)
	if err := row.Scan(&st.Listings, &st.Hidden, &st.Enriched, &st.Keywords,
		&st.PendingEnrich, &st.FailedEnrich, &st.BlockedCategory); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &st, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
