package catalog

import "time"

// Listing status values, normalized across marketplaces.
const (
	StatusUnknown   = "unknown"
	StatusAvailable = "available"
	StatusTrading   = "trading"
	StatusSold      = "sold"
	StatusCancelled = "cancelled"
	StatusDelisted  = "delisted"
)

// Listing is a single marketplace item. Identity is (Marketplace, ExternalID);
// re-discovering the same pair updates mutable fields but never identity.
type Listing struct {
	ID              int64
	Marketplace     string
	ExternalID      string
	Title           string
	Price           int64
	ImageURL        string
	Images          []string
	Description     string
	URL             string
	KeywordID       int64
	CategoryID      string
	Hidden          bool
	Seen            bool
	Saved           bool
	Status          string
	IsAuction       bool
	AuctionEndTime  int64 // unix seconds, 0 = none
	EnrichFailed    bool
	FirstSeenAt     time.Time
	LastRefreshedAt time.Time
}

// Keyword is a stored search term driving recurring crawls
type Keyword struct {
	ID            int64
	Keyword       string
	Marketplace   string
	Priority      int
	LastScrapedAt time.Time
	ItemCount     int
	CreatedAt     time.Time
}

// Category is one node of a marketplace category forest. IDs carry the
// marketplace prefix ("mercari:123"), Path is the slash-joined id chain
// from root to this node.
type Category struct {
	ID          string
	Marketplace string
	Name        string
	ParentID    string
	Path        string
}

// BlocklistEntry hides a category subtree. KeywordID 0 means the block is
// global for the marketplace; otherwise it is scoped to one keyword.
type BlocklistEntry struct {
	ID         int64
	CategoryID string
	KeywordID  int64
}

// EnrichmentTask is one pending detail fetch
type EnrichmentTask struct {
	ListingID  int64
	EnqueuedAt time.Time
	Attempts   int
}

// Detail carries the fields a detail fetch may update on a listing
type Detail struct {
	Description    string
	Price          int64
	Images         []string
	Status         string
	IsAuction      bool
	AuctionSet     bool // IsAuction/AuctionEndTime were actually reported
	AuctionEndTime int64
	CategoryID     string
}

// Stats summarizes catalog contents for the stats endpoint
type Stats struct {
	Listings        int `json:"listings"`
	Hidden          int `json:"hidden"`
	Enriched        int `json:"enriched"`
	Keywords        int `json:"keywords"`
	PendingEnrich   int `json:"pending_enrich"`
	FailedEnrich    int `json:"failed_enrich"`
	BlockedCategory int `json:"blocked_categories"`
}

// IngestMetrics tracks scrape statistics for export on exit
type IngestMetrics struct {
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	KeywordsScraped    int       `json:"keywords_scraped"`
	KeywordsFailed     int       `json:"keywords_failed"`
	PagesFetched       int       `json:"pages_fetched"`
	PagesFailed        int       `json:"pages_failed"`
	ListingsDiscovered int       `json:"listings_discovered"`
	ListingsPersisted  int       `json:"listings_persisted"`
	ListingsHidden     int       `json:"listings_hidden"`
	EnrichSucceeded    int       `json:"enrich_succeeded"`
	EnrichRetried      int       `json:"enrich_retried"`
	EnrichFailed       int       `json:"enrich_failed"`
	TerminationReason  string    `json:"termination_reason"`
}
