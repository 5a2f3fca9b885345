// Package marketplace defines the client contract the ingestion engine uses
// to talk to external marketplaces, plus its two implementations: a signed
// JSON API (mercari) and an unauthenticated HTML/JSON page scrape (yahoo).
package marketplace

import "context"

// Marketplace tags
const (
	Mercari = "mercari"
	Yahoo   = "yahoo"
)

// ListingSummary is a single search result row
type ListingSummary struct {
	ExternalID string
	Title      string
	Price      int64
	ImageURL   string
	URL        string
	CategoryID string // prefixed id ("mercari:123"), empty if unreported
}

// SearchPage is one page of search results in the marketplace's
// newest-first order. An empty NextCursor means the last page.
type SearchPage struct {
	Items      []ListingSummary
	NextCursor string
}

// CategoryRef is one node of a listing's category chain, root first
type CategoryRef struct {
	ID   string
	Name string
}

// ListingDetail is the full detail-page payload for one listing
type ListingDetail struct {
	Description    string
	Price          int64
	Images         []string
	Status         string // normalized catalog status value
	IsAuction      bool
	AuctionSet     bool
	AuctionEndTime int64 // unix seconds, 0 = none
	CategoryPath   []CategoryRef
}

// Client is the capability both marketplace variants implement.
// Search must report listings newest first; the crawl orchestrator's
// incremental stop heuristic depends on that ordering.
type Client interface {
	Search(ctx context.Context, keyword, cursor string) (*SearchPage, error)
	FetchDetail(ctx context.Context, externalID string) (*ListingDetail, error)
}
