package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"marketdeck/internal/catalog"
	"marketdeck/internal/category"
	"marketdeck/internal/enrich"
	"marketdeck/internal/scrape"
)

// Store is the slice of the catalog the API touches directly
type Store interface {
	GetStats() (*catalog.Stats, error)
	GetItem(id int64) (*catalog.Listing, error)
	SetHidden(ids []int64, hidden bool) error
}

// Server exposes the engine seams over HTTP
type Server struct {
	baseCtx      context.Context
	store        Store
	orchestrator *scrape.Orchestrator
	filter       *category.Filter
	pool         *enrich.Pool
}

// NewServer wires the API over the engine components. Background scrapes
// started through the API run under baseCtx, so cancelling it during
// shutdown aborts them at the next keyword boundary.
func NewServer(baseCtx context.Context, store Store, orch *scrape.Orchestrator, filter *category.Filter, pool *enrich.Pool) *Server {
	return &Server{
		baseCtx:      baseCtx,
		store:        store,
		orchestrator: orch,
		filter:       filter,
		pool:         pool,
	}
}

// Handler returns the chi router with all routes mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", s.handleScrapeAll)
		r.Post("/scrape/{keywordID}", s.handleScrapeKeyword)
		r.Get("/scrape/status", s.handleScrapeStatus)
		r.Post("/categories/{categoryID}/hide", s.handleHideCategory)
		r.Post("/items/{itemID}/refresh", s.handleRefreshItem)
		r.Post("/items/{itemID}/unhide", s.handleUnhideItem)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleScrapeAll(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request, so it is bound to the server
	// lifetime rather than the request context
	if err := s.orchestrator.StartAll(s.baseCtx); err != nil {
		if errors.Is(err, scrape.ErrScrapeRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleScrapeKeyword(w http.ResponseWriter, r *http.Request) {
	keywordID, err := strconv.ParseInt(chi.URLParam(r, "keywordID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid keyword id"))
		return
	}

	res, err := s.orchestrator.RunKeyword(r.Context(), keywordID)
	if err != nil {
		if errors.Is(err, scrape.ErrScrapeRunning) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScrapeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Status().GetSnapshot())
}

func (s *Server) handleHideCategory(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "categoryID")
	if categoryID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing category id"))
		return
	}

	var keywordID int64
	if raw := r.URL.Query().Get("keyword_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid keyword_id"))
			return
		}
		keywordID = id
	}

	affected, err := s.filter.HideCategory(r.Context(), categoryID, keywordID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"hidden": affected})
}

func (s *Server) handleRefreshItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid item id"))
		return
	}

	listing, err := s.pool.RefreshItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

func (s *Server) handleUnhideItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid item id"))
		return
	}

	if err := s.store.SetHidden([]int64{itemID}, false); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	listing, err := s.store.GetItem(itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if listing == nil {
		writeError(w, http.StatusNotFound, errors.New("listing not found"))
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listingResponse is the wire shape for a listing
type listingResponse struct {
	ID             int64    `json:"id"`
	Marketplace    string   `json:"marketplace"`
	ExternalID     string   `json:"external_id"`
	Title          string   `json:"title"`
	Price          int64    `json:"price"`
	ImageURL       string   `json:"image_url,omitempty"`
	Images         []string `json:"images,omitempty"`
	Description    string   `json:"description,omitempty"`
	URL            string   `json:"url"`
	CategoryID     string   `json:"category_id,omitempty"`
	Hidden         bool     `json:"hidden"`
	Status         string   `json:"status"`
	IsAuction      bool     `json:"is_auction"`
	AuctionEndTime int64    `json:"auction_end_time,omitempty"`
}

func toListingResponse(l *catalog.Listing) listingResponse {
	return listingResponse{
		ID:             l.ID,
		Marketplace:    l.Marketplace,
		ExternalID:     l.ExternalID,
		Title:          l.Title,
		Price:          l.Price,
		ImageURL:       l.ImageURL,
		Images:         l.Images,
		Description:    l.Description,
		URL:            l.URL,
		CategoryID:     l.CategoryID,
		Hidden:         l.Hidden,
		Status:         l.Status,
		IsAuction:      l.IsAuction,
		AuctionEndTime: l.AuctionEndTime,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
