package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdeck/internal/catalog"
	"marketdeck/internal/category"
	"marketdeck/internal/config"
	"marketdeck/internal/enrich"
	"marketdeck/internal/marketplace"
	"marketdeck/internal/metrics"
	"marketdeck/internal/scrape"
)

// stubClient serves an empty feed and a fixed detail
type stubClient struct{}

func (stubClient) Search(ctx context.Context, keyword, cursor string) (*marketplace.SearchPage, error) {
	return &marketplace.SearchPage{}, nil
}

func (stubClient) FetchDetail(ctx context.Context, externalID string) (*marketplace.ListingDetail, error) {
	return &marketplace.ListingDetail{Status: catalog.StatusSold, Price: 2000}, nil
}

type apiFixture struct {
	store *catalog.Store
	orch  *scrape.Orchestrator
	srv   *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := catalog.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	clients := map[string]marketplace.Client{"mercari": stubClient{}}
	cache := category.NewCache(store)
	filter := category.NewFilter(store, cache)
	tracker := metrics.NewTracker()
	pool := enrich.NewPool(cfg, store, clients, cache, tracker)
	orch := scrape.NewOrchestrator(cfg, store, clients, filter, pool, scrape.NewTracker(), tracker)

	srv := httptest.NewServer(NewServer(context.Background(), store, orch, filter, pool).Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{store: store, orch: orch, srv: srv}
}

func (f *apiFixture) post(t *testing.T, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestServer_Stats(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.store.UpsertItem(&catalog.Listing{Marketplace: "mercari", ExternalID: "x1"})
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats catalog.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Listings)
}

func TestServer_ScrapeStatus(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/scrape/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap scrape.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.False(t, snap.Running)
}

func TestServer_ScrapeConflict(t *testing.T) {
	f := newAPIFixture(t)

	// Hold the run lock as an active scrape would
	require.True(t, f.orch.Status().TryStart())
	defer f.orch.Status().Finish()

	resp, body := f.post(t, "/api/scrape")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body["error"]), "already running")

	resp, _ = f.post(t, "/api/scrape/1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_ScrapeKeyword(t *testing.T) {
	f := newAPIFixture(t)
	kwID, err := f.store.CreateKeyword("cameras", "mercari", 0)
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/api/scrape/"+strconv.FormatInt(kwID, 10), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res scrape.KeywordResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, kwID, res.KeywordID)
	assert.Equal(t, 0, res.Added)

	t.Run("unknown keyword", func(t *testing.T) {
		resp, _ := f.post(t, "/api/scrape/9999")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad id", func(t *testing.T) {
		resp, _ := f.post(t, "/api/scrape/abc")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_HideCategory(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.AddCategory(&catalog.Category{
		ID: "mercari:17", Marketplace: "mercari", Path: "mercari:17",
	}))
	_, err := f.store.UpsertItem(&catalog.Listing{
		Marketplace: "mercari", ExternalID: "h1", CategoryID: "mercari:17",
	})
	require.NoError(t, err)

	resp, body := f.post(t, "/api/categories/mercari:17/hide")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "1", string(body["hidden"]))

	entries, err := f.store.GetBlocklistEntries("mercari")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].KeywordID, "no keyword_id means a global block")
}

func TestServer_HideCategory_Scoped(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/api/categories/mercari:17/hide?keyword_id=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries, err := f.store.GetBlocklistEntries("mercari")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].KeywordID)

	resp, _ = f.post(t, "/api/categories/mercari:17/hide?keyword_id=five")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RefreshItem(t *testing.T) {
	f := newAPIFixture(t)
	id, err := f.store.UpsertItem(&catalog.Listing{
		Marketplace: "mercari", ExternalID: "r1", Price: 1000, Status: catalog.StatusAvailable,
	})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/api/items/"+strconv.FormatInt(id, 10)+"/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got listingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, catalog.StatusSold, got.Status)
	assert.Equal(t, int64(2000), got.Price)

	t.Run("bad id", func(t *testing.T) {
		resp, _ := f.post(t, "/api/items/abc/refresh")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_UnhideItem(t *testing.T) {
	f := newAPIFixture(t)
	id, err := f.store.UpsertItem(&catalog.Listing{
		Marketplace: "mercari", ExternalID: "h1", Hidden: true, Status: catalog.StatusAvailable,
	})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/api/items/"+strconv.FormatInt(id, 10)+"/unhide", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got listingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.Hidden)

	listing, err := f.store.GetItem(id)
	require.NoError(t, err)
	assert.False(t, listing.Hidden)

	t.Run("missing listing", func(t *testing.T) {
		resp, _ := f.post(t, "/api/items/9999/unhide")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
