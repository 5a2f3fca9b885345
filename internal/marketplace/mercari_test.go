package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMercariClient(t *testing.T, handler http.Handler) *MercariClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer, err := NewSigner()
	require.NoError(t, err)
	return NewMercariClient(signer, srv.URL, "https://jp.example.com", 5*time.Second)
}

func TestMercariClient_Search(t *testing.T) {
	var gotReq mercariSearchRequest
	var gotHeaders http.Header

	client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, mercariSearchPath, r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [
				{"id": "m111", "name": "camera", "price": "5000", "thumbnails": ["https://img/1.jpg"], "categoryId": 17},
				{"id": "m222", "name": "lens", "price": 2000}
			],
			"meta": {"nextPageToken": "v1:1"}
		}`))
	}))

	page, err := client.Search(context.Background(), "camera", "")
	require.NoError(t, err)

	assert.NotEmpty(t, gotHeaders.Get("DPOP"))
	assert.Equal(t, "web", gotHeaders.Get("X-Platform"))

	assert.Equal(t, 120, gotReq.PageSize)
	assert.Equal(t, "v1:0", gotReq.PageToken, "empty cursor starts at the first page")
	assert.Equal(t, "camera", gotReq.SearchCondition.Keyword)
	assert.Equal(t, "SORT_CREATED_TIME", gotReq.SearchCondition.Sort)
	assert.Equal(t, "ORDER_DESC", gotReq.SearchCondition.Order)
	assert.Equal(t, []string{"STATUS_ON_SALE"}, gotReq.SearchCondition.Status)

	require.Len(t, page.Items, 2)
	assert.Equal(t, "v1:1", page.NextCursor)

	first := page.Items[0]
	assert.Equal(t, "m111", first.ExternalID)
	assert.Equal(t, "camera", first.Title)
	assert.Equal(t, int64(5000), first.Price, "quoted price decodes")
	assert.Equal(t, "https://img/1.jpg", first.ImageURL)
	assert.Equal(t, "https://jp.example.com/item/m111", first.URL)
	assert.Equal(t, "mercari:17", first.CategoryID)

	assert.Empty(t, page.Items[1].CategoryID, "missing category stays empty")
}

func TestMercariClient_Search_CursorPassthrough(t *testing.T) {
	client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mercariSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v1:3", req.PageToken)
		w.Write([]byte(`{"items": [], "meta": {}}`))
	}))

	page, err := client.Search(context.Background(), "camera", "v1:3")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.NextCursor)
}

func TestMercariClient_FetchDetail(t *testing.T) {
	client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, mercariDetailPath, r.URL.Path)
		require.Equal(t, "m111", r.URL.Query().Get("id"))
		w.Write([]byte(`{"data": {
			"id": "m111",
			"description": "mint condition",
			"price": 5000,
			"photos": ["https://img/1.jpg", "https://img/2.jpg"],
			"status": "on_sale",
			"item_category_ntiers": {"id": 204, "name": "Lenses"},
			"parent_categories_ntiers": [
				{"id": 1, "name": "Electronics"},
				{"id": 17, "name": "Cameras"}
			]
		}}`))
	}))

	detail, err := client.FetchDetail(context.Background(), "m111")
	require.NoError(t, err)

	assert.Equal(t, "mint condition", detail.Description)
	assert.Equal(t, int64(5000), detail.Price)
	assert.Len(t, detail.Images, 2)
	assert.Equal(t, "available", detail.Status)

	require.Len(t, detail.CategoryPath, 3)
	assert.Equal(t, "mercari:1", detail.CategoryPath[0].ID)
	assert.Equal(t, "mercari:17", detail.CategoryPath[1].ID)
	assert.Equal(t, "mercari:204", detail.CategoryPath[2].ID)
	assert.Equal(t, "Lenses", detail.CategoryPath[2].Name)
}

func TestMercariClient_ReSignsOnceOnRejectedProof(t *testing.T) {
	var proofs []string
	client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proofs = append(proofs, r.Header.Get("DPOP"))
		if len(proofs) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data": {"id": "m1", "status": "on_sale"}}`))
	}))

	detail, err := client.FetchDetail(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "available", detail.Status)
	require.Len(t, proofs, 2)
	assert.NotEqual(t, proofs[0], proofs[1], "retry carries a fresh proof")
}

func TestMercariClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"gone", http.StatusGone, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := client.FetchDetail(context.Background(), "m1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMercariClient_MalformedResponses(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>maintenance</html>`))
		}))
		_, err := client.Search(context.Background(), "camera", "")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("empty detail payload", func(t *testing.T) {
		client := newMercariClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": {}}`))
		}))
		_, err := client.FetchDetail(context.Background(), "m1")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}
