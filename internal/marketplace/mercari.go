package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	mercariPageSize    = 120
	mercariSearchPath  = "/v2/entities:search"
	mercariDetailPath  = "/items/get"
	mercariUserAgent   = "marketdeck-ingest"
	mercariFirstCursor = "v1:0"
)

// MercariClient talks to the signed JSON search/detail API.
type MercariClient struct {
	http      *http.Client
	signer    *Signer
	apiBase   string
	siteBase  string
	userAgent string
}

// NewMercariClient builds the signed-API client variant
func NewMercariClient(signer *Signer, apiBase, siteBase string, timeout time.Duration) *MercariClient {
	return &MercariClient{
		http:      &http.Client{Timeout: timeout},
		signer:    signer,
		apiBase:   apiBase,
		siteBase:  siteBase,
		userAgent: mercariUserAgent,
	}
}

// flexInt tolerates the API reporting numeric fields as either a JSON
// number or a quoted string; prices have drifted between the two.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type mercariSearchRequest struct {
	UserID          string               `json:"userId"`
	PageSize        int                  `json:"pageSize"`
	PageToken       string               `json:"pageToken"`
	SearchSessionID string               `json:"searchSessionId"`
	IndexRouting    string               `json:"indexRouting"`
	SearchCondition mercariSearchFilters `json:"searchCondition"`
	WithAuction     bool                 `json:"withAuction"`
	DefaultDatasets []string             `json:"defaultDatasets"`
}

type mercariSearchFilters struct {
	Keyword string   `json:"keyword"`
	Sort    string   `json:"sort"`
	Order   string   `json:"order"`
	Status  []string `json:"status"`
}

type mercariSearchResponse struct {
	Items []struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		Price      flexInt  `json:"price"`
		Thumbnails []string `json:"thumbnails"`
		CategoryID flexInt  `json:"categoryId"`
		Status     string   `json:"status"`
	} `json:"items"`
	Meta struct {
		NextPageToken string `json:"nextPageToken"`
	} `json:"meta"`
}

type mercariDetailResponse struct {
	Data struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		Price       flexInt  `json:"price"`
		Photos      []string `json:"photos"`
		Status      string   `json:"status"`
		ItemCategory struct {
			ID   flexInt `json:"id"`
			Name string  `json:"name"`
		} `json:"item_category_ntiers"`
		ParentCategories []struct {
			ID   flexInt `json:"id"`
			Name string  `json:"name"`
		} `json:"parent_categories_ntiers"`
	} `json:"data"`
}

// Search issues one signed search call, newest first
func (c *MercariClient) Search(ctx context.Context, keyword, cursor string) (*SearchPage, error) {
	if cursor == "" {
		cursor = mercariFirstCursor
	}

	session := "SCRAPER_" + uuid.NewString()
	reqBody := mercariSearchRequest{
		UserID:          session,
		PageSize:        mercariPageSize,
		PageToken:       cursor,
		SearchSessionID: session,
		IndexRouting:    "INDEX_ROUTING_UNSPECIFIED",
		SearchCondition: mercariSearchFilters{
			Keyword: keyword,
			Sort:    "SORT_CREATED_TIME",
			Order:   "ORDER_DESC",
			Status:  []string{"STATUS_ON_SALE"},
		},
		WithAuction:     true,
		DefaultDatasets: []string{"DATASET_TYPE_MERCARI", "DATASET_TYPE_BEYOND"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	var resp mercariSearchResponse
	if err := c.call(ctx, http.MethodPost, c.apiBase+mercariSearchPath, body, &resp); err != nil {
		return nil, err
	}

	page := &SearchPage{NextCursor: resp.Meta.NextPageToken}
	for _, item := range resp.Items {
		if item.ID == "" {
			continue
		}
		summary := ListingSummary{
			ExternalID: item.ID,
			Title:      item.Name,
			Price:      int64(item.Price),
			URL:        c.siteBase + "/item/" + item.ID,
		}
		if len(item.Thumbnails) > 0 {
			summary.ImageURL = item.Thumbnails[0]
		}
		if item.CategoryID != 0 {
			summary.CategoryID = fmt.Sprintf("%s:%d", Mercari, int64(item.CategoryID))
		}
		page.Items = append(page.Items, summary)
	}
	return page, nil
}

// FetchDetail issues one signed detail call
func (c *MercariClient) FetchDetail(ctx context.Context, externalID string) (*ListingDetail, error) {
	url := c.apiBase + mercariDetailPath + "?id=" + externalID

	var resp mercariDetailResponse
	if err := c.call(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("detail for %s carried no item data: %w", externalID, ErrMalformedResponse)
	}

	detail := &ListingDetail{
		Description: resp.Data.Description,
		Price:       int64(resp.Data.Price),
		Images:      resp.Data.Photos,
		Status:      normalizeMercariStatus(resp.Data.Status),
	}

	for _, parent := range resp.Data.ParentCategories {
		detail.CategoryPath = append(detail.CategoryPath, CategoryRef{
			ID:   fmt.Sprintf("%s:%d", Mercari, int64(parent.ID)),
			Name: parent.Name,
		})
	}
	if resp.Data.ItemCategory.ID != 0 {
		detail.CategoryPath = append(detail.CategoryPath, CategoryRef{
			ID:   fmt.Sprintf("%s:%d", Mercari, int64(resp.Data.ItemCategory.ID)),
			Name: resp.Data.ItemCategory.Name,
		})
	}
	return detail, nil
}

// call signs and issues one API request, decoding the JSON response into out.
// A rejected credential is retried exactly once with a freshly minted proof.
func (c *MercariClient) call(ctx context.Context, method, url string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		lastErr = c.callOnce(ctx, method, url, body, out)
		if lastErr == nil || !errors.Is(lastErr, ErrAuthExpired) {
			return lastErr
		}
		logrus.Warnf("Mercari rejected request proof, re-signing (attempt %d)", attempt+1)
	}
	return lastErr
}

func (c *MercariClient) callOnce(ctx context.Context, method, url string, body []byte, out any) error {
	proof, err := c.signer.Sign(method, url)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("DPOP", proof)
	req.Header.Set("X-Platform", "web")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %w", method, url, classifyStatus(resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logrus.Warnf("Mercari response decode failed for %s: %v (body: %.200s)", url, err, raw)
		return fmt.Errorf("decoding %s: %w", url, ErrMalformedResponse)
	}
	return nil
}

// normalizeMercariStatus maps both API status spellings ("on_sale" from the
// detail endpoint, "ITEM_STATUS_ON_SALE" from search) onto catalog values
func normalizeMercariStatus(status string) string {
	switch status {
	case "on_sale", "ITEM_STATUS_ON_SALE":
		return "available"
	case "trading", "ITEM_STATUS_TRADING":
		return "trading"
	case "sold_out", "ITEM_STATUS_SOLD_OUT":
		return "sold"
	case "stop", "cancel", "ITEM_STATUS_STOP", "ITEM_STATUS_CANCEL":
		return "cancelled"
	case "":
		return "unknown"
	default:
		return "unknown"
	}
}
