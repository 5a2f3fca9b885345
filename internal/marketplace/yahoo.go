package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const (
	yahooPageSize  = 100
	yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// YahooClient is the public-page variant: search results come from data-*
// attributes on the auction search HTML, details from the embedded
// __NEXT_DATA__ JSON blob on item pages.
type YahooClient struct {
	collector *colly.Collector
	http      *http.Client
	apiBase   string
	siteBase  string
}

// NewYahooClient builds the public-page client variant
func NewYahooClient(apiBase, siteBase string, timeout time.Duration) *YahooClient {
	c := colly.NewCollector(colly.UserAgent(yahooUserAgent))
	c.SetRequestTimeout(timeout)

	return &YahooClient{
		collector: c,
		http:      &http.Client{Timeout: timeout},
		apiBase:   apiBase,
		siteBase:  siteBase,
	}
}

// Search fetches one page of the auction search results. The cursor is the
// 1-based result offset ("" = first page).
func (c *YahooClient) Search(ctx context.Context, keyword, cursor string) (*SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	offset := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad search cursor %q: %w", cursor, ErrMalformedResponse)
		}
		offset = n
	}

	searchURL := fmt.Sprintf("%s/search/search?p=%s&va=%s&exflg=1&b=%d&n=%d&s1=new&o1=d",
		c.apiBase, url.QueryEscape(keyword), url.QueryEscape(keyword), offset, yahooPageSize)

	// Per-call collector clone: callbacks append into call-local state.
	page := &SearchPage{}
	var callErr error
	rows := 0

	collector := c.collector.Clone()
	collector.OnHTML("a[data-auction-id]", func(e *colly.HTMLElement) {
		rows++
		id := e.Attr("data-auction-id")
		if id == "" {
			return
		}
		summary := ListingSummary{
			ExternalID: id,
			Title:      e.Attr("data-auction-title"),
			ImageURL:   e.Attr("data-auction-img"),
			URL:        c.siteBase + "/jp/auction/" + id,
		}
		if priceStr := e.Attr("data-auction-price"); priceStr != "" {
			if price, err := strconv.ParseInt(priceStr, 10, 64); err == nil {
				summary.Price = price
			}
		}
		if cat := e.Attr("data-auction-category"); cat != "" {
			summary.CategoryID = Yahoo + ":" + cat
		}
		page.Items = append(page.Items, summary)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			callErr = fmt.Errorf("GET %s: %w", searchURL, classifyStatus(r.StatusCode))
			return
		}
		callErr = fmt.Errorf("GET %s: %w", searchURL, err)
	})

	if err := collector.Visit(searchURL); err != nil && callErr == nil {
		callErr = fmt.Errorf("GET %s: %w", searchURL, err)
	}
	collector.Wait()
	if callErr != nil {
		return nil, callErr
	}

	if rows >= yahooPageSize {
		page.NextCursor = strconv.Itoa(offset + yahooPageSize)
	}
	return page, nil
}

// FetchDetail loads the public item page and walks its __NEXT_DATA__ blob
func (c *YahooClient) FetchDetail(ctx context.Context, externalID string) (*ListingDetail, error) {
	pageURL := c.siteBase + "/jp/auction/" + externalID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %w", pageURL, classifyStatus(resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, ErrMalformedResponse)
	}

	blob := doc.Find("script#__NEXT_DATA__").Text()
	if strings.TrimSpace(blob) == "" {
		logrus.Warnf("Yahoo item page %s carried no __NEXT_DATA__ blob", pageURL)
		return nil, fmt.Errorf("no embedded data on %s: %w", pageURL, ErrMalformedResponse)
	}

	detail, err := parseYahooDetail([]byte(blob))
	if err != nil {
		logrus.Warnf("Yahoo detail decode failed for %s: %v (blob: %.200s)", pageURL, err, blob)
		return nil, fmt.Errorf("decoding %s: %w", pageURL, ErrMalformedResponse)
	}
	return detail, nil
}

// flexEpoch tolerates an end time reported as unix seconds, unix millis or
// an ISO-8601 string; the page has shipped all three.
type flexEpoch int64

func (f *flexEpoch) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexEpoch(t.Unix())
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n > 9999999999 { // millis
		n /= 1000
	}
	*f = flexEpoch(int64(n))
	return nil
}

type yahooItem struct {
	Img []struct {
		Image string `json:"image"`
	} `json:"img"`
	TaxinPrice  int64           `json:"taxinPrice"`
	Price       int64           `json:"price"`
	Bidorbuy    *int64          `json:"bidorbuy"`
	Description json.RawMessage `json:"description"`
	EndTime     flexEpoch       `json:"endTime"`
	Status      string          `json:"status"`
	Category    struct {
		Path []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"path"`
	} `json:"category"`
}

type yahooShopItem struct {
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Status      string `json:"status"`
	Photos      []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"photos"`
}

type yahooNextData struct {
	Props struct {
		PageProps struct {
			InitialState *struct {
				Item struct {
					Detail struct {
						Item *yahooItem `json:"item"`
					} `json:"detail"`
				} `json:"item"`
			} `json:"initialState"`
			Item *yahooShopItem `json:"item"`
		} `json:"pageProps"`
	} `json:"props"`
}

// parseYahooDetail extracts a ListingDetail from the embedded blob,
// tolerating both the auction-page and the shop-page shapes
func parseYahooDetail(blob []byte) (*ListingDetail, error) {
	var data yahooNextData
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil, err
	}

	props := data.Props.PageProps
	if props.InitialState != nil && props.InitialState.Item.Detail.Item != nil {
		return auctionDetail(props.InitialState.Item.Detail.Item), nil
	}
	if props.Item != nil {
		return shopDetail(props.Item), nil
	}
	return nil, fmt.Errorf("no item node in embedded data")
}

func auctionDetail(item *yahooItem) *ListingDetail {
	detail := &ListingDetail{
		Price:          item.TaxinPrice,
		AuctionSet:     true,
		AuctionEndTime: int64(item.EndTime),
	}
	if detail.Price == 0 {
		detail.Price = item.Price
	}
	for _, img := range item.Img {
		if img.Image != "" {
			detail.Images = append(detail.Images, img.Image)
		}
	}

	// The description node has been both a string and a list of lines.
	var lines []string
	if err := json.Unmarshal(item.Description, &lines); err == nil {
		detail.Description = strings.Join(lines, "\n")
	} else {
		var s string
		if err := json.Unmarshal(item.Description, &s); err == nil {
			detail.Description = s
		}
	}

	// A buyout price equal to the current price means fixed-price listing.
	detail.IsAuction = item.Bidorbuy == nil || *item.Bidorbuy != item.Price

	switch item.Status {
	case "open":
		detail.Status = "available"
	case "closed":
		detail.Status = "sold"
	case "cancelled":
		detail.Status = "cancelled"
	default:
		detail.Status = "unknown"
	}

	for _, cat := range item.Category.Path {
		if cat.ID == "0" { // synthetic root node
			continue
		}
		detail.CategoryPath = append(detail.CategoryPath, CategoryRef{
			ID:   Yahoo + ":" + cat.ID,
			Name: cat.Name,
		})
	}
	return detail
}

func shopDetail(item *yahooShopItem) *ListingDetail {
	detail := &ListingDetail{
		Description: item.Description,
		Price:       item.Price,
	}
	for _, photo := range item.Photos {
		if photo.ImageURL != "" {
			detail.Images = append(detail.Images, photo.ImageURL)
		}
	}
	switch item.Status {
	case "on_sale":
		detail.Status = "available"
	case "trading":
		detail.Status = "trading"
	case "sold_out":
		detail.Status = "sold"
	default:
		detail.Status = "unknown"
	}
	return detail
}
