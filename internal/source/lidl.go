package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/observability/metrics"
)

const (
	defaultFetchSize = 48
	defaultBaseURL   = "https://www.lidl.nl"
)

var (
	fetchSizeRe = regexp.MustCompile(`fetchsize=(\d+)`)
	offsetRe    = regexp.MustCompile(`offset=\d+`)
)

// Lidl fetches the Lidl webshop catalog through its search API.
type Lidl struct {
	client *Client
	base   string
	log    logx.Logger
}

func NewLidl(client *Client, baseURL string, log logx.Logger) *Lidl {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lidl{
		client: client,
		base:   strings.TrimRight(baseURL, "/"),
		log:    log.With(logx.String("source", "lidl")),
	}
}

func (l *Lidl) Name() string { return "lidl" }

func (l *Lidl) Matches(queryURL string) bool {
	return strings.Contains(queryURL, "lidl")
}

// APIURL turns a storefront URL into its API equivalent: the /q/api/ path
// segment plus any of the required query parameters the URL does not already
// carry. Parameters already present are left alone, so a stored query can pin
// its own fetchsize. Idempotent on URLs that are already API URLs.
func (l *Lidl) APIURL(queryURL string) string {
	apiURL := queryURL
	if !strings.Contains(apiURL, "/q/api/") {
		apiURL = strings.Replace(apiURL, "www.lidl.nl/q/", "www.lidl.nl/q/api/", 1)
		if !strings.Contains(apiURL, "/q/api/") {
			apiURL = strings.Replace(apiURL, "www.lidl.nl/", "www.lidl.nl/q/api/", 1)
		}
	}

	if !strings.Contains(apiURL, "?") {
		return apiURL + "?fetchsize=48&locale=nl_NL&assortment=NL&version=2.1.0&idsOnly=false&productsOnly=true"
	}
	for _, p := range []string{
		"fetchsize=48",
		"locale=nl_NL",
		"assortment=NL",
		"version=2.1.0",
		"idsOnly=false",
		"productsOnly=true",
	} {
		key := p[:strings.IndexByte(p, '=')+1]
		if !strings.Contains(apiURL, key) {
			apiURL += "&" + p
		}
	}
	return apiURL
}

// FetchAll walks the paginated listing from offset 0 until a short or empty
// page. An empty page ends the walk cleanly; a transport failure aborts it,
// returning the pages collected so far together with the error.
func (l *Lidl) FetchAll(ctx context.Context, queryURL string) (Result, error) {
	apiURL := l.APIURL(queryURL)
	size := fetchSizeOf(apiURL)
	res := Result{APIURL: apiURL}

	for offset := 0; ; offset += size {
		pageURL := withOffset(apiURL, offset)
		l.log.Debug("fetching catalog page", logx.String("url", pageURL), logx.Int("offset", offset))

		items, status, err := l.fetchPage(ctx, pageURL)
		res.StatusCode = status
		if err != nil {
			metrics.RecordFetchError()
			l.log.Error("catalog page fetch failed",
				logx.String("url", pageURL),
				logx.Int("status", status),
				logx.Err(err),
			)
			return res, transportError(status)
		}
		res.Pages++
		metrics.RecordFetchPage()

		if len(items) == 0 {
			break // the listing is exhausted, not broken
		}
		res.Items = append(res.Items, items...)
		res.Success = true
		if len(items) < size {
			break
		}
	}
	return res, nil
}

// FetchPage fetches one page at an explicit offset with an optional
// fetch-size override. The probe CLI uses this; the daemon paginates with
// FetchAll.
func (l *Lidl) FetchPage(ctx context.Context, queryURL string, offset, fetchSize int) ([]catalog.Item, int, error) {
	apiURL := l.APIURL(queryURL)
	if fetchSize > 0 {
		apiURL = withFetchSize(apiURL, fetchSize)
	}
	apiURL = withOffset(apiURL, offset)
	return l.fetchPage(ctx, apiURL)
}

func (l *Lidl) fetchPage(ctx context.Context, pageURL string) ([]catalog.Item, int, error) {
	body, status, err := l.client.Get(ctx, pageURL)
	if err != nil {
		return nil, status, err
	}
	raw, err := decodeItems(body)
	if err != nil {
		return nil, status, fmt.Errorf("decode response: %w", err)
	}
	items := make([]catalog.Item, 0, len(raw))
	for _, it := range raw {
		item, ok := l.parseItem(it)
		if !ok {
			l.log.Warn("skipping item without code", logx.String("label", it.Label))
			continue
		}
		items = append(items, item)
	}
	return items, status, nil
}

// transportError is persisted verbatim in execution records, so the wording
// stays stable.
func transportError(status int) error {
	if status > 0 {
		return fmt.Errorf("Status code: %d", status)
	}
	return errors.New("No response received")
}

func fetchSizeOf(apiURL string) int {
	if m := fetchSizeRe.FindStringSubmatch(apiURL); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return defaultFetchSize
}

func withOffset(apiURL string, offset int) string {
	param := fmt.Sprintf("offset=%d", offset)
	if offsetRe.MatchString(apiURL) {
		return offsetRe.ReplaceAllString(apiURL, param)
	}
	return appendParam(apiURL, param)
}

func withFetchSize(apiURL string, size int) string {
	param := fmt.Sprintf("fetchsize=%d", size)
	if fetchSizeRe.MatchString(apiURL) {
		return fetchSizeRe.ReplaceAllString(apiURL, param)
	}
	return appendParam(apiURL, param)
}

func appendParam(apiURL, param string) string {
	if strings.Contains(apiURL, "?") {
		return apiURL + "&" + param
	}
	return apiURL + "?" + param
}

// ---- response decoding ----

// flexString tolerates the API emitting product codes as strings or bare
// numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type apiPrice struct {
	Price    float64  `json:"price"`
	OldPrice *float64 `json:"oldPrice"`
}

type apiGridData struct {
	Price         *apiPrice `json:"price"`
	Image         string    `json:"image"`
	CanonicalPath string    `json:"canonicalPath"`
}

type apiItem struct {
	Code           flexString `json:"code"`
	ID             flexString `json:"id"`
	Label          string     `json:"label"`
	Name           string     `json:"name"`
	MouseoverImage string     `json:"mouseoverImage"`
	CanonicalURL   string     `json:"canonicalUrl"`
	Price          *apiPrice  `json:"price"`
	Gridbox        *struct {
		Data *apiGridData `json:"data"`
	} `json:"gridbox"`
}

func (it apiItem) gridData() *apiGridData {
	if it.Gridbox == nil {
		return nil
	}
	return it.Gridbox.Data
}

// decodeItems finds the product list in whichever of the API's response
// shapes arrived: {"items": []}, {"products": []}, {"results": {"products":
// []}}, or a bare array.
func decodeItems(body []byte) ([]apiItem, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}
	if trimmed[0] == '[' {
		var arr []apiItem
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}

	var resp struct {
		Items    []apiItem `json:"items"`
		Products []apiItem `json:"products"`
		Results  *struct {
			Products []apiItem `json:"products"`
		} `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, err
	}
	switch {
	case resp.Items != nil:
		return resp.Items, nil
	case resp.Products != nil:
		return resp.Products, nil
	case resp.Results != nil:
		return resp.Results.Products, nil
	}
	return nil, nil
}

func (l *Lidl) parseItem(it apiItem) (catalog.Item, bool) {
	code := string(it.Code)
	if code == "" {
		code = string(it.ID)
	}
	if code == "" {
		return catalog.Item{}, false
	}

	label := it.Label
	if label == "" {
		label = it.Name
	}
	if label == "" {
		label = "N/A"
	}
	item := catalog.Item{Code: code, Label: label}

	price := it.Price
	if grid := it.gridData(); grid != nil && grid.Price != nil {
		price = grid.Price
	}
	if price != nil {
		item.Price = price.Price
		if price.OldPrice != nil && *price.OldPrice > 0 {
			item.RecommendedPrice = catalog.Float(*price.OldPrice)
			if price.Price < *price.OldPrice {
				amount := *price.OldPrice - price.Price
				item.DiscountAmount = catalog.Float(amount)
				item.DiscountPct = catalog.Float(amount / *price.OldPrice * 100)
			}
		}
	}

	item.ImageURL = it.MouseoverImage
	if item.ImageURL == "" {
		if grid := it.gridData(); grid != nil {
			item.ImageURL = grid.Image
		}
	}

	switch grid := it.gridData(); {
	case it.CanonicalURL != "":
		item.ProductURL = l.base + it.CanonicalURL
	case grid != nil && grid.CanonicalPath != "":
		item.ProductURL = l.base + grid.CanonicalPath
	}

	return item, true
}
