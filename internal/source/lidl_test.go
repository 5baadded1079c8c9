package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
)

func testLidl(t *testing.T, serverURL string) *Lidl {
	t.Helper()
	client := NewClient(2*time.Second, 3, logx.Nop())
	return NewLidl(client, serverURL, logx.Nop())
}

func TestAPIURL(t *testing.T) {
	t.Parallel()
	const allParams = "fetchsize=48&locale=nl_NL&assortment=NL&version=2.1.0&idsOnly=false&productsOnly=true"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "inserts api segment after q",
			in:   "https://www.lidl.nl/q/search?q=airfryer",
			want: "https://www.lidl.nl/q/api/search?q=airfryer&" + allParams,
		},
		{
			name: "inserts q api after domain",
			in:   "https://www.lidl.nl/wasmachines",
			want: "https://www.lidl.nl/q/api/wasmachines?" + allParams,
		},
		{
			name: "already api url stays put",
			in:   "https://www.lidl.nl/q/api/search?q=oven&" + allParams,
			want: "https://www.lidl.nl/q/api/search?q=oven&" + allParams,
		},
		{
			name: "pinned fetchsize survives",
			in:   "https://www.lidl.nl/q/search?fetchsize=24",
			want: "https://www.lidl.nl/q/api/search?fetchsize=24&locale=nl_NL&assortment=NL&version=2.1.0&idsOnly=false&productsOnly=true",
		},
	}
	l := testLidl(t, "")
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := l.APIURL(tt.in); got != tt.want {
				t.Fatalf("APIURL(%q) =\n  %q\nwant\n  %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFetchSizeOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"default", "https://www.lidl.nl/q/api/search?q=x", 48},
		{"override", "https://www.lidl.nl/q/api/search?fetchsize=24", 24},
		{"zero falls back", "https://www.lidl.nl/q/api/search?fetchsize=0", 48},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := fetchSizeOf(tt.url); got != tt.want {
				t.Fatalf("fetchSizeOf(%q) = %d, want %d", tt.url, got, tt.want)
			}
		})
	}
}

func TestWithOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		url    string
		offset int
		want   string
	}{
		{"appends with question mark", "https://x/api", 0, "https://x/api?offset=0"},
		{"appends with ampersand", "https://x/api?a=1", 48, "https://x/api?a=1&offset=48"},
		{"replaces existing", "https://x/api?offset=48&a=1", 96, "https://x/api?offset=96&a=1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := withOffset(tt.url, tt.offset); got != tt.want {
				t.Fatalf("withOffset(%q, %d) = %q, want %q", tt.url, tt.offset, got, tt.want)
			}
		})
	}
}

// catalogServer serves a fixed-size listing, honoring offset and fetchsize.
func catalogServer(t *testing.T, total int) (*httptest.Server, *[]int) {
	t.Helper()
	var (
		mu      sync.Mutex
		offsets []int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		size, _ := strconv.Atoi(r.URL.Query().Get("fetchsize"))
		if size <= 0 {
			size = defaultFetchSize
		}
		mu.Lock()
		offsets = append(offsets, offset)
		mu.Unlock()

		n := total - offset
		if n < 0 {
			n = 0
		}
		if n > size {
			n = size
		}
		items := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			items = append(items, map[string]any{
				"code":  fmt.Sprintf("%06d", offset+i),
				"label": fmt.Sprintf("Product %d", offset+i),
				"gridbox": map[string]any{
					"data": map[string]any{
						"price": map[string]any{"price": 9.99},
					},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	t.Cleanup(ts.Close)
	return ts, &offsets
}

func TestFetchAllPaginates(t *testing.T) {
	t.Parallel()
	ts, offsets := catalogServer(t, 58)
	l := testLidl(t, ts.URL)

	res, err := l.FetchAll(context.Background(), ts.URL+"/q/api/query/test")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(res.Items) != 58 {
		t.Fatalf("len(Items) = %d, want 58", len(res.Items))
	}
	if !res.Success {
		t.Fatal("Success = false, want true")
	}
	if res.Pages != 2 {
		t.Fatalf("Pages = %d, want 2", res.Pages)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", res.StatusCode)
	}
	if len(*offsets) != 2 || (*offsets)[0] != 0 || (*offsets)[1] != 48 {
		t.Fatalf("requested offsets = %v, want [0 48]", *offsets)
	}
}

func TestFetchAllExactPageBoundary(t *testing.T) {
	t.Parallel()
	// 48 items exactly: the second page comes back empty and ends the walk
	// without an error.
	ts, offsets := catalogServer(t, 48)
	l := testLidl(t, ts.URL)

	res, err := l.FetchAll(context.Background(), ts.URL+"/q/api/query/test")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(res.Items) != 48 || !res.Success {
		t.Fatalf("Items = %d, Success = %v, want 48 items and success", len(res.Items), res.Success)
	}
	if res.Pages != 2 {
		t.Fatalf("Pages = %d, want 2 (trailing empty page still fetched)", res.Pages)
	}
	if len(*offsets) != 2 {
		t.Fatalf("requested offsets = %v, want two requests", *offsets)
	}
}

func TestFetchAllEmptyListing(t *testing.T) {
	t.Parallel()
	ts, _ := catalogServer(t, 0)
	l := testLidl(t, ts.URL)

	res, err := l.FetchAll(context.Background(), ts.URL+"/q/api/query/test")
	if err != nil {
		t.Fatalf("FetchAll() error = %v, want nil for an empty listing", err)
	}
	if res.Success {
		t.Fatal("Success = true, want false when nothing was seen")
	}
	if len(res.Items) != 0 || res.Pages != 1 {
		t.Fatalf("Items = %d, Pages = %d, want 0 items over 1 page", len(res.Items), res.Pages)
	}
}

func TestFetchAllAbortsMidPagination(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset >= 48 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		items := make([]map[string]any, 48)
		for i := range items {
			items[i] = map[string]any{"code": fmt.Sprintf("%06d", i), "label": "P"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	t.Cleanup(ts.Close)
	l := testLidl(t, ts.URL)

	res, err := l.FetchAll(context.Background(), ts.URL+"/q/api/query/test")
	if err == nil {
		t.Fatal("FetchAll() error = nil, want failure from second page")
	}
	if got := err.Error(); got != "Status code: 500" {
		t.Fatalf("error = %q, want %q", got, "Status code: 500")
	}
	if len(res.Items) != 48 {
		t.Fatalf("len(Items) = %d, want the 48 partial items", len(res.Items))
	}
	if !res.Success {
		t.Fatal("Success = false, want true (a page was seen before the failure)")
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want 500", res.StatusCode)
	}
}

func TestFetchAllNoResponse(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL + "/q/api/query/test"
	ts.Close()

	l := testLidl(t, ts.URL)
	res, err := l.FetchAll(context.Background(), url)
	if err == nil {
		t.Fatal("FetchAll() error = nil, want transport failure")
	}
	if got := err.Error(); got != "No response received" {
		t.Fatalf("error = %q, want %q", got, "No response received")
	}
	if res.StatusCode != 0 {
		t.Fatalf("StatusCode = %d, want 0 without a response", res.StatusCode)
	}
}

func TestFetchPageProbe(t *testing.T) {
	t.Parallel()
	ts, offsets := catalogServer(t, 100)
	l := testLidl(t, ts.URL)

	items, status, err := l.FetchPage(context.Background(), ts.URL+"/q/api/query/test", 10, 5)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(items) != 5 {
		t.Fatalf("len(items) = %d, want 5", len(items))
	}
	if items[0].Code != "000010" {
		t.Fatalf("items[0].Code = %q, want %q", items[0].Code, "000010")
	}
	if len(*offsets) != 1 {
		t.Fatalf("requests = %d, want exactly one page", len(*offsets))
	}
}

func TestDecodeItems(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"items key", `{"items": [{"code": "1"}, {"code": "2"}]}`, 2, false},
		{"products key", `{"products": [{"code": "1"}]}`, 1, false},
		{"nested results", `{"results": {"products": [{"code": "1"}]}}`, 1, false},
		{"bare array", `[{"code": "1"}, {"code": "2"}, {"code": "3"}]`, 3, false},
		{"empty items", `{"items": []}`, 0, false},
		{"unknown shape", `{"numFound": 0}`, 0, false},
		{"garbage", `<html>blocked</html>`, 0, true},
		{"empty body", ``, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeItems([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeItems() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Fatalf("len(items) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseItemGridboxDiscount(t *testing.T) {
	t.Parallel()
	l := testLidl(t, "")

	var it apiItem
	raw := `{
		"code": 100123,
		"label": "Koelvriescombinatie",
		"canonicalUrl": "/p/koelvriescombinatie/p100123",
		"gridbox": {"data": {"price": {"price": 299.0, "oldPrice": 349.0}}}
	}`
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	item, ok := l.parseItem(it)
	if !ok {
		t.Fatal("parseItem() ok = false, want true")
	}
	if item.Code != "100123" {
		t.Fatalf("Code = %q, want numeric code as string", item.Code)
	}
	if item.Price != 299.0 {
		t.Fatalf("Price = %v, want 299.0", item.Price)
	}
	if item.RecommendedPrice == nil || *item.RecommendedPrice != 349.0 {
		t.Fatalf("RecommendedPrice = %v, want 349.0", item.RecommendedPrice)
	}
	if item.DiscountAmount == nil || *item.DiscountAmount != 50.0 {
		t.Fatalf("DiscountAmount = %v, want 50.0", item.DiscountAmount)
	}
	if item.DiscountPct == nil || *item.DiscountPct < 14.3 || *item.DiscountPct > 14.4 {
		t.Fatalf("DiscountPct = %v, want ~14.33", item.DiscountPct)
	}
	if item.ProductURL != "https://www.lidl.nl/p/koelvriescombinatie/p100123" {
		t.Fatalf("ProductURL = %q, want base-joined canonical url", item.ProductURL)
	}
}

func TestParseItemVariants(t *testing.T) {
	t.Parallel()
	l := testLidl(t, "")
	old := 20.0

	tests := []struct {
		name   string
		item   apiItem
		wantOK bool
		check  func(t *testing.T, got catalog.Item)
	}{
		{
			name:   "no code is skipped",
			item:   apiItem{Label: "Naamloos"},
			wantOK: false,
		},
		{
			name:   "id fallback for code",
			item:   apiItem{ID: "555", Name: "Via naam"},
			wantOK: true,
			check: func(t *testing.T, got catalog.Item) {
				if got.Code != "555" || got.Label != "Via naam" {
					t.Fatalf("item = %+v, want id/name fallbacks", got)
				}
			},
		},
		{
			name:   "flat price struct",
			item:   apiItem{Code: "1", Price: &apiPrice{Price: 15.0, OldPrice: &old}},
			wantOK: true,
			check: func(t *testing.T, got catalog.Item) {
				if got.Price != 15.0 {
					t.Fatalf("Price = %v, want 15.0", got.Price)
				}
				if got.DiscountAmount == nil || *got.DiscountAmount != 5.0 {
					t.Fatalf("DiscountAmount = %v, want 5.0", got.DiscountAmount)
				}
			},
		},
		{
			name: "higher price than old carries no discount",
			item: apiItem{Code: "2", Price: &apiPrice{Price: 25.0, OldPrice: &old}},
			check: func(t *testing.T, got catalog.Item) {
				if got.RecommendedPrice == nil || *got.RecommendedPrice != 20.0 {
					t.Fatalf("RecommendedPrice = %v, want 20.0", got.RecommendedPrice)
				}
				if got.DiscountAmount != nil {
					t.Fatalf("DiscountAmount = %v, want nil", got.DiscountAmount)
				}
			},
			wantOK: true,
		},
		{
			name:   "missing label becomes placeholder",
			item:   apiItem{Code: "3"},
			wantOK: true,
			check: func(t *testing.T, got catalog.Item) {
				if got.Label != "N/A" {
					t.Fatalf("Label = %q, want N/A", got.Label)
				}
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			item, ok := l.parseItem(tt.item)
			if ok != tt.wantOK {
				t.Fatalf("parseItem() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				tt.check(t, item)
			}
		})
	}
}

func TestParseItemGridboxFallbacks(t *testing.T) {
	t.Parallel()
	l := testLidl(t, "")

	var it apiItem
	raw := `{
		"code": "9",
		"label": "Beeld via gridbox",
		"gridbox": {"data": {"image": "https://img/9.jpg", "canonicalPath": "/p/ding/p9"}}
	}`
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	item, ok := l.parseItem(it)
	if !ok {
		t.Fatal("parseItem() ok = false, want true")
	}
	if item.ImageURL != "https://img/9.jpg" {
		t.Fatalf("ImageURL = %q, want gridbox image", item.ImageURL)
	}
	if item.ProductURL != "https://www.lidl.nl/p/ding/p9" {
		t.Fatalf("ProductURL = %q, want base-joined canonical path", item.ProductURL)
	}
}
