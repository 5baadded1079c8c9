package source

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	logx "prijswacht/pkg/logx"
)

// The catalog API throttles repeat clients, so every attempt presents a
// fresh browser identity.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// Client is the HTTP layer shared by catalog sources.
type Client struct {
	http       *http.Client
	log        logx.Logger
	maxRetries int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewClient(timeout time.Duration, maxRetries int, log logx.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		log:        log,
		maxRetries: maxRetries,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get fetches url with the attempt budget, rotating the User-Agent on every
// attempt. It returns the body on a 200, otherwise the last seen status code
// (0 when no response arrived at all) and an error once the budget is spent.
func (c *Client) Get(ctx context.Context, url string) ([]byte, int, error) {
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("User-Agent", c.userAgent())
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastStatus = 0
			lastErr = err
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			c.log.Warn("catalog request failed",
				logx.String("url", url),
				logx.Int("attempt", attempt),
				logx.Int("attempts", c.maxRetries),
				logx.Err(err),
			)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusOK && readErr == nil {
			return body, resp.StatusCode, nil
		}
		if readErr != nil {
			lastErr = readErr
		} else {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		c.log.Warn("catalog request rejected",
			logx.String("url", url),
			logx.Int("status", resp.StatusCode),
			logx.Int("attempt", attempt),
			logx.Int("attempts", c.maxRetries),
		)
	}
	return nil, lastStatus, fmt.Errorf("max retries (%d) reached for %s: %w", c.maxRetries, url, lastErr)
}

func (c *Client) userAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return userAgents[c.rng.Intn(len(userAgents))]
}
