// Package ordbok is a client for the ord.uib.no dictionary API, which
// backs Bokmålsordboka and Nynorskordboka.
package ordbok

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://ord.uib.no"

	// MaxArticles is the most articles fetched for a single search
	MaxArticles = 50

	maxConcurrentRequests = 5
	defaultTimeout        = 10 * time.Second
)

// Client queries the dictionary API. Requests are rate limited across
// every caller sharing the client.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger

	mu             sync.RWMutex
	requestLimiter *rate.Limiter
}

// NewClient returns a client for the API at baseURL. If httpClient is
// nil, a client with a default timeout is used. requestsPerSecond
// limits outgoing requests; zero or less disables the limit.
func NewClient(
	baseURL string,
	httpClient *http.Client,
	requestsPerSecond float64,
	logger *slog.Logger,
) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		baseURL:        u,
		httpClient:     httpClient,
		logger:         logger.With("logger", "ordbok"),
		requestLimiter: rate.NewLimiter(limit, 1),
	}, nil
}

// SetRequestsPerSecond updates the rate limit
func (c *Client) SetRequestsPerSecond(requestsPerSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if requestsPerSecond <= 0 {
		c.requestLimiter.SetLimit(rate.Inf)
		return
	}
	c.requestLimiter.SetLimit(rate.Limit(requestsPerSecond))
}

func (c *Client) waitOnRequestLimiter(ctx context.Context) error {
	c.mu.RLock()
	limiter := c.requestLimiter
	c.mu.RUnlock()
	return limiter.Wait(ctx)
}

// StatusError is returned when the API responds with a non-2xx status
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ordbok: %s returned status %d", e.URL, e.StatusCode)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	if err := c.waitOnRequestLimiter(ctx); err != nil {
		return err
	}
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "request failed", "url", u.String(), tint.Err(err))
		return fmt.Errorf("ordbok: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.logger.DebugContext(
		ctx,
		"request complete",
		"url", u.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: u.String()}
	}
	if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("ordbok: error decoding response from %s: %w", u.String(), err)
	}
	return nil
}

// Search returns the IDs of articles matching query. Unless exact is
// set, queries without wildcards are wrapped in "*" wildcards.
func (c *Client) Search(
	ctx context.Context,
	dictionary string,
	query string,
	exact bool,
) (*SearchResponse, error) {
	if !exact && !strings.ContainsAny(query, "*%") {
		query = "*" + query + "*"
	}
	var rv SearchResponse
	err := c.get(
		ctx,
		"api/articles",
		url.Values{"w": {query}, "dict": {dictionary}, "scope": {"ei"}},
		&rv,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// GetAll returns the IDs of every article of the given word class
func (c *Client) GetAll(
	ctx context.Context,
	dictionary string,
	wordClass string,
) (*SearchResponse, error) {
	var rv SearchResponse
	err := c.get(
		ctx,
		"api/articles",
		url.Values{"w": {"*"}, "wc": {wordClass}, "dict": {dictionary}, "scope": {"f"}},
		&rv,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// Suggest returns up to maxResults words starting with, or close to,
// query
func (c *Client) Suggest(
	ctx context.Context,
	dictionary string,
	query string,
	maxResults int,
) (*SuggestResponse, error) {
	var rv SuggestResponse
	err := c.get(
		ctx,
		"api/suggest",
		url.Values{
			"q":       {query},
			"dict":    {dictionary},
			"n":       {fmt.Sprintf("%d", maxResults)},
			"include": {"ei"},
		},
		&rv,
	)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (c *Client) GetArticle(ctx context.Context, dictionary string, articleID int) (*Article, error) {
	var rv Article
	err := c.get(ctx, fmt.Sprintf("%s/article/%d.json", dictionary, articleID), nil, &rv)
	if err != nil {
		return nil, err
	}
	if rv.Dictionary == "" {
		rv.Dictionary = dictionary
	}
	return &rv, nil
}

// GetArticles fetches up to MaxArticles articles concurrently. The
// returned articles are in the same order as articleIDs. If any
// request fails, the first error is returned.
func (c *Client) GetArticles(
	ctx context.Context,
	dictionary string,
	articleIDs []int,
) ([]*Article, error) {
	if len(articleIDs) > MaxArticles {
		articleIDs = articleIDs[:MaxArticles]
	}
	articles := make([]*Article, len(articleIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRequests)
	for i, id := range articleIDs {
		g.Go(
			func() error {
				a, err := c.GetArticle(gctx, dictionary, id)
				if err != nil {
					return fmt.Errorf("error getting article %d: %w", id, err)
				}
				articles[i] = a
				return nil
			},
		)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return articles, nil
}

func (c *Client) GetConcepts(ctx context.Context, dictionary string) (*Concepts, error) {
	var rv Concepts
	if err := c.get(ctx, dictionary+"/concepts.json", nil, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}
