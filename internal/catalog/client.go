// Package catalog is the client for the remote board game catalog API.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/metrics"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/model"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/resilience"
)

// MaxBatchIDs is the largest id list the thing endpoint accepts.
const MaxBatchIDs = 20

var (
	// ErrItemNotFound means the response carried no <item> for the id.
	ErrItemNotFound = eris.New("catalog: item not found")
	// ErrMalformed means the response body was not a readable <items> document.
	ErrMalformed = eris.New("catalog: malformed response")
)

// RejectionError is a non-2xx response. It is never retried.
type RejectionError struct {
	StatusCode int
	URL        string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("catalog: %s returned HTTP %d", e.URL, e.StatusCode)
}

// IsRejection reports whether err is a remote rejection: an HTTP error
// status, a malformed document, or a missing item.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) || eris.Is(err, ErrMalformed) || eris.Is(err, ErrItemNotFound)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	UserAgent  string
	Token      string
	Timeout    time.Duration
	Throttle   Throttle
	Retry      resilience.RetryConfig
	HTTPClient *http.Client
}

// Client calls the catalog's hot and thing endpoints. Every request waits
// on the shared Throttle first.
type Client struct {
	baseURL   string
	userAgent string
	token     string
	http      *http.Client
	throttle  Throttle
	retry     resilience.RetryConfig
	log       *zap.Logger
	now       func() time.Time
}

// New creates a Client. A nil Throttle means no pacing.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	th := opts.Throttle
	if th == nil {
		th = NewFixedDelay(0)
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("catalog", "get")
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		token:     opts.Token,
		http:      hc,
		throttle:  th,
		retry:     retry,
		log:       zap.L().With(zap.String("component", "catalog.client")),
		now:       time.Now,
	}
}

// Hot returns up to limit currently trending board game ids.
func (c *Client) Hot(ctx context.Context, limit int) ([]int64, error) {
	body, err := c.get(ctx, "hot", url.Values{"type": {"boardgame"}})
	if err != nil {
		return nil, err
	}
	ids, err := parseHotIDs(body)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Existing returns the subset of ids the catalog knows as board games.
func (c *Client) Existing(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchIDs {
		return nil, eris.Errorf("catalog: existence batch of %d exceeds %d", len(ids), MaxBatchIDs)
	}
	body, err := c.get(ctx, "thing", url.Values{"id": {joinIDs(ids)}, "type": {"boardgame"}})
	if err != nil {
		return nil, err
	}
	items, err := decodeItems(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse existence check")
	}
	return itemIDs(items), nil
}

// Thing fetches and parses the full record for one id, statistics included.
func (c *Client) Thing(ctx context.Context, id int64) (*model.RawGame, error) {
	body, err := c.get(ctx, "thing", url.Values{"id": {strconv.FormatInt(id, 10)}, "stats": {"1"}})
	if err != nil {
		return nil, err
	}
	return ParseThing(body, id, c.now())
}

// get performs one throttled GET with transient-only retries.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	target := c.baseURL + "/" + endpoint + "?" + q.Encode()

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, target)
	})

	metrics.CatalogRequests.WithLabelValues(endpoint, outcome(err)).Inc()
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get %s", endpoint)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Returned unwrapped so the retry predicate sees the net error.
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RejectionError{StatusCode: resp.StatusCode, URL: target}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("catalog response", zap.String("url", target), zap.Int("bytes", len(body)))
	return body, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
