// Package portal fetches publication listing pages from the university
// research portal and parses them into candidate records.
package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scoutlab/pubscout/internal/config"
	"github.com/scoutlab/pubscout/internal/model"
	"github.com/scoutlab/pubscout/internal/resilience"
)

// FetchError marks a page-level fetch or parse failure. Individual
// malformed entries inside a page are skipped and counted instead.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("portal: page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Page is one fetched listing page. Next is the opaque cursor for the
// following page, empty when pagination is exhausted.
type Page struct {
	Records      []model.PublicationRecord
	ParseSkipped int
	Next         string
}

// Client pulls listing pages with a fixed inter-request delay. The delay
// is a hard lower bound enforced by a rate limiter, not a best-effort
// sleep.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
}

// New builds a portal client from config.
func New(cfg config.PortalConfig) *Client {
	delay := time.Duration(cfg.DelayMS) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Every(delay), 1),
	}
}

// FetchPage fetches and parses the page identified by cursor. An empty
// cursor means the first page. The cursor is opaque to callers and is
// checkpointed by the orchestrator so a crashed run resumes from the
// last completed page.
func (c *Client) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	page, err := decodeCursor(cursor)
	if err != nil {
		return nil, &FetchError{Page: 0, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Page: page, Err: err}
	}

	doc, err := c.fetchDocument(ctx, page)
	if err != nil {
		return nil, &FetchError{Page: page, Err: err}
	}

	records, skipped := parseListing(doc, c.baseURL)
	zap.L().Debug("portal: page parsed",
		zap.Int("page", page),
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)

	next := ""
	if len(records)+skipped > 0 {
		next = encodeCursor(page + 1)
	}

	return &Page{Records: records, ParseSkipped: skipped, Next: next}, nil
}

func (c *Client) fetchDocument(ctx context.Context, page int) (*goquery.Document, error) {
	pageURL, err := buildPageURL(c.baseURL, page)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "request listing")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("portal returned %s", resp.Status)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "parse document")
	}
	return doc, nil
}

func buildPageURL(base string, page int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "invalid base url %s", base)
	}
	q := parsed.Query()
	q.Set("page", strconv.Itoa(page))
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func encodeCursor(page int) string {
	return strconv.Itoa(page)
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(cursor)
	if err != nil || page < 1 {
		return 0, eris.Errorf("invalid cursor %q", cursor)
	}
	return page, nil
}
