// Package fetcher polls the ticket-check endpoint for many sites with bounded
// concurrency and per-site retries.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"ticketwatch/internal/availability"
	"ticketwatch/internal/observability/metrics"
	logx "ticketwatch/pkg/logx"
)

const (
	DefaultConcurrency    = 3
	DefaultRetryLimit     = 3
	DefaultRetryBase      = time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	maxBodyBytes = 1 << 20
)

var (
	ErrStatus     = errors.New("unexpected http status")
	ErrBadPayload = errors.New("invalid ticket availability payload")
)

// BaseURLForDomain composes the ticket-check endpoint of a domain.
func BaseURLForDomain(domain string) string {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	return "http://" + domain + "/react_api/v1/check_ticket_availability"
}

type Config struct {
	BaseURL        string
	Concurrency    int
	RetryLimit     int
	RetryBase      time.Duration
	RequestTimeout time.Duration
	// RatePerSec paces requests across all sites. Zero disables pacing.
	RatePerSec float64
	UserAgent  string
}

// SiteError reports a site that exhausted its attempts.
type SiteError struct {
	Site     string
	Attempts int
	Err      error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("site %s: failed after %d attempt(s): %v", e.Site, e.Attempts, e.Err)
}

func (e *SiteError) Unwrap() error { return e.Err }

type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithLogger(log logx.Logger) Option { return func(f *Fetcher) { f.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Fetcher) { f.metrics = m } }

func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("fetcher: base url is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fetcher: base url: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{},
		log:    logx.Nop(),
		tracer: otel.Tracer("ticketwatch/internal/fetcher"),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(f)
	}
	if f.log.IsZero() {
		f.log = logx.Nop()
	}
	return f, nil
}

// FetchAll checks every site and partitions the outcome. Order is not
// significant. It returns once every site has succeeded or given up.
func (f *Fetcher) FetchAll(ctx context.Context, sites []string) ([]availability.SiteCheckResult, []error) {
	sites = uniqueSites(sites)
	sem := make(chan struct{}, f.cfg.Concurrency)

	type outcome struct {
		res availability.SiteCheckResult
		err error
	}
	out := make([]outcome, len(sites))
	var wg sync.WaitGroup
	for i, site := range sites {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.fetchSite(ctx, sem, site)
			out[i] = outcome{res: r, err: err}
		}()
	}
	wg.Wait()

	var (
		ok   = make([]availability.SiteCheckResult, 0, len(sites))
		errs []error
	)
	for _, o := range out {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		ok = append(ok, o.res)
	}
	return ok, errs
}

func (f *Fetcher) fetchSite(ctx context.Context, sem chan struct{}, site string) (availability.SiteCheckResult, error) {
	ctx, span := f.tracer.Start(ctx, "fetcher.site", trace.WithAttributes(
		attribute.String("site.name", site),
		attribute.Int("fetch.retry_limit", f.cfg.RetryLimit),
	))
	defer span.End()

	var lastErr error
	attempt := 0
	for attempt < f.cfg.RetryLimit {
		attempt++
		r, err := f.attemptWithSlot(ctx, sem, site)
		f.metrics.FetchAttempt(err == nil)
		if err == nil {
			span.SetAttributes(attribute.Int("fetch.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return r, nil
		}
		lastErr = err
		span.AddEvent("attempt_failed", trace.WithAttributes(attribute.Int("fetch.attempt", attempt)))
		if ctx.Err() != nil {
			break
		}
		f.log.Warn("site check attempt failed", logx.String("site", site), logx.Int("attempt", attempt), logx.Err(err))
		if attempt >= f.cfg.RetryLimit {
			break
		}
		if err := sleepCtx(ctx, f.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	err := &SiteError{Site: site, Attempts: attempt, Err: lastErr}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return availability.SiteCheckResult{}, err
}

// backoff is the wait after failed attempt n (1-based): RetryBase * 2^n.
func (f *Fetcher) backoff(n int) time.Duration {
	return f.cfg.RetryBase << n
}

// attemptWithSlot holds a concurrency slot only for the duration of one request.
func (f *Fetcher) attemptWithSlot(ctx context.Context, sem chan struct{}, site string) (availability.SiteCheckResult, error) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return availability.SiteCheckResult{}, ctx.Err()
	}
	defer func() { <-sem }()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return availability.SiteCheckResult{}, err
		}
	}
	return f.attempt(ctx, site)
}

type payload struct {
	Total   *int `json:"total_events_count"`
	With    *int `json:"events_with_tickets_count"`
	Without *int `json:"events_without_tickets_count"`
}

func (f *Fetcher) attempt(ctx context.Context, site string) (availability.SiteCheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	u, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return availability.SiteCheckResult{}, err
	}
	q := u.Query()
	q.Set("site-name", site)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return availability.SiteCheckResult{}, err
	}
	setBrowserHeaders(req.Header, f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return availability.SiteCheckResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return availability.SiteCheckResult{}, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	var p payload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&p); err != nil {
		return availability.SiteCheckResult{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Total == nil || p.With == nil || p.Without == nil {
		return availability.SiteCheckResult{}, fmt.Errorf("%w: missing field", ErrBadPayload)
	}
	r, err := availability.NewSiteCheckResult(site, *p.Total, *p.With, *p.Without)
	if err != nil {
		return availability.SiteCheckResult{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return r, nil
}

// setBrowserHeaders mimics a browser JSON client. Accept-Encoding is left to
// the transport so gzip stays transparently decoded.
func setBrowserHeaders(h http.Header, ua string) {
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "en-US,en;q=0.9,ru;q=0.8")
	h.Set("Cache-Control", "max-age=0")
	h.Set("DNT", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", ua)
}

func uniqueSites(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
