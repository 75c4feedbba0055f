// Package fetcher pulls offset-paginated JSON collections from REST sources.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxErrorBody = 512

// Limiter paces outbound requests. Wait blocks until the next request may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Result is everything collected before the loop stopped.
type Result struct {
	Records     []map[string]any
	Pages       int
	Requests    int
	Errors      int
	RateLimited int
	// Aborted is set when the consecutive-error breaker opened.
	Aborted bool
	// Truncated is set when the record cap stopped pagination.
	Truncated bool
	LastErr   error
}

// Fetcher walks pages of an Endpoint until a short page, the record cap or the breaker.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter Limiter
	log     *zap.Logger
	metrics *metrics.SyncMetrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns a Fetcher. limiter and m may be nil.
func New(cfg Config, client *http.Client, limiter Limiter, log *zap.Logger, m *metrics.SyncMetrics) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = tracing.WrapHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		log:     log.Named("fetcher"),
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Fetch reads ep from since to now. The source has no end-date filter; a non-nil until is logged and ignored.
// Only context cancellation is returned as an error; source failures are reported on the Result.
func (f *Fetcher) Fetch(ctx context.Context, ep Endpoint, since time.Time, until *time.Time) (Result, error) {
	log := f.log.With(zap.String("source", ep.Source), zap.String("resource", ep.Name))
	if until != nil {
		log.Info("fetcher.end_date.ignored",
			zap.String("until", until.Format("2006-01-02")),
			zap.String("reason", "source filters by start date only"),
		)
	}

	var res Result
	offset := 0
	consecutive := 0

	for {
		if len(res.Records) >= f.cfg.MaxRecords {
			res.Truncated = true
			res.Records = res.Records[:f.cfg.MaxRecords]
			log.Warn("fetcher.cap.reached", zap.Int("max_records", f.cfg.MaxRecords))
			break
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		res.Requests++
		page, err := f.fetchPage(ctx, ep, since, offset)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			consecutive++
			res.Errors++
			res.LastErr = err

			wait := f.cfg.PageDelay
			var limited *RateLimitedError
			if errors.As(err, &limited) {
				wait = limited.RetryAfter
				res.RateLimited++
				f.metrics.IncRateLimited(ep.Source)
				f.metrics.IncFetchPage(ep.Source, metrics.FetchOutcomeRateLimited)
			} else {
				f.metrics.IncFetchPage(ep.Source, metrics.FetchOutcomeError)
			}
			log.Warn("fetcher.page.failed",
				zap.Int("offset", offset),
				zap.Int("consecutive_errors", consecutive),
				zap.Duration("wait", wait),
				zap.Error(tracing.SafeError(err)),
			)
			if consecutive >= f.cfg.MaxConsecutiveErrors {
				res.Aborted = true
				log.Error("fetcher.breaker.open",
					zap.Int("consecutive_errors", consecutive),
					zap.Int("records", len(res.Records)),
				)
				break
			}
			if err := f.sleep(ctx, wait); err != nil {
				return res, err
			}
			continue
		}

		consecutive = 0
		res.Pages++
		res.Records = append(res.Records, page.Records...)
		if page.Shape == ShapeUnknown {
			f.metrics.IncFetchPage(ep.Source, metrics.FetchOutcomeUnknown)
			log.Warn("fetcher.shape.unknown", zap.Int("offset", offset))
		} else {
			f.metrics.IncFetchPage(ep.Source, metrics.FetchOutcomeOK)
		}
		f.metrics.AddFetchRecords(ep.Source, len(page.Records))
		log.Debug("fetcher.page.fetched",
			zap.Int("offset", offset),
			zap.Int("count", len(page.Records)),
			zap.Int("items", page.Items),
			zap.Stringer("shape", page.Shape),
		)

		if page.Items < f.cfg.PageSize {
			break
		}
		offset += f.cfg.PageSize
		if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
			return res, err
		}
	}

	log.Info("fetcher.done",
		zap.Int("records", len(res.Records)),
		zap.Int("pages", res.Pages),
		zap.Int("errors", res.Errors),
		zap.Bool("aborted", res.Aborted),
		zap.Bool("truncated", res.Truncated),
	)
	return res, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, ep Endpoint, since time.Time, offset int) (page Page, err error) {
	ctx, span := tracing.Start(ctx, "fetcher.page",
		attribute.String("source", ep.Source),
		attribute.String("resource", ep.Name),
		attribute.Int("offset", offset),
	)
	defer func() { tracing.End(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.pageURL(ep, since, offset), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("request %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Page{}, &RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), f.now(), f.cfg.DefaultRetryAfter),
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Page{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", ep.Name, err)
	}
	return DecodePage(body, ep.Keys)
}

func (f *Fetcher) pageURL(ep Endpoint, since time.Time, offset int) string {
	q := url.Values{}
	for key, values := range ep.Params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	if !since.IsZero() {
		q.Set("start_date", since.UTC().Format("2006-01-02"))
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("records", strconv.Itoa(f.cfg.PageSize))
	return strings.TrimRight(f.cfg.BaseURL, "/") + ep.Path + "?" + q.Encode()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
