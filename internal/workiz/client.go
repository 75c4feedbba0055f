// Package workiz describes the field-service API collections pulled by the sync cycles.
package workiz

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/fetcher"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sourceName = "workiz"

var Module = fx.Module("workiz",
	fx.Provide(NewClient),
)

// Source is the subset of Client used by sync cycles.
type Source interface {
	Jobs(ctx context.Context, since time.Time) (fetcher.Result, error)
	Leads(ctx context.Context, since time.Time) (fetcher.Result, error)
	Payments(ctx context.Context, since time.Time) (fetcher.Result, error)
}

type Client struct {
	fetcher *fetcher.Fetcher
}

type Params struct {
	fx.In

	Config  config.Config
	Limiter *ratelimit.SourceLimiter `optional:"true"`
	Log     *zap.Logger
	Metrics *metrics.SyncMetrics `optional:"true"`
}

func NewClient(p Params) *Client {
	var limiter fetcher.Limiter
	if p.Limiter != nil {
		limiter = p.Limiter
	}
	return New(BaseURL(p.Config.Workiz.APIURL, p.Config.Workiz.APIKey), limiter, p.Log, p.Metrics)
}

// New builds a client against an already-resolved base URL.
func New(baseURL string, limiter fetcher.Limiter, log *zap.Logger, m *metrics.SyncMetrics) *Client {
	return &Client{
		fetcher: fetcher.New(fetcher.Config{BaseURL: baseURL}, nil, limiter, log, m),
	}
}

// BaseURL places the API key in the path: {api}/api/v1/{key}.
func BaseURL(apiURL, apiKey string) string {
	return strings.TrimRight(apiURL, "/") + "/api/v1/" + url.PathEscape(strings.TrimSpace(apiKey))
}

var (
	JobsEndpoint = fetcher.Endpoint{
		Source: sourceName,
		Name:   domain.ResourceJobs,
		Path:   "/job/all/",
		Params: url.Values{"only_open": {"false"}},
		Keys:   []string{"jobs"},
	}
	LeadsEndpoint = fetcher.Endpoint{
		Source: sourceName,
		Name:   domain.ResourceLeads,
		Path:   "/lead/all/",
		Params: url.Values{"only_open": {"false"}},
		Keys:   []string{"leads"},
	}
	PaymentsEndpoint = fetcher.Endpoint{
		Source: sourceName,
		Name:   domain.ResourcePayments,
		Path:   "/payments/",
		Keys:   []string{"payments"},
	}
)

func (c *Client) Jobs(ctx context.Context, since time.Time) (fetcher.Result, error) {
	return c.fetcher.Fetch(ctx, JobsEndpoint, since, nil)
}

func (c *Client) Leads(ctx context.Context, since time.Time) (fetcher.Result, error) {
	return c.fetcher.Fetch(ctx, LeadsEndpoint, since, nil)
}

func (c *Client) Payments(ctx context.Context, since time.Time) (fetcher.Result, error) {
	return c.fetcher.Fetch(ctx, PaymentsEndpoint, since, nil)
}
