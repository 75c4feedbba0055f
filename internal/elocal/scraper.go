// Package elocal scrapes the call-tracking portal export behind a browser login.
package elocal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/config"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/internal/observability/metrics"
	"github.com/smallbiznis/abcmetrics/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("elocal",
	fx.Provide(NewScraper),
)

// State is a step of the scrape session.
type State string

const (
	StateLoggedOut      State = "logged_out"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateExporting      State = "exporting"
	StateParsed         State = "parsed"
	StateFailed         State = "failed"
)

// CallWriter stores parsed calls.
type CallWriter interface {
	UpsertCalls(ctx context.Context, calls []domain.Call) (domain.Result, error)
}

// SyncResult reports one scrape.
type SyncResult struct {
	Rows    int            `json:"rows"`
	Parsed  int            `json:"parsed"`
	Skipped map[string]int `json:"skipped"`
	Write   domain.Result  `json:"write"`
}

type Params struct {
	fx.In

	Config  config.Config
	Writer  CallWriter
	Log     *zap.Logger
	Metrics *metrics.SyncMetrics `optional:"true"`
}

// Scraper owns the browser for the duration of one Sync.
type Scraper struct {
	baseURL    string
	username   string
	password   string
	businessID string
	open       Opener
	writer     CallWriter
	log        *zap.Logger
	metrics    *metrics.SyncMetrics

	mu      sync.Mutex
	browser Browser
	state   State
}

func NewScraper(p Params) *Scraper {
	cfg := p.Config.Elocal
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return New(base, cfg.Username, cfg.Password, cfg.BusinessID, ChromeOpener(cfg.ChromePath), p.Writer, p.Log, p.Metrics)
}

func New(baseURL, username, password, businessID string, open Opener, writer CallWriter, log *zap.Logger, m *metrics.SyncMetrics) *Scraper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scraper{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		businessID: businessID,
		open:       open,
		writer:     writer,
		log:        log.Named("elocal.scraper"),
		metrics:    m,
		state:      StateLoggedOut,
	}
}

// State returns the current session state.
func (s *Scraper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scraper) transition(to State, fields ...zap.Field) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.log.Info("scraper.state", append([]zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}, fields...)...)
}

// Sync logs in, downloads calls for [start, end] and stores them.
// The browser is released on every return path.
func (s *Scraper) Sync(ctx context.Context, start, end time.Time) (res SyncResult, err error) {
	ctx, span := tracing.Start(ctx, "elocal.sync",
		attribute.String("source", "elocals"),
		attribute.String("start", start.Format("2006-01-02")),
		attribute.String("end", end.Format("2006-01-02")),
	)
	defer func() { tracing.End(span, err) }()

	s.transition(StateLoggedOut)
	browser, err := s.open(ctx)
	if err != nil {
		s.transition(StateFailed, zap.Error(err))
		return res, fmt.Errorf("open browser: %w", err)
	}
	s.setBrowser(browser)
	defer s.Close()

	tab, err := s.login(ctx, browser)
	if err != nil {
		s.transition(StateFailed, zap.Error(err))
		return res, err
	}
	defer tab.Close()
	s.transition(StateAuthenticated)

	exportURL := ExportURL(s.baseURL, s.businessID, start, end)
	s.transition(StateExporting, zap.String("start", start.Format("2006-01-02")), zap.String("end", end.Format("2006-01-02")))
	status, body, err := tab.FetchText(ctx, exportURL)
	if err != nil {
		s.transition(StateFailed, zap.Error(err))
		return res, fmt.Errorf("export calls: %w", errors.Join(domain.ErrTransient, err))
	}
	if verr := ValidateExport(body); verr != nil {
		s.transition(StateFailed, zap.Int("status", status), zap.Error(verr))
		return res, verr
	}
	if status != http.StatusOK {
		s.transition(StateFailed, zap.Int("status", status))
		return res, fmt.Errorf("export calls: status %d: %w", status, domain.ErrTransient)
	}

	parsed, err := ParseCalls(strings.NewReader(body))
	if err != nil {
		s.transition(StateFailed, zap.Error(err))
		return res, err
	}
	res.Rows = parsed.Rows
	res.Parsed = len(parsed.Calls)
	res.Skipped = parsed.Skipped
	for reason, n := range parsed.Skipped {
		s.metrics.AddScraperSkipped(reason, n)
	}
	s.transition(StateParsed,
		zap.Int("rows", parsed.Rows),
		zap.Int("parsed", len(parsed.Calls)),
		zap.Any("skipped", parsed.Skipped),
		zap.Bool("truncated", parsed.Truncated),
	)

	if len(parsed.Calls) == 0 {
		return res, nil
	}
	res.Write, err = s.writer.UpsertCalls(ctx, parsed.Calls)
	return res, err
}

// login authenticates on a tab, retrying once on a fresh tab.
func (s *Scraper) login(ctx context.Context, browser Browser) (Tab, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		s.transition(StateAuthenticating, zap.Int("attempt", attempt))
		tab, err := browser.NewTab(ctx)
		if err != nil {
			return nil, fmt.Errorf("open tab: %w", err)
		}
		ok, err := s.authenticate(ctx, tab)
		if ok {
			return tab, nil
		}
		_ = tab.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.log.Warn("scraper.login.failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, domain.ErrAuthentication
}

func (s *Scraper) authenticate(ctx context.Context, tab Tab) (bool, error) {
	if err := tab.Navigate(ctx, LoginURL(s.baseURL, s.username)); err != nil {
		return false, err
	}
	if current, err := tab.URL(ctx); err == nil && LoginSucceeded(current) {
		s.log.Info("scraper.login.reused_session")
		return true, nil
	}
	if err := tab.TypePassword(ctx, s.password); err != nil {
		return false, fmt.Errorf("password field: %w", err)
	}
	if err := tab.Submit(ctx); err != nil {
		s.log.Warn("scraper.login.submit", zap.Error(err))
	}
	current, err := tab.URL(ctx)
	if err != nil {
		return false, err
	}
	return LoginSucceeded(current), nil
}

func (s *Scraper) setBrowser(b Browser) {
	s.mu.Lock()
	s.browser = b
	s.mu.Unlock()
}

// Close releases any open browser. Safe to call at any time and more than once.
func (s *Scraper) Close() error {
	s.mu.Lock()
	browser := s.browser
	s.browser = nil
	s.mu.Unlock()
	if browser == nil {
		return nil
	}
	return browser.Close()
}
