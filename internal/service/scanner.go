package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/imgfirewall/internal/page"
	"github.com/GriffinCanCode/imgfirewall/internal/scan"
)

// DefaultSettleTimeout bounds how long a one-shot scan waits for verdicts.
const DefaultSettleTimeout = 60 * time.Second

// Config tunes one-shot scans.
type Config struct {
	Selector       string
	MinSize        int
	Interval       time.Duration
	ScrollDebounce time.Duration
	PendingTimeout time.Duration
	// SettleTimeout bounds the wait for every image to be decided. When it
	// expires the scan returns what it has, with Settled false.
	SettleTimeout time.Duration
	StrictOrigin  bool
	FetchRPS      float64
	FetchTimeout  time.Duration
}

// Summary counts element outcomes of one scan.
type Summary struct {
	Total      int            `json:"total"`
	Blocked    int            `json:"blocked"`
	Revealed   int            `json:"revealed"`
	Undecided  int            `json:"undecided"`
	ByOutcome  map[string]int `json:"byOutcome"`
	ByCategory map[string]int `json:"byCategory"`
}

// Result is the outcome of scanning one page.
type Result struct {
	ScanID   string               `json:"scanId"`
	Site     string               `json:"site"`
	Elements []scan.ElementStatus `json:"elements"`
	Summary  Summary              `json:"summary"`
	HTML     string               `json:"html,omitempty"`
	Settled  bool                 `json:"settled"`
	Duration time.Duration        `json:"-"`
	Elapsed  int64                `json:"durationMs"`
}

// Scanner runs a coordinator over a page until it settles, then reports
// the annotated document. Each scan opens its own sandbox channel.
type Scanner struct {
	connector Connector
	policy    scan.PolicySource
	stats     scan.StatsRecorder
	loader    scan.ImageLoader
	selector  scan.Selector
	fetcher   *page.Fetcher
	cfg       Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// NewScanner creates a scanner. policy and stats may be nil: scans then
// run with every category at its default and record nothing.
func NewScanner(connector Connector, policy scan.PolicySource, stats scan.StatsRecorder, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Scanner, error) {
	if connector == nil {
		return nil, errors.New("scanner: no sandbox connector")
	}
	if cfg.Selector == "" {
		cfg.Selector = scan.DefaultSelector
	}
	selector, err := scan.CompileSelector(cfg.Selector)
	if err != nil {
		return nil, err
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("scanner")

	return &Scanner{
		connector: connector,
		policy:    policy,
		stats:     stats,
		loader: scan.NewHTTPImageLoader(scan.HTTPImageLoaderConfig{
			StrictOrigin:      cfg.StrictOrigin,
			RequestsPerSecond: cfg.FetchRPS,
			Timeout:           cfg.FetchTimeout,
			Breaker: resilience.Settings{
				OnStateChange: func(host string, from, to resilience.State) {
					logger.Warn("image host breaker changed state",
						zap.String("host", host), zap.Stringer("from", from), zap.Stringer("to", to))
				},
			},
		}),
		selector: selector,
		fetcher:  page.NewFetcher(page.FetcherOptions{Timeout: cfg.FetchTimeout}),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// ScanURL fetches a document and scans it.
func (s *Scanner) ScanURL(ctx context.Context, rawURL string) (*Result, error) {
	p, err := s.Open(ctx, Request{URL: rawURL})
	if err != nil {
		return nil, err
	}
	return s.ScanPage(ctx, p)
}

// ScanHTML scans an inline document. Relative image sources resolve
// against baseURL.
func (s *Scanner) ScanHTML(ctx context.Context, html, baseURL string) (*Result, error) {
	p, err := s.Open(ctx, Request{HTML: html, BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	return s.ScanPage(ctx, p)
}

// ScanFile scans a document on disk.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*Result, error) {
	p, err := page.Open(path)
	if err != nil {
		return nil, err
	}
	return s.ScanPage(ctx, p)
}

// ScanDir scans every HTML file under dir in path order. A failing file is
// reported to fn and does not stop the walk; an error returned by fn does.
func (s *Scanner) ScanDir(ctx context.Context, dir string, fn func(path string, res *Result, err error) error) error {
	return page.Walk(ctx, dir, func(path string) error {
		res, err := s.ScanFile(ctx, path)
		return fn(path, res, err)
	})
}

// Request names a page to scan: a URL, or an inline document whose
// relative sources resolve against BaseURL.
type Request struct {
	URL     string
	HTML    string
	BaseURL string
}

// Open loads the page req names.
func (s *Scanner) Open(ctx context.Context, req Request) (*scan.Page, error) {
	if req.URL != "" {
		return s.fetcher.Fetch(ctx, req.URL)
	}
	return page.FromHTML(req.HTML, req.BaseURL)
}

// ScanPage runs a coordinator over p until every image is decided or the
// settle timeout expires.
func (s *Scanner) ScanPage(ctx context.Context, p *scan.Page) (*Result, error) {
	return s.Watch(ctx, p, nil)
}

// Watch is ScanPage with onDecided called as each image is blocked or
// revealed. onDecided runs on the scan loop and should return quickly.
func (s *Scanner) Watch(ctx context.Context, p *scan.Page, onDecided func(scan.ElementStatus)) (*Result, error) {
	start := time.Now()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	ch, err := s.connector.Connect(runCtx)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	c := scan.NewCoordinator(p, ch, scan.Options{
		Policy:         s.policy,
		Stats:          s.stats,
		Loader:         s.loader,
		Selector:       s.selector,
		Logger:         s.logger,
		Metrics:        s.metrics,
		MinSize:        s.cfg.MinSize,
		Interval:       s.cfg.Interval,
		ScrollDebounce: s.cfg.ScrollDebounce,
		PendingTimeout: s.cfg.PendingTimeout,
		OnDecided:      onDecided,
	})
	logger := s.logger.With(zap.String("scan", c.ID().String()), zap.String("site", p.Site()), tracing.Field(ctx))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(runCtx) }()
	// finish stops the loop and waits for it, so onDecided is never called
	// after Watch returns.
	finish := sync.OnceValue(func() error {
		stop()
		return <-runErr
	})
	defer finish()

	waitCtx, cancelWait := context.WithTimeout(runCtx, s.cfg.SettleTimeout)
	err = c.WaitSettled(waitCtx)
	cancelWait()

	settled := err == nil
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warn("scan did not settle", zap.Duration("timeout", s.cfg.SettleTimeout))
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, scan.ErrStopped):
		if rerr := finish(); rerr != nil {
			return nil, fmt.Errorf("scan %s: %w", c.ID(), rerr)
		}
		return nil, err
	default:
		return nil, err
	}

	elements, err := c.Snapshot(runCtx)
	if err != nil {
		return nil, err
	}
	if err := finish(); err != nil {
		return nil, err
	}

	// Run has returned, so nothing mutates the page any more.
	html, err := c.Render()
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	res := &Result{
		ScanID:   c.ID().String(),
		Site:     p.Site(),
		Elements: elements,
		Summary:  Summarize(elements),
		HTML:     html,
		Settled:  settled,
		Duration: time.Since(start),
	}
	res.Elapsed = res.Duration.Milliseconds()
	logger.Info("scan finished",
		zap.Int("images", res.Summary.Total),
		zap.Int("blocked", res.Summary.Blocked),
		zap.Bool("settled", settled),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// Summarize counts element states, outcomes and blocked categories.
func Summarize(elements []scan.ElementStatus) Summary {
	sum := Summary{
		Total:      len(elements),
		ByOutcome:  map[string]int{},
		ByCategory: map[string]int{},
	}
	for _, el := range elements {
		switch el.State {
		case scan.Blocked.String():
			sum.Blocked++
			if el.Category != "" {
				sum.ByCategory[el.Category]++
			}
		case scan.Revealed.String():
			sum.Revealed++
		default:
			sum.Undecided++
		}
		if el.Outcome != "" {
			sum.ByOutcome[el.Outcome]++
		}
	}
	return sum
}
