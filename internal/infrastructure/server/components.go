package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/inference"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/config"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/sandbox"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
)

// LoadIndex returns the configured category mapping, or the built-in one.
func LoadIndex(cfg config.ModelConfig) (*category.Index, error) {
	if cfg.Categories == "" {
		return category.Default(), nil
	}
	idx, err := category.Load(cfg.Categories)
	if err != nil {
		return nil, fmt.Errorf("load category mapping: %w", err)
	}
	return idx, nil
}

// NewExecutor builds a lazily loading executor over the model directory,
// or over the remote base URL when one is configured.
func NewExecutor(cfg config.ModelConfig, logger *logging.Logger, metrics *monitoring.Metrics) *inference.Executor {
	var source inference.ArtifactSource = inference.DirSource(cfg.Path)
	if cfg.BaseURL != "" {
		source = inference.NewHTTPSource(cfg.BaseURL)
	}
	return inference.NewExecutor(
		inference.ManifestLoader{Source: source, ScriptTimeout: cfg.ScriptTimeout},
		inference.WithLogger(logger),
		inference.WithMetrics(metrics),
		inference.WithOnLoaded(func(m inference.Model) {
			logger.Info("model loaded",
				zap.Stringer("input", m.InputShape()),
				zap.Int("classes", m.Classes()))
		}),
	)
}

// SandboxConfig maps the sandbox section onto handler settings.
func SandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	return sandbox.Config{TopK: cfg.TopK, Concurrency: cfg.Concurrency}
}

// ScanConfig maps the scan section onto scanner settings.
func ScanConfig(cfg config.ScanConfig) service.Config {
	return service.Config{
		Selector:       cfg.Selector,
		MinSize:        cfg.MinSize,
		Interval:       cfg.Interval,
		ScrollDebounce: cfg.ScrollDebounce,
		PendingTimeout: cfg.PendingTimeout,
		SettleTimeout:  cfg.RequestTimeout,
		StrictOrigin:   cfg.StrictOrigin,
		FetchRPS:       cfg.FetchRPS,
	}
}

// Sandbox is the inference side as seen by the API: a connector for scans
// plus the status reported by /health.
type Sandbox interface {
	service.Connector
	Mode() string
	ModelLoaded() bool
	// MetricsURL is the sandbox's own /metrics endpoint, or empty when it
	// shares the API's registry.
	MetricsURL() string
}

type localSandbox struct {
	service.LocalSandbox
	executor *inference.Executor
}

func (l localSandbox) Mode() string { return "local" }

func (l localSandbox) MetricsURL() string { return "" }

func (l localSandbox) ModelLoaded() bool {
	_, ok := l.executor.Loaded()
	return ok
}

type remoteSandbox struct {
	service.RemoteSandbox
	health  string
	metrics string
	client  *resty.Client
}

func (r remoteSandbox) Mode() string { return "remote" }

func (r remoteSandbox) MetricsURL() string { return r.metrics }

// ModelLoaded asks the remote sandbox's health endpoint.
func (r remoteSandbox) ModelLoaded() bool {
	var body struct {
		ModelLoaded bool `json:"modelLoaded"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := r.client.R().SetContext(ctx).SetResult(&body).Get(r.health)
	if err != nil || resp.IsError() {
		return false
	}
	return body.ModelLoaded
}

// NewSandbox returns an in-process sandbox, or a client of the remote one
// when cfg.Sandbox.URL is set.
func NewSandbox(cfg *config.Config, index *category.Index, logger *logging.Logger, metrics *monitoring.Metrics) (Sandbox, error) {
	if cfg.Sandbox.URL != "" {
		health, err := sandboxEndpoint(cfg.Sandbox.URL, "health")
		if err != nil {
			return nil, err
		}
		metricsURL, err := sandboxEndpoint(cfg.Sandbox.URL, "metrics")
		if err != nil {
			return nil, err
		}
		return remoteSandbox{
			RemoteSandbox: service.RemoteSandbox{URL: cfg.Sandbox.URL},
			health:        health,
			metrics:       metricsURL,
			client:        resty.New().SetTimeout(2 * time.Second),
		}, nil
	}

	executor := NewExecutor(cfg.Model, logger, metrics)
	handler := sandbox.NewHandler(executor, policy.NewEngine(index), SandboxConfig(cfg.Sandbox), logger, metrics)
	return localSandbox{
		LocalSandbox: service.LocalSandbox{Handler: handler},
		executor:     executor,
	}, nil
}

// sandboxEndpoint maps ws://host/sandbox to http://host/<name>.
func sandboxEndpoint(wsURL, name string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("sandbox url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("sandbox url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/sandbox") + "/" + name
	u.RawQuery = ""
	return u.String(), nil
}
