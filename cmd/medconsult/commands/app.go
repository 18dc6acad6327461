package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/consult/config"
	"github.com/randalmurphal/medconsult/pkg/consult/logging"
	"github.com/randalmurphal/medconsult/pkg/consult/metrics"
	"github.com/randalmurphal/medconsult/pkg/consult/responder"
	"github.com/randalmurphal/medconsult/pkg/consult/toolset"
	"github.com/randalmurphal/medconsult/pkg/consult/tracing"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/observability"
)

// app is the assembled process around one consultation engine.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	slog     *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tracing  *tracing.Provider
	tools    *toolset.MCP
	store    checkpoint.Store
	engine   *consult.Engine
}

// newApp builds the process from cfg. Logs go to logOut (stderr when nil).
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (a *app, err error) {
	logger, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	a = &app{
		cfg:      cfg,
		logger:   logger,
		slog:     logger.Slog(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if a.tracing, err = tracing.New(ctx, cfg.Tracing); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	prompts := consult.DefaultPrompts()
	if cfg.Consult.PromptsFile != "" {
		if prompts, err = consult.LoadPrompts(cfg.Consult.PromptsFile); err != nil {
			return nil, err
		}
	}

	a.tools = toolset.NewMCP(cfg.Tools.MCPServers, toolset.WithMCPLogger(a.slog))
	models, err := buildModels(ctx, cfg, a.tools, a.metrics, a.slog)
	if err != nil {
		return nil, err
	}

	if a.store, err = buildStore(cfg.Store); err != nil {
		return nil, err
	}

	opts := []consult.Option{
		consult.WithLogger(a.slog),
		consult.WithPrompts(prompts),
		consult.WithMaxQuestions(cfg.Consult.MaxQuestions),
		consult.WithDecisionAttempts(cfg.Consult.DecisionAttempts),
		consult.WithRunOptions(
			flowgraph.WithMetrics(observability.NewMetricsRecorder(nil)),
			flowgraph.WithTracing(observability.NewSpanManager(a.tracing.TracerProvider())),
		),
	}
	if cfg.Consult.SessionLocking {
		opts = append(opts, consult.WithSessionLocking())
	}
	if a.engine, err = consult.NewEngine(models, a.store, opts...); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("store", cfg.Store.Driver).
		Int("mcp_servers", len(cfg.Tools.MCPServers)).
		Bool("tracing", a.tracing.Enabled()).
		Msg("consultation engine ready")
	return a, nil
}

// buildModels wires the gateway clients. The questioner falls back to the
// fallback model and drives the tool loop; every client reports to obs.
func buildModels(ctx context.Context, cfg *config.Config, tools toolset.Provider, obs *metrics.Metrics, logger *slog.Logger) (consult.Models, error) {
	client := func(role string, mc llm.ModelConfig) (llm.Client, error) {
		c, err := llm.New(mc)
		if err != nil {
			return nil, fmt.Errorf("models.%s: %w", role, err)
		}
		return llm.Instrument(c, mc.Model, obs), nil
	}

	medical, err := client("medical", cfg.Models.Medical)
	if err != nil {
		return consult.Models{}, err
	}
	summarizer, err := client("summarizer", cfg.Models.SummarizerConfig())
	if err != nil {
		return consult.Models{}, err
	}
	primary, err := client("questioner", cfg.Models.Questioner)
	if err != nil {
		return consult.Models{}, err
	}
	fallback, err := client("fallback", cfg.Models.Fallback)
	if err != nil {
		return consult.Models{}, err
	}

	questioner := llm.WithFallback(
		llm.Named{Name: cfg.Models.Questioner.Model, Client: primary},
		llm.Named{Name: cfg.Models.Fallback.Model, Client: fallback},
		llm.WithFallbackLogger(logger),
		llm.WithFallbackObserver(obs),
	)
	resp, err := responder.New(ctx, questioner, tools,
		responder.WithMaxSteps(cfg.Tools.MaxSteps),
		responder.WithToolRetry(cfg.Tools.MaxRetries, cfg.Tools.InitialDelay, cfg.Tools.BackoffFactor),
		responder.WithLogger(logger),
		responder.WithObserver(obs),
	)
	if err != nil {
		return consult.Models{}, err
	}

	logger.Info("questioner tools discovered", slog.Any("tools", resp.Tools()))
	return consult.Models{Medical: medical, Summarizer: summarizer, Questioner: resp}, nil
}

// buildStore opens the configured session store, behind an LRU of latest
// checkpoints when cache_size > 0.
func buildStore(cfg config.StoreConfig) (checkpoint.Store, error) {
	var (
		store checkpoint.Store
		err   error
	)
	switch cfg.Driver {
	case config.StoreMemory:
		store = checkpoint.NewMemoryStore()
	case config.StoreSQLite:
		if store, err = checkpoint.NewSQLiteStore(cfg.Path); err != nil {
			return nil, fmt.Errorf("open session store %s: %w", cfg.Path, err)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.CacheSize <= 0 {
		return store, nil
	}
	cached, err := checkpoint.NewCachedStore(store, cfg.CacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}

// Close releases the store, MCP connections, span exporter and log file.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.tools != nil {
		errs = append(errs, a.tools.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(context.Background()))
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
