package app

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/capture"
	"github.com/ent0n29/speechbridge/internal/config"
	"github.com/ent0n29/speechbridge/internal/dispatch"
	"github.com/ent0n29/speechbridge/internal/engine"
	"github.com/ent0n29/speechbridge/internal/generate"
	"github.com/ent0n29/speechbridge/internal/httpapi"
	"github.com/ent0n29/speechbridge/internal/observability"
	"github.com/ent0n29/speechbridge/internal/toolcall"
)

// Version is reported to tool-call clients.
var Version = "dev"

type EngineInfo struct {
	Profile      string
	Detail       string
	DefaultVoice string
}

// BuildResult holds the shared core and the transport adapters built on it.
type BuildResult struct {
	Config     config.Config
	Dispatcher *dispatch.Dispatcher
	Backend    engine.Backend
	Captures   *capture.Manager
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Engine     EngineInfo
}

// Build wires one Dispatcher for every front-end.
func Build(cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	setup, err := resolveEngine(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}
	defaultVoice := strings.TrimSpace(cfg.EngineDefaultVoice)
	if defaultVoice == "" {
		defaultVoice = setup.defaultVoice
	}
	logger.Info("speech engine selected",
		zap.String("profile", setup.profile),
		zap.String("detail", setup.detail),
		zap.String("default_voice", defaultVoice),
	)

	captures, err := capture.NewManager(capture.Config{
		Dir:       cfg.CaptureDir,
		Serialize: cfg.CaptureSerialize,
	}, setup.backend, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("capture manager init failed: %w", err)
	}

	schema := capability.NewSchema(capability.Limits{
		DefaultVoice:    defaultVoice,
		DefaultSpeed:    cfg.DefaultSpeed,
		DefaultDuration: cfg.CaptureDefaultDuration,
		MaxDuration:     cfg.CaptureMaxDuration,
	})
	registry := capability.NewRegistry(setup.backend, setup.fallback, schema, logger)

	generator, err := generate.New(generate.Config{
		Provider:     cfg.ChatProvider,
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.ChatSystemPrompt,
		Timeout:      cfg.ChatTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("reply generator init failed: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Deps{
		Registry:    registry,
		Speaker:     setup.backend,
		Transcriber: setup.backend,
		Captures:    captures,
		Generator:   generator,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &BuildResult{
		Config:     cfg,
		Dispatcher: dispatcher,
		Backend:    setup.backend,
		Captures:   captures,
		Registry:   reg,
		Metrics:    metrics,
		Engine: EngineInfo{
			Profile:      setup.profile,
			Detail:       setup.detail,
			DefaultVoice: defaultVoice,
		},
	}, nil
}

// HTTP returns the REST and WebSocket adapter.
func (b *BuildResult) HTTP(logger *zap.Logger) *httpapi.Server {
	return httpapi.New(httpapi.Config{
		CORSOrigins:        b.Config.CORSOrigins,
		RateLimitPerMinute: b.Config.RateLimitPerMinute,
		AllowAnyOrigin:     b.Config.AllowAnyOrigin,
	}, b.Dispatcher, b.Metrics, b.Registry, logger)
}

// ToolCall returns the stdio tool-call adapter.
func (b *BuildResult) ToolCall(logger *zap.Logger) *toolcall.Server {
	return toolcall.New(b.Dispatcher, Version, logger)
}
