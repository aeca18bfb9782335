package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/faults"
)

// Request is the normalized input to a reply generator.
type Request struct {
	Message string
}

// Generator produces the text spoken by respond_and_speak.
type Generator interface {
	Reply(ctx context.Context, req Request) (string, error)
}

const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

const DefaultSystemPrompt = "You are a helpful voice assistant. Keep replies short and conversational; they will be spoken aloud."

// Config controls generator construction.
type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAuto
	}
	switch provider {
	case ProviderAuto:
		if strings.TrimSpace(cfg.APIKey) == "" {
			logger.Info("no OpenAI API key configured; using mock reply generator")
			return NewMock(), nil
		}
		return NewOpenAI(cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", cfg.Provider)
	}
}

// classify maps a collaborator failure onto the error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &faults.Error{Kind: faults.KindTimeout, Op: "generate", Message: faults.TimeoutMessage, Err: err}
	}
	return &faults.Error{Kind: faults.KindUpstreamGeneration, Op: "generate", Message: "reply generation failed: " + err.Error(), Err: err}
}
