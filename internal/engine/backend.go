package engine

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/faults"
	"github.com/ent0n29/speechbridge/internal/observability"
)

// SpeakRequest is a normalized synthesis request.
type SpeakRequest struct {
	Text  string
	Voice string
	Speed float64
}

// Backend is the set of operations the dispatcher needs from a speech engine.
type Backend interface {
	// VoicesOutput returns the raw voice enumeration output; callers split it.
	VoicesOutput(ctx context.Context) (string, error)
	Speak(ctx context.Context, req SpeakRequest) error
	Record(ctx context.Context, path string, d time.Duration) error
	Transcribe(ctx context.Context, path string) (string, error)
}

// BackendConfig bounds engine invocations.
type BackendConfig struct {
	Timeout     time.Duration
	RecordGrace time.Duration
	// Vars are extra placeholders (e.g. whisper_model, language) merged over the profile vars.
	Vars map[string]string
}

// CommandBackend drives an external engine described by a Profile.
type CommandBackend struct {
	profile Profile
	invoker Invoker
	cfg     BackendConfig
	vars    Vars
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewCommandBackend(profile Profile, invoker Invoker, cfg BackendConfig, metrics *observability.Metrics, logger *zap.Logger) (*CommandBackend, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if invoker == nil {
		return nil, errors.New("engine invoker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RecordGrace < 0 {
		cfg.RecordGrace = 0
	}
	vars := Vars(profile.Vars).With(cfg.Vars)
	return &CommandBackend{
		profile: profile,
		invoker: invoker,
		cfg:     cfg,
		vars:    vars,
		metrics: metrics,
		logger:  logger.With(zap.String("engine_profile", profile.Name)),
	}, nil
}

func (b *CommandBackend) Profile() Profile { return b.profile }

func (b *CommandBackend) VoicesOutput(ctx context.Context) (string, error) {
	return b.run(ctx, "voices", b.profile.Voices, nil, b.cfg.Timeout)
}

func (b *CommandBackend) Speak(ctx context.Context, req SpeakRequest) error {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	_, err := b.run(ctx, "speak", b.profile.Speak, Vars{
		"text":  req.Text,
		"voice": req.Voice,
		"speed": strconv.FormatFloat(speed, 'f', -1, 64),
		"rate":  strconv.Itoa(SAPIRate(speed)),
		"wpm":   strconv.Itoa(WordsPerMinute(speed)),
	}, b.cfg.Timeout)
	return err
}

// Record blocks for d plus the configured grace before the invocation is
// considered timed out.
func (b *CommandBackend) Record(ctx context.Context, path string, d time.Duration) error {
	_, err := b.run(ctx, "record", b.profile.Record, Vars{
		"path":     path,
		"duration": strconv.Itoa(wholeSeconds(d)),
	}, d+b.cfg.RecordGrace)
	return err
}

func (b *CommandBackend) Transcribe(ctx context.Context, path string) (string, error) {
	return b.run(ctx, "transcribe", b.profile.Transcribe, Vars{"path": path}, b.cfg.Timeout)
}

func (b *CommandBackend) run(ctx context.Context, op string, spec OperationSpec, vars Vars, timeout time.Duration) (string, error) {
	if !spec.Configured() {
		return "", &faults.Error{
			Kind:    faults.KindEngineExecution,
			Op:      "engine " + op,
			Message: "operation " + op + " is not supported by engine profile " + b.profile.Name,
		}
	}
	cmd := spec.Resolve(b.vars.With(vars))
	started := time.Now()
	out, err := b.invoker.Invoke(ctx, cmd, timeout)
	b.metrics.ObserveEngine(op, outcomeLabel(err), time.Since(started))
	if err != nil {
		var fe *faults.Error
		if errors.As(err, &fe) && fe.Op == "" {
			fe.Op = "engine " + op
		}
		b.logger.Warn("engine operation failed", zap.String("operation", op), zap.Error(err))
		return "", err
	}
	return out, nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(faults.KindOf(err))
}

// SAPIRate maps a speed factor onto the Windows synthesizer rate scale [-10, 10].
func SAPIRate(speed float64) int {
	r := int(math.Round((speed - 1) * 10))
	if r < -10 {
		return -10
	}
	if r > 10 {
		return 10
	}
	return r
}

// WordsPerMinute maps a speed factor onto espeak/say words per minute.
func WordsPerMinute(speed float64) int {
	return int(math.Round(175 * speed))
}

func wholeSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
