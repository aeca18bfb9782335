package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/audio"
	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/capture"
	"github.com/ent0n29/speechbridge/internal/engine"
	"github.com/ent0n29/speechbridge/internal/faults"
	"github.com/ent0n29/speechbridge/internal/generate"
	"github.com/ent0n29/speechbridge/internal/observability"
	"github.com/ent0n29/speechbridge/internal/policy"
)

// State is a request's position in the dispatch state machine.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// NoSpeechText is reported when a capture yields no recognizable speech.
const NoSpeechText = "No speech detected"

// VoicesPayload is the list_voices result.
type VoicesPayload struct {
	Voices []string `json:"voices"`
}

// SpeechPayload is the text_to_speech result.
type SpeechPayload struct {
	Success bool `json:"success"`
}

// TranscriptPayload is the speech_to_text result.
type TranscriptPayload struct {
	Text string `json:"text"`
}

// ChatPayload is the respond_and_speak result. On a speak failure it is
// attached to the error with Spoken=false.
type ChatPayload struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Spoken   bool   `json:"spoken"`
}

// Outcome is a completed request.
type Outcome struct {
	RequestID string
	Operation string
	Payload   any
}

type Speaker interface {
	Speak(ctx context.Context, req engine.SpeakRequest) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Dispatcher maps validated operations onto engine work. It is shared by
// every transport.
type Dispatcher struct {
	registry    *capability.Registry
	speaker     Speaker
	transcriber Transcriber
	captures    *capture.Manager
	generator   generate.Generator
	metrics     *observability.Metrics
	logger      *zap.Logger
}

type Deps struct {
	Registry    *capability.Registry
	Speaker     Speaker
	Transcriber Transcriber
	Captures    *capture.Manager
	Generator   generate.Generator
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

func New(d Deps) (*Dispatcher, error) {
	switch {
	case d.Registry == nil:
		return nil, errors.New("dispatch: capability registry is required")
	case d.Speaker == nil:
		return nil, errors.New("dispatch: speaker is required")
	case d.Transcriber == nil:
		return nil, errors.New("dispatch: transcriber is required")
	case d.Captures == nil:
		return nil, errors.New("dispatch: capture manager is required")
	case d.Generator == nil:
		return nil, errors.New("dispatch: reply generator is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:    d.Registry,
		speaker:     d.Speaker,
		transcriber: d.Transcriber,
		captures:    d.Captures,
		generator:   d.Generator,
		metrics:     d.Metrics,
		logger:      logger,
	}, nil
}

func (d *Dispatcher) Registry() *capability.Registry { return d.registry }

// Caller text is logged at debug only, masked and cut to this many runes.
const logPreviewRunes = 64

// Dispatch runs one operation through Received -> Validated -> Executing ->
// Completed | Failed. Validation failures never reach the engine.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, args capability.Args) (Outcome, error) {
	started := time.Now()
	reqID := xid.New().String()
	transport := TransportFrom(ctx)
	logger := d.logger.With(
		zap.String("request_id", reqID),
		zap.String("operation", operation),
		zap.String("transport", transport),
	)
	logger.Debug("request state", zap.String("state", string(StateReceived)))

	payload, err := d.run(ctx, logger, operation, args)
	state := StateCompleted
	if err != nil {
		state = StateFailed
		err = normalize(err)
		logger.Warn("request failed",
			zap.String("state", string(state)),
			zap.String("kind", string(faults.KindOf(err))),
			zap.Error(err),
		)
	} else {
		logger.Debug("request state", zap.String("state", string(state)), zap.Duration("elapsed", time.Since(started)))
	}
	d.metrics.ObserveRequest(transport, operation, string(state), string(faults.KindOf(err)), time.Since(started))
	if err != nil {
		return Outcome{RequestID: reqID, Operation: operation}, err
	}
	return Outcome{RequestID: reqID, Operation: operation, Payload: payload}, nil
}

func (d *Dispatcher) run(ctx context.Context, logger *zap.Logger, operation string, args capability.Args) (any, error) {
	op, ok := d.registry.Describe().Lookup(operation)
	if !ok {
		return nil, faults.New(faults.KindUnknownOperation, "unknown operation: "+operation)
	}
	if err := capability.Validate(op, args); err != nil {
		return nil, err
	}
	args = capability.ApplyDefaults(op, args)
	logger.Debug("request state",
		zap.String("state", string(StateValidated)),
		zap.String("input_preview", policy.LogPreview(args.Text+args.Message, logPreviewRunes)),
	)

	logger.Debug("request state", zap.String("state", string(StateExecuting)))
	switch operation {
	case capability.OpListVoices:
		return VoicesPayload{Voices: d.registry.ListVoices(ctx)}, nil
	case capability.OpTextToSpeech:
		if err := d.speak(ctx, args.Text, args); err != nil {
			return nil, err
		}
		return SpeechPayload{Success: true}, nil
	case capability.OpSpeechToText:
		return d.transcribe(ctx, logger, args)
	case capability.OpRespondAndSpeak:
		return d.respondAndSpeak(ctx, args)
	default:
		return nil, faults.New(faults.KindUnknownOperation, "unknown operation: "+operation)
	}
}

func (d *Dispatcher) speak(ctx context.Context, text string, args capability.Args) error {
	speed := 1.0
	if args.Speed != nil {
		speed = *args.Speed
	}
	return d.speaker.Speak(ctx, engine.SpeakRequest{Text: text, Voice: args.Voice, Speed: speed})
}

// transcribe records, transcribes and releases strictly in that order. The
// artifact is gone before the outcome is returned.
func (d *Dispatcher) transcribe(ctx context.Context, logger *zap.Logger, args capability.Args) (any, error) {
	seconds := 5
	if args.Duration != nil {
		seconds = *args.Duration
	}
	var text string
	err := d.captures.With(ctx, time.Duration(seconds)*time.Second, func(a *capture.Artifact) error {
		raw, err := d.captures.Read(a)
		if err != nil {
			return err
		}
		if info, err := audio.Inspect(raw); err == nil && !info.HasSamples() {
			logger.Debug("capture holds no samples", zap.String("artifact_id", a.ID))
			return nil
		}
		text, err = d.transcriber.Transcribe(ctx, a.Path)
		return err
	})
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = NoSpeechText
	}
	return TranscriptPayload{Text: text}, nil
}

func (d *Dispatcher) respondAndSpeak(ctx context.Context, args capability.Args) (any, error) {
	reply, err := d.generator.Reply(ctx, generate.Request{Message: args.Message})
	if err != nil {
		if faults.KindOf(err) == faults.KindInternal {
			err = faults.Wrap(faults.KindUpstreamGeneration, err, "reply generation failed")
		}
		return nil, err
	}
	spoken := generate.Speakable(reply)
	if spoken == "" {
		spoken = reply
	}
	if err := d.speak(ctx, spoken, args); err != nil {
		return nil, withPartial(err, ChatPayload{Success: false, Response: reply, Spoken: false})
	}
	return ChatPayload{Success: true, Response: reply, Spoken: true}, nil
}

// withPartial attaches p to err, keeping err's classification.
func withPartial(err error, p any) error {
	return &faults.Error{
		Kind:    faults.KindOf(err),
		Message: "reply was generated but could not be spoken: " + faults.MessageOf(err),
		Err:     err,
		Partial: p,
	}
}

// normalize guarantees every returned error is a *faults.Error.
func normalize(err error) error {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return err
	}
	return &faults.Error{Kind: faults.KindOf(err), Message: faults.MessageOf(err), Err: err}
}
