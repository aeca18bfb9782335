package dispatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/speechbridge/internal/audio"
	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/capture"
	"github.com/ent0n29/speechbridge/internal/engine"
	"github.com/ent0n29/speechbridge/internal/faults"
	"github.com/ent0n29/speechbridge/internal/generate"
	"github.com/ent0n29/speechbridge/internal/observability"
)

type countingSpeaker struct {
	calls atomic.Int32
	err   error
	mu    sync.Mutex
	last  engine.SpeakRequest
}

func (s *countingSpeaker) Speak(_ context.Context, req engine.SpeakRequest) error {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	return s.err
}

type fakeRecorder struct {
	seconds float64
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, path string, _ time.Duration) error {
	if r.err != nil {
		return r.err
	}
	return audio.WriteWAVPCM16LEFile(path, audio.Silence(r.seconds, audio.SampleRate), audio.SampleRate)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
	paths chan string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.calls.Add(1)
	if f.paths != nil {
		f.paths <- path
	}
	return f.text, f.err
}

type fixedGenerator struct {
	reply string
	err   error
}

func (g fixedGenerator) Reply(context.Context, generate.Request) (string, error) {
	return g.reply, g.err
}

type stubVoices struct{ out string }

func (s stubVoices) VoicesOutput(context.Context) (string, error) { return s.out, nil }

type harness struct {
	d           *Dispatcher
	speaker     *countingSpeaker
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	captureDir  string
}

func newHarness(t *testing.T, gen generate.Generator) *harness {
	t.Helper()
	h := &harness{
		speaker:     &countingSpeaker{},
		recorder:    &fakeRecorder{seconds: 0.05},
		transcriber: &fakeTranscriber{text: "hello there"},
		captureDir:  t.TempDir(),
	}
	if gen == nil {
		gen = generate.NewMock()
	}
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	captures, err := capture.NewManager(capture.Config{Dir: h.captureDir, Serialize: false}, h.recorder, metrics, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	schema := capability.NewSchema(capability.Limits{DefaultVoice: "en-us", DefaultSpeed: 1.0, DefaultDuration: 5, MaxDuration: 60})
	d, err := New(Deps{
		Registry:    capability.NewRegistry(stubVoices{out: "en-us\nen-gb"}, []string{"fallback"}, schema, logger),
		Speaker:     h.speaker,
		Transcriber: h.transcriber,
		Captures:    captures,
		Generator:   gen,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.d = d
	return h
}

func (h *harness) assertNoArtifacts(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.captureDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("%d artifact(s) left behind", len(entries))
	}
}

func ptr[T any](v T) *T { return &v }

func TestTextToSpeechAppliesDefaults(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.d.Dispatch(context.Background(), capability.OpTextToSpeech, capability.Args{Text: "hi"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if p, ok := out.Payload.(SpeechPayload); !ok || !p.Success {
		t.Fatalf("Payload = %#v", out.Payload)
	}
	if out.RequestID == "" {
		t.Fatalf("RequestID is empty")
	}
	if h.speaker.last.Voice != "en-us" || h.speaker.last.Speed != 1.0 || h.speaker.last.Text != "hi" {
		t.Fatalf("speak request = %+v", h.speaker.last)
	}
}

func TestValidationFailureNeverTouchesEngine(t *testing.T) {
	h := newHarness(t, nil)
	tests := []struct {
		op   string
		args capability.Args
	}{
		{op: capability.OpTextToSpeech, args: capability.Args{}},
		{op: capability.OpTextToSpeech, args: capability.Args{Text: "a", Speed: ptr(5.0)}},
		{op: capability.OpSpeechToText, args: capability.Args{Duration: ptr(0)}},
		{op: capability.OpRespondAndSpeak, args: capability.Args{Message: " "}},
	}
	for _, tc := range tests {
		_, err := h.d.Dispatch(context.Background(), tc.op, tc.args)
		if faults.KindOf(err) != faults.KindInvalidArguments {
			t.Fatalf("%s: KindOf() = %s, want invalid_arguments", tc.op, faults.KindOf(err))
		}
	}
	if n := h.speaker.calls.Load(); n != 0 {
		t.Fatalf("speaker called %d times", n)
	}
	if n := h.transcriber.calls.Load(); n != 0 {
		t.Fatalf("transcriber called %d times", n)
	}
	h.assertNoArtifacts(t)
}

func TestUnknownOperation(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.d.Dispatch(context.Background(), "sing", capability.Args{})
	if faults.KindOf(err) != faults.KindUnknownOperation {
		t.Fatalf("KindOf() = %s, want unknown_operation", faults.KindOf(err))
	}
}

func TestListVoices(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.d.Dispatch(context.Background(), capability.OpListVoices, capability.Args{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	p := out.Payload.(VoicesPayload)
	if len(p.Voices) != 2 || p.Voices[1] != "en-gb" {
		t.Fatalf("Voices = %v", p.Voices)
	}
}

func TestSpeechToTextReleasesArtifactOnEveryPath(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind faults.Kind
		wantText string
	}{
		{name: "success", setup: func(*harness) {}, wantText: "hello there"},
		{name: "empty transcript", setup: func(h *harness) { h.transcriber.text = "  " }, wantText: NoSpeechText},
		{name: "no samples", setup: func(h *harness) { h.recorder.seconds = 0 }, wantText: NoSpeechText},
		{
			name:     "transcriber failure",
			setup:    func(h *harness) { h.transcriber.err = faults.New(faults.KindEngineExecution, "recognizer crashed") },
			wantKind: faults.KindEngineExecution,
		},
		{
			name: "transcriber timeout",
			setup: func(h *harness) {
				h.transcriber.err = &faults.Error{Kind: faults.KindTimeout, Message: faults.TimeoutMessage, Err: context.DeadlineExceeded}
			},
			wantKind: faults.KindTimeout,
		},
		{
			name:     "recorder failure",
			setup:    func(h *harness) { h.recorder.err = faults.New(faults.KindEngineExecution, "no microphone") },
			wantKind: faults.KindEngineExecution,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tc.setup(h)
			out, err := h.d.Dispatch(context.Background(), capability.OpSpeechToText, capability.Args{Duration: ptr(1)})
			h.assertNoArtifacts(t)
			if tc.wantKind != "" {
				if faults.KindOf(err) != tc.wantKind {
					t.Fatalf("KindOf() = %s (%v), want %s", faults.KindOf(err), err, tc.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if got := out.Payload.(TranscriptPayload).Text; got != tc.wantText {
				t.Fatalf("Text = %q, want %q", got, tc.wantText)
			}
		})
	}
}

func TestConcurrentSpeechToTextUsesDistinctArtifacts(t *testing.T) {
	const n = 12
	h := newHarness(t, nil)
	h.transcriber.paths = make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.d.Dispatch(context.Background(), capability.OpSpeechToText, capability.Args{Duration: ptr(1)}); err != nil {
				t.Errorf("Dispatch() error = %v", err)
			}
		}()
	}
	wg.Wait()
	close(h.transcriber.paths)

	seen := make(map[string]bool)
	for p := range h.transcriber.paths {
		if seen[p] {
			t.Fatalf("artifact path %s reused", p)
		}
		seen[p] = true
	}
	if len(seen) != n {
		t.Fatalf("distinct artifacts = %d, want %d", len(seen), n)
	}
	h.assertNoArtifacts(t)
}

func TestRespondAndSpeak(t *testing.T) {
	h := newHarness(t, fixedGenerator{reply: "Sure thing."})
	out, err := h.d.Dispatch(context.Background(), capability.OpRespondAndSpeak, capability.Args{Message: "hi", Speed: ptr(1.5)})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	p := out.Payload.(ChatPayload)
	if !p.Success || !p.Spoken || p.Response != "Sure thing." {
		t.Fatalf("Payload = %+v", p)
	}
	if h.speaker.last.Text != "Sure thing." || h.speaker.last.Speed != 1.5 {
		t.Fatalf("speak request = %+v", h.speaker.last)
	}
}

func TestRespondAndSpeakGenerationFailureSkipsEngine(t *testing.T) {
	h := newHarness(t, fixedGenerator{err: errors.New("quota exceeded")})
	_, err := h.d.Dispatch(context.Background(), capability.OpRespondAndSpeak, capability.Args{Message: "hi"})
	if faults.KindOf(err) != faults.KindUpstreamGeneration {
		t.Fatalf("KindOf() = %s, want upstream_generation_error", faults.KindOf(err))
	}
	if n := h.speaker.calls.Load(); n != 0 {
		t.Fatalf("speaker called %d times", n)
	}
}

func TestRespondAndSpeakReportsGeneratedTextWhenSpeakFails(t *testing.T) {
	h := newHarness(t, fixedGenerator{reply: "Here you go."})
	h.speaker.err = faults.New(faults.KindEngineExecution, "audio device unavailable")

	_, err := h.d.Dispatch(context.Background(), capability.OpRespondAndSpeak, capability.Args{Message: "hi"})
	if faults.KindOf(err) != faults.KindEngineExecution {
		t.Fatalf("KindOf() = %s, want engine_execution_error", faults.KindOf(err))
	}
	partial, ok := faults.PartialOf(err).(ChatPayload)
	if !ok {
		t.Fatalf("PartialOf() = %#v, want ChatPayload", faults.PartialOf(err))
	}
	if partial.Response != "Here you go." || partial.Spoken || partial.Success {
		t.Fatalf("partial = %+v", partial)
	}
}

func TestErrorsAreAlwaysClassified(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.err = errors.New("raw failure")
	_, err := h.d.Dispatch(context.Background(), capability.OpTextToSpeech, capability.Args{Text: "hi"})
	var fe *faults.Error
	if !errors.As(err, &fe) || fe.Kind != faults.KindInternal {
		t.Fatalf("error = %#v, want internal *faults.Error", err)
	}
}

func TestTransportFromContext(t *testing.T) {
	if got := TransportFrom(context.Background()); got != "unknown" {
		t.Fatalf("TransportFrom() = %q", got)
	}
	ctx := WithTransport(context.Background(), TransportHTTP)
	if got := TransportFrom(ctx); got != TransportHTTP {
		t.Fatalf("TransportFrom() = %q", got)
	}
}

func TestRespondAndSpeakSpeaksProseOnly(t *testing.T) {
	h := newHarness(t, fixedGenerator{reply: "**Done!** See [the docs](https://example.com)."})
	out, err := h.d.Dispatch(context.Background(), capability.OpRespondAndSpeak, capability.Args{Message: "hi"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := out.Payload.(ChatPayload).Response; got != "**Done!** See [the docs](https://example.com)." {
		t.Fatalf("Response = %q, want the generated text unchanged", got)
	}
	if h.speaker.last.Text != "Done! See the docs." {
		t.Fatalf("spoken text = %q", h.speaker.last.Text)
	}
}
