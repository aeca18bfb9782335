package engine

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/speechbridge/internal/audio"
	"github.com/ent0n29/speechbridge/internal/faults"
)

// MockBackend is an in-process engine for hosts without speech tooling.
// Recording produces real-time silence; transcription returns a fixed text.
type MockBackend struct {
	Voices     []string
	Transcript string
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		Voices:     []string{"mock-alloy", "mock-echo"},
		Transcript: "simulated voice input",
	}
}

func (m *MockBackend) VoicesOutput(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(m.Voices, "\n"), nil
}

func (m *MockBackend) Speak(ctx context.Context, _ SpeakRequest) error {
	return ctx.Err()
}

func (m *MockBackend) Record(ctx context.Context, path string, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if err := audio.WriteWAVPCM16LEFile(path, audio.Silence(d.Seconds(), audio.SampleRate), audio.SampleRate); err != nil {
		return faults.Wrap(faults.KindArtifactIO, err, "write mock recording")
	}
	return nil
}

func (m *MockBackend) Transcribe(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Transcript, nil
}
