package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/faults"
	"github.com/ent0n29/speechbridge/internal/observability"
)

// Recorder writes d of captured audio to path. engine.Backend satisfies it.
type Recorder interface {
	Record(ctx context.Context, path string, d time.Duration) error
}

type Config struct {
	// Dir holds artifacts; empty means os.TempDir().
	Dir string
	// Serialize allows only one capture at a time against the device.
	Serialize bool
}

// Artifact is the handle to one transient capture file.
type Artifact struct {
	ID   string
	Path string

	mu       sync.Mutex
	released bool
}

// Manager owns the lifecycle of capture artifacts.
type Manager struct {
	dir      string
	recorder Recorder
	device   chan struct{}
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewManager(cfg Config, recorder Recorder, metrics *observability.Metrics, logger *zap.Logger) (*Manager, error) {
	if recorder == nil {
		return nil, errors.New("capture recorder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := cfg.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, faults.Wrap(faults.KindArtifactIO, err, "create capture dir")
	}
	m := &Manager{
		dir:      dir,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
	if cfg.Serialize {
		m.device = make(chan struct{}, 1)
	}
	return m, nil
}

func (m *Manager) Dir() string { return m.dir }

// Capture creates a uniquely named artifact, records d of audio into it and
// returns the handle. On any failure the artifact is already released.
func (m *Manager) Capture(ctx context.Context, d time.Duration) (*Artifact, error) {
	if d <= 0 {
		return nil, faults.New(faults.KindInvalidArguments, "capture duration must be positive")
	}
	if m.device != nil {
		select {
		case m.device <- struct{}{}:
			defer func() { <-m.device }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a, err := m.create()
	if err != nil {
		return nil, err
	}
	logger := m.logger.With(zap.String("artifact_id", a.ID))
	logger.Debug("capture started", zap.Duration("duration", d))

	if err := m.recorder.Record(ctx, a.Path, d); err != nil {
		m.releaseLogged(a)
		return nil, err
	}
	if _, err := os.Stat(a.Path); err != nil {
		m.releaseLogged(a)
		return nil, faults.Wrap(faults.KindArtifactIO, err, "capture did not produce an audio file")
	}
	logger.Debug("capture finished")
	return a, nil
}

func (m *Manager) create() (*Artifact, error) {
	id := uuid.NewString()
	path := filepath.Join(m.dir, "capture-"+id+".wav")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, faults.Wrap(faults.KindArtifactIO, err, "create capture artifact")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, faults.Wrap(faults.KindArtifactIO, err, "create capture artifact")
	}
	m.metrics.ArtifactAcquired()
	return &Artifact{ID: id, Path: path}, nil
}

// Read returns the captured bytes.
func (m *Manager) Read(a *Artifact) ([]byte, error) {
	if a == nil || a.Path == "" {
		return nil, faults.New(faults.KindArtifactIO, "no capture artifact")
	}
	a.mu.Lock()
	released := a.released
	a.mu.Unlock()
	if released {
		return nil, faults.New(faults.KindArtifactIO, "capture artifact already released")
	}
	b, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, faults.Wrap(faults.KindArtifactIO, err, "read capture artifact")
	}
	return b, nil
}

// Release deletes the artifact. Releasing a nil, never-created or already
// released handle is a no-op. A failed delete may be retried.
func (m *Manager) Release(a *Artifact) error {
	if a == nil || a.Path == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.metrics.CleanupFailed()
		return faults.Wrap(faults.KindArtifactIO, err, "remove capture artifact")
	}
	a.released = true
	m.metrics.ArtifactReleased()
	return nil
}

// With captures d of audio, hands the artifact to fn and releases it however
// fn returns. Release failures are logged and never replace fn's result.
func (m *Manager) With(ctx context.Context, d time.Duration, fn func(*Artifact) error) error {
	a, err := m.Capture(ctx, d)
	if err != nil {
		return err
	}
	defer m.releaseLogged(a)
	return fn(a)
}

func (m *Manager) releaseLogged(a *Artifact) {
	if err := m.Release(a); err != nil {
		m.logger.Warn("capture cleanup failed", zap.String("artifact_id", a.ID), zap.String("path", a.Path), zap.Error(err))
	}
}
