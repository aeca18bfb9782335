package app

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/config"
	"github.com/ent0n29/speechbridge/internal/engine"
	"github.com/ent0n29/speechbridge/internal/observability"
)

type engineSetup struct {
	backend      engine.Backend
	profile      string
	defaultVoice string
	fallback     []string
	detail       string
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

func resolveEngine(cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (engineSetup, error) {
	useProfile := func(p engine.Profile, detail string) (engineSetup, error) {
		backend, err := engine.NewCommandBackend(p, engine.NewExecInvoker(logger), engine.BackendConfig{
			Timeout:     cfg.EngineTimeout,
			RecordGrace: cfg.EngineRecordGrace,
			Vars: map[string]string{
				"whisper_model": cfg.WhisperModelPath,
				"language":      cfg.Language,
			},
		}, metrics, logger)
		if err != nil {
			return engineSetup{}, fmt.Errorf("engine profile %s: %w", p.Name, err)
		}
		return engineSetup{
			backend:      backend,
			profile:      p.Name,
			defaultVoice: p.DefaultVoice,
			fallback:     p.FallbackVoices,
			detail:       detail,
		}, nil
	}

	useMock := func(detail string) engineSetup {
		m := engine.NewMockBackend()
		return engineSetup{
			backend:      m,
			profile:      engine.ProfileMock,
			defaultVoice: m.Voices[0],
			fallback:     m.Voices,
			detail:       detail,
		}
	}

	if path := strings.TrimSpace(cfg.EngineProfileFile); path != "" {
		p, err := engine.LoadProfile(path)
		if err != nil {
			return engineSetup{}, err
		}
		return useProfile(p, "profile file "+path)
	}

	switch cfg.EngineProfile {
	case engine.ProfileMock:
		return useMock("mock"), nil
	case "", engine.ProfileAuto:
		p, err := engine.BuiltinProfile(engine.ProfileAuto)
		if err != nil {
			return useMock("mock (" + err.Error() + ")"), nil
		}
		if _, err := lookPath(p.Speak.Program); err != nil {
			return useMock(fmt.Sprintf("mock (%s not found for %s profile)", p.Speak.Program, p.Name)), nil
		}
		return useProfile(p, p.Name)
	default:
		p, err := engine.BuiltinProfile(cfg.EngineProfile)
		if err != nil {
			return engineSetup{}, err
		}
		return useProfile(p, p.Name)
	}
}
