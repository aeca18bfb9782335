//go:build unix

package httpapi

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/speechbridge/internal/engine"
)

func TestTTSTimeoutReturns408AndKillsEngine(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "engine.pid")
	profile := engine.Profile{
		Name:           "slow",
		DefaultVoice:   "slow",
		FallbackVoices: []string{"slow"},
		Speak: engine.OperationSpec{
			Program: "sh",
			Args:    []string{"-c", `echo $$ > "$PIDFILE"; exec sleep 30`},
			Env:     map[string]string{"PIDFILE": pidFile},
			Stdin:   "{text}",
		},
		Record:     engine.OperationSpec{Program: "true"},
		Transcribe: engine.OperationSpec{Program: "true"},
	}
	env := newTestEnv(t, profile, engine.NewExecInvoker(zaptest.NewLogger(t)), nil)

	started := time.Now()
	status, out := env.post(t, "/tts", `{"text":"this will never finish"}`)
	if status != http.StatusRequestTimeout {
		t.Fatalf("status = %d, body = %v, want 408", status, out)
	}
	if out["error"] != "Operation timed out" {
		t.Fatalf("error = %v", out["error"])
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("request took %s; engine was not stopped at its timeout", elapsed)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		err := syscall.Kill(pid, 0)
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine process %d still alive", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
