package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/faults"
)

// Command is a fully resolved engine invocation. Caller-supplied values only
// ever appear as whole argv elements, environment values or stdin; nothing is
// concatenated into a shell command line.
type Command struct {
	Program string
	Args    []string
	Env     []string
	Stdin   string
}

// Invoker runs one engine command with a hard wall-clock limit.
type Invoker interface {
	Invoke(ctx context.Context, cmd Command, timeout time.Duration) (string, error)
}

// ExecInvoker runs commands as child processes.
type ExecInvoker struct {
	logger    *zap.Logger
	waitDelay time.Duration
}

func NewExecInvoker(logger *zap.Logger) *ExecInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecInvoker{logger: logger, waitDelay: 2 * time.Second}
}

// Invoke runs cmd and returns its trimmed stdout. When timeout elapses the
// whole process tree is killed and a timeout fault is returned.
func (e *ExecInvoker) Invoke(ctx context.Context, c Command, timeout time.Duration) (string, error) {
	if strings.TrimSpace(c.Program) == "" {
		return "", faults.New(faults.KindEngineExecution, "engine program is not configured")
	}

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Program, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Wait must not hang on pipes held open by orphaned grandchildren.
	cmd.WaitDelay = e.waitDelay
	killProcessTree(cmd)

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)
	if err == nil {
		e.logger.Debug("engine command finished",
			zap.String("program", filepath.Base(c.Program)),
			zap.Duration("elapsed", elapsed),
		)
		return strings.TrimSpace(stdout.String()), nil
	}

	// exec.CommandContext surfaces "signal: killed" rather than the context error.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("engine command timed out",
			zap.String("program", filepath.Base(c.Program)),
			zap.Duration("timeout", timeout),
		)
		return "", &faults.Error{
			Kind:    faults.KindTimeout,
			Message: faults.TimeoutMessage,
			Err:     context.DeadlineExceeded,
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return "", faults.Wrap(faults.KindEngineExecution, context.Canceled, "engine invocation canceled")
	}
	return "", faults.Wrap(faults.KindEngineExecution, err, diagnostic(c.Program, err, stderr.String(), stdout.String()))
}

const maxDiagnosticBytes = 4 << 10

func diagnostic(program string, err error, stderr, stdout string) string {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	if len(detail) > maxDiagnosticBytes {
		detail = strings.TrimSpace(detail[len(detail)-maxDiagnosticBytes:])
	}
	name := filepath.Base(program)
	if detail == "" {
		return fmt.Sprintf("%s failed: %v", name, err)
	}
	return fmt.Sprintf("%s failed: %v: %s", name, err, detail)
}
