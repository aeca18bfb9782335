package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OperationSpec describes how one engine operation is run. Args, Env values
// and Stdin may reference placeholders such as {text} or {path}; each is
// substituted inside its own element only.
type OperationSpec struct {
	Program string            `yaml:"program"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Stdin   string            `yaml:"stdin"`
}

func (s OperationSpec) Configured() bool {
	return strings.TrimSpace(s.Program) != ""
}

// Resolve produces the concrete command for vars.
func (s OperationSpec) Resolve(vars Vars) Command {
	r := vars.replacer()
	cmd := Command{
		Program: r.Replace(s.Program),
		Stdin:   r.Replace(s.Stdin),
	}
	if len(s.Args) > 0 {
		cmd.Args = make([]string, len(s.Args))
		for i, arg := range s.Args {
			cmd.Args[i] = r.Replace(arg)
		}
	}
	if len(s.Env) > 0 {
		keys := make([]string, 0, len(s.Env))
		for k := range s.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cmd.Env = make([]string, 0, len(keys))
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+r.Replace(s.Env[k]))
		}
	}
	return cmd
}

// Vars maps placeholder names (without braces) to values.
type Vars map[string]string

// With returns a copy of v overlaid with other.
func (v Vars) With(other Vars) Vars {
	out := make(Vars, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}

// replacer substitutes in a single pass, so a value that itself contains a
// placeholder (e.g. caller text "{path}") is never expanded again.
func (v Vars) replacer() *strings.Replacer {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", v[k])
	}
	return strings.NewReplacer(pairs...)
}

// Profile is a complete engine description for one host platform.
type Profile struct {
	Name           string            `yaml:"name"`
	DefaultVoice   string            `yaml:"default_voice"`
	FallbackVoices []string          `yaml:"fallback_voices"`
	Vars           map[string]string `yaml:"vars"`

	Voices     OperationSpec `yaml:"voices"`
	Speak      OperationSpec `yaml:"speak"`
	Record     OperationSpec `yaml:"record"`
	Transcribe OperationSpec `yaml:"transcribe"`
}

// Placeholders carrying caller-controlled text.
var callerPlaceholders = []string{"{text}", "{voice}"}

var interpreters = map[string]bool{
	"powershell": true,
	"pwsh":       true,
	"cmd":        true,
	"sh":         true,
	"bash":       true,
	"zsh":        true,
	"dash":       true,
	"python":     true,
	"python3":    true,
	"node":       true,
	"perl":       true,
	"ruby":       true,
	"osascript":  true,
}

func isInterpreter(program string) bool {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(program)))
	base = strings.TrimSuffix(base, ".exe")
	return interpreters[base]
}

func containsCallerPlaceholder(s string) bool {
	for _, p := range callerPlaceholders {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Validate checks that required operations exist and that caller text can
// only reach interpreters through env or stdin.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("engine profile: name is required")
	}
	ops := []struct {
		name     string
		spec     OperationSpec
		required bool
	}{
		{"voices", p.Voices, false},
		{"speak", p.Speak, true},
		{"record", p.Record, true},
		{"transcribe", p.Transcribe, true},
	}
	var errs []error
	for _, op := range ops {
		if !op.spec.Configured() {
			if op.required {
				errs = append(errs, fmt.Errorf("engine profile %s: %s.program is required", p.Name, op.name))
			}
			continue
		}
		if containsCallerPlaceholder(op.spec.Program) {
			errs = append(errs, fmt.Errorf("engine profile %s: %s.program must not contain caller placeholders", p.Name, op.name))
		}
		if isInterpreter(op.spec.Program) {
			for _, arg := range op.spec.Args {
				if containsCallerPlaceholder(arg) {
					errs = append(errs, fmt.Errorf("engine profile %s: %s passes caller text to interpreter %s on the command line; use env or stdin", p.Name, op.name, filepath.Base(op.spec.Program)))
					break
				}
			}
		}
	}
	if len(p.FallbackVoices) == 0 {
		errs = append(errs, fmt.Errorf("engine profile %s: fallback_voices must not be empty", p.Name))
	}
	return errors.Join(errs...)
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read engine profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse engine profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
