package engine

import (
	"encoding/base64"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"
)

func TestResolveSubstitutesPerElementInOnePass(t *testing.T) {
	spec := OperationSpec{
		Program: "espeak-ng",
		Args:    []string{"-v", "{voice}", "-s", "{wpm}", "--stdin"},
		Env:     map[string]string{"B": "{path}", "A": "{text}"},
		Stdin:   "{text}",
	}
	cmd := spec.Resolve(Vars{
		"text":  "say {path} and {voice}",
		"voice": "en-us",
		"wpm":   "175",
		"path":  "/tmp/x.wav",
	})

	want := []string{"-v", "en-us", "-s", "175", "--stdin"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("Args = %q, want %q", cmd.Args, want)
	}
	if cmd.Stdin != "say {path} and {voice}" {
		t.Fatalf("Stdin = %q; caller text must not be expanded twice", cmd.Stdin)
	}
	if len(cmd.Env) != 2 || cmd.Env[0] != "A=say {path} and {voice}" || cmd.Env[1] != "B=/tmp/x.wav" {
		t.Fatalf("Env = %q", cmd.Env)
	}
}

func TestResolveKeepsCallerTextInsideOneArgument(t *testing.T) {
	spec := OperationSpec{Program: "say", Args: []string{"{text}"}}
	cmd := spec.Resolve(Vars{"text": "hello' ; rm -rf / ; echo '"})
	if len(cmd.Args) != 1 {
		t.Fatalf("Args = %q, want a single element", cmd.Args)
	}
}

func TestValidateRejectsCallerTextOnInterpreterCommandLine(t *testing.T) {
	p := Profile{
		Name:           "unsafe",
		FallbackVoices: []string{"a"},
		Speak:          OperationSpec{Program: "powershell.exe", Args: []string{"-Command", "$s.Speak('{text}')"}},
		Record:         OperationSpec{Program: "arecord"},
		Transcribe:     OperationSpec{Program: "whisper-cli"},
	}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "interpreter") {
		t.Fatalf("Validate() error = %v, want interpreter rejection", err)
	}

	p.Speak = OperationSpec{Program: "powershell", Args: []string{"-Command", "$s.Speak($env:T)"}, Env: map[string]string{"T": "{text}"}}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() with env channel error = %v", err)
	}
}

func TestValidateRequiresOperations(t *testing.T) {
	err := Profile{Name: "empty"}.Validate()
	if err == nil {
		t.Fatalf("Validate() error = nil")
	}
	for _, want := range []string{"speak.program", "record.program", "transcribe.program", "fallback_voices"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestBuiltinProfilesValidate(t *testing.T) {
	for _, name := range []string{ProfileWindows, ProfileLinux, ProfileDarwin} {
		p, err := BuiltinProfile(name)
		if err != nil {
			t.Fatalf("BuiltinProfile(%s) error = %v", name, err)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("%s Validate() error = %v", name, err)
		}
		if p.DefaultVoice == "" {
			t.Fatalf("%s has no default voice", name)
		}
	}
	if _, err := BuiltinProfile("plan9"); err == nil {
		t.Fatalf("BuiltinProfile(plan9) error = nil")
	}
}

func TestWindowsProfileKeepsCallerTextOutOfScript(t *testing.T) {
	p := windowsProfile()
	cmd := p.Speak.Resolve(Vars{"text": "it's me", "voice": "Microsoft Zira Desktop", "rate": "2"})
	for _, arg := range cmd.Args {
		if strings.Contains(arg, "it's me") {
			t.Fatalf("caller text leaked into argv: %q", cmd.Args)
		}
	}
	script := decodePowerShell(t, cmd.Args[len(cmd.Args)-1])
	if !strings.Contains(script, "$s.Speak($env:SPEECH_TEXT)") {
		t.Fatalf("decoded script = %q", script)
	}
	var sawText bool
	for _, kv := range cmd.Env {
		if kv == "SPEECH_TEXT=it's me" {
			sawText = true
		}
	}
	if !sawText {
		t.Fatalf("Env = %q, want SPEECH_TEXT", cmd.Env)
	}
}

func TestLoadProfileFromYAML(t *testing.T) {
	doc := `
name: custom
default_voice: en-gb
fallback_voices: [en-gb]
vars:
  whisper_model: /models/tiny.bin
speak:
  program: espeak-ng
  args: ["-v", "{voice}", "--stdin"]
  stdin: "{text}"
record:
  program: arecord
  args: ["-d", "{duration}", "{path}"]
transcribe:
  program: whisper-cli
  args: ["-m", "{whisper_model}", "-f", "{path}"]
`
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Name != "custom" || p.Voices.Configured() {
		t.Fatalf("unexpected profile: %+v", p)
	}
	cmd := p.Transcribe.Resolve(Vars(p.Vars).With(Vars{"path": "/tmp/a.wav"}))
	if strings.Join(cmd.Args, " ") != "-m /models/tiny.bin -f /tmp/a.wav" {
		t.Fatalf("Args = %q", cmd.Args)
	}
}

func TestLoadProfileRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("name: [unterminated"), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("LoadProfile() error = nil")
	}
}

func decodePowerShell(t *testing.T, encoded string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(units))
}
