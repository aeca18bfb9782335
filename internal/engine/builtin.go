package engine

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"unicode/utf16"
)

const (
	ProfileAuto    = "auto"
	ProfileWindows = "windows"
	ProfileLinux   = "linux"
	ProfileDarwin  = "darwin"
	ProfileMock    = "mock"
)

// BuiltinProfile returns one of the shipped profiles. "auto" selects by GOOS.
func BuiltinProfile(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == ProfileAuto {
		name = runtime.GOOS
	}
	switch name {
	case ProfileWindows:
		return windowsProfile(), nil
	case ProfileLinux:
		return linuxProfile(), nil
	case ProfileDarwin:
		return darwinProfile(), nil
	default:
		return Profile{}, fmt.Errorf("no built-in engine profile for %q (expected windows|linux|darwin)", name)
	}
}

const (
	psListVoices = `Add-Type -AssemblyName System.Speech
$s = New-Object System.Speech.Synthesis.SpeechSynthesizer
$s.GetInstalledVoices() | ForEach-Object { $_.VoiceInfo.Name }
$s.Dispose()`

	psSpeak = `Add-Type -AssemblyName System.Speech
$s = New-Object System.Speech.Synthesis.SpeechSynthesizer
if ($env:SPEECH_VOICE) { $s.SelectVoice($env:SPEECH_VOICE) }
$s.Rate = [int]$env:SPEECH_RATE
$s.Speak($env:SPEECH_TEXT)
$s.Dispose()`

	psRecord = `$sig = '[DllImport("winmm.dll", CharSet = CharSet.Unicode)] public static extern int mciSendString(string command, System.Text.StringBuilder buffer, int size, System.IntPtr hwnd);'
$mci = Add-Type -MemberDefinition $sig -Name Mci -Namespace SpeechBridge -PassThru
function Send-Mci([string]$c) {
  $rc = $mci::mciSendString($c, $null, 0, [IntPtr]::Zero)
  if ($rc -ne 0) { throw "mci error ${rc}: $c" }
}
Send-Mci 'open new type waveaudio alias capture'
try {
  Send-Mci 'set capture bitspersample 16 samplespersec 16000 channels 1'
  Send-Mci 'record capture'
  Start-Sleep -Seconds ([int]$env:SPEECH_DURATION)
  Send-Mci ('save capture "' + $env:SPEECH_PATH + '"')
} finally {
  Send-Mci 'close capture'
}`

	psTranscribe = `Add-Type -AssemblyName System.Speech
$r = New-Object System.Speech.Recognition.SpeechRecognitionEngine
try {
  $r.LoadGrammar((New-Object System.Speech.Recognition.DictationGrammar))
  $r.SetInputToWaveFile($env:SPEECH_PATH)
  $res = $r.Recognize()
  if ($res) { $res.Text }
} finally {
  $r.Dispose()
}`
)

// encodePowerShell returns the -EncodedCommand form of script (base64 UTF-16LE),
// which sidesteps command-line quoting entirely.
func encodePowerShell(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func powershell(script string, env map[string]string) OperationSpec {
	return OperationSpec{
		Program: "powershell",
		Args:    []string{"-NoProfile", "-NonInteractive", "-EncodedCommand", encodePowerShell(script)},
		Env:     env,
	}
}

func windowsProfile() Profile {
	return Profile{
		Name:           ProfileWindows,
		DefaultVoice:   "Microsoft David Desktop",
		FallbackVoices: []string{"Microsoft David Desktop", "Microsoft Zira Desktop"},
		Voices:         powershell(psListVoices, nil),
		Speak: powershell(psSpeak, map[string]string{
			"SPEECH_TEXT":  "{text}",
			"SPEECH_VOICE": "{voice}",
			"SPEECH_RATE":  "{rate}",
		}),
		Record: powershell(psRecord, map[string]string{
			"SPEECH_PATH":     "{path}",
			"SPEECH_DURATION": "{duration}",
		}),
		Transcribe: powershell(psTranscribe, map[string]string{
			"SPEECH_PATH": "{path}",
		}),
	}
}

func whisperTranscribe() OperationSpec {
	return OperationSpec{
		Program: "whisper-cli",
		Args:    []string{"-m", "{whisper_model}", "-f", "{path}", "-l", "{language}", "-nt", "-np"},
	}
}

func linuxProfile() Profile {
	return Profile{
		Name:           ProfileLinux,
		DefaultVoice:   "en-us",
		FallbackVoices: []string{"en-us", "en-gb"},
		Voices: OperationSpec{
			Program: "sh",
			Args:    []string{"-c", `espeak-ng --voices | awk 'NR > 1 { print $2 }'`},
		},
		Speak: OperationSpec{
			Program: "espeak-ng",
			Args:    []string{"-v", "{voice}", "-s", "{wpm}", "--stdin"},
			Stdin:   "{text}",
		},
		Record: OperationSpec{
			Program: "arecord",
			Args:    []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-d", "{duration}", "{path}"},
		},
		Transcribe: whisperTranscribe(),
	}
}

func darwinProfile() Profile {
	return Profile{
		Name:           ProfileDarwin,
		DefaultVoice:   "Samantha",
		FallbackVoices: []string{"Samantha", "Alex"},
		Voices: OperationSpec{
			Program: "sh",
			Args:    []string{"-c", `say -v '?' | sed -E 's/[[:space:]]+[a-z]{2,3}[_-][A-Za-z0-9_]+[[:space:]]+#.*$//'`},
		},
		Speak: OperationSpec{
			Program: "say",
			Args:    []string{"-v", "{voice}", "-r", "{wpm}", "-f", "-"},
			Stdin:   "{text}",
		},
		Record: OperationSpec{
			Program: "rec",
			Args:    []string{"-q", "-c", "1", "-r", "16000", "-b", "16", "{path}", "trim", "0", "{duration}"},
		},
		Transcribe: whisperTranscribe(),
	}
}
