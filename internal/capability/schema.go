package capability

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ent0n29/speechbridge/internal/faults"
)

const (
	OpListVoices      = "list_voices"
	OpTextToSpeech    = "text_to_speech"
	OpSpeechToText    = "speech_to_text"
	OpRespondAndSpeak = "respond_and_speak"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Param declares one operation parameter.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Min         *float64  `json:"minimum,omitempty"`
	Max         *float64  `json:"maximum,omitempty"`
	Default     any       `json:"default,omitempty"`
	// Enum is filled from the live voice list for voice parameters.
	Enum []string `json:"enum,omitempty"`
	// Voice marks parameters whose values name an installed voice.
	Voice bool `json:"-"`
}

type Operation struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	// Tool marks operations exposed on the stdio tool-call surface.
	Tool bool `json:"tool"`
}

// Schema is the declarative operation set shared by every transport.
type Schema struct {
	DefaultVoice string      `json:"default_voice,omitempty"`
	Operations   []Operation `json:"operations"`
}

func (s Schema) Lookup(name string) (Operation, bool) {
	for _, op := range s.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// WithVoices returns a copy of s whose voice parameters enumerate voices.
func (s Schema) WithVoices(voices []string) Schema {
	out := Schema{DefaultVoice: s.DefaultVoice, Operations: make([]Operation, len(s.Operations))}
	for i, op := range s.Operations {
		params := make([]Param, len(op.Params))
		copy(params, op.Params)
		for j := range params {
			if params[j].Voice {
				params[j].Enum = append([]string(nil), voices...)
			}
		}
		op.Params = params
		out.Operations[i] = op
	}
	return out
}

// Limits parameterizes defaults and bounds taken from configuration.
type Limits struct {
	DefaultVoice    string
	DefaultSpeed    float64
	DefaultDuration int
	MaxDuration     int
}

func NewSchema(l Limits) Schema {
	if l.DefaultSpeed <= 0 {
		l.DefaultSpeed = 1.0
	}
	if l.MaxDuration <= 0 {
		l.MaxDuration = 60
	}
	if l.DefaultDuration <= 0 || l.DefaultDuration > l.MaxDuration {
		l.DefaultDuration = min(5, l.MaxDuration)
	}
	voice := Param{
		Name:        "voice",
		Type:        TypeString,
		Description: "Voice to use; defaults to the configured voice",
		Voice:       true,
	}
	if l.DefaultVoice != "" {
		voice.Default = l.DefaultVoice
	}
	speed := Param{
		Name:        "speed",
		Type:        TypeNumber,
		Description: "Speech rate factor",
		Min:         ptr(MinSpeed),
		Max:         ptr(MaxSpeed),
		Default:     l.DefaultSpeed,
	}
	return Schema{
		DefaultVoice: l.DefaultVoice,
		Operations: []Operation{
			{
				Name:        OpListVoices,
				Description: "List the voices installed on the host speech engine",
			},
			{
				Name:        OpTextToSpeech,
				Description: "Speak text aloud through the host speech engine",
				Tool:        true,
				Params: []Param{
					{Name: "text", Type: TypeString, Description: "Text to speak", Required: true},
					voice,
					speed,
				},
			},
			{
				Name:        OpSpeechToText,
				Description: "Record from the microphone and transcribe the audio",
				Tool:        true,
				Params: []Param{
					{
						Name:        "duration",
						Type:        TypeInteger,
						Description: "Recording length in seconds",
						Min:         ptr(1.0),
						Max:         ptr(float64(l.MaxDuration)),
						Default:     l.DefaultDuration,
					},
				},
			},
			{
				Name:        OpRespondAndSpeak,
				Description: "Generate a reply to a message and speak it",
				Params: []Param{
					{Name: "message", Type: TypeString, Description: "Message to reply to", Required: true},
					voice,
					speed,
				},
			},
		},
	}
}

// Args is the normalized argument bundle for any operation.
type Args struct {
	Text     string   `json:"text,omitempty"`
	Message  string   `json:"message,omitempty"`
	Voice    string   `json:"voice,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Duration *int     `json:"duration,omitempty"`
}

// Validate checks args against op: required fields present, numbers within
// declared bounds.
func Validate(op Operation, args Args) error {
	for _, p := range op.Params {
		switch p.Name {
		case "text":
			if err := requireText(p, args.Text); err != nil {
				return err
			}
		case "message":
			if err := requireText(p, args.Message); err != nil {
				return err
			}
		case "voice":
			if err := checkVoice(args.Voice); err != nil {
				return err
			}
		case "speed":
			if args.Speed != nil {
				if err := checkBounds(p, *args.Speed); err != nil {
					return err
				}
			}
		case "duration":
			if args.Duration != nil {
				if err := checkBounds(p, float64(*args.Duration)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ApplyDefaults fills unset optional fields from op's declared defaults.
func ApplyDefaults(op Operation, args Args) Args {
	for _, p := range op.Params {
		switch p.Name {
		case "voice":
			if strings.TrimSpace(args.Voice) == "" {
				if v, ok := p.Default.(string); ok {
					args.Voice = v
				}
			}
		case "speed":
			if args.Speed == nil {
				if v, ok := p.Default.(float64); ok {
					args.Speed = ptr(v)
				}
			}
		case "duration":
			if args.Duration == nil {
				if v, ok := p.Default.(int); ok {
					args.Duration = &v
				}
			}
		}
	}
	return args
}

func requireText(p Param, v string) error {
	if p.Required && strings.TrimSpace(v) == "" {
		return faults.New(faults.KindInvalidArguments, label(p.Name)+" is required")
	}
	return nil
}

// checkVoice keeps voice names from being read as engine options.
func checkVoice(v string) error {
	if strings.HasPrefix(v, "-") {
		return faults.New(faults.KindInvalidArguments, "voice must not start with '-'")
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return faults.New(faults.KindInvalidArguments, "voice must not contain control characters")
	}
	return nil
}

func checkBounds(p Param, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return faults.New(faults.KindInvalidArguments, p.Name+" must be a finite number")
	}
	if (p.Min != nil && v < *p.Min) || (p.Max != nil && v > *p.Max) {
		return faults.New(faults.KindInvalidArguments, fmt.Sprintf("%s must be between %s and %s", p.Name, formatBound(p.Min), formatBound(p.Max)))
	}
	return nil
}

func formatBound(b *float64) string {
	if b == nil {
		return "any"
	}
	return strconv.FormatFloat(*b, 'f', -1, 64)
}

func label(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func ptr[T any](v T) *T { return &v }
