package capability

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// VoiceSource returns the engine's raw voice enumeration output.
type VoiceSource interface {
	VoicesOutput(ctx context.Context) (string, error)
}

// Registry serves the live voice list and the static operation schema.
type Registry struct {
	source   VoiceSource
	fallback []string
	schema   Schema
	logger   *zap.Logger
}

func NewRegistry(source VoiceSource, fallback []string, schema Schema, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		source:   source,
		fallback: append([]string(nil), fallback...),
		schema:   schema,
		logger:   logger,
	}
}

// ListVoices enumerates installed voices. It never fails: an engine error or
// an empty enumeration yields the fallback list.
func (r *Registry) ListVoices(ctx context.Context) []string {
	if r.source == nil {
		return r.Fallback()
	}
	out, err := r.source.VoicesOutput(ctx)
	if err != nil {
		r.logger.Warn("voice enumeration failed; using fallback list", zap.Error(err))
		return r.Fallback()
	}
	voices := ParseVoices(out)
	if len(voices) == 0 {
		r.logger.Warn("voice enumeration returned nothing; using fallback list")
		return r.Fallback()
	}
	return voices
}

func (r *Registry) Fallback() []string {
	return append([]string(nil), r.fallback...)
}

// Describe returns the static schema without touching the engine.
func (r *Registry) Describe() Schema { return r.schema }

// DescribeWithVoices returns the schema with voice enums from a fresh enumeration.
func (r *Registry) DescribeWithVoices(ctx context.Context) Schema {
	return r.schema.WithVoices(r.ListVoices(ctx))
}

// ParseVoices splits enumeration output into trimmed, de-duplicated names
// in engine order.
func ParseVoices(out string) []string {
	lines := strings.Split(out, "\n")
	voices := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		voices = append(voices, name)
	}
	return voices
}
