package toolcall

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/dispatch"
	"github.com/ent0n29/speechbridge/internal/faults"
)

// JSON-RPC error codes used on the tool-call surface.
const (
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, args capability.Args) (dispatch.Outcome, error)
	Registry() *capability.Registry
}

// Server exposes the tool operations of the capability schema over MCP.
type Server struct {
	dispatcher Dispatcher
	mcp        *mcp.Server
	logger     *zap.Logger

	mu     sync.Mutex
	voices []string
}

func New(dispatcher Dispatcher, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dispatcher: dispatcher,
		logger:     logger,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "speechbridge",
			Title:   "Host speech bridge",
			Version: version,
		}, nil),
	}
	s.registerTools(dispatcher.Registry().Fallback())
	s.mcp.AddReceivingMiddleware(s.refreshVoicesOnList)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves tool calls on stdin/stdout until ctx is done or the peer hangs up.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving tool calls on stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// refreshVoicesOnList re-enumerates voices before every tools/list so the
// voice enum is current. Tools are only re-registered when the list changed.
func (s *Server) refreshVoicesOnList(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if method == "tools/list" {
			voices := s.dispatcher.Registry().ListVoices(dispatch.WithTransport(ctx, dispatch.TransportToolCall))
			s.registerTools(voices)
		}
		return next(ctx, method, req)
	}
}

func (s *Server) registerTools(voices []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voices != nil && slices.Equal(s.voices, voices) {
		return
	}
	s.voices = append([]string{}, voices...)

	schema := s.dispatcher.Registry().Describe().WithVoices(voices)
	for _, op := range schema.Operations {
		if !op.Tool {
			continue
		}
		s.mcp.AddTool(&mcp.Tool{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: InputSchema(op),
		}, s.handler(op.Name))
	}
}

func (s *Server) handler(operation string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args capability.Args
		if raw := req.Params.Arguments; len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, &jsonrpc.Error{Code: CodeInvalidParams, Message: "invalid arguments: " + err.Error()}
			}
		}
		out, err := s.dispatcher.Dispatch(dispatch.WithTransport(ctx, dispatch.TransportToolCall), operation, args)
		if err != nil {
			return nil, toRPCError(err)
		}
		return toResult(out), nil
	}
}

func toResult(out dispatch.Outcome) *mcp.CallToolResult {
	var text string
	switch p := out.Payload.(type) {
	case dispatch.TranscriptPayload:
		text = p.Text
	case dispatch.SpeechPayload:
		text = "Speech completed"
	case dispatch.VoicesPayload:
		raw, _ := json.Marshal(p.Voices)
		text = string(raw)
	default:
		raw, _ := json.Marshal(p)
		text = string(raw)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: out.Payload,
	}
}

func toRPCError(err error) error {
	msg := faults.MessageOf(err)
	switch faults.KindOf(err) {
	case faults.KindInvalidArguments:
		return &jsonrpc.Error{Code: CodeInvalidParams, Message: msg}
	case faults.KindUnknownOperation:
		return &jsonrpc.Error{Code: CodeMethodNotFound, Message: msg}
	default:
		return &jsonrpc.Error{Code: CodeInternalError, Message: msg}
	}
}

// InputSchema renders an operation's parameters as a JSON Schema object.
func InputSchema(op capability.Operation) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(op.Params)),
	}
	for _, p := range op.Params {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
			Minimum:     p.Min,
			Maximum:     p.Max,
		}
		if p.Default != nil {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		for _, v := range p.Enum {
			prop.Enum = append(prop.Enum, v)
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
		schema.Properties[p.Name] = prop
	}
	return schema
}
