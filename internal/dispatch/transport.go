package dispatch

import "context"

const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
	TransportToolCall  = "stdio"
	TransportCLI       = "cli"
)

type transportKey struct{}

// WithTransport tags ctx with the front-end that received the request.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey{}, transport)
}

func TransportFrom(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey{}).(string); ok && t != "" {
		return t
	}
	return "unknown"
}
