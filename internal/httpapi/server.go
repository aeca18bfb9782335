package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/dispatch"
	"github.com/ent0n29/speechbridge/internal/faults"
	"github.com/ent0n29/speechbridge/internal/observability"
	"github.com/ent0n29/speechbridge/internal/protocol"
)

// Dispatcher is the transport-agnostic core the handlers drive.
type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, args capability.Args) (dispatch.Outcome, error)
	Registry() *capability.Registry
}

// Config carries the HTTP-only settings.
type Config struct {
	CORSOrigins        []string
	RateLimitPerMinute int
	AllowAnyOrigin     bool
}

type Server struct {
	cfg        Config
	dispatcher Dispatcher
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	static     http.Handler
}

func New(cfg Config, dispatcher Dispatcher, metrics *observability.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		metrics:    metrics,
		gatherer:   gatherer,
		logger:     logger,
		static:     newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive the speaker and microphone from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler(s.gatherer).ServeHTTP(w, r)
	})
	r.Get("/stats", s.handleStats)
	r.Get("/*", s.static.ServeHTTP)

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMinute, time.Minute))
		}
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/voices", s.handleVoices)
		r.Post("/tts", s.handleTextToSpeech)
		r.Post("/stt", s.handleSpeechToText)
		r.Post("/chat", s.handleChat)
		r.Get("/v1/ws", s.handleWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// handleWS runs requests from one socket concurrently; replies are written by
// a single writer goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(dispatch.WithTransport(r.Context(), dispatch.TransportWebSocket))
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("websocket write failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()
	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})

	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "ready"})

	var inflight sync.WaitGroup
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   string(faults.KindInvalidArguments),
				Detail: err.Error(),
			})
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			send(s.handleWSMessage(ctx, parsed))
		}()
	}

	cancel()
	inflight.Wait()
	<-writerDone
}

func (s *Server) handleWSMessage(ctx context.Context, msg any) any {
	switch m := msg.(type) {
	case protocol.Describe:
		return protocol.Capabilities{
			Type:   protocol.TypeCapabilities,
			ID:     m.ID,
			Schema: s.dispatcher.Registry().DescribeWithVoices(ctx),
		}
	case protocol.Request:
		out, err := s.dispatcher.Dispatch(ctx, m.Operation, m.Args)
		if err != nil {
			kind := faults.KindOf(err)
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				ID:        m.ID,
				Code:      string(kind),
				Retryable: faults.Retryable(kind),
				Detail:    faults.MessageOf(err),
				Partial:   faults.PartialOf(err),
			}
		}
		return protocol.Result{
			Type:      protocol.TypeResult,
			ID:        m.ID,
			RequestID: out.RequestID,
			Operation: out.Operation,
			Payload:   out.Payload,
		}
	default:
		return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: string(faults.KindInvalidArguments), Detail: protocol.ErrUnsupportedType.Error()}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
