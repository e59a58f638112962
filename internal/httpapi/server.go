package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/bus"
	"github.com/pokulabs/poku/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Options configures the HTTP surface.
type Options struct {
	Addr string
	// APIToken guards /api/v1 and /ws with a bearer token when set.
	APIToken string
	// TwilioAuthToken enables webhook signature checks when set.
	TwilioAuthToken string
	// PublicURL is the externally visible base URL Twilio signs requests for.
	PublicURL string
	// OriginPatterns lists browser origins allowed to open /ws.
	OriginPatterns []string
}

// Server serves the browser API, Twilio webhooks, websocket fan-out and
// Prometheus metrics.
type Server struct {
	opts    Options
	router  *chi.Mux
	svc     *api.ChatService
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	http    *http.Server
}

func NewServer(opts Options, svc *api.ChatService, b *bus.Bus, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	s := &Server{
		opts:    opts,
		router:  router,
		svc:     svc,
		bus:     b,
		metrics: m,
		logger:  logger,
	}

	router.Get("/health", s.health)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/webhooks/twilio", func(r chi.Router) {
		r.Post("/messages", s.incomingMessage)
		r.Post("/status", s.statusCallback)
	})

	router.Group(func(r chi.Router) {
		r.Use(bearerAuth(opts.APIToken))
		r.Get("/ws", s.serveWS)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", s.status)
			r.Get("/numbers/{number}/chats", s.loadChats)
			r.Get("/numbers/{number}/threads/{counterparty}", s.listThread)
			r.Post("/sessions/{token}/more", s.loadMore)
			r.Post("/chats/{chatID}/read", s.markRead)
			r.Post("/chats/{chatID}/flag", s.flagChat)
			r.Post("/chats/{chatID}/claim", s.claimChat)
			r.Post("/chats/{chatID}/labels", s.labelChat)
			r.Post("/messages", s.sendText)
			r.Get("/search", s.search)
		})
	})

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("HTTP server stopping")
	return s.http.Shutdown(ctx)
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				// Browsers cannot set headers on websocket upgrades.
				got = r.URL.Query().Get("access_token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeRPCError maps a gRPC status error from the chat service to HTTP.
func writeRPCError(w http.ResponseWriter, err error) {
	st := grpcstatus.Convert(err)
	code := http.StatusInternalServerError
	switch st.Code() {
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.FailedPrecondition:
		code = http.StatusConflict
	case codes.Unavailable:
		code = http.StatusBadGateway
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	}
	writeError(w, code, st.Message())
}

func decodeBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}
