package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/heyconcierge/relay/internal/brand"
	"github.com/heyconcierge/relay/internal/journal"
	"github.com/heyconcierge/relay/internal/notify"
	"github.com/heyconcierge/relay/internal/otel"
	"github.com/heyconcierge/relay/internal/upstream"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the relay HTTP API.
type Server struct {
	router      *chi.Mux
	brands      *brand.Registry
	assistants  upstream.Client // brands configured with assistant_id
	chats       upstream.Client // brands configured with chat_model
	dispatcher  *notify.Dispatcher
	journal     *journal.Store
	rateLimiter *RateLimiter
	keepAlive   time.Duration
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter enables per-brand rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithKeepAlive sets the SSE keep-alive pulse interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithJournal enables handoff journaling and the /v1/handoffs lookups.
func WithJournal(j *journal.Store) Option {
	return func(s *Server) { s.journal = j }
}

// NewServer builds a Server from its required collaborators.
func NewServer(
	brands *brand.Registry,
	assistants upstream.Client,
	chats upstream.Client,
	dispatcher *notify.Dispatcher,
	opts ...Option,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		brands:      brands,
		assistants:  assistants,
		chats:       chats,
		dispatcher:  dispatcher,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clientFor picks the upstream client matching the brand's configuration.
func (s *Server) clientFor(b *brand.Brand) upstream.Client {
	if b.AssistantID != "" {
		return s.assistants
	}
	return s.chats
}

// Routes returns the chi router with all middleware and routes. The chat
// route carries no request timeout: a relayed stream lives as long as the
// upstream turn does.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.brands))
		r.Use(RateLimitMiddleware(s.rateLimiter))

		// Streaming: no middleware timeout, the handler owns its deadline.
		r.Post("/v1/chat", s.handleChat)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/brand", s.handleBrandGet)
			r.Get("/v1/handoffs", s.handleHandoffsList)
			r.Get("/v1/handoffs/{id}", s.handleHandoffGet)
		})
	})

	return r
}
