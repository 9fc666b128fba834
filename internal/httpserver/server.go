// internal/httpserver/server.go
//
// HTTP server wiring for the TimeLine backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health".
//   - Anonymous sign-in: POST /auth/anonymous.
//   - Game endpoints under /games/{code}: join, play, admin controls, export.
//   - Realtime push over websocket and a QR code of the join link.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Every route runs with optional auth; creating games and admin routes
//     require a signed-in user.
//   - The websocket route is mounted outside the handler timeout.

package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/robalobadob/timeline/internal/identity"
	"github.com/robalobadob/timeline/internal/play"
)

// Options tunes the HTTP surface.
type Options struct {
	ClientOrigin  string
	PublicURL     string // client base URL encoded in join QR codes
	SecureCookies bool
	RateLimit     rate.Limit
	RateBurst     int
}

// Server bundles router, game service and identity issuer.
type Server struct {
	r    *chi.Mux
	svc  *play.Service
	iss  *identity.Issuer
	opts Options
}

// New constructs a Server, installs middleware, and registers routes.
func New(svc *play.Service, iss *identity.Issuer, opts Options) *Server {
	if opts.ClientOrigin == "" {
		opts.ClientOrigin = "http://localhost:5173"
	}
	if opts.PublicURL == "" {
		opts.PublicURL = opts.ClientOrigin
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 2
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 10
	}
	s := &Server{r: chi.NewRouter(), svc: svc, iss: iss, opts: opts}
	limiter := NewRateLimiter(opts.RateLimit, opts.RateBurst)

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(hlog.NewHandler(log.Logger))
	s.r.Use(hlog.RequestIDHandler("req_id", "X-Request-ID"))
	s.r.Use(hlog.AccessHandler(accessLog))
	s.r.Use(chimw.Recoverer)              // recover from panics
	s.r.Use(cors(opts.ClientOrigin))      // credentials-friendly CORS
	s.r.Use(identity.Authenticate(s.iss)) // optional auth everywhere

	// websocket: no JSON content type, no handler timeout
	s.r.Get("/games/{code}/ws", s.handleWatch)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"timeline","endpoints":["/health","POST /auth/anonymous","POST /games","/games/{code}/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		r.Post("/auth/anonymous", s.handleSignIn)

		r.With(identity.RequireUser, limiter.Middleware).Post("/games", s.handleCreate)

		r.Route("/games/{code}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/qr.png", s.handleQR)
			r.With(limiter.Middleware).Post("/join", s.handleJoin)
			r.Post("/reveal", s.handleReveal)
			r.Post("/answer", s.handleAnswer)
			r.Post("/forfeit", s.handleForfeit)

			// admin
			r.Group(func(r chi.Router) {
				r.Use(identity.RequireUser)
				r.Get("/export", s.handleExport)
				r.Post("/start", s.adminAction(s.svc.Start))
				r.Post("/pause", s.adminAction(s.svc.Pause))
				r.Post("/resume", s.adminAction(s.svc.Resume))
				r.Post("/skip", s.adminAction(s.svc.SkipRound))
				r.Post("/disqualify", s.handleDisqualify)
				r.Put("/rounds", s.handleReplaceRounds)
			})
		})
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: r.URL.Path})
	})

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.r }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for a single origin.
func cors(origin string) func(http.Handler) http.Handler {
	origin = strings.TrimRight(origin, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", d).
		Msg("request")
}
