// Package webchat implements the browser-facing ingress bridge: a bearer
// token exchanged for an HttpOnly session cookie, a websocket upgrade gated
// on that cookie, and a minimal static page to drive it from a browser.
package webchat

import (
	"context"
	"crypto/subtle"
	"embed"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"engram/internal/channels"
	"engram/internal/observability"
)

//go:embed static/*
var staticFS embed.FS

// Config configures one web-chat bridge instance.
type Config struct {
	BearerToken  string
	CookieName   string
	CookieSecure bool
	AgentID      string
	SessionTTL   time.Duration
}

// Server serves "/", "/auth", and "/ws" through the handler built by Router.
type Server struct {
	cfg      Config
	deps     channels.Deps
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]time.Time // cookie value -> expiry
}

// NewServer constructs a Server with defaults applied; Router builds its
// chi-routed handler.
func NewServer(cfg Config, deps channels.Deps) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = "eng_webchat_session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]time.Time),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	return s
}

// Router assembles the chi mux; call this once at daemon startup.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	staticContent, _ := staticFS.ReadFile("static/index.html")
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(staticContent)
	})
	r.Post("/auth", s.handleAuth)
	r.Get("/ws", s.requireSession(s.handleWS))
	return r
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	supplied := token[len(prefix):]
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.BearerToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessVal := uuid.NewString()
	expiry := time.Now().Add(s.cfg.SessionTTL)

	s.mu.Lock()
	s.sessions[sessVal] = expiry
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    sessVal,
		Path:     "/",
		Expires:  expiry,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// requireSession gates a handler behind a valid, unexpired session cookie
// issued by handleAuth.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.cfg.CookieName)
		if err != nil || c.Value == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		expiry, ok := s.sessions[c.Value]
		s.mu.Unlock()
		if !ok || time.Now().After(expiry) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type inboundFrame struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

type outboundFrame struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	log := observability.LoggerWithTrace(ctx)

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Text == "" {
			continue
		}

		reply, err := channels.RunChannelAgent(ctx, s.deps, channels.Request{
			ChannelPrefix:  "webchat",
			ChannelContext: "web chat session",
			Text:           frame.Text,
			UserID:         frame.UserID,
			AgentID:        s.cfg.AgentID,
		})
		if err != nil {
			log.Error().Err(err).Msg("webchat_turn_failed")
			_ = conn.WriteJSON(outboundFrame{Error: "turn failed"})
			continue
		}
		if err := conn.WriteJSON(outboundFrame{Text: reply}); err != nil {
			return
		}
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
