package server

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/nstogner/expertchat/pkg/persona"
	"github.com/nstogner/expertchat/pkg/relay"
	"github.com/nstogner/expertchat/pkg/store"
)

// Server serves the chat relay and the persona and conversation APIs.
type Server struct {
	personas      *persona.Registry
	conversations store.ConversationStore
	relay         *relay.Relay
	limiter       *ipLimiter
	static        fs.FS
	srv           *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits chat requests per client address. perSecond <= 0
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newIPLimiter(perSecond, burst)
		}
	}
}

// WithStatic serves a web UI from fsys, falling back to index.html for
// unknown paths.
func WithStatic(fsys fs.FS) Option {
	return func(s *Server) { s.static = fsys }
}

// New creates a new Server. conversations may be nil to disable the
// conversation API.
func New(personas *persona.Registry, conversations store.ConversationStore, r *relay.Relay, opts ...Option) *Server {
	s := &Server{
		personas:      personas,
		conversations: conversations,
		relay:         r,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Personas
	mux.HandleFunc("GET /api/personas", s.handleListPersonas)
	mux.HandleFunc("GET /api/personas/{personaID}", s.handleGetPersona)

	// Chat
	chat := http.Handler(http.HandlerFunc(s.handleChat))
	chatWS := http.Handler(http.HandlerFunc(s.handleChatWebSocket))
	if s.limiter != nil {
		chat = s.limiter.middleware(chat)
		chatWS = s.limiter.middleware(chatWS)
	}
	mux.Handle("POST /api/chat/{personaID}", chat)
	mux.Handle("GET /api/chat/{personaID}/ws", chatWS)

	// Conversations
	mux.HandleFunc("GET /api/conversations/{personaID}", s.handleGetConversation)
	mux.HandleFunc("PUT /api/conversations/{personaID}", s.handlePutConversation)
	mux.HandleFunc("DELETE /api/conversations/{personaID}", s.handleDeleteConversation)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Static assets (SPA fallback)
	if s.static != nil {
		mux.HandleFunc("/", s.handleStatic)
	}

	return chain(mux, recoverMiddleware, loggingMiddleware, corsMiddleware)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting relay server", "addr", addr, "personas", s.personas.IDs())
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) >= 4 && r.URL.Path[:4] == "/api" {
		http.NotFound(w, r)
		return
	}

	path := r.URL.Path
	if path == "/" {
		path = "index.html"
	} else if path[0] == '/' {
		path = path[1:]
	}

	// Try serving the exact file.
	f, err := s.static.Open(path)
	if err == nil {
		defer f.Close()
		stat, err := f.Stat()
		if err == nil && !stat.IsDir() {
			http.FileServer(http.FS(s.static)).ServeHTTP(w, r)
			return
		}
	}

	// Fallback to index.html for client-side routing.
	index, err := s.static.Open("index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer index.Close()
	rs, ok := index.(io.ReadSeeker)
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "index.html", time.Time{}, rs)
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		slog.Error("API Error", "error", err)
	} else {
		slog.Debug("API Error", "status", status, "error", err)
	}
	jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// textError writes a plain-text error, the form chat clients expect.
func textError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}
