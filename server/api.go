package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lexcodex/codeengine/framework"
)

const (
	defaultFindLimit = 50
	defaultCacheSize = 256
	maxCommandBytes  = 64 * 1024

	eventsWriteWait = 10 * time.Second
	eventsPingEvery = 30 * time.Second
	eventsPongWait  = eventsPingEvery * 2
	eventsBuffer    = 64
)

// CommandSink receives command text posted to /api/command.
type CommandSink interface {
	Handle(text string) error
}

// EventSource lets the API stream published events.
type EventSource interface {
	Subscribe(fn func(string)) (cancel func())
}

// APIOptions tune the HTTP API.
type APIOptions struct {
	DefaultLimit int
	CacheSize    int
	Logger       *log.Logger
}

// APIServer exposes index queries over HTTP for tools without a TCP client.
type APIServer struct {
	Cache    framework.TypeCache
	Commands CommandSink
	Events   EventSource
	Logger   *log.Logger

	defaultLimit int
	results      *lru.Cache[findKey, []framework.CodeReference]
	upgrader     websocket.Upgrader
}

type findKey struct {
	version uint64
	query   string
	limit   int
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	Projects   int    `json:"projects"`
	Files      int    `json:"files"`
	References int    `json:"references"`
	Version    uint64 `json:"version"`
}

// NewAPIServer builds the API over cache. commands and events may be nil,
// which disables /api/command and /api/events.
func NewAPIServer(cache framework.TypeCache, commands CommandSink, events EventSource, opts APIOptions) (*APIServer, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	results, err := lru.New[findKey, []framework.CodeReference](size)
	if err != nil {
		return nil, err
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = defaultFindLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &APIServer{
		Cache:        cache,
		Commands:     commands,
		Events:       events,
		Logger:       logger,
		defaultLimit: limit,
		results:      results,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx ends.
func (s *APIServer) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.Logger.Printf("API listening on %s", ln.Addr())
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the route mux.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/find", s.handleFind)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/directory", s.handleDirectory)
	mux.HandleFunc("/api/project", s.handleProject)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

func (s *APIServer) handleFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query().Get("q")
	limit := s.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		if n > 0 {
			limit = n
		}
	}
	writeJSON(w, s.find(query, limit))
}

// find serves repeated queries from the LRU until the index changes.
func (s *APIServer) find(query string, limit int) []framework.CodeReference {
	key := findKey{version: s.Cache.Version(), query: strings.Join(strings.Fields(query), " "), limit: limit}
	if cached, ok := s.results.Get(key); ok {
		return cached
	}
	results := s.Cache.FindLimit(query, limit)
	s.results.Add(key, results)
	return results
}

func (s *APIServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Cache.FindFiles(r.URL.Query().Get("q")))
}

func (s *APIServer) handleDirectory(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.Cache.FilesInDirectory(dir))
}

func (s *APIServer) handleProject(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		http.Error(w, "project is required", http.StatusBadRequest)
		return
	}
	if sub := r.URL.Query().Get("path"); sub != "" {
		writeJSON(w, s.Cache.FilesInProjectPath(project, sub))
		return
	}
	writeJSON(w, s.Cache.FilesInProject(project))
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatsResponse{
		Projects:   s.Cache.ProjectCount(),
		Files:      s.Cache.FileCount(),
		References: s.Cache.CodeReferenceCount(),
		Version:    s.Cache.Version(),
	})
}

func (s *APIServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.Commands == nil {
		http.Error(w, "commands disabled", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	if err := s.Commands.Handle(text); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		http.Error(w, "events disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeCh := make(chan string, eventsBuffer)
	unsubscribe := s.Events.Subscribe(func(body string) {
		select {
		case writeCh <- body:
		default:
			s.Logger.Printf("events socket %s lagging, dropped %q", r.RemoteAddr, body)
		}
	})
	defer unsubscribe()

	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-writeCh:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
