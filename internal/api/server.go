// Package api exposes the daemon's HTTP interface: account signup/login,
// medicine CRUD (which drives reminder scheduling), drug label lookup, and a
// status endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"medicared/internal/medicine"
	"medicared/internal/medinfo"
	"medicared/internal/registrar"
	"medicared/internal/storage"
	logx "medicared/pkg/logx"
)

type Config struct {
	Enabled    bool
	Address    string
	SessionTTL time.Duration
	LinkTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = "127.0.0.1:8080"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.LinkTTL <= 0 {
		c.LinkTTL = 10 * time.Minute
	}
	return c
}

// Scheduler is the slice of the reminder scheduler the API drives.
type Scheduler interface {
	Schedule(ctx context.Context, m medicine.Medicine) error
	Cancel(ctx context.Context, m medicine.Medicine)
	RescheduleAll(ctx context.Context, userID int64) error
}

// AlarmStats exposes registrar state for the status endpoint.
type AlarmStats interface {
	Snapshot() registrar.Snapshot
}

// DrugInfo is the optional drug label lookup backend.
type DrugInfo interface {
	Lookup(ctx context.Context, name string) (medinfo.Info, error)
}

type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	srv  *http.Server
	ln   net.Listener
	addr string

	store  storage.Store
	sched  Scheduler
	alarms AlarmStats
	info   DrugInfo

	sessions *sessionStore
	links    *linkCodes
	started  time.Time
}

func NewServer(cfg Config, log logx.Logger, store storage.Store, sched Scheduler, alarms AlarmStats, info DrugInfo) *Server {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		log:      log,
		cfg:      cfg,
		store:    store,
		sched:    sched,
		alarms:   alarms,
		info:     info,
		sessions: newSessionStore(cfg.SessionTTL),
		links:    newLinkCodes(cfg.LinkTTL),
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("GET /api/v1/medicines", s.auth(s.handleListMedicines))
	mux.HandleFunc("POST /api/v1/medicines", s.auth(s.handleCreateMedicine))
	mux.HandleFunc("GET /api/v1/medicines/{id}", s.auth(s.handleGetMedicine))
	mux.HandleFunc("PUT /api/v1/medicines/{id}", s.auth(s.handleUpdateMedicine))
	mux.HandleFunc("DELETE /api/v1/medicines/{id}", s.auth(s.handleDeleteMedicine))

	mux.HandleFunc("POST /api/v1/reminders/reschedule", s.auth(s.handleReschedule))
	mux.HandleFunc("GET /api/v1/medinfo", s.auth(s.handleMedinfo))
	mux.HandleFunc("POST /api/v1/telegram/link", s.auth(s.handleLinkCode))

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()
	s.started = time.Now()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("api server error", logx.String("addr", s.Addr()), logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", s.addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.mu.Unlock()

	if srv == nil {
		return
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("api shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("api stopped", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ---- shared helpers ----

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
