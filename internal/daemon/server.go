package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcdickinson/rsindex/internal/config"
	"github.com/jcdickinson/rsindex/internal/db"
	"github.com/jcdickinson/rsindex/internal/fragment"
	"github.com/jcdickinson/rsindex/internal/index"
	"github.com/jcdickinson/rsindex/internal/loader"
	"github.com/jcdickinson/rsindex/internal/rpc"
	"golang.org/x/sync/singleflight"
)

// Server owns the index for the lifetime of the daemon process.
type Server struct {
	index      *index.Index
	db         *db.DB
	cfg        *config.Config
	logger     *slog.Logger
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	loadGroup singleflight.Group
	saveMu    sync.Mutex
	dirty     atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a server. database may be nil, in which case restore,
// autosave and /save are unavailable.
func NewServer(cfg *config.Config, database *db.DB, socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	exp := cfg.Daemon.Expiration
	if exp <= 0 {
		exp = 10 * time.Minute
	}

	s := &Server{
		index:      index.New(index.WithLogger(logger)),
		db:         database,
		cfg:        cfg,
		logger:     logger,
		socketPath: socketPath,
		expiration: exp,
	}
	s.index.Subscribe(s.onChange)
	return s
}

// Index returns the server's index.
func (s *Server) Index() *index.Index {
	return s.index
}

func (s *Server) onChange(c index.Change) {
	s.dirty.Store(true)
	switch c.Kind {
	case index.ChangeImplementors:
		s.logger.Debug("implementors merged", "trait", c.Trait, "module", c.Module)
	case index.ChangeSidebar:
		s.logger.Debug("sidebar merged", "module", c.Module)
	}
}

// Init restores the last saved snapshot and performs start-up activation, as
// configured.
func (s *Server) Init() error {
	if s.cfg.Index.Restore && s.db != nil {
		snap, err := s.db.LoadSnapshot()
		if err != nil {
			return fmt.Errorf("restoring index: %w", err)
		}
		s.index.Seed(snap)
		s.logger.Info("restored index", "traits", len(snap.Traits), "sidebars", len(snap.Sidebars))
	}
	if s.cfg.Activation.OnStart {
		s.index.Activate()
		s.dirty.Store(false)
	}
	return nil
}

// Handler returns the daemon's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register-implementors", s.withExpReset(s.handleRegisterImplementors))
	mux.HandleFunc("POST /register-sidebar", s.withExpReset(s.handleRegisterSidebar))
	mux.HandleFunc("POST /register-fragment", s.withExpReset(s.handleRegisterFragment))
	mux.HandleFunc("POST /activate", s.withExpReset(s.handleActivate))
	mux.HandleFunc("POST /load", s.withExpReset(s.handleLoad))
	mux.HandleFunc("POST /implementors", s.withExpReset(s.handleImplementors))
	mux.HandleFunc("POST /sidebar", s.withExpReset(s.handleSidebar))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /save", s.withExpReset(s.handleSave))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	s.logger.Info("listening", "socket", s.socketPath, "expiration", s.expiration, "state", s.index.State())

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Stop shuts the server down, saving the index if autosave is on. Only the
// first call does any work; later calls return its result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.stop(ctx) })
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	var errs []error
	s.mu.Lock()
	if s.expTimer != nil {
		s.expTimer.Stop()
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("listener close error", "error", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("socket remove error", "error", err)
		errs = append(errs, err)
	}
	s.autosave()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("db close error", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	s.logger.Info("expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

// save persists the active index. Saves are serialized.
func (s *Server) save() (*db.Save, error) {
	if s.db == nil {
		return nil, fmt.Errorf("persistence is disabled")
	}
	if s.index.State() != index.StateActive {
		return nil, fmt.Errorf("index is %s; activate before saving", s.index.State())
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.dirty.Store(false)
	save, err := s.db.SaveSnapshot(s.index.Snapshot())
	if err != nil {
		s.dirty.Store(true)
		return nil, err
	}
	return save, nil
}

func (s *Server) autosave() {
	if !s.cfg.Index.Autosave || s.db == nil || !s.dirty.Load() || s.index.State() != index.StateActive {
		return
	}
	save, err := s.save()
	if err != nil {
		s.logger.Error("autosave failed", "error", err)
		return
	}
	s.logger.Info("index saved", "id", save.ID, "traits", save.Traits, "contributions", save.Contributions)
}

func (s *Server) registered() rpc.RegisterResponse {
	return rpc.RegisterResponse{State: s.index.State().String(), Pending: s.index.Pending()}
}

func (s *Server) handleRegisterImplementors(w http.ResponseWriter, r *http.Request) {
	var req rpc.RegisterImplementorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trait == "" || req.Module == "" {
		writeError(w, http.StatusBadRequest, "missing trait or module")
		return
	}
	s.index.RegisterImplementors(req.Trait, req.Module, req.Entries)
	writeJSON(w, http.StatusOK, s.registered())
}

func (s *Server) handleRegisterSidebar(w http.ResponseWriter, r *http.Request) {
	var req rpc.RegisterSidebarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Module == "" {
		writeError(w, http.StatusBadRequest, "missing module")
		return
	}
	if req.Items == nil {
		req.Items = index.SidebarIndex{}
	}
	s.index.RegisterSidebar(req.Module, req.Items)
	writeJSON(w, http.StatusOK, s.registered())
}

func (s *Server) handleRegisterFragment(w http.ResponseWriter, r *http.Request) {
	f, err := fragment.DecodeJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := f.RegisterTo(s.index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.registered())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	activated := s.index.Activate()
	if activated {
		s.autosave()
	}
	writeJSON(w, http.StatusOK, rpc.ActivateResponse{Activated: activated, State: s.index.State().String()})
}

type loadResult struct {
	stats loader.Stats
	err   error
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req rpc.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Root == "" {
		writeError(w, http.StatusBadRequest, "missing root")
		return
	}
	root, err := filepath.Abs(req.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var sendMu sync.Mutex
	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := enc.Encode(line); err != nil {
			s.logger.Debug("client disconnected", "error", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	// Concurrent loads of the same tree share one walk; only the caller that
	// started it sees per-file progress.
	ctx := context.WithoutCancel(r.Context())
	v, _, shared := s.loadGroup.Do(root, func() (interface{}, error) {
		stats, err := loader.Load(ctx, root, s.index, loader.Options{
			Concurrency: int(s.cfg.Loader.Concurrency),
			Strict:      s.cfg.Loader.Strict,
			Logger:      s.logger,
			Progress: func(msg string) {
				send(rpc.ProgressLine{Type: "progress", Message: msg})
			},
		})
		return loadResult{stats: stats, err: err}, nil
	})
	res := v.(loadResult)
	if shared {
		send(rpc.ProgressLine{Type: "progress", Message: "joined a load already in progress for " + root})
	}
	if res.err != nil {
		s.logger.Error("load failed", "root", root, "error", res.err)
		send(rpc.ProgressLine{Type: "error", Message: res.err.Error(), Stats: &res.stats})
		return
	}
	s.logger.Info("loaded", "root", root, "files", res.stats.Files, "skipped", res.stats.Skipped)

	if req.Activate && s.index.Activate() {
		send(rpc.ProgressLine{Type: "progress", Message: "index activated"})
	}
	s.autosave()
	send(rpc.ProgressLine{Type: "result", Message: s.index.State().String(), Stats: &res.stats})
}

func (s *Server) handleImplementors(w http.ResponseWriter, r *http.Request) {
	var req rpc.ImplementorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trait == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}
	writeJSON(w, http.StatusOK, rpc.ImplementorsResponse{Trait: req.Trait, Modules: s.index.Implementors(req.Trait)})
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	var req rpc.SidebarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Module == "" {
		writeError(w, http.StatusBadRequest, "missing module")
		return
	}
	writeJSON(w, http.StatusOK, rpc.SidebarResponse{Module: req.Module, Items: s.index.Sidebar(req.Module)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := rpc.StatusResponse{
		State:     s.index.State().String(),
		Pending:   s.index.Pending(),
		Traits:    len(s.index.Traits()),
		Modules:   len(s.index.Modules()),
		Conflicts: s.index.Conflicts(),
	}
	if resp.Conflicts == nil {
		resp.Conflicts = []index.Conflict{}
	}
	if s.db != nil {
		save, err := s.db.LastSave()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.LastSave = saveInfo(save)
		if resp.Stored, err = s.db.CountContributions(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	save, err := s.save()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("index saved", "id", save.ID, "traits", save.Traits, "contributions", save.Contributions)
	writeJSON(w, http.StatusOK, rpc.SaveResponse{Save: *saveInfo(save)})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func saveInfo(save *db.Save) *rpc.SaveInfo {
	if save == nil {
		return nil
	}
	return &rpc.SaveInfo{
		ID:            save.ID,
		SavedAt:       save.SavedAt,
		Traits:        save.Traits,
		Contributions: save.Contributions,
		Sidebars:      save.Sidebars,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
