package login

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/ledgerly/authflow/internal/authn"
	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/logger"
)

// Backend covers the auth client operations the HTTP surface needs beyond
// the Provider contract: callback completion and password recovery.
type Backend interface {
	CompleteOAuth(ctx context.Context, provider, code, state string) (*authn.Session, error)
	RequestPasswordRecovery(ctx context.Context, email string) error
	CompleteRecovery(ctx context.Context, token string) (*authn.Session, error)
}

// ScreenState is a headless rendition of the login screen: it implements
// Navigator and Presenter and exposes a snapshot for clients to poll.
type ScreenState struct {
	mu      sync.Mutex
	route   string
	loading bool
	message string
}

// NewScreenState creates a screen state positioned on the login screen.
func NewScreenState() *ScreenState {
	return &ScreenState{route: "login"}
}

// Push navigates forward to a route.
func (s *ScreenState) Push(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = route
}

// Replace swaps the current route.
func (s *ScreenState) Replace(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = route
}

// SetLoading sets the loading indicator.
func (s *ScreenState) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// ShowMessage records the most recent user-facing message.
func (s *ScreenState) ShowMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Snapshot is a point-in-time view of the screen state.
type Snapshot struct {
	Route   string `json:"route"`
	Loading bool   `json:"loading"`
	Message string `json:"message,omitempty"`
}

// Snapshot returns the current screen state.
func (s *ScreenState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Route: s.route, Loading: s.loading, Message: s.message}
}

// Server exposes the login flow over HTTP for the mobile client.
type Server struct {
	controller *Controller
	backend    Backend
	state      *ScreenState
	log        *logger.Logger
}

// NewServer creates the login HTTP surface.
func NewServer(controller *Controller, backend Backend, state *ScreenState, log *logger.Logger) *Server {
	return &Server{
		controller: controller,
		backend:    backend,
		state:      state,
		log:        log.WithComponent("login-http"),
	}
}

// Routes returns the HTTP handler for the login API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", s.handleLogin)
	mux.HandleFunc("POST /v1/login/oauth", s.handleOAuthStart)
	mux.HandleFunc("GET /v1/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("POST /v1/recover", s.handleRecoverRequest)
	mux.HandleFunc("POST /v1/recover/complete", s.handleRecoverComplete)
	mux.HandleFunc("GET /v1/state", s.handleState)
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.controller.SubmitEmailLogin(r.Context(), req.Email, req.Password); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	url, err := s.controller.StartOAuthLogin(r.Context(), req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	_, err := s.backend.CompleteOAuth(r.Context(), query.Get("provider"), query.Get("code"), query.Get("state"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Navigation happens through the event loop; the callback just
	// acknowledges.
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleRecoverRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.backend.RequestPasswordRecovery(r.Context(), req.Email); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRecoverComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if _, err := s.backend.CompleteRecovery(r.Context(), req.Token); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, errors.InvalidInput("invalid request body"))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		status = coded.HTTPStatusCode()
	}

	s.writeJSON(w, status, map[string]string{"message": errors.UserMessage(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("writing response failed")
	}
}
