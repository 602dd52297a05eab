package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"signupboard/internal/config"
	appLog "signupboard/internal/log"
	"signupboard/internal/model"
	"signupboard/internal/schedule"
	"signupboard/internal/ui"
)

// Board is the controller surface the HTTP layer drives.
// *ui.Controller satisfies it.
type Board interface {
	View() ui.View
	LoadActivities(ctx context.Context) error
	SubmitSignup(ctx context.Context, form ui.SignupForm)
	UnregisterParticipant(ctx context.Context, activity, email string, confirm ui.Confirmer)
}

// ActivityLister fetches the authoritative activity set, used for exports
// that need more than the rendered cards carry.
type ActivityLister interface {
	ListActivities(ctx context.Context) ([]model.Activity, error)
}

// Server serves the board as HTML and exposes a few JSON/ICS endpoints.
type Server struct {
	cfg     *config.Config
	board   Board
	lister  ActivityLister
	mux     *http.ServeMux
	pages   *pages
	limiter *rateLimiter
	loc     *time.Location
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, board Board, lister ActivityLister) *Server {
	s := &Server{
		cfg:     cfg,
		board:   board,
		lister:  lister,
		mux:     http.NewServeMux(),
		limiter: newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		loc:     cfg.Location(),
	}
	s.pages = mustParsePages(s.loc)
	s.registerRoutes()
	return s
}

// Handler returns the root handler with logging and, when configured,
// Basic Auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return logRequests(h)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Signup Board", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.Handle("POST /signup", s.limiter.limit(http.HandlerFunc(s.handleSignup)))
	s.mux.HandleFunc("GET /unregister", s.handleConfirmUnregister)
	s.mux.Handle("POST /unregister", s.limiter.limit(http.HandlerFunc(s.handleUnregister)))

	s.mux.HandleFunc("GET /api/board", s.handleBoard)
	s.mux.Handle("POST /api/refresh", s.limiter.limit(http.HandlerFunc(s.handleRefresh)))
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.Handle("GET /static/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.pages.renderIndex(w, s.board.View(), time.Now())
}

// handleSignup is the signup form's submit target. The outcome lands in the
// message area, so the response is always a redirect back to the board.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	form := ui.SignupForm{
		Email:    r.PostFormValue("email"),
		Activity: r.PostFormValue("activity"),
	}
	// A user leaving the page must not abort the mutation or its refresh.
	s.board.SubmitSignup(context.WithoutCancel(r.Context()), form)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleConfirmUnregister renders the confirmation question for a removal
// control. Nothing is sent to the Activity Service here.
func (s *Server) handleConfirmUnregister(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activity, email := q.Get("activity"), q.Get("email")
	if activity == "" || email == "" {
		writeError(w, http.StatusBadRequest, "activity and email are required")
		return
	}
	s.pages.renderConfirm(w, confirmData{
		Prompt:   ui.ConfirmPrompt(activity, email),
		Activity: activity,
		Email:    email,
	})
}

// handleUnregister receives the confirmation answer. Only confirm=yes
// reaches the Activity Service.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	activity, email := r.PostFormValue("activity"), r.PostFormValue("email")
	if activity == "" || email == "" {
		writeError(w, http.StatusBadRequest, "activity and email are required")
		return
	}
	answer := ui.Answer(r.PostFormValue("confirm") == "yes")

	s.board.UnregisterParticipant(context.WithoutCancel(r.Context()), activity, email, answer)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleBoard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.board.View())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.board.LoadActivities(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, ui.LoadFailedText)
		return
	}
	writeJSON(w, http.StatusOK, s.board.View())
}

// handleCalendar exports every activity with a recognizable weekly schedule
// as an iCalendar feed, fetched fresh from the Activity Service.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	list, err := s.lister.ListActivities(r.Context())
	if err != nil {
		appLog.Error("calendar export: fetch failed", err)
		writeError(w, http.StatusBadGateway, ui.LoadFailedText)
		return
	}
	body := schedule.ExportICS(list, time.Now(), s.loc)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="activities.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handlePreview serves the last PNG written by the capture job.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.Capture.OutputPath)
}

func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static assets not available", http.StatusServiceUnavailable)
		})
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, board Board, lister ActivityLister) error {
	s := NewServer(cfg, board, lister)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
