package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/bperks/internal/auth"
	"github.com/briangreenhill/bperks/internal/entities"
	appmw "github.com/briangreenhill/bperks/internal/http/middleware"
	"github.com/briangreenhill/bperks/internal/rewards"
)

const sessionUserKey = "user_id"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Router   *chi.Mux
	Sess     *scs.SessionManager
	Svc      *rewards.Service
	Tokens   auth.Tokens
	TokenTTL time.Duration
	Tasks    Enqueuer // nil delivers news inline, without email
}

type ServerOptions struct {
	Sess     *scs.SessionManager
	Svc      *rewards.Service
	Tokens   auth.Tokens
	TokenTTL time.Duration
	Tasks    Enqueuer
	Logger   zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().Str("method", r.Method).Stringer("url", r.URL).
			Int("status", status).Int("size", size).Dur("duration", d).Msg("request")
	}))
	r.Use(chimw.Recoverer)

	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	s := &Server{Router: r, Sess: opts.Sess, Svc: opts.Svc, Tokens: opts.Tokens, TokenTTL: ttl, Tasks: opts.Tasks}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("write health check response")
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(s.sessionToContext)
		api.Use(appmw.BearerToken(s.Tokens))

		api.Post("/auth/login", s.handleLogin)
		api.Post("/auth/logout", s.handleLogout)
		api.Post("/users", s.handleRegister)

		api.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireAuth)
			admin := appmw.RequireAdmin(s.Svc)

			pr.Get("/users/{id}", s.handleGetUser)
			pr.Get("/users/{id}/transactions", s.handleTransactions)
			pr.Get("/users/{id}/notifications", s.handleNotifications)
			pr.Get("/users/{id}/claims", s.handleClaims)
			pr.With(admin).Post("/users/{id}/points", s.handleAdjustPoints)

			pr.Get("/events", s.handleListEvents)
			pr.With(admin).Post("/events", s.handleCreateEvent)
			pr.With(admin).Put("/events/{id}", s.handleUpdateEvent)
			pr.With(admin).Delete("/events/{id}", s.handleDeleteEvent)
			pr.Post("/events/{id}/join", s.handleJoinEvent)
			pr.With(admin).Post("/events/{id}/attendance", s.handleAttendance)

			pr.Get("/rewards", s.handleListRewards)
			pr.With(admin).Post("/rewards", s.handleCreateReward)
			pr.With(admin).Put("/rewards/{id}", s.handleUpdateReward)
			pr.With(admin).Delete("/rewards/{id}", s.handleDeleteReward)
			pr.Post("/rewards/{id}/claim", s.handleClaimReward)
			pr.With(admin).Post("/claims/redeem", s.handleRedeem)

			pr.Get("/reports", s.handleListReports)
			pr.Post("/reports", s.handleCreateReport)
			pr.With(admin).Patch("/reports/{id}", s.handleReportStatus)

			pr.Get("/news", s.handleListNews)
			pr.With(admin).Post("/news", s.handlePublishNews)
		})
	})

	return s
}

// Handler returns the router wrapped with session loading.
func (s *Server) Handler() http.Handler {
	if s.Sess == nil {
		return s.Router
	}
	return s.Sess.LoadAndSave(s.Router)
}

func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Sess != nil {
			if id := s.Sess.GetString(r.Context(), sessionUserKey); id != "" {
				r = r.WithContext(appmw.WithUserID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("write response")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		appmw.Error(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// fail maps service errors onto status codes. The error text goes to the
// client unchanged; offline clients match on it.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rewards.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rewards.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, rewards.ErrDuplicateUsername),
		errors.Is(err, rewards.ErrAlreadyJoined),
		errors.Is(err, rewards.ErrAlreadyAttended),
		errors.Is(err, rewards.ErrAlreadyRedeemed):
		status = http.StatusConflict
	case errors.Is(err, rewards.ErrInsufficientPoints),
		errors.Is(err, rewards.ErrOutOfStock),
		errors.Is(err, rewards.ErrEventFull),
		errors.Is(err, rewards.ErrNotParticipant),
		errors.Is(err, rewards.ErrInvalidCode):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		appmw.Error(w, status, "internal error")
		return
	}
	appmw.Error(w, status, err.Error())
}

func (s *Server) isAdmin(ctx context.Context) bool {
	u, err := s.Svc.GetUser(ctx, appmw.UserID(ctx))
	return err == nil && u.IsAdmin()
}

// actingFor resolves which user an action is for. Residents can only act for
// themselves; admins can name anyone.
func (s *Server) actingFor(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	caller := appmw.UserID(r.Context())
	if requested == "" || requested == caller {
		return caller, true
	}
	if !s.isAdmin(r.Context()) {
		appmw.Error(w, http.StatusForbidden, "cannot act for another user")
		return "", false
	}
	return requested, true
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token string        `json:"token"`
	User  entities.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !decode(w, r, &in) {
		return
	}
	u, err := s.Svc.UserByUsername(r.Context(), in.Username)
	if errors.Is(err, rewards.ErrNotFound) {
		appmw.Error(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	if s.Sess != nil {
		if err := s.Sess.RenewToken(r.Context()); err != nil {
			fail(w, r, err)
			return
		}
		s.Sess.Put(r.Context(), sessionUserKey, u.ID)
	}
	hlog.FromRequest(r).Info().Str("user", u.ID).Msg("login")
	writeJSON(w, r, http.StatusOK, loginResponse{Token: s.Tokens.Issue(u.ID, s.TokenTTL), User: u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.Sess != nil {
		if err := s.Sess.Destroy(r.Context()); err != nil {
			fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegister is public for residents. Creating an admin needs an admin
// caller, except for the very first account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in rewards.NewUser
	if !decode(w, r, &in) {
		return
	}
	if in.Role == entities.RoleAdmin && !s.isAdmin(r.Context()) {
		users, err := s.Svc.ListUsers(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		if len(users) > 0 {
			appmw.Error(w, http.StatusForbidden, "admin only")
			return
		}
	}
	u, err := s.Svc.RegisterUser(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, u)
}

// selfOrAdmin guards per-user resources.
func (s *Server) selfOrAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id != appmw.UserID(r.Context()) && !s.isAdmin(r.Context()) {
		appmw.Error(w, http.StatusForbidden, "access denied")
		return "", false
	}
	return id, true
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.selfOrAdmin(w, r)
	if !ok {
		return
	}
	u, err := s.Svc.GetUser(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.selfOrAdmin(w, r)
	if !ok {
		return
	}
	txs, err := s.Svc.Transactions(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, txs)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := s.selfOrAdmin(w, r)
	if !ok {
		return
	}
	notes, err := s.Svc.Notifications(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, notes)
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := s.selfOrAdmin(w, r)
	if !ok {
		return
	}
	claims, err := s.Svc.Claims(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, claims)
}

type pointsRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) handleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	var in pointsRequest
	if !decode(w, r, &in) {
		return
	}
	u, err := s.Svc.AdjustPoints(r.Context(), chi.URLParam(r, "id"), in.Delta, in.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}
