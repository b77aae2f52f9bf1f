package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/bperks/internal/entities"
	appmw "github.com/briangreenhill/bperks/internal/http/middleware"
	"github.com/briangreenhill/bperks/internal/jobs"
	"github.com/briangreenhill/bperks/internal/rewards"
)

// userRef is the body of join, claim and attendance requests.
type userRef struct {
	UserID string `json:"userId"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := s.Svc.ListEvents(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, evs)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev entities.Event
	if !decode(w, r, &ev) {
		return
	}
	ev, err := s.Svc.CreateEvent(r.Context(), ev)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var ev entities.Event
	if !decode(w, r, &ev) {
		return
	}
	ev.ID = chi.URLParam(r, "id")
	ev, err := s.Svc.UpdateEvent(r.Context(), ev)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ev)
}

// Deleting something already gone succeeds, so replayed deletes settle.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	err := s.Svc.DeleteEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, rewards.ErrNotFound) {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoinEvent(w http.ResponseWriter, r *http.Request) {
	var in userRef
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	userID, ok := s.actingFor(w, r, in.UserID)
	if !ok {
		return
	}
	ev, err := s.Svc.JoinEvent(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ev)
}

func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	var in userRef
	if !decode(w, r, &in) {
		return
	}
	if in.UserID == "" {
		appmw.Error(w, http.StatusBadRequest, "userId is required")
		return
	}
	u, err := s.Svc.ConfirmAttendance(r.Context(), chi.URLParam(r, "id"), in.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, u)
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rs, err := s.Svc.ListRewards(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rs)
}

func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	var rw entities.Reward
	if !decode(w, r, &rw) {
		return
	}
	rw, err := s.Svc.CreateReward(r.Context(), rw)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rw)
}

func (s *Server) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	var rw entities.Reward
	if !decode(w, r, &rw) {
		return
	}
	rw.ID = chi.URLParam(r, "id")
	rw, err := s.Svc.UpdateReward(r.Context(), rw)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rw)
}

func (s *Server) handleDeleteReward(w http.ResponseWriter, r *http.Request) {
	err := s.Svc.DeleteReward(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !errors.Is(err, rewards.ErrNotFound) {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	var in userRef
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	userID, ok := s.actingFor(w, r, in.UserID)
	if !ok {
		return
	}
	cl, err := s.Svc.ClaimReward(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cl)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var in redeemRequest
	if !decode(w, r, &in) {
		return
	}
	cl, err := s.Svc.RedeemClaim(r.Context(), in.Code)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cl)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	rs, err := s.Svc.ListReports(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rs)
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var rep entities.Report
	if !decode(w, r, &rep) {
		return
	}
	userID, ok := s.actingFor(w, r, rep.UserID)
	if !ok {
		return
	}
	rep.UserID = userID
	rep, err := s.Svc.CreateReport(r.Context(), rep)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rep)
}

type statusRequest struct {
	Status entities.ReportStatus `json:"status"`
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if !decode(w, r, &in) {
		return
	}
	rep, err := s.Svc.UpdateReportStatus(r.Context(), chi.URLParam(r, "id"), in.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rep)
}

func (s *Server) handleListNews(w http.ResponseWriter, r *http.Request) {
	items, err := s.Svc.ListNews(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (s *Server) handlePublishNews(w http.ResponseWriter, r *http.Request) {
	var n entities.NewsItem
	if !decode(w, r, &n) {
		return
	}
	n, err := s.Svc.PublishNews(r.Context(), n)
	if err != nil {
		fail(w, r, err)
		return
	}

	log := hlog.FromRequest(r)
	if s.Tasks == nil {
		if _, err := s.Svc.DeliverNews(r.Context(), n.ID); err != nil {
			log.Error().Err(err).Str("news", n.ID).Msg("inline delivery failed")
		}
		writeJSON(w, r, http.StatusCreated, n)
		return
	}

	task, err := jobs.NewNotifyNewsTask(n.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	// The item is stored either way; a failed enqueue only delays inboxes.
	info, err := s.Tasks.Enqueue(task)
	if err != nil {
		log.Error().Err(err).Str("news", n.ID).Msg("[asynq] enqueue failed")
	} else {
		log.Info().Str("task", info.ID).Str("queue", info.Queue).Str("news", n.ID).Msg("[asynq] enqueued notify task")
	}
	writeJSON(w, r, http.StatusCreated, n)
}
