package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidpilot/internal/api"
	"vidpilot/internal/approval"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
)

const defaultReviewer = "api"

// logFollowWait bounds one follow request; clients poll again with the
// returned cursor.
const logFollowWait = 20 * time.Second

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	states, err := api.ParseStates(r.URL.Query()["state"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.daemon.jobs.List(r.Context(), states...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []api.Job{}
	}
	writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: list})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.jobs.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: *job})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.daemon.Submit(r.Context(), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *apiServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.DecisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.decide(w, r, approval.Approve(reviewerName(req.DecidedBy)))
}

func (s *apiServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var req api.DecisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.decide(w, r, approval.Reject(reviewerName(req.DecidedBy)))
}

func (s *apiServer) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req api.EditRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Field) == "" {
		s.writeError(w, http.StatusBadRequest, "field is required")
		return
	}
	s.decide(w, r, approval.Edit(reviewerName(req.DecidedBy), req.Field, req.Value))
}

func (s *apiServer) decide(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	id := chi.URLParam(r, "id")
	result, err := s.daemon.Decide(r.Context(), id, decision)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := api.DecisionResponse{
		Status:  string(result.Status),
		JobID:   result.JobID,
		State:   result.State,
		Message: result.Message,
	}
	switch result.Status {
	case approval.StatusApplied:
		writeJSON(w, http.StatusOK, resp)
	case approval.StatusUnknownJob:
		s.writeError(w, http.StatusNotFound, result.Message)
	case approval.StatusNotPending:
		s.writeError(w, http.StatusConflict, "job is not awaiting approval: "+result.Message)
	default:
		s.writeError(w, http.StatusBadRequest, result.Message)
	}
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.daemon.Retry)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.jobAction(w, r, s.daemon.Cancel)
}

func (s *apiServer) jobAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*jobs.Job, error)) {
	job, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

// writeJobError maps store and service errors onto HTTP statuses.
func (s *apiServer) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrTerminal), errors.Is(err, jobs.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, services.Details(err).Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.comps.LogHub
	if hub == nil {
		writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	jobFilter := strings.ToLower(strings.TrimSpace(query.Get("job")))

	var (
		raw  []logging.LogEvent
		next uint64
	)
	if since == 0 && !follow {
		raw, next = hub.Tail(limit, jobFilter)
	} else {
		fetchCtx := r.Context()
		if follow {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, logFollowWait)
			defer cancel()
		}
		var err error
		raw, next, err = hub.Fetch(fetchCtx, logging.LogQuery{Since: since, Limit: limit, JobPrefix: jobFilter, Wait: follow})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	events := api.FromLogEvents(raw)
	if events == nil {
		events = []api.LogEvent{}
	}
	writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: events, Next: next})
}

func reviewerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultReviewer
	}
	return name
}
