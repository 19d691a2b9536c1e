package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
	"github.com/yurykabanov/srvbackup/pkg/domain"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

// RunsHandler lists recent runs of a single job, newest first.
type RunsHandler struct {
	logger logrus.FieldLogger
	jobs   map[string]struct{}
	repo   RunRepository
}

func NewRunsHandler(logger logrus.FieldLogger, jobs []domain.Job, repo RunRepository) *RunsHandler {
	names := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		names[job.Name] = struct{}{}
	}

	return &RunsHandler{
		logger: logger,
		jobs:   names,
		repo:   repo,
	}
}

type runResponse struct {
	Id           int64      `json:"id"`
	Archive      string     `json:"archive"`
	Size         int64      `json:"size"`
	Archived     bool       `json:"archived"`
	Uploaded     bool       `json:"uploaded"`
	RetentionRan bool       `json:"retention_ran"`
	Diagnostics  int        `json:"diagnostics"`
	Evictions    int        `json:"evictions"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job := mux.Vars(r)["job"]

	ctx, cancel := context.WithTimeout(appcontext.WithJobName(r.Context(), job), 10*time.Second)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	if _, ok := h.jobs[job]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n > maxRunsLimit {
			n = maxRunsLimit
		}
		limit = n
	}

	runs, err := h.repo.FindRecent(ctx, job, limit)
	if err != nil {
		logger.WithError(err).Error("Unable to query recent runs")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	result := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		result = append(result, runResponse{
			Id:           run.Id,
			Archive:      run.Archive,
			Size:         run.Size,
			Archived:     run.Archived,
			Uploaded:     run.Uploaded,
			RetentionRan: run.RetentionRan,
			Diagnostics:  run.Diagnostics,
			Evictions:    run.Evictions,
			Error:        run.Error,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
		})
	}

	writeJSON(w, logger, result)
}

type JobTrigger interface {
	Trigger(job string) bool
}

// TriggerHandler enqueues an immediate run of a job. A run that is already
// pending is not queued twice.
type TriggerHandler struct {
	logger  logrus.FieldLogger
	jobs    map[string]struct{}
	trigger JobTrigger
}

func NewTriggerHandler(logger logrus.FieldLogger, jobs []domain.Job, trigger JobTrigger) *TriggerHandler {
	names := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		names[job.Name] = struct{}{}
	}

	return &TriggerHandler{
		logger:  logger,
		jobs:    names,
		trigger: trigger,
	}
}

func (h *TriggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job := mux.Vars(r)["job"]

	logger := appcontext.LoggerFromContext(h.logger, appcontext.WithJobName(r.Context(), job))

	if _, ok := h.jobs[job]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if !h.trigger.Trigger(job) {
		logger.Warn("Manual backup rejected")
		w.WriteHeader(http.StatusConflict)
		return
	}

	logger.Info("Manual backup requested")
	w.WriteHeader(http.StatusAccepted)
}
