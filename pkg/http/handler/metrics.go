package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
	"github.com/yurykabanov/srvbackup/pkg/domain"
)

type RunRepository interface {
	FindLastSuccessful(context.Context) ([]domain.Run, error)
	FindRecent(ctx context.Context, job string, limit int) ([]domain.Run, error)
}

type BackupMetricHandler struct {
	logger logrus.FieldLogger
	jobs   []domain.Job
	repo   RunRepository
}

func NewBackupMetricHandler(logger logrus.FieldLogger, jobs []domain.Job, repo RunRepository) *BackupMetricHandler {
	return &BackupMetricHandler{
		logger: logger,
		jobs:   jobs,
		repo:   repo,
	}
}

type backupMetricResponse struct {
	JobName          string `json:"job_name"`
	BackupSize       int64  `json:"backup_size"`
	LastSuccessfulAt int64  `json:"last_successful_at_mtime"`
	LastCompletion   int64  `json:"last_completion_mtime"`
	Evictions        int    `json:"evictions"`
	Diagnostics      int    `json:"diagnostics"`
}

// ServeHTTP reports the last successful run of every configured job. Jobs
// that never succeeded are reported with zero values.
func (h *BackupMetricHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	runs, err := h.repo.FindLastSuccessful(ctx)
	if err != nil {
		logger.WithError(err).Error("Unable to query last successful backups")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	byJob := make(map[string]domain.Run, len(runs))
	for _, run := range runs {
		byJob[run.Job] = run
	}

	result := make([]backupMetricResponse, 0, len(h.jobs))

	for _, job := range h.jobs {
		metric := backupMetricResponse{JobName: job.Name}

		if run, ok := byJob[job.Name]; ok {
			metric.BackupSize = run.Size
			metric.LastSuccessfulAt = run.StartedAt.UnixNano() / 1e6
			metric.Evictions = run.Evictions
			metric.Diagnostics = run.Diagnostics

			if run.FinishedAt != nil {
				metric.LastCompletion = run.FinishedAt.Sub(run.StartedAt).Nanoseconds() / 1e6
			}
		}

		result = append(result, metric)
	}

	writeJSON(w, logger, result)
}

func writeJSON(w http.ResponseWriter, logger logrus.FieldLogger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		logger.WithError(err).Error("Unable to encode response")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
