package metricsfx

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/http/handler"
)

func LatestBackupMetricHandler(
	logger *logrus.Logger,
	jobs []domain.Job,
	repository handler.RunRepository,
) *handler.BackupMetricHandler {
	return handler.NewBackupMetricHandler(logger, jobs, repository)
}

func RunsHandler(
	logger *logrus.Logger,
	jobs []domain.Job,
	repository handler.RunRepository,
) *handler.RunsHandler {
	return handler.NewRunsHandler(logger, jobs, repository)
}

func TriggerHandler(
	logger *logrus.Logger,
	jobs []domain.Job,
	manager *domain.BackupManager,
) *handler.TriggerHandler {
	return handler.NewTriggerHandler(logger, jobs, manager)
}

func RegisterHandlers(
	router *mux.Router,
	metrics *handler.BackupMetricHandler,
	runs *handler.RunsHandler,
	trigger *handler.TriggerHandler,
) {
	router.Handle("/metrics/backups", metrics).Methods(http.MethodGet)
	router.Handle("/runs/{job}", runs).Methods(http.MethodGet)
	router.Handle("/runs/{job}", trigger).Methods(http.MethodPost)
}
