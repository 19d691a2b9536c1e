package domainfx

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/retention"
)

func NewCron(logger *logrus.Logger) *cron.Cron {
	l := cron.VerbosePrintfLogger(&cronLogger{logger: logger.WithField("component", "cron")})

	return cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l)))
}

func RetentionManager(logger *logrus.Logger) *retention.Manager {
	return retention.New(logger)
}

func BackupService(logger *logrus.Logger, enforcer *retention.Manager) *domain.BackupService {
	return domain.NewBackupService(logger, enforcer)
}

func BackupManager(
	logger *logrus.Logger,
	jobs []domain.Job,
	service *domain.BackupService,
	repository domain.RunRepository,
	cron *cron.Cron,
) *domain.BackupManager {
	return domain.NewBackupManager(logger, jobs, service, repository, cron)
}

func RunBackupManager(lc fx.Lifecycle, backupManager *domain.BackupManager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return backupManager.Start()
		},
		OnStop: func(ctx context.Context) error {
			return backupManager.Stop(ctx)
		},
	})
}

type cronLogger struct {
	logger logrus.FieldLogger
}

func (l *cronLogger) Printf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
