package domainfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(LoadJobs),
	fx.Provide(NewCron),
	fx.Provide(RetentionManager),
	fx.Provide(BackupService),
	fx.Provide(BackupManager),
	fx.Invoke(RunBackupManager),
)
