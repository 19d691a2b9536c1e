package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/yurykabanov/srvbackup/internal/configfx"
	"github.com/yurykabanov/srvbackup/internal/domainfx"
	"github.com/yurykabanov/srvbackup/internal/loggerfx"
	"github.com/yurykabanov/srvbackup/internal/metricsfx"
	"github.com/yurykabanov/srvbackup/internal/sqlfx"
	"github.com/yurykabanov/srvbackup/internal/uploadfx"
)

func main() {
	logger := loggerfx.Logger()

	app := fx.New(
		fx.StartTimeout(15*time.Second),
		// Running backups are allowed to finish
		fx.StopTimeout(10*time.Minute),

		fx.Logger(logger),

		loggerfx.Module,
		configfx.Module,
		sqlfx.Module,
		uploadfx.Module,
		metricsfx.Module,
		domainfx.Module,
	)

	app.Run()
}
