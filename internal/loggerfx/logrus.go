package loggerfx

import (
	"log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	ConfigLogLevel  = "log.level"
	ConfigLogFormat = "log.format"
)

var logger *logrus.Logger

func init() {
	logger = logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})
}

func Logger() *logrus.Logger {
	return logger
}

// DefaultLoggerAdapter routes stdlib log output (e.g. http.Server errors)
// to logrus at error level.
func DefaultLoggerAdapter(logger *logrus.Logger) *log.Logger {
	return log.New(logger.WriterLevel(logrus.ErrorLevel), "", 0)
}

func ConfigureLogger(logger *logrus.Logger, v *viper.Viper) {
	level, err := logrus.ParseLevel(v.GetString(ConfigLogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	switch v.GetString(ConfigLogFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
