package configfx

import (
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix              = "srvbackup"
	DefaultConfigDirectory = "srvbackup"
	DefaultConfigFile      = "srvbackup"
)

var (
	defaultConfigPaths = []string{
		".",
		"./config",
		path.Join("/etc", DefaultConfigDirectory),
	}

	// flag name -> config key
	flagKeys = map[string]string{
		"log-level":      "log.level",
		"server-address": "server.address",
	}

	defaults = map[string]interface{}{
		"log.level":            "info",
		"log.format":           "text",
		"server.address":       "127.0.0.1:8080",
		"server.timeout.read":  5 * time.Second,
		"server.timeout.write": 10 * time.Second,
		"server.log.requests":  false,
	}
)

func ViperProvider(logger *logrus.Logger, flagSet *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.BindPFlag("config", flagSet.Lookup("config")); err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if f := flagSet.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An explicitly given config file must exist, otherwise the default
	// locations are searched and a missing file is only a warning
	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "Unable to read config file %s", configFile)
		}

		return v, nil
	}

	v.SetConfigName(DefaultConfigFile)
	for _, dir := range defaultConfigPaths {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		logger.WithError(err).Warn("Couldn't read config file")
	}

	return v, nil
}
