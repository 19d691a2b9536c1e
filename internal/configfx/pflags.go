package configfx

import (
	"os"

	"github.com/spf13/pflag"
)

func PFlags() (*pflag.FlagSet, error) {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

	fs.StringP("config", "c", "", "Config file")
	fs.String("log-level", "", "Log level (overrides log.level)")
	fs.String("server-address", "", "Metrics server address (overrides server.address)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	return fs, nil
}
