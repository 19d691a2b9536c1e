// Package upload moves finished archives off the host.
package upload

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	TypeNone  = "none"
	TypeSFTP  = "sftp"
	TypeDrive = "drive"
)

// Uploader transfers a single finished archive. Retries and resumption are
// the implementation's concern.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Config describes one upload target.
type Config struct {
	Type string `mapstructure:"type"`

	// sftp
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Authentication  string        `mapstructure:"authentication"`
	HostKeyFile     string        `mapstructure:"host_key_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RemoteDirectory string        `mapstructure:"remote_directory"`

	// drive
	Token      string `mapstructure:"token"`
	Endpoint   string `mapstructure:"endpoint"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// New builds an uploader for the given target description.
func New(config Config, logger logrus.FieldLogger) (Uploader, error) {
	switch config.Type {
	case "", TypeNone:
		return Noop{}, nil
	case TypeSFTP:
		return NewSFTP(config, logger)
	case TypeDrive:
		return NewDrive(config, logger)
	default:
		return nil, errors.Errorf("unknown upload type %q", config.Type)
	}
}

// Noop is used when uploading is disabled.
type Noop struct{}

func (Noop) Upload(context.Context, string) error {
	return nil
}

// Multi uploads to every target concurrently and fails with the first error.
type Multi []Uploader

func (m Multi) Upload(ctx context.Context, path string) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, u := range m {
		u := u
		g.Go(func() error {
			return u.Upload(ctx, path)
		})
	}

	return g.Wait()
}
