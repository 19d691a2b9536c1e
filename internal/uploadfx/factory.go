package uploadfx

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/upload"
)

// UploaderFactory builds the upload capability of a job from its targets.
type UploaderFactory func(targets []upload.Config) (upload.Uploader, error)

func NewUploaderFactory(logger *logrus.Logger) UploaderFactory {
	return func(targets []upload.Config) (upload.Uploader, error) {
		switch len(targets) {
		case 0:
			return upload.Noop{}, nil
		case 1:
			u, err := upload.New(targets[0], logger.WithField("upload", targets[0].Type))
			return u, errors.Wrap(err, "Unable to configure upload target")
		}

		multi := make(upload.Multi, 0, len(targets))
		for i, target := range targets {
			u, err := upload.New(target, logger.WithField("upload", target.Type))
			if err != nil {
				return nil, errors.Wrapf(err, "Unable to configure upload target #%d", i)
			}
			multi = append(multi, u)
		}

		return multi, nil
	}
}
