package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
)

const (
	defaultDriveEndpoint   = "https://www.googleapis.com/upload/drive/v3/files"
	defaultDriveMaxRetries = 20

	// Drive rejects simple and resumable uploads above this size
	driveMaxFileSize int64 = 5 * 1000 * 1000 * 1000

	statusResumeIncomplete = 308
)

var (
	ErrFileTooLarge    = errors.New("file is too large for Google Drive")
	ErrMissingLocation = errors.New("resumable session response is missing Location header")
	errIncomplete      = errors.New("upload is incomplete")
)

// StatusError is returned on unexpected Drive API responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("drive responded with status %d: %s", e.Code, e.Body)
}

func (e *StatusError) permanent() bool {
	return e.Code >= 400 && e.Code < 500
}

// Drive uploads archives with the Google Drive resumable upload protocol.
// Interrupted transfers are resumed from the last byte acknowledged by the
// server.
type Drive struct {
	logger logrus.FieldLogger

	client      *http.Client
	endpoint    string
	maxRetries  int
	maxFileSize int64
}

func NewDrive(config Config, logger logrus.FieldLogger) (*Drive, error) {
	if config.Token == "" {
		return nil, errors.New("drive: token is required")
	}

	d := &Drive{
		logger:      logger,
		client:      oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})),
		endpoint:    config.Endpoint,
		maxRetries:  config.MaxRetries,
		maxFileSize: driveMaxFileSize,
	}

	if d.endpoint == "" {
		d.endpoint = defaultDriveEndpoint
	}
	if d.maxRetries == 0 {
		d.maxRetries = defaultDriveMaxRetries
	}

	return d, nil
}

func (d *Drive) Upload(ctx context.Context, path string) error {
	logger := appcontext.LoggerFromContext(d.logger, ctx)

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "Unable to open archive")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "Unable to stat archive")
	}

	size := info.Size()
	if size > d.maxFileSize {
		return errors.Wrapf(ErrFileTooLarge, "%s is %d bytes", info.Name(), size)
	}

	session, err := d.startSession(ctx, filepath.Base(path), size)
	if err != nil {
		return err
	}

	var offset int64
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			logger.WithError(lastErr).WithField("attempt", attempt).Warn("Resuming interrupted upload")

			next, done, err := d.queryOffset(ctx, session, size)
			if err != nil {
				if d.permanent(ctx, err) {
					return err
				}
				lastErr = err
				continue
			}
			if done {
				return nil
			}
			offset = next
		}

		done, err := d.send(ctx, session, f, offset, size)
		if err != nil {
			if d.permanent(ctx, err) {
				return err
			}
			lastErr = err
			continue
		}
		if done {
			logger.WithField("bytes", size).Debug("Upload to Google Drive finished")
			return nil
		}
		lastErr = errIncomplete
	}

	return errors.Wrap(lastErr, "Unable to finish resumable upload")
}

func (d *Drive) permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	if statusErr, ok := errors.Cause(err).(*StatusError); ok {
		return statusErr.permanent()
	}

	return false
}

func (d *Drive) startSession(ctx context.Context, name string, size int64) (string, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, d.endpoint+"?uploadType=resumable", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "Unable to start resumable session")
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrMissingLocation
	}

	return location, nil
}

// send uploads bytes starting at offset. It reports true when the server
// confirmed the complete file.
func (d *Drive) send(ctx context.Context, session string, f *os.File, offset, size int64) (bool, error) {
	body := io.NewSectionReader(f, offset, size-offset)

	req, err := http.NewRequest(http.MethodPut, session, body)
	if err != nil {
		return false, err
	}
	req = req.WithContext(ctx)
	req.ContentLength = size - offset

	if size > 0 {
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, size-1, size))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return true, nil
	case resp.StatusCode == statusResumeIncomplete:
		return false, nil
	default:
		return false, statusError(resp)
	}
}

// queryOffset asks the server how many bytes it has persisted.
func (d *Drive) queryOffset(ctx context.Context, session string, size int64) (int64, bool, error) {
	req, err := http.NewRequest(http.MethodPut, session, nil)
	if err != nil {
		return 0, false, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return size, true, nil
	case resp.StatusCode == statusResumeIncomplete:
		next, err := parseRange(resp.Header.Get("Range"))
		return next, false, err
	default:
		return 0, false, statusError(resp)
	}
}

// parseRange returns the next byte to send for a "bytes=0-N" header. No header
// means nothing has been received yet.
func parseRange(header string) (int64, error) {
	if header == "" {
		return 0, nil
	}

	dash := strings.LastIndex(header, "-")
	if dash < 0 {
		return 0, errors.Errorf("malformed Range header %q", header)
	}

	last, err := strconv.ParseInt(header[dash+1:], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed Range header %q", header)
	}

	return last + 1, nil
}

func statusError(resp *http.Response) error {
	body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

func drain(resp *http.Response) {
	io.Copy(ioutil.Discard, resp.Body)
	resp.Body.Close()
}
