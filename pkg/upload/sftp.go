package upload

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
)

const (
	defaultSFTPPort    = 22
	defaultSFTPTimeout = 20 * time.Second
)

// SFTP uploads archives over an SSH file transfer session.
//
// Authentication is treated as a path to a private key if such file exists,
// otherwise as a password. HostKeyFile is either a public key (".pub", in
// authorized_keys format) or a known_hosts file. When it doesn't exist the
// server's key is fetched and saved on first use.
type SFTP struct {
	logger logrus.FieldLogger

	host            string
	port            int
	username        string
	authentication  string
	hostKeyFile     string
	timeout         time.Duration
	remoteDirectory string
}

func NewSFTP(config Config, logger logrus.FieldLogger) (*SFTP, error) {
	if config.Host == "" {
		return nil, errors.New("sftp: host is required")
	}
	if config.HostKeyFile == "" {
		return nil, errors.New("sftp: host key file is required")
	}

	u := &SFTP{
		logger:          logger,
		host:            config.Host,
		port:            config.Port,
		username:        config.Username,
		authentication:  config.Authentication,
		hostKeyFile:     config.HostKeyFile,
		timeout:         config.Timeout,
		remoteDirectory: config.RemoteDirectory,
	}

	if u.port == 0 {
		u.port = defaultSFTPPort
	}
	if u.timeout == 0 {
		u.timeout = defaultSFTPTimeout
	}

	return u, nil
}

func (u *SFTP) address() string {
	return net.JoinHostPort(u.host, strconv.Itoa(u.port))
}

func (u *SFTP) Upload(ctx context.Context, localPath string) error {
	logger := appcontext.LoggerFromContext(u.logger, ctx).WithField("sftp_host", u.address())

	if _, err := os.Stat(u.hostKeyFile); os.IsNotExist(err) {
		logger.Warn("Couldn't find host key of SFTP server, retrieving it")

		if err := u.saveHostKey(ctx); err != nil {
			return errors.Wrap(err, "Unable to retrieve host key")
		}

		logger.WithField("host_key_file", u.hostKeyFile).Warn("Saved host key, this should happen just once")
	}

	hostKeyCallback, err := u.hostKeyCallback()
	if err != nil {
		return err
	}

	auth, err := u.authMethod()
	if err != nil {
		return err
	}

	client, err := u.dial(ctx, &ssh.ClientConfig{
		User:            u.username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         u.timeout,
	})
	if err != nil {
		return errors.Wrap(err, "Unable to connect to SFTP server")
	}
	defer client.Close()

	// Abort the transfer when the context is done
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return errors.Wrap(err, "Unable to start SFTP session")
	}
	defer sc.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "Unable to open archive")
	}
	defer local.Close()

	remotePath := path.Join(u.remoteDirectory, filepath.Base(localPath))
	logger.WithField("remote_path", remotePath).Debug("Uploading archive to SFTP server")

	remote, err := sc.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "Unable to create remote file %s", remotePath)
	}

	if _, err := io.Copy(remote, local); err != nil {
		remote.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "Unable to upload archive")
	}

	if err := remote.Close(); err != nil {
		return errors.Wrap(err, "Unable to finish upload")
	}

	logger.Debug("Disconnecting from SFTP server")

	return nil
}

func (u *SFTP) dial(ctx context.Context, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := &net.Dialer{Timeout: u.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", u.address())
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(u.timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, u.address(), config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Handshake is done, the transfer itself may take longer than timeout
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}

	return ssh.NewClient(c, chans, reqs), nil
}

func (u *SFTP) isPublicKeyFile() bool {
	return strings.EqualFold(filepath.Ext(u.hostKeyFile), ".pub")
}

func (u *SFTP) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !u.isPublicKeyFile() {
		callback, err := knownhosts.New(u.hostKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "Unable to load known hosts")
		}
		return callback, nil
	}

	data, err := os.ReadFile(u.hostKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read host key")
	}

	key, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, errors.Wrap(err, "Invalid host key format")
	}

	return ssh.FixedHostKey(key), nil
}

func (u *SFTP) authMethod() (ssh.AuthMethod, error) {
	if _, err := os.Stat(u.authentication); err != nil {
		return ssh.Password(u.authentication), nil
	}

	pem, err := os.ReadFile(u.authentication)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read private key")
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to parse private key")
	}

	return ssh.PublicKeys(signer), nil
}

// saveHostKey connects once without verification just to learn the server's
// host key. Authentication failure is expected here.
func (u *SFTP) saveHostKey(ctx context.Context) error {
	var hostKey ssh.PublicKey

	client, err := u.dial(ctx, &ssh.ClientConfig{
		User: u.username,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKey = key
			return nil
		},
		Timeout: u.timeout,
	})
	if err == nil {
		client.Close()
	}

	if hostKey == nil {
		if err == nil {
			err = errors.New("server didn't present a host key")
		}
		return err
	}

	var line []byte
	if u.isPublicKeyFile() {
		line = ssh.MarshalAuthorizedKey(hostKey)
	} else {
		line = []byte(knownhosts.Line([]string{knownhosts.Normalize(u.address())}, hostKey) + "\n")
	}

	return os.WriteFile(u.hostKeyFile, line, 0600)
}
