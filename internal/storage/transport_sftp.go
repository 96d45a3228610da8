package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"mysql-backup-sync/internal/logging"
)

// SFTPDialer opens SFTP sessions over SSH
type SFTPDialer struct {
	config *SFTPConfig
	logger *logging.Logger
}

// NewSFTPDialer creates a dialer for the given server
func NewSFTPDialer(config *SFTPConfig, logger *logging.Logger) *SFTPDialer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SFTPDialer{config: config, logger: logger}
}

// Destination returns sftp://user@host:port/dir
func (d *SFTPDialer) Destination() string {
	return fmt.Sprintf("sftp://%s@%s%s", d.config.User, d.address(), d.config.RemoteDir)
}

func (d *SFTPDialer) address() string {
	return net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))
}

// ClientConfig builds the SSH client configuration
func (d *SFTPDialer) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if d.config.PrivateKeyPath != "" {
		key, err := os.ReadFile(d.config.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", d.config.PrivateKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.config.Password != "" {
		auth = append(auth, ssh.Password(d.config.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if d.config.KnownHostsPath != "" {
		cb, err := knownhosts.New(d.config.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		d.logger.WithField("host", d.config.Host).Warn("No known_hosts_path configured, host key is not verified")
	}

	return &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

// Dial connects and starts an SFTP session
func (d *SFTPDialer) Dial(ctx context.Context) (RemoteFS, error) {
	clientConfig, err := d.ClientConfig()
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.address())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.address(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, d.address(), clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", d.address(), err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to start SFTP session: %w", err)
	}

	return &sftpFS{client: client, ssh: sshClient}, nil
}

type sftpFS struct {
	client *sftp.Client
	ssh    *ssh.Client
}

func (s *sftpFS) MkdirAll(dir string) error {
	return s.client.MkdirAll(dir)
}

// Put uploads to a temporary name and renames it over the destination
func (s *sftpFS) Put(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".part")
	dst, err := s.client.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		s.client.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := dst.Close(); err != nil {
		s.client.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := s.client.PosixRename(tmp, remotePath); err != nil {
		s.client.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, remotePath, err)
	}
	return nil
}

func (s *sftpFS) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}
