// Package sftp implements the storage adaptor for the scp and sftp
// protocols over an SSH connection.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/storage"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 30 * time.Second
)

// Compile-time interface satisfaction checks.
var (
	_ storage.Adaptor = (*Adaptor)(nil)
	_ storage.Factory = (*Factory)(nil)
)

// Factory dials SSH connections to storage resources.
type Factory struct {
	// KnownHostsFile verifies host keys when set. When empty, host keys are
	// not verified.
	KnownHostsFile string
	DialTimeout    time.Duration
	Logger         *slog.Logger
}

// Open dials the resource and starts an SFTP session on it.
func (f *Factory) Open(ctx context.Context, ep storage.Endpoint) (storage.Adaptor, error) {
	signer, err := Signer(ep.Credential)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := f.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	port := ep.Resource.Port
	if port <= 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(ep.Resource.HostName, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            ep.LoginUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("start sftp session on %s: %w", addr, err)
	}

	return &Adaptor{ssh: sshClient, client: client}, nil
}

func (f *Factory) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if f.KnownHostsFile == "" {
		if f.Logger != nil {
			f.Logger.Warn("ssh host keys are not verified; set a known_hosts file")
		}
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(f.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// Signer parses the private key of a credential, decrypting it with the
// passphrase when one is set.
func Signer(cred model.SSHCredential) (ssh.Signer, error) {
	if cred.PrivateKey == "" {
		return nil, errors.New("credential has no private key")
	}
	var (
		signer ssh.Signer
		err    error
	)
	if cred.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cred.PrivateKey), []byte(cred.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(cred.PrivateKey))
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// Adaptor transfers files over one SFTP session. It is safe for concurrent
// use.
type Adaptor struct {
	ssh    *ssh.Client
	client *sftp.Client
}

// Download copies remotePath to localPath.
func (a *Adaptor) Download(ctx context.Context, remotePath, localPath string) error {
	src, err := a.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local %s: %w", localPath, err)
	}

	if err := transfer(ctx, src, dst, src); err != nil {
		dst.Close()
		os.Remove(localPath)
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close local %s: %w", localPath, err)
	}
	return nil
}

// Upload copies localPath to remotePath.
func (a *Adaptor) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := a.client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remotePath, err)
	}

	if err := transfer(ctx, src, dst, dst); err != nil {
		dst.Close()
		return fmt.Errorf("upload %s: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote %s: %w", remotePath, err)
	}
	return nil
}

// CreateDirectory creates p on the remote host. An existing directory is not
// an error.
func (a *Adaptor) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = path.Clean(p)
	if recursive {
		if err := a.client.MkdirAll(p); err != nil {
			return fmt.Errorf("mkdir -p %s: %w", p, err)
		}
		return nil
	}
	if err := a.client.Mkdir(p); err != nil {
		if fi, statErr := a.client.Stat(p); statErr == nil && fi.IsDir() {
			return nil
		}
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// Close ends the SFTP session and the SSH connection.
func (a *Adaptor) Close() error {
	err := a.client.Close()
	if cerr := a.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

// transfer copies src to dst. Cancelling ctx closes the remote handle, which
// aborts the copy without tearing down the shared connection.
func transfer(ctx context.Context, src io.Reader, dst io.Writer, remote io.Closer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { remote.Close() })
	defer stop()

	if _, err := io.Copy(dst, src); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
