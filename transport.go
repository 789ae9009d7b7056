package sftpxfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort          = "22"
	keepAliveRequest     = "keepalive@openssh.com"
	knownHostsFile       = "known_hosts"
	defaultConnTimeout   = 60 * time.Second
	defaultProbeTimeout  = 10 * time.Second
	defaultKeepAliveTick = 10 * time.Second
)

// Transport is the session a SessionManager shares between its clients.
// It must be safe for concurrent use.
type Transport interface {
	// NewSFTP opens a new SFTP channel over the session.
	NewSFTP(opts ...sftp.ClientOption) (*sftp.Client, error)
	// Check probes whether the session is still alive.
	Check(ctx context.Context) error
	// Close tears down the session.
	Close() error
}

// DialFunc establishes a Transport.
type DialFunc func(ctx context.Context, host, user, controlDir, keyPath string, timeout, keepAlive time.Duration) (Transport, error)

type sshTransport struct {
	cli       *ssh.Client
	stop      chan struct{}
	closeOnce sync.Once
}

// DialSSH connects to host as user with the private key at keyPath. Host
// keys are checked against controlDir/known_hosts; unknown hosts are
// accepted and recorded, changed keys are rejected. A keepAlive above zero
// starts a background keepalive that closes the connection on failure.
func DialSSH(ctx context.Context, host, user, controlDir, keyPath string, timeout, keepAlive time.Duration) (Transport, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, defaultPort)
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	hostKeys, err := acceptNewHostKeys(controlDir)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	t := &sshTransport{cli: ssh.NewClient(c, chans, reqs), stop: make(chan struct{})}
	if keepAlive > 0 {
		go t.keepAlive(keepAlive)
	}
	return t, nil
}

func acceptNewHostKeys(controlDir string) (ssh.HostKeyCallback, error) {
	if err := os.MkdirAll(controlDir, 0o700); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	path := filepath.Join(controlDir, knownHostsFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open known hosts: %w", err)
	}
	f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "acceptNewHostKeys",
			"host":     hostname,
			"key_type": key.Type(),
		}).Info("Recorded new host key")
		return nil
	}, nil
}

func (t *sshTransport) NewSFTP(opts ...sftp.ClientOption) (*sftp.Client, error) {
	return sftp.NewClient(t.cli, opts...)
}

func (t *sshTransport) Check(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		_, _, err := t.cli.SendRequest(keepAliveRequest, true, nil)
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sshTransport) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		err := t.Check(ctx)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sshTransport.keepAlive",
				"error":    err.Error(),
			}).Warn("Keepalive failed, closing ssh connection")
			_ = t.Close()
			return
		}
	}
}

func (t *sshTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.cli.Close()
	})
	return err
}
