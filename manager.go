package sftpxfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

// State is the connection state of a SessionManager.
type State uint8

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// SessionManager owns one transport session and hands out Clients that
// share it. The session is torn down only once every Client is closed.
type SessionManager struct {
	mu     sync.Mutex
	handle *sessionHandle

	dial           DialFunc
	connectTimeout time.Duration
	probeTimeout   time.Duration
	keepAlive      time.Duration
	sftpOpts       []sftp.ClientOption
}

type Option func(m *SessionManager)

// WithConnectTimeout bounds session establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *SessionManager) {
		m.connectTimeout = d
	}
}

// WithProbeTimeout bounds each liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *SessionManager) {
		m.probeTimeout = d
	}
}

// WithKeepAlive sets the background keepalive interval; zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(m *SessionManager) {
		m.keepAlive = d
	}
}

// WithSFTPOptions sets the options every client's SFTP channel is opened with.
func WithSFTPOptions(opts ...sftp.ClientOption) Option {
	return func(m *SessionManager) {
		m.sftpOpts = opts
	}
}

// WithDialer replaces the SSH dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *SessionManager) {
		m.dial = dial
	}
}

func NewSessionManager(ops ...Option) *SessionManager {
	m := &SessionManager{
		dial:           DialSSH,
		connectTimeout: defaultConnTimeout,
		probeTimeout:   defaultProbeTimeout,
		keepAlive:      defaultKeepAliveTick,
		sftpOpts:       []sftp.ClientOption{sftp.UseConcurrentWrites(true)},
	}
	for _, op := range ops {
		op(m)
	}
	return m
}

// Connect establishes the session. On failure the manager stays
// disconnected.
func (m *SessionManager) Connect(ctx context.Context, host, user, controlDir, keyPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return ErrAlreadyConnected
	}

	logrus.WithFields(logrus.Fields{
		"function": "SessionManager.Connect",
		"host":     host,
		"user":     user,
	}).Info("Connecting")

	ctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	t, err := m.dial(ctx, host, user, controlDir, keyPath, m.connectTimeout, m.keepAlive)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SessionManager.Connect",
			"host":     host,
			"error":    err.Error(),
		}).Error("Failed to connect")
		return &Error{Kind: KindConnection, Op: "connect", Path: host, Err: err}
	}
	m.handle = newSessionHandle(t)
	return nil
}

// State reports the last known state without probing the session.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return Disconnected
	}
	return Connected
}

// CreateClient probes the session and returns a Client sharing it. A
// cancelled ctx fails with the context's error and leaves the session as
// it is.
func (m *SessionManager) CreateClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return nil, ErrNotConnected
	}
	if err := m.probe(ctx, h); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindLiveness, Op: "create client", Err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
	}

	// The session may have been closed or dropped while it was probed.
	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	h.acquire()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SessionManager.CreateClient",
	}).Debug("Creating sftp client from session")
	cli, err := h.transport.NewSFTP(m.sftpOpts...)
	if err != nil {
		h.release()
		return nil, &Error{Kind: KindConnection, Op: "open sftp", Err: err}
	}
	return newClient(cli, h, cfg, opts...), nil
}

// Connected probes the session. A failed probe moves the manager to
// Disconnected and drops its own reference to the session. A probe cut
// short by ctx reports false without touching the session.
func (m *SessionManager) Connected(ctx context.Context) bool {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return false
	}

	err := m.probe(ctx, h)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SessionManager.Connected",
			"error":    ctx.Err().Error(),
		}).Debug("Liveness probe abandoned by caller")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h {
		return m.handle != nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "SessionManager.Connected",
		"error":    err.Error(),
	}).Warn("Underlying session is dead, marking disconnected")
	m.handle = nil
	h.release()
	return false
}

// Close tears the session down. It fails with ErrSessionInUse, leaving the
// manager connected, while any Client created from it is still open.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		logrus.WithFields(logrus.Fields{
			"function": "SessionManager.Close",
		}).Error("Session not found")
		return ErrNotConnected
	}

	if !m.handle.reclaim() {
		clients := m.handle.owners() - 1
		logrus.WithFields(logrus.Fields{
			"function": "SessionManager.Close",
			"clients":  clients,
		}).Error("Clients still hold the session, not closing it")
		return &Error{Kind: KindOwnership, Op: "close session", Err: fmt.Errorf("%w: %d clients still hold references", ErrSessionInUse, clients)}
	}

	logrus.WithFields(logrus.Fields{
		"function": "SessionManager.Close",
	}).Info("No client is using the session anymore, closing it")
	t := m.handle.transport
	m.handle = nil
	if err := t.Close(); err != nil {
		return &Error{Kind: KindConnection, Op: "close session", Err: err}
	}
	return nil
}

func (m *SessionManager) probe(ctx context.Context, h *sessionHandle) error {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	err := h.transport.Check(ctx)
	logrus.WithFields(logrus.Fields{
		"function": "SessionManager.probe",
		"ok":       err == nil,
	}).Debug("Liveness probe")
	return err
}
