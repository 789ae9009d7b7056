package sftpxfer

import (
	"io"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

// Client moves files over an SFTP channel of a session shared with other
// clients of the same SessionManager.
type Client struct {
	cli      *sftp.Client
	handle   *sessionHandle
	cfg      Config
	local    LocalFS
	progress ProgressFunc

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// LocalFS is the part of a billy filesystem a Client needs on the local side.
type LocalFS interface {
	billy.Basic
	MkdirAll(filename string, perm os.FileMode) error
}

type ClientOption func(c *Client)

// WithProgress registers fn to receive InProgress results while a transfer
// writes its destination.
func WithProgress(fn ProgressFunc) ClientOption {
	return func(c *Client) {
		c.progress = fn
	}
}

// WithLocalFS replaces the local filesystem, which defaults to the OS.
func WithLocalFS(fs LocalFS) ClientOption {
	return func(c *Client) {
		c.local = fs
	}
}

func newClient(cli *sftp.Client, h *sessionHandle, cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		cli:    cli,
		handle: h,
		cfg:    cfg,
		local:  &osfs.ChrootOS{},
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the configuration the client was created with.
func (c *Client) Config() Config { return c.cfg }

// Close releases the client's SFTP channel and its reference to the
// session. The session itself stays open for its other owners.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.cli.Close()
		c.handle.release()
		logrus.WithFields(logrus.Fields{
			"function": "Client.Close",
		}).Debug("sftp client closed")
	})
	return c.closeErr
}

func (c *Client) checkOpen() error {
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
		return nil
	}
}

func (c *Client) closeQuietly(cl io.Closer, op, path string) {
	if err := cl.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": op,
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to close file")
	}
}

// progressWriter reports InProgress results for every write reaching w.
type progressWriter struct {
	w        io.Writer
	fn       ProgressFunc
	src, dst string
	total    uint64
	written  uint64
}

func (c *Client) trackProgress(w io.Writer, src, dst string, total uint64) io.Writer {
	if c.progress == nil {
		return w
	}
	return &progressWriter{w: w, fn: c.progress, src: src, dst: dst, total: total}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += uint64(n)
	p.fn(InProgress{Progress: Progress{
		Source:          p.src,
		Dest:            p.dst,
		TotalBytes:      p.total,
		PercentComplete: percent(p.written, p.total),
	}})
	return n, err
}

func percent(done, total uint64) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// taggedReader and taggedWriter attach an error kind to failures of the
// file they wrap, so the pipeline's errors say which side failed.
type taggedReader struct {
	r    io.Reader
	kind ErrorKind
	path string
}

func (t taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		err = &Error{Kind: t.kind, Op: "read", Path: t.path, Err: err}
	}
	return n, err
}

type taggedWriter struct {
	w    io.Writer
	kind ErrorKind
	path string
}

func (t taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		err = &Error{Kind: t.kind, Op: "write", Path: t.path, Err: err}
	}
	return n, err
}

func (c *Client) pipelineErr(op, path string, err error) error {
	if IsKind(err, KindLocalIO) || IsKind(err, KindRemoteIO) {
		return err
	}
	return remoteErr(op, path, err)
}
