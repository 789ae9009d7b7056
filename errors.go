package sftpxfer

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("sftpxfer: not connected")
	ErrAlreadyConnected = errors.New("sftpxfer: already connected")
	ErrSessionInUse     = errors.New("sftpxfer: session still referenced by clients")
	ErrSizeUnknown      = errors.New("sftpxfer: source size unavailable")
	ErrClientClosed     = errors.New("sftpxfer: client closed")
	ErrInvalidConfig    = errors.New("sftpxfer: invalid config")
)

// ErrorKind classifies the failures reported by this package.
type ErrorKind uint8

const (
	// KindConnection is a session establishment or authentication failure.
	KindConnection ErrorKind = iota + 1
	// KindLiveness is a failed liveness probe.
	KindLiveness
	// KindLocalIO is a failure against the local filesystem.
	KindLocalIO
	// KindRemoteIO is a failure against the remote filesystem, including
	// internal queue failures during a transfer.
	KindRemoteIO
	// KindOwnership is a session teardown refused because clients remain.
	KindOwnership
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindLiveness:
		return "liveness"
	case KindLocalIO:
		return "local io"
	case KindRemoteIO:
		return "remote io"
	case KindOwnership:
		return "ownership"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error records a failed operation and the path it applied to.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func localErr(op, path string, err error) error {
	return &Error{Kind: KindLocalIO, Op: op, Path: path, Err: err}
}

func remoteErr(op, path string, err error) error {
	return &Error{Kind: KindRemoteIO, Op: op, Path: path, Err: err}
}
