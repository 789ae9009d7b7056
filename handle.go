package sftpxfer

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// sessionHandle counts the owners of a Transport: the manager plus every
// live client. The transport is closed when the count drops to zero.
type sessionHandle struct {
	transport Transport
	refs      atomic.Int32
}

func newSessionHandle(t Transport) *sessionHandle {
	h := &sessionHandle{transport: t}
	h.refs.Store(1)
	return h
}

func (h *sessionHandle) acquire() {
	h.refs.Add(1)
}

func (h *sessionHandle) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "sessionHandle.release",
	}).Info("Last owner released the session, closing it")
	if err := h.transport.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sessionHandle.release",
			"error":    err.Error(),
		}).Warn("Failed to close session")
	}
}

// reclaim takes the session away from its sole remaining owner. It fails
// without side effects while any other owner holds a reference.
func (h *sessionHandle) reclaim() bool {
	return h.refs.CompareAndSwap(1, 0)
}

func (h *sessionHandle) owners() int {
	return int(h.refs.Load())
}
