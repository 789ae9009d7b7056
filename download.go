package sftpxfer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/eleztian/go-sftpxfer/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Get downloads remotePath to localPath, creating missing parent
// directories. On cancellation the chunks already dispatched are still
// written, so localPath holds an ordered prefix of the remote file.
func (c *Client) Get(ctx context.Context, remotePath, localPath string) (Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	src, err := c.cli.Open(remotePath)
	if err != nil {
		return nil, remoteErr("open", remotePath, err)
	}
	defer c.closeQuietly(src, "Client.Get", remotePath)
	logrus.WithFields(logrus.Fields{
		"function": "Client.Get",
		"remote":   remotePath,
	}).Info("Remote file opened")

	info, err := src.Stat()
	if err != nil {
		return nil, remoteErr("stat", remotePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, remoteErr("stat", remotePath, fmt.Errorf("%w: %s is not a regular file", ErrSizeUnknown, info.Mode()))
	}
	size := uint64(info.Size())

	if dir := filepath.Dir(localPath); dir != "." {
		if err := c.local.MkdirAll(dir, 0o755); err != nil {
			return nil, localErr("create parent directory", dir, err)
		}
	}
	dst, err := c.local.Create(localPath)
	if err != nil {
		return nil, localErr("create", localPath, err)
	}
	defer c.closeQuietly(dst, "Client.Get", localPath)
	logrus.WithFields(logrus.Fields{
		"function": "Client.Get",
		"local":    localPath,
	}).Info("Local file created")

	out, err := pipeline.Run(ctx,
		taggedReader{r: src, kind: KindRemoteIO, path: remotePath},
		c.trackProgress(taggedWriter{w: dst, kind: KindLocalIO, path: localPath}, remotePath, localPath, size),
		pipeline.Options{
			ChunkSize:   c.cfg.ChunkSize,
			Concurrency: c.cfg.Concurrency,
			QueueDepth:  c.cfg.QueueDepth,
		})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Get",
			"remote":   remotePath,
			"local":    localPath,
			"error":    err.Error(),
		}).Error("Download failed")
		return nil, c.pipelineErr("download", remotePath, err)
	}

	fields := logrus.Fields{
		"function":   "Client.Get",
		"remote":     remotePath,
		"local":      localPath,
		"chunks":     out.Chunks,
		"written":    out.BytesWritten,
		"time_taken": time.Since(start).String(),
	}
	if out.Cancelled {
		logrus.WithFields(fields).Warn("Download cancelled")
		return Cancelled{Source: remotePath, Dest: localPath}, nil
	}
	logrus.WithFields(fields).Info("File downloaded")
	return Completed{Progress: Progress{
		Source:          remotePath,
		Dest:            localPath,
		TotalBytes:      size,
		PercentComplete: 100,
	}}, nil
}
