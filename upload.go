package sftpxfer

import (
	"context"
	"fmt"
	"time"

	"github.com/eleztian/go-sftpxfer/internal/pipeline"
	"github.com/sirupsen/logrus"
)

// Put uploads the local file at localPath to remotePath. Cancelling ctx
// stops the upload at the next chunk boundary, and chunks still queued at
// that point are never written to the remote file.
func (c *Client) Put(ctx context.Context, localPath, remotePath string) (Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	info, err := c.local.Stat(localPath)
	if err != nil {
		return nil, localErr("stat", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, localErr("stat", localPath, fmt.Errorf("%w: %s is not a regular file", ErrSizeUnknown, info.Mode()))
	}
	size := uint64(info.Size())

	src, err := c.local.Open(localPath)
	if err != nil {
		return nil, localErr("open", localPath, err)
	}
	defer c.closeQuietly(src, "Client.Put", localPath)
	logrus.WithFields(logrus.Fields{
		"function": "Client.Put",
		"local":    localPath,
		"size":     size,
	}).Info("Local file opened")

	dst, err := c.cli.Create(remotePath)
	if err != nil {
		return nil, remoteErr("create", remotePath, err)
	}
	defer c.closeQuietly(dst, "Client.Put", remotePath)
	logrus.WithFields(logrus.Fields{
		"function": "Client.Put",
		"remote":   remotePath,
	}).Info("Remote file created")

	out, err := pipeline.Run(ctx,
		taggedReader{r: src, kind: KindLocalIO, path: localPath},
		c.trackProgress(taggedWriter{w: dst, kind: KindRemoteIO, path: remotePath}, localPath, remotePath, size),
		pipeline.Options{
			ChunkSize:       c.cfg.ChunkSize,
			Concurrency:     c.cfg.Concurrency,
			QueueDepth:      c.cfg.QueueDepth,
			DiscardOnCancel: true,
		})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Put",
			"local":    localPath,
			"remote":   remotePath,
			"error":    err.Error(),
		}).Error("Upload failed")
		return nil, c.pipelineErr("upload", remotePath, err)
	}

	fields := logrus.Fields{
		"function":   "Client.Put",
		"local":      localPath,
		"remote":     remotePath,
		"chunks":     out.Chunks,
		"written":    out.BytesWritten,
		"time_taken": time.Since(start).String(),
	}
	if out.Cancelled {
		logrus.WithFields(fields).Warn("Upload cancelled")
		return Cancelled{Source: localPath, Dest: remotePath}, nil
	}
	logrus.WithFields(fields).Info("File uploaded")
	return Completed{Progress: Progress{
		Source:          localPath,
		Dest:            remotePath,
		TotalBytes:      size,
		PercentComplete: 100,
	}}, nil
}
