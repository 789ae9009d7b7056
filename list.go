package sftpxfer

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

// Ls lists the regular files directly inside remoteDir. Directories and
// other entry types are left out. Cancelling ctx ends the listing early and
// returns what was collected so far without an error. The directory is
// fetched in one ReadDir call, so a cancellation that lands before that
// call returns yields an empty listing.
func (c *Client) Ls(ctx context.Context, remoteDir string) ([]FileMetadata, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	files := make([]FileMetadata, 0)
	if ctx.Err() != nil {
		return files, nil
	}

	type readDirResult struct {
		entries []os.FileInfo
		err     error
	}
	done := make(chan readDirResult, 1)
	go func() {
		entries, err := c.cli.ReadDir(remoteDir)
		done <- readDirResult{entries, err}
	}()

	var entries []os.FileInfo
	select {
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "Client.Ls",
			"dir":      remoteDir,
		}).Info("ls operation cancelled by user")
		return files, nil
	case res := <-done:
		if res.err != nil {
			return nil, remoteErr("read dir", remoteDir, res.err)
		}
		entries = res.entries
	}

	for _, fi := range entries {
		if ctx.Err() != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Client.Ls",
				"dir":       remoteDir,
				"collected": len(files),
			}).Info("ls operation cancelled by user")
			break
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, fileMetadata(path.Join(remoteDir, fi.Name()), fi))
	}
	return files, nil
}

func fileMetadata(p string, fi os.FileInfo) FileMetadata {
	md := FileMetadata{Path: p, Type: Regular}
	if fi.IsDir() {
		md.Type = Directory
	}
	size := uint64(fi.Size())
	md.Size = &size

	// pkg/sftp reports an omitted attribute as zero, so a zero time is
	// treated as not reported. Size has no such marker and is always set.
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		md.LastAccessed = unixTime(st.Atime)
		md.LastModified = unixTime(st.Mtime)
	} else {
		mtime := fi.ModTime()
		md.LastModified = &mtime
	}
	return md
}

func unixTime(sec uint32) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(int64(sec), 0)
	return &t
}
