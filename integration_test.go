package sftpxfer

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var RemoteADDR = os.Getenv("TEST_SSH_ADDR")
var RemoteUser = os.Getenv("TEST_SSH_USER")
var KeyPath = os.Getenv("TEST_SSH_KEY")
var RemotePath = os.Getenv("TEST_SSH_PATH")

func TestSSHRoundTrip(t *testing.T) {
	if RemoteADDR == "" {
		t.Skip("TEST_SSH_ADDR not set")
	}
	m := NewSessionManager()
	require.NoError(t, m.Connect(context.Background(), RemoteADDR, RemoteUser, t.TempDir(), KeyPath))
	require.True(t, m.Connected(context.Background()))

	c, err := m.CreateClient(context.Background(), DefaultConfig())
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "upload.bin")
	data := randomData(3*DefaultChunkSize + 11)
	require.NoError(t, os.WriteFile(local, data, 0o644))
	remote := path.Join(RemotePath, "sftpxfer-roundtrip.bin")

	res, err := c.Put(context.Background(), local, remote)
	require.NoError(t, err)
	assert.IsType(t, Completed{}, res)

	files, err := c.Ls(context.Background(), RemotePath)
	require.NoError(t, err)
	var found bool
	for _, f := range files {
		found = found || f.Path == remote
	}
	assert.True(t, found, "uploaded file missing from listing")

	back := filepath.Join(t.TempDir(), "download", "back.bin")
	res, err = c.Get(context.Background(), remote, back)
	require.NoError(t, err)
	assert.IsType(t, Completed{}, res)
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.ErrorIs(t, m.Close(), ErrSessionInUse)
	require.NoError(t, c.Close())
	require.NoError(t, m.Close())
}
