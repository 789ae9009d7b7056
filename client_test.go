package sftpxfer

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func readLocal(t *testing.T, fs billy.Filesystem, name string) []byte {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestClientRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 4095, 4096, 300*1024 + 7} {
		local := memfs.New()
		c := newTestClient(t, NewConfig(4096, 4), WithLocalFS(local))
		data := randomData(size)
		require.NoError(t, util.WriteFile(local, "/src/file.bin", data, 0o644))
		remote := filepath.Join(t.TempDir(), "file.bin")

		res, err := c.Put(context.Background(), "/src/file.bin", remote)
		require.NoError(t, err)
		require.IsType(t, Completed{}, res)
		assert.Equal(t, uint64(size), res.(Completed).Progress.TotalBytes)

		uploaded, err := os.ReadFile(remote)
		require.NoError(t, err)
		assert.Equal(t, data, uploaded, "size %d", size)

		res, err = c.Get(context.Background(), remote, "/dst/nested/dir/file.bin")
		require.NoError(t, err)
		require.IsType(t, Completed{}, res)
		assert.Equal(t, data, readLocal(t, local, "/dst/nested/dir/file.bin"), "size %d", size)
	}
}

func TestClientUploadTenMegabytes(t *testing.T) {
	local := memfs.New()
	c := newTestClient(t, NewConfig(64*1024, 8), WithLocalFS(local))
	data := randomData(10 * 1024 * 1024)
	require.NoError(t, util.WriteFile(local, "/big.bin", data, 0o644))
	remote := filepath.Join(t.TempDir(), "big.bin")

	res, err := c.Put(context.Background(), "/big.bin", remote)
	require.NoError(t, err)

	completed, ok := res.(Completed)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, uint64(10*1024*1024), completed.Progress.TotalBytes)
	assert.Equal(t, 100.0, completed.Progress.PercentComplete)
	assert.Equal(t, "/big.bin", completed.Progress.Source)
	assert.Equal(t, remote, completed.Progress.Dest)

	uploaded, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Equal(t, data, uploaded)
}

func TestClientCancelledBeforeStart(t *testing.T) {
	local := memfs.New()
	c := newTestClient(t, DefaultConfig(), WithLocalFS(local))
	require.NoError(t, util.WriteFile(local, "/a.bin", randomData(1<<18), 0o644))
	remoteDir := t.TempDir()
	remote := filepath.Join(remoteDir, "a.bin")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Put(ctx, "/a.bin", remote)
	require.NoError(t, err)
	assert.Equal(t, Cancelled{Source: "/a.bin", Dest: remote}, res)
	uploaded, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.Empty(t, uploaded)

	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "b.bin"), randomData(1<<18), 0o644))
	res, err = c.Get(ctx, filepath.Join(remoteDir, "b.bin"), "/b.bin")
	require.NoError(t, err)
	assert.Equal(t, Cancelled{Source: filepath.Join(remoteDir, "b.bin"), Dest: "/b.bin"}, res)
	assert.Empty(t, readLocal(t, local, "/b.bin"))
}

func TestClientCancelledMidTransfer(t *testing.T) {
	local := memfs.New()
	data := randomData(1 << 20)
	require.NoError(t, util.WriteFile(local, "/up.bin", data, 0o644))
	remoteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "down.bin"), data, 0o644))

	var (
		updates atomic.Int32
		cancel  context.CancelFunc
	)
	c := newTestClient(t, NewConfig(1024, 4), WithLocalFS(local), WithProgress(func(InProgress) {
		if updates.Add(1) == 5 {
			cancel()
		}
	}))

	var ctx context.Context
	ctx, cancel = context.WithCancel(context.Background())
	res, err := c.Get(ctx, filepath.Join(remoteDir, "down.bin"), "/down.bin")
	require.NoError(t, err)
	assert.Equal(t, Cancelled{Source: filepath.Join(remoteDir, "down.bin"), Dest: "/down.bin"}, res)
	got := readLocal(t, local, "/down.bin")
	assert.GreaterOrEqual(t, len(got), 5*1024)
	assert.Less(t, len(got), len(data))
	assert.Equal(t, data[:len(got)], got)

	updates.Store(0)
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	remote := filepath.Join(remoteDir, "up.bin")
	res, err = c.Put(ctx, "/up.bin", remote)
	require.NoError(t, err)
	assert.Equal(t, Cancelled{Source: "/up.bin", Dest: remote}, res)
	uploaded, err := os.ReadFile(remote)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(uploaded), 5*1024)
	assert.Less(t, len(uploaded), len(data))
	assert.Equal(t, data[:len(uploaded)], uploaded)
}

func TestClientProgress(t *testing.T) {
	local := memfs.New()
	var updates []InProgress
	c := newTestClient(t, NewConfig(1000, 3), WithLocalFS(local), WithProgress(func(p InProgress) {
		updates = append(updates, p)
	}))
	require.NoError(t, util.WriteFile(local, "/p.bin", randomData(9500), 0o644))

	_, err := c.Put(context.Background(), "/p.bin", filepath.Join(t.TempDir(), "p.bin"))
	require.NoError(t, err)

	require.Len(t, updates, 10)
	for i := 1; i < len(updates); i++ {
		assert.Greater(t, updates[i].Progress.PercentComplete, updates[i-1].Progress.PercentComplete)
	}
	last := updates[len(updates)-1].Progress
	assert.Equal(t, 100.0, last.PercentComplete)
	assert.Equal(t, uint64(9500), last.TotalBytes)
}

func TestClientTransferErrors(t *testing.T) {
	local := memfs.New()
	c := newTestClient(t, DefaultConfig(), WithLocalFS(local))
	remoteDir := t.TempDir()

	_, err := c.Put(context.Background(), "/missing.bin", filepath.Join(remoteDir, "x"))
	assert.True(t, IsKind(err, KindLocalIO), "%v", err)

	_, err = c.Get(context.Background(), filepath.Join(remoteDir, "missing.bin"), "/x")
	assert.True(t, IsKind(err, KindRemoteIO), "%v", err)

	_, err = c.Get(context.Background(), remoteDir, "/x")
	assert.ErrorIs(t, err, ErrSizeUnknown)
	assert.True(t, IsKind(err, KindRemoteIO), "%v", err)

	require.NoError(t, util.WriteFile(local, "/ok.bin", []byte("data"), 0o644))
	_, err = c.Put(context.Background(), "/ok.bin", filepath.Join(remoteDir, "no", "such", "dir", "ok.bin"))
	assert.True(t, IsKind(err, KindRemoteIO), "%v", err)
}

func TestClientLsListsOnlyRegularFiles(t *testing.T) {
	c := newTestClient(t, DefaultConfig())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.txt"), []byte("22"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "nested.txt"), []byte("333"), 0o644))

	files, err := c.Ls(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	assert.Equal(t, filepath.Join(dir, "one.txt"), files[0].Path)
	assert.Equal(t, filepath.Join(dir, "two.txt"), files[1].Path)
	for i, f := range files {
		assert.Equal(t, Regular, f.Type)
		require.NotNil(t, f.Size)
		assert.Equal(t, uint64(i+1), *f.Size)
		assert.NotNil(t, f.LastModified)
		assert.NotNil(t, f.LastAccessed)
	}
}

func TestClientLsCancelled(t *testing.T) {
	c := newTestClient(t, DefaultConfig())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	files, err := c.Ls(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestClientUseAfterClose(t *testing.T) {
	m, _ := connectedManager(t)
	c, err := m.CreateClient(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Put(context.Background(), "/a", "/b")
	assert.ErrorIs(t, err, ErrClientClosed)
	_, err = c.Ls(context.Background(), "/")
	assert.ErrorIs(t, err, ErrClientClosed)
	require.NoError(t, m.Close())
}

type statInfo struct {
	name string
	stat *sftp.FileStat
}

func (s statInfo) Name() string       { return s.name }
func (s statInfo) Size() int64        { return int64(s.stat.Size) }
func (s statInfo) Mode() os.FileMode  { return 0o644 }
func (s statInfo) ModTime() time.Time { return time.Unix(int64(s.stat.Mtime), 0) }
func (s statInfo) IsDir() bool        { return false }
func (s statInfo) Sys() interface{}   { return s.stat }

func TestFileMetadataOmittedTimes(t *testing.T) {
	md := fileMetadata("/d/a", statInfo{name: "a", stat: &sftp.FileStat{Size: 7, Mtime: 1700000000}})
	require.NotNil(t, md.Size)
	assert.Equal(t, uint64(7), *md.Size)
	assert.Nil(t, md.LastAccessed)
	require.NotNil(t, md.LastModified)
	assert.Equal(t, time.Unix(1700000000, 0), *md.LastModified)

	md = fileMetadata("/d/b", statInfo{name: "b", stat: &sftp.FileStat{Atime: 1600000000}})
	require.NotNil(t, md.LastAccessed)
	assert.Equal(t, time.Unix(1600000000, 0), *md.LastAccessed)
	assert.Nil(t, md.LastModified)
}
