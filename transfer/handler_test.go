package transfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/cloudstorage/filesystem"
)

func newTestFS(t *testing.T) *filesystem.LocalFS {
	t.Helper()
	localFS := filesystem.NewLocalFS(filepath.Join(t.TempDir(), "server"))
	require.NoError(t, localFS.MakeRoot())
	return localFS
}

// smallFS reports free bytes of free space
type smallFS struct {
	*filesystem.LocalFS
	free uint64
}

func (fs *smallFS) StatFS(string) (*sftp.StatVFS, error) {
	return &sftp.StatVFS{Bsize: 1, Frsize: 1, Bfree: fs.free, Bavail: fs.free}, nil
}

func writeFile(t *testing.T, buf *bytes.Buffer, name string, body []byte) {
	t.Helper()
	require.NoError(t, WriteHeader(buf, Header{Name: name, Size: int64(len(body))}))
	buf.Write(body)
}

func readAcks(t *testing.T, out *bytes.Buffer) []string {
	t.Helper()
	var acks []string
	for out.Len() > 0 {
		ack, err := ReadString(out)
		require.NoError(t, err)
		acks = append(acks, ack)
	}
	return acks
}

func TestHandler_StoresFiles(t *testing.T) {
	for _, size := range []int{0, 100, 1024, 1025, 2048} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			localFS := newTestFS(t)
			body := bytes.Repeat([]byte{byte(size)}, size)

			var in, out bytes.Buffer
			writeFile(t, &in, "file.bin", body)

			h := NewHandler("User#1", localFS, discardLogger())
			require.NoError(t, h.Serve(context.Background(), &in, &out))

			assert.Equal(t, []string{"File received: file.bin"}, readAcks(t, &out))
			got, err := os.ReadFile(filepath.Join(localFS.RootDir(), "file.bin"))
			require.NoError(t, err)
			assert.Equal(t, body, got)
		})
	}
}

func TestHandler_SeveralFilesOnOneConnection(t *testing.T) {
	localFS := newTestFS(t)
	var in, out bytes.Buffer
	writeFile(t, &in, "one.txt", []byte("first"))
	writeFile(t, &in, "two.txt", bytes.Repeat([]byte("x"), 3000))

	h := NewHandler("User#1", localFS, discardLogger())
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	assert.Equal(t, []string{"File received: one.txt", "File received: two.txt"}, readAcks(t, &out))
	got, err := os.ReadFile(filepath.Join(localFS.RootDir(), "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestHandler_FailedFileIsSkipped(t *testing.T) {
	localFS := newTestFS(t)
	var in, out bytes.Buffer
	writeFile(t, &in, filepath.Join("missing", "bad.txt"), bytes.Repeat([]byte("b"), 1500))
	writeFile(t, &in, "good.txt", []byte("good"))

	h := NewHandler("User#1", localFS, discardLogger())
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	assert.Equal(t, []string{"File received: good.txt"}, readAcks(t, &out))
	got, err := os.ReadFile(filepath.Join(localFS.RootDir(), "good.txt"))
	require.NoError(t, err)
	assert.Equal(t, "good", string(got))
}

func TestHandler_NegativeSizeIsEmpty(t *testing.T) {
	localFS := newTestFS(t)
	var in, out bytes.Buffer
	require.NoError(t, WriteHeader(&in, Header{Name: "neg.txt", Size: -7}))
	writeFile(t, &in, "after.txt", []byte("after"))

	h := NewHandler("User#1", localFS, discardLogger())
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	assert.Equal(t, []string{"File received: neg.txt", "File received: after.txt"}, readAcks(t, &out))
	info, err := os.Stat(filepath.Join(localFS.RootDir(), "neg.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestHandler_InsufficientStorage(t *testing.T) {
	fs := &smallFS{LocalFS: newTestFS(t), free: 10}
	var in, out bytes.Buffer
	writeFile(t, &in, "big.bin", make([]byte, 11))
	writeFile(t, &in, "small.bin", make([]byte, 10))

	h := NewHandler("User#1", fs, discardLogger())
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	assert.Equal(t, []string{"File received: small.bin"}, readAcks(t, &out))
	_, err := os.Stat(filepath.Join(fs.RootDir(), "big.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorIs(t, h.checkStorage(11), ErrInsufficientStorage)
}

func TestHandler_SandboxRejectsEscape(t *testing.T) {
	localFS := newTestFS(t)
	localFS.SetSandbox(true)
	var in, out bytes.Buffer
	writeFile(t, &in, filepath.Join("..", "escape.txt"), []byte("x"))

	h := NewHandler("User#1", localFS, discardLogger())
	require.NoError(t, h.Serve(context.Background(), &in, &out))

	assert.Empty(t, readAcks(t, &out))
	_, err := os.Stat(filepath.Join(filepath.Dir(localFS.RootDir()), "escape.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHandler_TruncatedBodyEndsConnection(t *testing.T) {
	localFS := newTestFS(t)
	var in, out bytes.Buffer
	require.NoError(t, WriteHeader(&in, Header{Name: "cut.bin", Size: 100}))
	in.Write(make([]byte, 40))

	h := NewHandler("User#1", localFS, discardLogger())
	err := h.Serve(context.Background(), &in, &out)
	assert.Error(t, err)
	assert.Empty(t, readAcks(t, &out))
}

func TestHandler_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var in, out bytes.Buffer
	writeFile(t, &in, "a.txt", []byte("a"))

	h := NewHandler("User#1", newTestFS(t), discardLogger())
	assert.ErrorIs(t, h.Serve(ctx, &in, &out), context.Canceled)
}
