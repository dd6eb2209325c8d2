//go:build linux || darwin

package browse

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telebroad/cloudstorage/filesystem"
	"golang.org/x/sys/unix"
)

func startTestServer(t *testing.T, framing Framing) (*Server, <-chan error) {
	t.Helper()
	localFS := filesystem.NewLocalFS(filepath.Join(t.TempDir(), "server"))
	require.NoError(t, localFS.MakeRoot())

	srv := NewServer("127.0.0.1:0", localFS)
	srv.Framing = framing
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, srv.Listen())

	errC := make(chan error, 1)
	go func() {
		errC <- srv.Serve()
	}()
	t.Cleanup(func() {
		srv.Close()
	})
	return srv, errC
}

func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
	})
	return c
}

func readReply(t *testing.T, c net.Conn, size int) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, size)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestServer_ListAndUnknown(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)
	root := srv.FS.RootDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	c := dialTestServer(t, srv)

	_, err := c.Write([]byte("ls\r\n"))
	require.NoError(t, err)
	want := dirLine(filepath.Join(root, "docs"))
	assert.Equal(t, want, readReply(t, c, len(want)))

	_, err = c.Write([]byte("foo bar\n"))
	require.NoError(t, err)
	want = "unrecognized command: foo bar" + LineEnd
	assert.Equal(t, want, readReply(t, c, len(want)))
}

func TestServer_PipelinedCommandsInOneCycle(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)
	c := dialTestServer(t, srv)

	_, err := c.Write([]byte("ls\nls"))
	require.NoError(t, err)
	want := "unrecognized command: ls\nls" + LineEnd
	assert.Equal(t, want, readReply(t, c, len(want)))
}

func TestServer_LineFraming(t *testing.T) {
	srv, _ := startTestServer(t, FramingLine)
	c := dialTestServer(t, srv)

	_, err := c.Write([]byte("mkdir a\nmkdir a\n"))
	require.NoError(t, err)
	dir := filepath.Join(srv.FS.RootDir(), "a")
	want := "directory created: " + dirLine(dir) + dir + " already exists" + LineEnd
	assert.Equal(t, want, readReply(t, c, len(want)))
}

func TestServer_ExitClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)
	c := dialTestServer(t, srv)

	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err := c.Write([]byte("exit\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_SessionsAreIndependent(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)
	root := srv.FS.RootDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	first := dialTestServer(t, srv)
	second := dialTestServer(t, srv)

	_, err := first.Write([]byte("cd docs"))
	require.NoError(t, err)
	want := dirLine(filepath.Join(root, "docs"))
	assert.Equal(t, want, readReply(t, first, len(want)))

	_, err = second.Write([]byte("cd.."))
	require.NoError(t, err)
	want = dirLine(root)
	assert.Equal(t, want, readReply(t, second, len(want)))
}

func TestServer_CloseStopsServe(t *testing.T) {
	srv, errC := startTestServer(t, FramingCycle)
	c := dialTestServer(t, srv)
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.Zero(t, srv.Sessions())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)

	assert.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Listen(), ErrServerClosed)
}

func TestServer_ListenBusyAddress(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)

	other := NewServer(srv.ListenAddr().String(), srv.FS)
	other.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, other.Listen())
}

func TestServer_CloseWhilePeerNotReading(t *testing.T) {
	srv, errC := startTestServer(t, FramingCycle)
	line := strings.Repeat("x", 99) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(srv.FS.RootDir(), "big.txt"), []byte(strings.Repeat(line, 200_000)), 0o644))

	c := dialTestServer(t, srv)
	_, err := c.Write([]byte("cat big.txt"))
	require.NoError(t, err)

	// the reply does not fit in the socket buffers, the loop waits for this peer to read
	time.Sleep(500 * time.Millisecond)

	closed := make(chan error, 1)
	go func() {
		closed <- srv.Close()
	}()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return while a peer is not reading")
	}
	assert.ErrorIs(t, <-errC, ErrServerClosed)
	assert.Zero(t, srv.Sessions())
}

func TestServer_PeerCloseRemovesSession(t *testing.T) {
	srv, _ := startTestServer(t, FramingCycle)
	c := dialTestServer(t, srv)
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)

	// the loop keeps serving other connections
	other := dialTestServer(t, srv)
	_, err := other.Write([]byte("cd"))
	require.NoError(t, err)
	want := dirLine(srv.FS.RootDir())
	assert.Equal(t, want, readReply(t, other, len(want)))
}

// newPairConn registers one end of a socket pair as a connection of srv and returns the other end
func newPairConn(t *testing.T, srv *Server) (*conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[1])
	})
	require.NoError(t, unix.SetNonblock(fds[0], true))

	c := &conn{
		fd:          fds[0],
		wake:        -1,
		remote:      "pair",
		reassembler: NewReassembler(srv.Framing),
	}
	c.session = newSession(1, c.remote, c, srv.FS, "", srv.Logger())
	srv.sessions.Add(c.fd, c)
	return c, fds[1]
}

func newTestReactorServer(t *testing.T) (*Server, *reactor) {
	t.Helper()
	localFS := filesystem.NewLocalFS(filepath.Join(t.TempDir(), "server"))
	require.NoError(t, localFS.MakeRoot())
	require.NoError(t, os.Mkdir(filepath.Join(localFS.RootDir(), "docs"), 0o755))

	srv := NewServer("127.0.0.1:0", localFS)
	srv.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, &reactor{listenFD: -1, wake: [2]int{-1, -1}, buf: make([]byte, readBufferSize)}
}

func TestHandleRead_DispatchesDrainedBytes(t *testing.T) {
	srv, r := newTestReactorServer(t)
	c, peer := newPairConn(t, srv)
	defer srv.closeConn(c, nil)

	_, err := unix.Write(peer, []byte("ls"))
	require.NoError(t, err)
	srv.handleRead(r, c)

	assert.Equal(t, 1, srv.Sessions())
	buf := make([]byte, 256)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, dirLine(filepath.Join(srv.FS.RootDir(), "docs")), string(buf[:n]))
}

func TestHandleRead_HalfCloseDropsCycleBytes(t *testing.T) {
	srv, r := newTestReactorServer(t)
	c, peer := newPairConn(t, srv)

	_, err := unix.Write(peer, []byte("ls"))
	require.NoError(t, err)
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	srv.handleRead(r, c)

	assert.Zero(t, srv.Sessions())
	// no reply for the drained ls, only the end of stream
	n, err := unix.Read(peer, make([]byte, 256))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleAccept_FailurePausesListener(t *testing.T) {
	srv, r := newTestReactorServer(t)
	srv.reactor = r
	assert.Equal(t, -1, r.pollSet(nil))
	assert.Equal(t, int16(unix.POLLIN), r.pollFDs[1].Events)

	// accepting on a closed descriptor fails without EAGAIN
	srv.handleAccept(r)
	require.True(t, r.acceptPaused)
	assert.Equal(t, int(acceptRetry/time.Millisecond), r.pollSet(nil))
	assert.Zero(t, r.pollFDs[1].Events)

	c, _ := newPairConn(t, srv)
	srv.closeConn(c, nil)
	assert.False(t, r.acceptPaused)
	assert.Equal(t, -1, r.pollSet(nil))
}
