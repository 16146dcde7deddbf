package control

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "graph-resolver.sock")
	srv, err := Listen(sockPath)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	go func() {
		req := <-srv.Requests()
		assert.Equal(t, "status", req.Line)
		req.Reply("all good")
	}()

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("status\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "all good\n", line)
}

func TestServerIgnoresBlankLines(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "graph-resolver.sock")
	srv, err := Listen(sockPath)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	_, err = conn.Write([]byte("\n"))
	require.NoError(t, err)
	conn.Close()

	select {
	case <-srv.Requests():
		t.Fatal("blank line should not produce a request")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "graph-resolver.sock")
	first, err := Listen(sockPath)
	require.NoError(t, err)
	first.ln.Close() // simulate an unclean shutdown: listener gone, file remains

	second, err := Listen(sockPath)
	require.NoError(t, err)
	defer second.Close()
}
