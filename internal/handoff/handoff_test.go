package handoff

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSendRecvFDs(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	f, err := os.CreateTemp(t.TempDir(), "handoff")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, local.SendFDs([]int{int(f.Fd())}))

	buf := make([]int, 4)
	n, err := remote.RecvFDs(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Greater(t, buf[0], 0)
	_ = unix.Close(buf[0])
}

func TestSendRecvFDsTruncates(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	f1, _ := os.CreateTemp(t.TempDir(), "a")
	f2, _ := os.CreateTemp(t.TempDir(), "b")
	defer f1.Close()
	defer f2.Close()

	require.NoError(t, local.SendFDs([]int{int(f1.Fd()), int(f2.Fd())}))

	buf := make([]int, 1)
	n, err := remote.RecvFDs(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSendFDsRejectsTooMany(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	fds := make([]int, MaxFDsPerMessage+1)
	err = local.SendFDs(fds)
	assert.Error(t, err)
}

func TestCompleteRoundTrip(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() { done <- remote.WaitComplete(2 * time.Second) }()

	require.NoError(t, local.SendComplete())
	require.NoError(t, <-done)
}

func TestWaitCompleteTimesOut(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	err = remote.WaitComplete(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitCompleteRejectsGarbage(t *testing.T) {
	local, remote, err := CreateChannel()
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	done := make(chan error, 1)
	go func() { done <- remote.WaitComplete(2 * time.Second) }()

	_, writeErr := unix.Write(local.FD(), []byte("garbage data here"))
	require.NoError(t, writeErr)
	assert.ErrorIs(t, <-done, ErrProtocol)
}
