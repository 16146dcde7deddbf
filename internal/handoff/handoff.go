package handoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"graphinit/pkg/logging"
)

// MaxFDsPerMessage bounds a single send_fds call (spec.md §4.8: "up to 32
// fds atomically").
const MaxFDsPerMessage = 32

// CompleteToken is the fixed 17-byte completion token written by
// send_complete and validated by wait_complete.
const CompleteToken = "HANDOFF_COMPLETE\n"

// ErrTimeout is returned by WaitComplete when no token arrives in time.
var ErrTimeout = errors.New("handoff: timed out waiting for completion token")

// ErrProtocol is returned when a read produces the wrong byte sequence.
var ErrProtocol = errors.New("handoff: invalid completion message")

// Endpoint is one end of a handoff channel: a connected AF_UNIX
// SOCK_STREAM file descriptor.
type Endpoint struct {
	fd int
	id string
}

// CreateChannel returns a pair of connected endpoints (a Unix socketpair),
// matching create_handoff_socketpair. Both endpoints share a correlation id
// so the parent's and child's independent log streams can be tied back to
// the same handoff.
func CreateChannel() (local, remote *Endpoint, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("handoff: socketpair: %w", err)
	}
	id := uuid.NewString()
	return &Endpoint{fd: fds[0], id: id}, &Endpoint{fd: fds[1], id: id}, nil
}

// FD returns the endpoint's raw file descriptor, for dup2'ing into a child
// at the fixed fd number the Upgrade Coordinator's Tier 2 uses.
func (e *Endpoint) FD() int { return e.fd }

// ID returns the channel's correlation id, shared by both endpoints.
func (e *Endpoint) ID() string { return e.id }

// Close closes the endpoint's file descriptor.
func (e *Endpoint) Close() error {
	return unix.Close(e.fd)
}

// SendFDs transfers up to MaxFDsPerMessage fds atomically as SCM_RIGHTS
// ancillary data on a one-byte payload (send_fds).
func (e *Endpoint) SendFDs(fds []int) error {
	if len(fds) == 0 || len(fds) > MaxFDsPerMessage {
		return fmt.Errorf("handoff: send_fds: invalid fd count %d (max %d)", len(fds), MaxFDsPerMessage)
	}
	rights := unix.UnixRights(fds...)
	if err := unix.Sendmsg(e.fd, []byte{1}, rights, nil, 0); err != nil {
		return fmt.Errorf("handoff: sendmsg: %w", err)
	}
	logging.Info("Handoff", "[%s] sent %d file descriptors over handoff socket", e.id, len(fds))
	return nil
}

// RecvFDs receives up to len(buf) fds, returning the count actually
// received. A message carrying more fds than buf can hold is truncated and
// the truncation is logged (recv_fds).
func (e *Endpoint) RecvFDs(buf []int) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("handoff: recv_fds: zero-length buffer")
	}
	oob := make([]byte, unix.CmsgSpace(len(buf)*4))
	p := make([]byte, 1)

	_, oobn, _, _, err := unix.Recvmsg(e.fd, p, oob, 0)
	if err != nil {
		return 0, fmt.Errorf("handoff: recvmsg: %w", err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, fmt.Errorf("handoff: parse control message: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		n := len(fds)
		if n > len(buf) {
			logging.Warn("Handoff", "[%s] received %d fds but can only handle %d, truncating", e.id, n, len(buf))
			for _, extra := range fds[len(buf):] {
				_ = unix.Close(extra)
			}
			n = len(buf)
		}
		copy(buf, fds[:n])
		logging.Info("Handoff", "[%s] received %d file descriptors over handoff socket", e.id, n)
		return n, nil
	}
	logging.Warn("Handoff", "[%s] received message but no file descriptors found", e.id)
	return 0, nil
}

// SendComplete writes the fixed completion token (send_complete).
func (e *Endpoint) SendComplete() error {
	n, err := unix.Write(e.fd, []byte(CompleteToken))
	if err != nil {
		return fmt.Errorf("handoff: write completion token: %w", err)
	}
	if n != len(CompleteToken) {
		return fmt.Errorf("handoff: short write of completion token (%d/%d bytes)", n, len(CompleteToken))
	}
	logging.Info("Handoff", "[%s] sent handoff complete message", e.id)
	return nil
}

// WaitComplete reads and validates the completion token within timeout
// (wait_complete). Any other byte sequence, or a timeout, is an error.
func (e *Endpoint) WaitComplete(timeout time.Duration) error {
	pfds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfds, int(timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("handoff: poll: %w", err)
	}
	if n == 0 {
		logging.Warn("Handoff", "[%s] timeout waiting for handoff complete message", e.id)
		return ErrTimeout
	}

	buf := make([]byte, len(CompleteToken)+1)
	nr, err := unix.Read(e.fd, buf)
	if err != nil {
		return fmt.Errorf("handoff: read completion token: %w", err)
	}
	if string(buf[:nr]) != CompleteToken {
		logging.Error("Handoff", nil, "[%s] received invalid handoff message: %q", e.id, string(buf[:nr]))
		return ErrProtocol
	}
	logging.Info("Handoff", "[%s] received handoff complete message", e.id)
	return nil
}
