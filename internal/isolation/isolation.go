package isolation

import (
	"syscall"

	"golang.org/x/sys/unix"

	"graphinit/internal/component"
)

// Builder turns a component's declared isolation into a SysProcAttr.
type Builder struct{}

// New returns a Builder.
func New() *Builder { return &Builder{} }

// SysProcAttr builds the clone flags and chroot for iso, satisfying
// supervisor.Isolator.
func (b *Builder) SysProcAttr(iso component.Isolation) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setsid: true}

	var flags uintptr
	for _, ns := range iso.Namespaces {
		switch ns {
		case component.NSMount:
			flags |= unix.CLONE_NEWNS
		case component.NSPID:
			flags |= unix.CLONE_NEWPID
		case component.NSNet:
			flags |= unix.CLONE_NEWNET
		case component.NSUTS:
			flags |= unix.CLONE_NEWUTS
		case component.NSIPC:
			flags |= unix.CLONE_NEWIPC
		case component.NSUser:
			flags |= unix.CLONE_NEWUSER
		}
	}
	if flags != 0 {
		attr.Cloneflags = flags
	}
	if iso.Root != "" {
		attr.Chroot = iso.Root
	}
	return attr
}

// HasNamespace reports whether iso requests ns.
func HasNamespace(iso component.Isolation, ns component.Namespace) bool {
	for _, n := range iso.Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}
