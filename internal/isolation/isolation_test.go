package isolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"graphinit/internal/component"
)

func TestSysProcAttrAppliesRequestedNamespaces(t *testing.T) {
	b := New()
	iso := component.Isolation{Namespaces: []component.Namespace{component.NSMount, component.NSNet}}

	attr := b.SysProcAttr(iso)
	assert.NotZero(t, attr.Cloneflags&unix.CLONE_NEWNS)
	assert.NotZero(t, attr.Cloneflags&unix.CLONE_NEWNET)
	assert.Zero(t, attr.Cloneflags&unix.CLONE_NEWPID)
}

func TestSysProcAttrAlwaysSetsSid(t *testing.T) {
	b := New()
	attr := b.SysProcAttr(component.Isolation{})
	assert.True(t, attr.Setsid)
	assert.Zero(t, attr.Cloneflags)
}

func TestSysProcAttrSetsChroot(t *testing.T) {
	b := New()
	attr := b.SysProcAttr(component.Isolation{Root: "/var/lib/sandbox/a"})
	assert.Equal(t, "/var/lib/sandbox/a", attr.Chroot)
}

func TestHasNamespace(t *testing.T) {
	iso := component.Isolation{Namespaces: []component.Namespace{component.NSIPC}}
	assert.True(t, HasNamespace(iso, component.NSIPC))
	assert.False(t, HasNamespace(iso, component.NSUser))
}
