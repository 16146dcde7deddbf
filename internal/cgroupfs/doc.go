// Package cgroupfs writes cgroup v2 resource limits for a component and
// polls its memory.events file for OOM kills, the two external-collaborator
// surfaces spec.md §4.6 and §4.12 need from resource isolation: cgroup
// creation, process attachment, and oom-event polling on the periodic tick.
//
// There is no reference cgroup v2 writer in the retrieval pack; this
// package is grounded on nestybox-sysbox-libs' style of thin, explicit
// /sys/fs/cgroup path construction, using only the standard library (os,
// strconv, path/filepath) rather than introducing a heavier cgroup
// management library for a half-dozen key=value writes.
package cgroupfs
