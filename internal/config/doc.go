// Package config is the declaration loader named as an external
// collaborator in spec.md §1/§6: it reads the flat directory of
// *.toml declaration files under the declaration directory (by
// default /etc/graph.d) and turns each into a component.Declaration.
//
// Parsing uses github.com/BurntSushi/toml, the TOML library already present
// in the retrieval pack's sysbox-libs family. Declaration errors (missing
// name, missing binary, duplicate name, unknown section) are collected
// per-file so one bad file never blocks the rest of the directory from
// loading (spec.md §7).
package config
