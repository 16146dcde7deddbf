// Package checkpoint is the Checkpoint Store of spec.md §4.10: a
// per-component directory hierarchy under an ephemeral root (upgrade
// scratch space) and a persistent root (operator backups and the
// kernel-transition manifest), each entry carrying a JSON metadata
// sidecar.
//
// Directory layout, monotonic timestamp ids, and the validation rule
// (directory exists, minimum sidecar files present by prefix match) follow
// checkpoint-mgmt.c's checkpoint_create_directory/checkpoint_save_metadata/
// checkpoint_load_metadata/checkpoint_list_checkpoints/checkpoint_cleanup,
// translated from hand-rolled line-oriented JSON onto encoding/json, and
// from an intrusive linked list onto a sorted Go slice. Metadata writes go
// through github.com/google/renameio/v2 for atomic replace-on-write,
// matching the durability goal the original achieved with fopen+fclose at a
// fixed path (no torn sidecar after a crash mid-write).
//
// The checkpoint-image engine itself (process-memory checkpoint/restore) is
// an external collaborator; this package only consumes it through the
// Engine interface.
package checkpoint
