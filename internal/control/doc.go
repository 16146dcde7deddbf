// Package control is the control-channel server of spec.md §4.12/§6: a Unix
// stream socket accepting newline-terminated text commands, one request per
// connection, with a text response before the connection closes.
//
// The accept-loop/channel handoff shape (goroutine-per-connection reading a
// line, then blocking on a reply channel so the single event-loop thread
// still performs the actual dispatch) follows the request/response pattern
// in giantswarm-muster's internal/api server package; the command grammar
// itself is grounded on control.c/control.h in the original implementation.
package control
