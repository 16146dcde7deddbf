// Package eventloop is the Event Loop of spec.md §4.12: the single thread
// that multiplexes child-exit wakes, the control channel, declaration-
// directory reloads, and the periodic tick, calling resolve_full() whenever
// any source produced a change.
//
// The select-over-channels shape mirrors runOrchestrator in
// giantswarm-muster's internal/app/modes.go (signal.Notify into a buffered
// channel, block in one select, graceful-shutdown on SIGTERM/SIGINT); the
// extra wake sources (child exits, fsnotify, the control socket, the tick)
// are added channels in the same select, which is the idiomatic Go
// translation of spec.md's self-pipe/declaration-watch/control-accept/timer
// multiplexing (see REDESIGN FLAGS "Signal-driven wake").
package eventloop
