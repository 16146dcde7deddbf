// Package logging provides the structured logging system used across
// graphinit's core: a package-level slog.Logger configured once at process
// start, with subsystem-tagged helper functions for the common severities.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Resolver", "component %s entered ACTIVE", name)
//	logging.Error("Supervisor", err, "fork/exec failed for %s", name)
//
// Unlike a general-purpose CLI tool, graphinit runs as PID 1: logging must
// never block the event loop and must never be the reason a fallible call
// site panics or exits. logInternal therefore always degrades to a stderr
// fallback rather than failing.
package logging
