package control

import (
	"strconv"
	"strings"
)

// Dependencies is everything Dispatch needs from the rest of the system.
// Implemented by a facade in internal/eventloop that has access to the
// Component Table, Capability Registry, graph, resolver, upgrade
// coordinator, checkpoint store, and kernel-transition coordinator.
type Dependencies interface {
	Status() string
	Capabilities() string
	Tree(component string) (string, error)
	ReverseDeps(capability string) (string, error)
	SimulateRemove(component string) (string, error)
	DOT() string
	Log(component string, lines int) (string, error)
	Readiness() string
	CheckReadiness(component string) (string, error)
	Upgrade(component string) (string, error)
	Checkpoint(component string) (string, error)
	Restore(component, id string) (string, error)
	CheckpointList(component string) (string, error)
	CheckpointRemove(component, id string) (string, error)
	Migrate(component string) (string, error)
	CheckCycles() (string, error)
	Analyze() (string, error)
	Validate() (string, error)
	Path(cap1, cap2 string) (string, error)
	SCC() (string, error)
	Kexec(dryRun bool, kernel, initrd, cmdline string) (string, error)
}

const usageHint = "usage: status|caps|tree <c>|rdeps <cap>|simulate remove <c>|dot|log <c> [n]|" +
	"readiness|check-readiness [c]|upgrade <c>|checkpoint <c>|restore <c> [id]|" +
	"checkpoint-list [c]|checkpoint-rm <c> <id>|migrate <c>|check-cycles|analyze|validate|" +
	"path <cap1> <cap2>|scc|kexec [--dry-run] <kernel> [--initrd <p>] [--append \"<cmdline>\"]"

// Dispatch parses and executes one command line, returning the response
// text (spec.md §6's control-channel request grammar). Unknown commands
// return a usage hint rather than an error.
func Dispatch(deps Dependencies, line string) string {
	fields := tokenize(line)
	if len(fields) == 0 {
		return usageHint
	}

	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "status":
		return deps.Status()
	case "caps":
		return deps.Capabilities()
	case "tree":
		return result1(deps.Tree, args, "tree <component>")
	case "rdeps":
		return result1(deps.ReverseDeps, args, "rdeps <capability>")
	case "simulate":
		if len(args) != 2 || args[0] != "remove" {
			return "usage: simulate remove <component>"
		}
		return resultOrErr(deps.SimulateRemove(args[1]))
	case "dot":
		return deps.DOT()
	case "log":
		return dispatchLog(deps, args)
	case "readiness":
		return deps.Readiness()
	case "check-readiness":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return resultOrErr(deps.CheckReadiness(name))
	case "upgrade":
		return result1(deps.Upgrade, args, "upgrade <component>")
	case "checkpoint":
		return result1(deps.Checkpoint, args, "checkpoint <component>")
	case "restore":
		return dispatchRestore(deps, args)
	case "checkpoint-list":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return resultOrErr(deps.CheckpointList(name))
	case "checkpoint-rm":
		if len(args) != 2 {
			return "usage: checkpoint-rm <component> <id>"
		}
		return resultOrErr(deps.CheckpointRemove(args[0], args[1]))
	case "migrate":
		return result1(deps.Migrate, args, "migrate <component>")
	case "check-cycles":
		return resultOrErr(deps.CheckCycles())
	case "analyze":
		return resultOrErr(deps.Analyze())
	case "validate":
		return resultOrErr(deps.Validate())
	case "path":
		if len(args) != 2 {
			return "usage: path <cap1> <cap2>"
		}
		return resultOrErr(deps.Path(args[0], args[1]))
	case "scc":
		return resultOrErr(deps.SCC())
	case "kexec":
		return dispatchKexec(deps, args)
	default:
		return usageHint
	}
}

func result1(fn func(string) (string, error), args []string, usage string) string {
	if len(args) != 1 {
		return "usage: " + usage
	}
	return resultOrErr(fn(args[0]))
}

func resultOrErr(text string, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return text
}

func dispatchLog(deps Dependencies, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "usage: log <component> [lines]"
	}
	lines := 20
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "usage: log <component> [lines]"
		}
		lines = n
	}
	return resultOrErr(deps.Log(args[0], lines))
}

func dispatchRestore(deps Dependencies, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "usage: restore <component> [id]"
	}
	id := ""
	if len(args) == 2 {
		id = args[1]
	}
	return resultOrErr(deps.Restore(args[0], id))
}

func dispatchKexec(deps Dependencies, args []string) string {
	var dryRun bool
	var kernel, initrd, cmdline string
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			dryRun = true
		case "--initrd":
			if i+1 >= len(args) {
				return "usage: kexec [--dry-run] <kernel> [--initrd <p>] [--append \"<cmdline>\"]"
			}
			i++
			initrd = args[i]
		case "--append":
			if i+1 >= len(args) {
				return "usage: kexec [--dry-run] <kernel> [--initrd <p>] [--append \"<cmdline>\"]"
			}
			i++
			cmdline = args[i]
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) != 1 {
		return "usage: kexec [--dry-run] <kernel> [--initrd <p>] [--append \"<cmdline>\"]"
	}
	kernel = positional[0]
	return resultOrErr(deps.Kexec(dryRun, kernel, initrd, cmdline))
}

// tokenize splits a command line on whitespace, honoring a single level of
// double-quoted segments (for --append "<cmdline with spaces>").
func tokenize(line string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	flush := func() {
		if hasCur {
			out = append(out, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCur = true
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
			hasCur = true
		}
	}
	flush()
	return out
}
