// Aza Man is a conversational personal-finance assistant.
//
// It keeps one conversation thread per user, lets a language model set up
// a budget, log expenses and do arithmetic through deterministic tools,
// and persists every turn. It runs as an HTTP service or as an
// interactive terminal chat. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	azaman serve                  Start the API server
//	azaman chat [user_id]         Chat in the terminal
//	azaman state <id> [version]   Show a thread's saved budget
//	azaman threads                List threads with saved state
//	azaman history <id> [limit]   List a thread's saved versions
//	azaman usage [hours]          Summarize token usage and cost
//	azaman version                Print version and build information
//	azaman -o json version        Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/azaman/internal/buildinfo"
	"github.com/nugget/azaman/internal/config"
)

// main builds the OS environment and hands off to [run] so the whole
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so run has
// no package-level flag state and tests can call it in parallel.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "chat":
		userID := ""
		if len(cmdArgs) > 0 {
			userID = cmdArgs[0]
		}
		return runChat(ctx, stdin, stdout, stderr, configPath, userID)
	case "state":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: azaman state <user_id|thread_id> [version]")
		}
		return runState(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "threads":
		return runThreads(ctx, stdout, stderr, configPath, outputFmt)
	case "history":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: azaman history <user_id|thread_id> [limit]")
		}
		return runHistory(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Aza Man - Personal Financial Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: azaman [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the API server")
	fmt.Fprintln(w, "  chat [user_id]         Chat in the terminal")
	fmt.Fprintln(w, "  state <id> [version]   Show a thread's saved budget")
	fmt.Fprintln(w, "  threads                List threads with saved state")
	fmt.Fprintln(w, "  history <id> [limit]   List a thread's saved versions")
	fmt.Fprintln(w, "  usage [hours]          Summarize token usage and cost (default 24h)")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}
