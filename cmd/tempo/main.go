// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Command tempo replays scripted fixtures through the behavior core and
// inspects the decision audit log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("global flags", err.Error()), false)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	var code int
	switch args[0] {
	case "replay":
		code = runReplay(ctx, global, args[1:])
	case "validate":
		code = runValidate(ctx, global, args[1:])
	case "audit":
		code = runAudit(ctx, global, args[1:])
	case "version":
		printVersion(os.Stdout, global.JSON)
	case "help":
		printUsage(os.Stdout)
	default:
		fatal(NewInvalidArgumentError(args[0], "unknown command"), global.JSON)
	}
	stop()
	os.Exit(code)
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, _, hasInline := strings.Cut(arg, "=")
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
		case "--config", "--profile", "--env", "--set":
			if hasInline {
				flags.ConfigArgs = append(flags.ConfigArgs, arg)
				continue
			}
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion(w io.Writer, asJSON bool) {
	if asJSON {
		writeJSON(w, map[string]string{"version": version})
		return
	}
	fmt.Fprintf(w, "tempo %s\n", version)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Tempo behavior core CLI

Usage:
  tempo [global flags] <command> [args]

Global flags:
  --config <path>      YAML configuration file
  --profile <name>     Overlay <config>.<name>.yaml (alias --env)
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  replay --fixture <path> [--audit <target>] [--run-id <id>] [--pace <dur>] [--watch]
  validate --fixture <path>
  audit list --audit <target> [--session <id>] [--kind <kind>] [--intention <name>] [--limit N]
  version

Audit targets are "memory", "sqlite:<path>" or a bare SQLite file path.`)
}

func writeJSON(w io.Writer, value any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal(err, false)
	}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.ReplaceAll(value, "\t", " ")
}

func fatal(err error, asJSON bool) {
	os.Exit(reportError(os.Stderr, err, asJSON))
}
