// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/tempo/pkg/audit"
)

func runAudit(ctx context.Context, global globalFlags, args []string) int {
	if len(args) == 0 || args[0] != "list" {
		return reportError(os.Stderr, NewInvalidArgumentError("audit", "expected 'audit list'"), global.JSON)
	}
	fs := flag.NewFlagSet("audit list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	target := fs.String("audit", "", "Audit target (sqlite:<path>)")
	session := fs.String("session", "", "Only events of this session or run")
	kind := fs.String("kind", "", "Only events of this kind")
	intentionName := fs.String("intention", "", "Only events involving this intention")
	limit := fs.Int("limit", 0, "Maximum number of events")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args[1:]); err != nil {
		return reportError(os.Stderr, NewInvalidArgumentError("audit list", err.Error()), global.JSON)
	}
	jsonOut := global.JSON || *asJSON

	filter, err := auditFilter(*session, *kind, *intentionName, *limit)
	if err != nil {
		return reportError(os.Stderr, NewInvalidArgumentError("audit list", err.Error()), jsonOut)
	}

	_, cfg, err := loadConfig(global)
	if err != nil {
		return reportError(os.Stderr, err, jsonOut)
	}
	driver, dsn, ok := auditTarget(*target, cfg)
	if !ok {
		return reportError(os.Stderr, NewInvalidArgumentError("--audit", "no audit target given and audit.enabled is false"), jsonOut)
	}
	store, closeFn, err := audit.Open(ctx, driver, dsn)
	if err != nil {
		return reportError(os.Stderr, NewAuditError(err, driver+":"+dsn), jsonOut)
	}
	defer closeFn()

	events, err := store.List(ctx, filter)
	if err != nil {
		return reportError(os.Stderr, NewAuditError(err, driver+":"+dsn), jsonOut)
	}
	if jsonOut {
		writeJSON(os.Stdout, events)
		return 0
	}
	printEvents(os.Stdout, events)
	return 0
}

func auditFilter(session, kind, intentionName string, limit int) (audit.Filter, error) {
	if limit < 0 {
		return audit.Filter{}, fmt.Errorf("--limit must not be negative")
	}
	k := audit.Kind(strings.ToLower(strings.TrimSpace(kind)))
	switch k {
	case "", audit.KindSwitch, audit.KindScoreFault, audit.KindActionFault, audit.KindReset, audit.KindCancel:
	default:
		return audit.Filter{}, fmt.Errorf("unknown event kind %q", kind)
	}
	return audit.Filter{SessionID: session, Kind: k, Intention: intentionName, Limit: limit}, nil
}

func printEvents(w io.Writer, events []audit.Event) {
	tw := newTabWriter(w)
	writeRow(tw, "SESSION", "TICK", "TIME", "KIND", "FROM", "TO", "SCORE", "DETAIL")
	for _, ev := range events {
		writeRow(tw,
			ev.SessionID,
			strconv.FormatUint(ev.Tick, 10),
			fmt.Sprintf("%.3f", ev.Time),
			string(ev.Kind),
			ev.From,
			ev.To,
			fmt.Sprintf("%.3f", ev.Score),
			detailCell(ev.Detail),
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d event(s)\n", len(events))
}

func detailCell(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
