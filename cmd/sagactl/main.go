// Command sagactl inspects the saga run journal and retries compensation
// for inconsistent runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fortressi/resourcesaga"
	"github.com/fortressi/resourcesaga/gateway"
	"github.com/fortressi/resourcesaga/internal/config"
	"github.com/fortressi/resourcesaga/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// deleterFunc builds the delete side used by reconcile. Tests swap it.
var deleterFunc = gatewayDeleter

func gatewayDeleter(cfg config.Config, errOut io.Writer) (resourcesaga.DeleteByKind, error) {
	log, err := logger.New("sagactl", errOut, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	client, err := gateway.New(cfg.Gateway, gateway.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return resourcesaga.GatewayDeleter(client, client), nil
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) < 1 {
		printUsage(errOut)
		return 2
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "path to the YAML config file")
	journalDir := fs.String("journal-dir", "", "journal directory (overrides config)")
	runID := fs.String("run-id", "", "saga run id")
	status := fs.String("status", "", "comma separated statuses to list")
	olderThan := fs.Duration("older-than", 0, "age after which a running run is stale (overrides config)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if *journalDir != "" {
		cfg.Journal.Dir = *journalDir
	}
	if *olderThan > 0 {
		cfg.Journal.StaleAfter = *olderThan
	}

	journal, err := resourcesaga.NewFileJournal(cfg.Journal.Dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	needsRun := args[0] == "show" || args[0] == "reconcile" || args[0] == "forget"
	if needsRun && *runID == "" {
		fmt.Fprintf(errOut, "--run-id is required for %s\n", args[0])
		return 2
	}

	switch args[0] {
	case "list":
		err = listRuns(ctx, journal, parseStatuses(*status), out)
	case "show":
		err = showRun(ctx, journal, *runID, out)
	case "stale":
		err = staleRuns(ctx, journal, cfg.Journal.StaleAfter, out)
	case "reconcile":
		err = reconcileRun(ctx, journal, cfg, *runID, out, errOut)
	case "forget":
		err = journal.Delete(ctx, *runID)
	default:
		printUsage(errOut)
		return 2
	}
	if err != nil {
		fmt.Fprintf(errOut, "%s failed: %v\n", args[0], err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sagactl list [--status running,inconsistent]  - List saga runs")
	fmt.Fprintln(w, "  sagactl show --run-id ID                      - Show one run as JSON")
	fmt.Fprintln(w, "  sagactl stale [--older-than 15m]              - List runs needing reconciliation")
	fmt.Fprintln(w, "  sagactl reconcile --run-id ID                 - Retry deleting orphaned resources")
	fmt.Fprintln(w, "  sagactl forget --run-id ID                    - Remove a run from the journal")
	fmt.Fprintln(w, "\nCommon flags: --config FILE, --journal-dir DIR")
}

func parseStatuses(s string) []resourcesaga.RunStatus {
	var out []resourcesaga.RunStatus
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, resourcesaga.RunStatus(part))
		}
	}
	return out
}

func listRuns(ctx context.Context, j resourcesaga.Journal, statuses []resourcesaga.RunStatus, out io.Writer) error {
	runs, err := j.List(ctx, statuses...)
	if err != nil {
		return err
	}
	return printRuns(runs, out)
}

func staleRuns(ctx context.Context, j resourcesaga.Journal, olderThan time.Duration, out io.Writer) error {
	runs, err := resourcesaga.FindStale(ctx, j, olderThan, time.Now())
	if err != nil {
		return err
	}
	return printRuns(runs, out)
}

func printRuns(runs []resourcesaga.RunRecord, out io.Writer) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No saga runs found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tKIND\tSTATUS\tSTAGE\tHANDLES\tORPHANED\tUPDATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Kind, r.Status, orDash(r.Stage), len(r.Handles), len(r.Orphaned),
			r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func showRun(ctx context.Context, j resourcesaga.Journal, runID string, out io.Writer) error {
	rec, err := j.Load(ctx, runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func reconcileRun(ctx context.Context, j resourcesaga.Journal, cfg config.Config, runID string, out, errOut io.Writer) error {
	del, err := deleterFunc(cfg, errOut)
	if err != nil {
		return err
	}

	rec, err := resourcesaga.Reconcile(ctx, j, runID, del, time.Now().UTC())
	if rec != nil && !errors.Is(err, resourcesaga.ErrNotReconcilable) {
		fmt.Fprintf(out, "run %s is %s, %d resource(s) still orphaned\n", rec.RunID, rec.Status, len(rec.Orphaned))
	}
	return err
}
