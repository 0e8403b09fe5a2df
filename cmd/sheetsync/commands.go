package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	sheetsync "github.com/ideamans/go-sheetsync"
)

var (
	runWhere       []string
	runTier        string
	runTiers       []string
	runKind        string
	runDelete      []int
	runPrepareOnly bool

	resumeRetryFailed bool

	watchInterval time.Duration
)

func init() {
	runCmd.Flags().StringArrayVarP(&runWhere, "where", "w", nil, "row filter column:op[:value], repeatable (op: == != > >= < <= in contains empty notempty)")
	runCmd.Flags().StringVar(&runTier, "tier", "", "default priority tier (low, normal, high, critical)")
	runCmd.Flags().StringArrayVar(&runTiers, "row-tier", nil, "per-row tier as row=tier, repeatable")
	runCmd.Flags().StringVar(&runKind, "kind", "", "resource kind for rows without a _kind column (overrides default_kind)")
	runCmd.Flags().IntSliceVar(&runDelete, "delete", nil, "row numbers whose remote resource should be deleted")
	runCmd.Flags().BoolVar(&runPrepareOnly, "prepare-only", false, "persist the session without dispatching")

	resumeCmd.Flags().BoolVar(&resumeRetryFailed, "retry-failed", false, "move failed items back to pending before resuming")

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "time between slices (default: engine.sync_interval)")
	watchCmd.Flags().StringArrayVarP(&runWhere, "where", "w", nil, "row filter column:op[:value], repeatable")
	watchCmd.Flags().StringVar(&runTier, "tier", "", "default priority tier")
	watchCmd.Flags().StringVar(&runKind, "kind", "", "resource kind for rows without a _kind column")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect changed rows and push them to the remote",
	Long: `Load the sheet, detect rows whose fingerprint changed, queue them by priority
and dispatch them in batches. Sync results (id, fingerprint, timestamp) are
written back to the sheet after every batch.

Fails if the dataset already has an active session; resume or clean it up first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), cfgFilePath)
		if err != nil {
			return err
		}
		defer e.Close()

		opts, err := buildOptions(e.cfg, cmd)
		if err != nil {
			return err
		}
		result, err := e.orchestrator.Run(cmd.Context(), opts)
		printResult(cmd.OutOrStdout(), result)
		return exitError(result, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Continue a persisted session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), cfgFilePath)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.orchestrator.Resume(cmd.Context(), args[0], sheetsync.ResumeOptions{
			RetryFailed: resumeRetryFailed,
			Progress:    progressLogger,
		})
		printResult(cmd.OutOrStdout(), result)
		return exitError(result, err)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <session-id>",
	Short: "Discard a persisted session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), cfgFilePath)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.orchestrator.Cleanup(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s removed\n", args[0])
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [session-id]",
	Short: "Show a session's progress (default: the active session)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context(), cfgFilePath)
		if err != nil {
			return err
		}
		defer e.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		} else {
			id, err = e.orchestrator.ActiveSession(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No active session for %s\n", e.cfg.DatasetID)
				return nil
			}
		}

		s, err := e.orchestrator.Summary(cmd.Context(), id)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run periodically until interrupted",
	Long: `Run a slice immediately and then on every interval. Each slice resumes the
active session if there is one and starts a new run otherwise. On SIGINT or
SIGTERM the running slice stops at the next item and stays resumable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, cfgFilePath)
		if err != nil {
			return err
		}
		defer e.Close()

		opts, err := buildOptions(e.cfg, cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		scheduler := sheetsync.NewScheduler(e.orchestrator, watchInterval, opts, func(result *sheetsync.RunResult, err error) {
			if err != nil {
				logger.Error("slice failed", "error", err)
			}
			printResult(out, result)
		})

		scheduler.RunOnce(ctx)
		scheduler.Start(ctx)
		logger.Info("watching", "dataset", e.cfg.DatasetID)
		<-ctx.Done()
		scheduler.Stop()
		return nil
	},
}

func buildOptions(cfg *fileConfig, cmd *cobra.Command) (sheetsync.Options, error) {
	opts := sheetsync.Options{
		DefaultKind:   sheetsync.ResourceKind(cfg.DefaultKind),
		Delete:        runDelete,
		PrepareOnly:   runPrepareOnly,
		SourceContext: cmd.Name(),
		Progress:      progressLogger,
	}
	if runKind != "" {
		kind := sheetsync.ResourceKind(runKind)
		if !sheetsync.KnownKind(kind) {
			return opts, fmt.Errorf("unknown kind %q", runKind)
		}
		opts.DefaultKind = kind
	}
	if runTier != "" {
		tier, err := sheetsync.ParseTier(runTier)
		if err != nil {
			return opts, err
		}
		opts.Tier = tier
	}
	if len(runTiers) > 0 {
		tiers, err := parseRowTiers(runTiers)
		if err != nil {
			return opts, err
		}
		opts.Tiers = tiers
	}
	for _, w := range runWhere {
		cond, err := parseCondition(w)
		if err != nil {
			return opts, err
		}
		opts.Where = append(opts.Where, cond)
	}
	if err := sheetsync.ValidateConditions(opts.Where); err != nil {
		return opts, err
	}
	return opts, nil
}

// parseCondition parses column:op[:value]. "in" takes a comma separated
// list; numbers and booleans are converted.
func parseCondition(s string) (sheetsync.Condition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return sheetsync.Condition{}, fmt.Errorf("invalid filter %q: want column:op[:value]", s)
	}
	cond := sheetsync.Condition{Column: parts[0], Operator: parts[1]}
	switch cond.Operator {
	case "empty", "notempty":
		return cond, nil
	}
	if len(parts) < 3 {
		return sheetsync.Condition{}, fmt.Errorf("invalid filter %q: operator %s needs a value", s, cond.Operator)
	}
	if cond.Operator == "in" {
		var values []interface{}
		for _, v := range strings.Split(parts[2], ",") {
			values = append(values, parseValue(strings.TrimSpace(v)))
		}
		cond.Value = values
		return cond, nil
	}
	cond.Value = parseValue(parts[2])
	return cond, nil
}

func parseValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func parseRowTiers(specs []string) (map[int]sheetsync.PriorityTier, error) {
	tiers := make(map[int]sheetsync.PriorityTier, len(specs))
	for _, spec := range specs {
		row, name, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid row tier %q: want row=tier", spec)
		}
		key, err := strconv.Atoi(strings.TrimSpace(row))
		if err != nil || key < 2 {
			return nil, fmt.Errorf("invalid row tier %q: row must be a sheet row number >= 2", spec)
		}
		tier, err := sheetsync.ParseTier(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		tiers[key] = tier
	}
	return tiers, nil
}

func progressLogger(p sheetsync.ProgressUpdate) {
	logger.Info("batch done",
		"batch", p.Batch,
		"batches", p.Batches,
		"processed", p.Processed,
		"failed", p.Failed,
		"elapsed", p.Elapsed.Round(time.Millisecond))
}

// exitError turns unsuccessful outcomes into a non-zero exit
func exitError(result *sheetsync.RunResult, err error) error {
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	switch result.Status {
	case sheetsync.RunPartial:
		return fmt.Errorf("%d items failed; resume with: sheetsync resume %s --retry-failed", result.Failed, result.SessionID)
	case sheetsync.RunInterrupted:
		return fmt.Errorf("interrupted; resume with: sheetsync resume %s", result.SessionID)
	case sheetsync.RunAborted, sheetsync.RunFailed:
		if result.FatalError == "" {
			return errors.New(string(result.Status))
		}
		return fmt.Errorf("%s: %s", result.Status, result.FatalError)
	}
	return nil
}

func printResult(w io.Writer, r *sheetsync.RunResult) {
	if r == nil {
		return
	}
	if jsonOutput {
		writeJSON(w, r)
		return
	}
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	if r.SessionID != "" {
		fmt.Fprintf(w, "Session:   %s\n", r.SessionID)
	}
	fmt.Fprintf(w, "Created:   %d\n", r.Created)
	fmt.Fprintf(w, "Updated:   %d\n", r.Updated)
	fmt.Fprintf(w, "Deleted:   %d\n", r.Deleted)
	fmt.Fprintf(w, "Failed:    %d\n", r.Failed)
	fmt.Fprintf(w, "Unchanged: %d\n", r.Unchanged)
	fmt.Fprintf(w, "Skipped:   %d\n", r.Skipped)
	if r.Pending > 0 {
		fmt.Fprintf(w, "Pending:   %d\n", r.Pending)
	}
	if r.FatalError != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.FatalError)
	}
	fmt.Fprintf(w, "Elapsed:   %v\n", r.Elapsed.Round(time.Millisecond))
}

func printSummary(w io.Writer, s *sheetsync.SessionSummary) {
	if jsonOutput {
		writeJSON(w, s)
		return
	}
	fmt.Fprintf(w, "Session:   %s (%s)\n", s.SessionID, s.DatasetID)
	fmt.Fprintf(w, "Progress:  %d/%d\n", s.Progress.Current, s.Progress.Total)
	fmt.Fprintf(w, "Queue:     pending=%d processing=%d completed=%d failed=%d\n",
		s.Queue.Pending, s.Queue.Processing, s.Queue.Completed, s.Queue.Failed)
	fmt.Fprintf(w, "Stats:     created=%d updated=%d deleted=%d failed=%d\n",
		s.Stats.Created, s.Stats.Updated, s.Stats.Deleted, s.Stats.Failed)
	if s.LastError != "" {
		fmt.Fprintf(w, "LastError: %s\n", s.LastError)
	}
	fmt.Fprintf(w, "Updated:   %s\n", s.UpdatedAt.Format(time.RFC3339))
}

func writeJSON(w io.Writer, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Error("failed to encode output", "error", err)
		return
	}
	fmt.Fprintln(w, string(data))
}
