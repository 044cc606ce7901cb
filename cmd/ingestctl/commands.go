package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/docqueue/constants"
	"github.com/joseph-ayodele/docqueue/internal/bootstrap"
	"github.com/joseph-ayodele/docqueue/internal/dedupe"
	"github.com/joseph-ayodele/docqueue/internal/entity"
	"github.com/joseph-ayodele/docqueue/internal/export"
	"github.com/joseph-ayodele/docqueue/internal/lock"
	"github.com/joseph-ayodele/docqueue/internal/repository"
	"github.com/joseph-ayodele/docqueue/internal/services/jobs"
	"github.com/spf13/cobra"
)

func newSubmitCmd(a *app) *cobra.Command {
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Queue a file or directory for ingestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.Submit(cmd.Context(), jobs.SubmitRequest{Target: args[0], MaxRetries: maxRetries})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget (default 3)")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var req jobs.ListRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&req.Status, "status", "", "only jobs in this status (pending, processing, completed, failed)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum number of jobs (default 50)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			st, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newReingestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reingest <job-id>",
		Short: "Queue a new job for the target of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			job, err := svc.Reingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func newWorkerCmd(a *app) *cobra.Command {
	var (
		oneTime      bool
		pollInterval time.Duration
		disableOCR   bool
		noDedupe     bool
		recursive    bool
		staleAfter   time.Duration
		reapInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("one-time") {
				a.cfg.Worker.OneTime = oneTime
			}
			if flags.Changed("poll-interval") {
				a.cfg.Worker.PollInterval = pollInterval
			}
			if flags.Changed("stale-after") {
				a.cfg.Worker.StaleAfter = staleAfter
			}
			if flags.Changed("reap-interval") {
				a.cfg.Worker.ReapInterval = reapInterval
			}
			if flags.Changed("recursive") {
				a.cfg.Worker.Recursive = recursive
			}
			if disableOCR {
				a.cfg.OCR.Enabled = false
			}
			if noDedupe {
				a.cfg.Worker.Dedupe = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := a.jobs(ctx)
			if err != nil {
				return err
			}
			w, err := bootstrap.NewWorker(a.cfg, repo, a.logger)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&oneTime, "one-time", false, "process at most one job and exit")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "wait between empty polls (overrides POLL_INTERVAL)")
	cmd.Flags().BoolVar(&disableOCR, "disable-ocr", false, "skip images and scanned PDFs")
	cmd.Flags().BoolVar(&noDedupe, "no-dedupe", false, "skip the dedupe pass after jobs")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "descend into subdirectories of directory targets")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "requeue jobs stuck in processing this long (0 disables)")
	cmd.Flags().DurationVar(&reapInterval, "reap-interval", 0, "how often to look for stale jobs (default stale-after/2)")
	return cmd
}

func newDedupeCmd(a *app) *cobra.Command {
	var (
		dryRun  bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "dedupe [dir]",
		Short: "Move duplicate artifacts into the duplicates folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Worker.ArtifactDir
			if len(args) == 1 {
				dir = args[0]
			}
			report, err := dedupe.Run(cmd.Context(), dir,
				dedupe.WithLogger(a.logger),
				dedupe.WithWorkers(workers),
				dedupe.WithDryRun(dryRun),
			)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without moving files")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent artifact readers")
	return cmd
}

func newLockCmd(a *app) *cobra.Command {
	var dir string
	lockDir := func() string {
		if dir != "" {
			return dir
		}
		return a.cfg.Lock.Dir
	}

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the accelerator lock",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "lock directory (overrides LOCK_DIR)")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show who holds the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, held, err := lock.NewDirLock(lockDir(), a.logger).Holder()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"dir":   lockDir(),
				"held":  held,
				"token": owner.Token,
				"pid":   owner.PID,
			})
		},
	}, &cobra.Command{
		Use:   "break",
		Short: "Remove a lock left behind by a crashed process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := lock.Break(lockDir()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "lock %s cleared\n", lockDir())
			return err
		},
	})
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out string
		req jobs.ListRequest
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write jobs and their artifacts to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := a.jobs(cmd.Context())
			if err != nil {
				return err
			}
			filter := entity.ListFilter{Limit: repository.ClampLimit(req.Limit)}
			if req.Status != "" {
				st, err := constants.ParseJobStatus(req.Status)
				if err != nil {
					return err
				}
				filter.Status = &st
			}
			data, err := export.NewService(repo, a.logger).ExportJobsXLSX(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "jobs.xlsx", "output file")
	cmd.Flags().StringVar(&req.Status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum number of jobs (default 50)")
	return cmd
}
