package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docqueue/internal/bootstrap"
	"github.com/joseph-ayodele/docqueue/internal/common"
	"github.com/joseph-ayodele/docqueue/internal/repository"
	"github.com/joseph-ayodele/docqueue/internal/services/jobs"
	"github.com/spf13/cobra"
)

// app holds state shared by subcommands. The store is opened lazily so
// commands that only touch the filesystem never need one.
type app struct {
	cfg     *common.Config
	logger  *slog.Logger
	store   string
	driver  string
	verbose bool

	repo repository.JobRepository
}

// execute runs one command line and closes the store whatever the outcome.
// cobra skips post-run hooks when a command fails, so closing happens here.
func execute(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "ingestctl",
		Short:        "Submit and inspect document ingestion jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.store, "store", "", "store DSN or badger directory (overrides STORE_DSN)")
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "store driver: sqlite, postgres or badger (overrides STORE_DRIVER)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSubmitCmd(a),
		newStatusCmd(a),
		newListCmd(a),
		newStatsCmd(a),
		newReingestCmd(a),
		newWorkerCmd(a),
		newDedupeCmd(a),
		newLockCmd(a),
		newExportCmd(a),
	)
	return root
}

func (a *app) init(stderr io.Writer) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a.cfg = common.LoadConfig()
	if a.driver != "" {
		a.cfg.Store.Driver = strings.ToLower(a.driver)
	}
	if a.store != "" {
		a.cfg.Store.DSN = a.store
	}
	return a.cfg.Validate()
}

func (a *app) jobs(ctx context.Context) (repository.JobRepository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	repo, err := bootstrap.OpenStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	a.repo = repo
	return repo, nil
}

func (a *app) service(ctx context.Context) (*jobs.Service, error) {
	repo, err := a.jobs(ctx)
	if err != nil {
		return nil, err
	}
	return jobs.NewService(repo, a.logger), nil
}

func (a *app) close() {
	if a == nil || a.repo == nil {
		return
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
	a.repo = nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
