package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/oumi-open-ai/AIShortX-sub001/client"
	"github.com/oumi-open-ai/AIShortX-sub001/config"
	"github.com/oumi-open-ai/AIShortX-sub001/logging"
	"github.com/oumi-open-ai/AIShortX-sub001/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	var (
		configFlag  string
		projectFlag int64
		apiFlag     string
	)

	rootCmd := &cobra.Command{
		Use:           "editor",
		Short:         "Interactive editing session over a project",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFlag != "" {
				loaded, err := config.Load(configFlag)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if apiFlag != "" {
				cfg.Session.APIBase = apiFlag
			}
			if cfg.Session.APIBase == "" {
				return fmt.Errorf("no api base: set session.api_base or pass --api")
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEditor(ctx, cfg, projectFlag, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}

	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.Flags().Int64VarP(&projectFlag, "project", "p", 0, "Project id to edit")
	rootCmd.Flags().StringVar(&apiFlag, "api", "", "Backend base URL, overrides session.api_base")
	_ = rootCmd.MarkFlagRequired("project")
	return rootCmd
}

func runEditor(ctx context.Context, cfg *config.Config, projectID int64, in io.Reader, out io.Writer, logger *zap.Logger) error {
	remote := client.New(cfg.Session.APIBase,
		client.WithTimeout(cfg.Session.RequestTimeout),
		client.WithLogger(logger))

	s, err := session.Open(ctx, session.Options{
		ProjectID: projectID,
		Remote:    remote,
		Logger:    logger,
		Notifier:  printNotifier{out: out},
		Config:    cfg.Session,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	fmt.Fprintf(out, "editing project %d (%q), type help for commands\n", projectID, s.Snapshot().Project.Name)
	return newREPL(s, out).Run(ctx, in)
}

// printNotifier shows session notifications inline in the REPL.
type printNotifier struct{ out io.Writer }

func (n printNotifier) Info(msg string) { fmt.Fprintln(n.out, "info:", msg) }
func (n printNotifier) Warn(msg string) { fmt.Fprintln(n.out, "warning:", msg) }
