package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heliossim/helios/internal/logging"
	"github.com/heliossim/helios/internal/pipeline"
	"github.com/heliossim/helios/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "helios",
		Short:         "Simulation workflow orchestrator for embedded software units",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		outputDir string
		logLevel  string
		storePath string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.json>",
		Short: "Validate and execute a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := pipeline.Options{Logger: logger, OutputDir: outputDir}
			if storePath != "" {
				st, err := store.NewLibSQLStore(ctx, "file:"+storePath)
				if err != nil {
					logger.Error("open run history store", "error", err)
					return err
				}
				defer st.Close()
				opts.Store = st
			}

			sched, err := pipeline.New(opts)
			if err != nil {
				return err
			}

			result, err := sched.Run(ctx, args[0])
			if err != nil {
				logger.Error("run failed", "error", err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s completed: %d elements, augmented workflow at %s\n",
				result.RunID, len(result.Order), result.AugmentedWorkflow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for produced files and the augmented workflow")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&storePath, "store", "", "path of the run history database")
	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler)), nil
}
