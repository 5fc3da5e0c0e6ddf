package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/lecture-service/internal/config"
	"github.com/book-expert/lecture-service/internal/metrics"
	"github.com/book-expert/lecture-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogName = "lecture-service-bootstrap.log"
	serviceLogName   = "lecture-service.log"
)

var errCheckFailed = errors.New("environment check failed")

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{configFile: ""}

	cmd := &cobra.Command{
		Use:           "lecture-service",
		Short:         "Builds narrated picture-in-picture lecture videos from slides.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"Path to a TOML configuration file (defaults to the central configurator)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))

	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume lecture jobs from NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), opts, true, func(ctx context.Context, svc *service) error {
				group, groupCtx := errgroup.WithContext(ctx)

				if svc.cfg.Metrics.Address != "" {
					listener, err := net.Listen("tcp", svc.cfg.Metrics.Address)
					if err != nil {
						return fmt.Errorf("failed to listen on %s: %w", svc.cfg.Metrics.Address, err)
					}

					server := metrics.NewServer(listener, svc.log)

					group.Go(func() error { return server.Run(groupCtx) })
				}

				queueWorker := worker.NewNatsWorker(
					svc.nats,
					svc.cfg.NATS.LectureJobsSubject,
					svc.cfg.NATS.LectureJobsQueue,
					svc.cfg.JobTimeout(),
					svc.runner,
					svc.log,
				)

				group.Go(func() error { return queueWorker.Run(groupCtx) })

				return group.Wait()
			})
		},
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Build the lecture of a prepared job in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, false, func(ctx context.Context, svc *service) error {
				ctx, cancel := context.WithTimeout(ctx, svc.cfg.JobTimeout())
				defer cancel()

				result := svc.runner.Run(ctx, args[0])

				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-id>",
		Short: "Queue a prepared job for a serving worker and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, true, func(ctx context.Context, svc *service) error {
				ctx, cancel := context.WithTimeout(ctx, svc.cfg.JobTimeout())
				defer cancel()

				request := worker.LectureJobRequest{
					Header: newEventHeader(),
					JobID:  args[0],
				}

				result, err := worker.Enqueue(ctx, svc.nats, svc.cfg.NATS.LectureJobsSubject, request)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the latest progress record of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), opts, false, func(ctx context.Context, svc *service) error {
				record, err := svc.sink.Read(ctx, args[0])
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the transcoder binaries and the speech backend are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), opts, false, func(ctx context.Context, svc *service) error {
				failures := svc.check(ctx)

				for _, failure := range failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %v\n", failure)
				}

				if len(failures) > 0 {
					return fmt.Errorf("%w: %d problem(s)", errCheckFailed, len(failures))
				}

				fmt.Fprintln(cmd.OutOrStdout(), "OK")

				return nil
			})
		},
	}
}

// withService loads the configuration, builds the service and runs fn under a context
// cancelled by SIGINT or SIGTERM.
func withService(
	parent context.Context,
	opts *rootOptions,
	needsQueue bool,
	fn func(ctx context.Context, svc *service) error,
) error {
	if parent == nil {
		parent = context.Background()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap(opts.configFile)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	svc, err := newService(ctx, cfg, log, needsQueue)
	if err != nil {
		log.Error("Failed to initialize service: %v", err)

		return err
	}

	defer svc.Close()

	return fn(ctx, svc)
}

// bootstrap loads the configuration with a temporary logger and returns the logger
// the service keeps for its lifetime.
func bootstrap(configFile string) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := loadConfig(configFile, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, err
	}

	finalLog, err := logger.New(cfg.Paths.BaseLogsDir, serviceLogName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, fmt.Errorf("failed to create final logger: %w", err)
	}

	return cfg, finalLog, nil
}

func loadConfig(configFile string, log *logger.Logger) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}

	return config.Load(log)
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}

	return nil
}

func newEventHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}
