package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// RunOptions holds run command flags.
type RunOptions struct {
	RuntimeOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	runOpts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the store and open an interactive shell",
		Long: `Build the store from the configuration, run every initializing fetch
and read shell commands from stdin. Type help for the command list.

With --metrics-addr the store's prometheus metrics are served on
/metrics for the life of the shell.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(rootOpts, *runOpts, cmd)
		},
	}
	addRuntimeFlags(cmd, &runOpts.RuntimeOptions)
	cmd.Flags().StringVar(&runOpts.MetricsAddr, "metrics-addr", "", "address serving /metrics (disabled when empty)")
	return cmd
}

func runShell(opts *RootOptions, runOpts RunOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(err, nil)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger(cmd.ErrOrStderr())
	rt, err := OpenRuntime(ctx, cfg, runOpts.RuntimeOptions, logger, nil)
	if err != nil {
		_ = formatter.Error(err, nil)
		return WrapExitError(ExitCommandError, "resolve configuration", err)
	}
	defer rt.Close()

	if runOpts.MetricsAddr != "" {
		addr, stop, err := serveMetrics(rt, runOpts.MetricsAddr, logger)
		if err != nil {
			_ = formatter.Error(err, nil)
			return WrapExitError(ExitCommandError, "serve metrics", err)
		}
		defer stop()
		formatter.VerboseLog("metrics on http://%s/metrics", addr)
	}

	formatter.VerboseLog("%d variables ready, type help for commands", len(rt.Store.IDs()))
	return NewShell(rt, formatter).Run(ctx, cmd.InOrStdin())
}

// serveMetrics starts an HTTP server for the runtime registry and returns
// the bound address and a function shutting it down.
func serveMetrics(rt *Runtime, addr string, logger *slog.Logger) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return listener.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
