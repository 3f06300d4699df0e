package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-statesync/internal/hydrate"
	"github.com/goliatone/go-statesync/pkg/backend/realtime"
	"github.com/goliatone/go-statesync/pkg/provider"
)

// ServeOptions holds serve command flags.
type ServeOptions struct {
	Addr string
	Path string
	Seed string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	serveOpts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory document backend over websockets",
		Long: `Serve an in-memory document backend that stores connect to with
run --remote ws://<addr><path>. Subscriptions receive a snapshot on
every change below their path.

--seed loads a JSON object mapping document paths to records before
the server starts listening.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, *serveOpts, cmd)
		},
	}
	cmd.Flags().StringVar(&serveOpts.Addr, "addr", "127.0.0.1:8765", "listen address")
	cmd.Flags().StringVar(&serveOpts.Path, "path", "/ws", "websocket endpoint")
	cmd.Flags().StringVar(&serveOpts.Seed, "seed", "", "JSON file of documents keyed by path")
	return cmd
}

func runServe(opts *RootOptions, serveOpts ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	docs := provider.NewMemoryDocuments()
	if serveOpts.Seed != "" {
		n, err := seedDocuments(cmd.Context(), docs, serveOpts.Seed)
		if err != nil {
			_ = formatter.Error(err, nil)
			return WrapExitError(ExitCommandError, "seed documents", err)
		}
		formatter.VerboseLog("seeded %d documents from %s", n, serveOpts.Seed)
	}

	listener, err := net.Listen("tcp", serveOpts.Addr)
	if err != nil {
		_ = formatter.Error(err, nil)
		return WrapExitError(ExitCommandError, "listen", err)
	}

	server := realtime.NewServer(docs, realtime.WithServerLogger(logger))
	mux := http.NewServeMux()
	mux.Handle(serveOpts.Path, server)
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	url := fmt.Sprintf("ws://%s%s", listener.Addr(), serveOpts.Path)
	if err := formatter.Success("serving "+url, map[string]string{"url": url}); err != nil {
		listener.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "serve", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	_ = server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown", err)
	}
	return nil
}

// seedDocuments writes every record of the JSON object in path, in path
// order, and returns the number written.
func seedDocuments(ctx context.Context, docs *provider.MemoryDocuments, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	records, err := hydrate.Default.DecodeRecord(hydrate.Context{Key: path}, data)
	if err != nil {
		return 0, err
	}
	paths := make([]string, 0, len(records))
	for docPath := range records {
		paths = append(paths, docPath)
	}
	sort.Strings(paths)
	for _, docPath := range paths {
		record, ok := records[docPath].(map[string]any)
		if !ok {
			return 0, fmt.Errorf("seed %s: %q holds %T, not an object", path, docPath, records[docPath])
		}
		if err := docs.Set(ctx, docPath, record); err != nil {
			return 0, fmt.Errorf("seed %s: %w", path, err)
		}
	}
	return len(paths), nil
}
