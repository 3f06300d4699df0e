package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/pkg/backend/badgerdb"
	"github.com/goliatone/go-statesync/pkg/backend/boltkv"
	"github.com/goliatone/go-statesync/pkg/backend/realtime"
	"github.com/goliatone/go-statesync/pkg/binding"
	"github.com/goliatone/go-statesync/pkg/metrics"
	"github.com/goliatone/go-statesync/pkg/provider"
)

// RuntimeOptions selects the backends a store is wired to. Empty fields fall
// back to in-memory backends.
type RuntimeOptions struct {
	// DataDir holds the badger document database and the bolt key-value
	// file.
	DataDir string
	// RemoteURL is the websocket URL of a document server.
	RemoteURL string
	// Location is the initial URL read by url sources.
	Location        string
	HistoryCapacity int
	RequestTimeout  time.Duration
}

// Runtime is a store wired to its configuration and backends.
type Runtime struct {
	Config     *binding.Config
	Store      *statesync.Store
	Resolution *binding.Resolution
	Location   *provider.MemoryLocation
	Functions  *statesync.FunctionRegistry
	Collector  *metrics.Collector
	Registry   *prometheus.Registry

	closers []func() error
}

// OpenRuntime opens the backends, builds the store and resolves cfg into it.
// Functions the configuration names are registered as logging stubs unless
// functions already provides them.
func OpenRuntime(ctx context.Context, cfg *binding.Config, opts RuntimeOptions, logger *slog.Logger, functions *statesync.FunctionRegistry) (*Runtime, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if functions == nil {
		functions = statesync.NewFunctionRegistry()
	}
	registerStubs(cfg, functions, logger)

	rt := &Runtime{
		Config:    cfg,
		Functions: functions,
		Collector: metrics.NewCollector(metrics.DefaultNamespace),
		Registry:  prometheus.NewRegistry(),
	}
	if err := rt.Registry.Register(rt.Collector); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	providers, err := rt.openBackends(ctx, cfg, opts, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	providers.Functions = functions
	if opts.RequestTimeout > 0 {
		providers.Options = append(providers.Options, provider.WithTimeout(opts.RequestTimeout))
	}

	rt.Store = statesync.New(
		statesync.WithLogger(statesync.MultiLogger(statesync.NewSlogLogger(logger), rt.Collector)),
		statesync.WithDispatcher(statesync.NewAsyncDispatcher()),
		statesync.WithHistoryCapacity(opts.HistoryCapacity),
	)

	res, err := binding.Resolve(ctx, rt.Store, cfg, providers)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Resolution = res
	rt.Store.Wait()
	return rt, nil
}

func (rt *Runtime) openBackends(ctx context.Context, cfg *binding.Config, opts RuntimeOptions, logger *slog.Logger) (binding.Providers, error) {
	var providers binding.Providers

	if opts.DataDir != "" {
		docs, err := badgerdb.Open(badgerdb.Config{
			Path:      filepath.Join(opts.DataDir, "documents"),
			Namespace: cfg.Namespace,
			Logger:    logger.With("component", "badger"),
			Migrate: func(_ context.Context, from, to int, collections []string) error {
				logger.Info("schema upgraded", "from", from, "to", to, "collections", collections)
				return nil
			},
		})
		if err != nil {
			return providers, WrapExitError(ExitCommandError, "open document database", err)
		}
		rt.closers = append(rt.closers, docs.Close)
		providers.Local = docs

		kv, err := boltkv.Open(filepath.Join(opts.DataDir, "flat.db"), cfg.Namespace)
		if err != nil {
			return providers, WrapExitError(ExitCommandError, "open key-value file", err)
		}
		rt.closers = append(rt.closers, kv.Close)
		providers.Flat = kv
	} else {
		providers.Local = provider.NewMemoryDocuments()
		providers.Flat = provider.NewMemoryKV()
	}

	if opts.RemoteURL != "" {
		client, err := realtime.Dial(ctx, opts.RemoteURL, realtime.WithRequestTimeout(opts.RequestTimeout))
		if err != nil {
			return providers, WrapExitError(ExitCommandError, "connect to document server", err)
		}
		rt.closers = append(rt.closers, client.Close)
		providers.Remote = client
	} else {
		providers.Remote = provider.NewMemoryDocuments()
	}

	raw := opts.Location
	if raw == "" {
		raw = "/"
	}
	location, err := provider.NewMemoryLocation(raw)
	if err != nil {
		return providers, WrapExitError(ExitCommandError, "parse location", err)
	}
	rt.Location = location
	providers.Location = location
	return providers, nil
}

// Close drains pending provider work and releases backends in reverse
// order.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Store != nil {
		rt.Store.Wait()
	}
	if rt.Resolution != nil {
		errs = append(errs, rt.Resolution.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// registerStubs registers every function the configuration names and the
// registry lacks. Stubs log their arguments and return nil, which source
// adapters treat as "no value".
func registerStubs(cfg *binding.Config, functions *statesync.FunctionRegistry, logger *slog.Logger) {
	for _, name := range functionNames(cfg) {
		if functions.Has(name) {
			continue
		}
		fn := name
		_ = functions.Register(fn, func(args ...any) (any, error) {
			logger.Info("function called", "function", fn, "args", args)
			return nil, nil
		})
	}
}

func functionNames(cfg *binding.Config) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, id := range cfg.IDs() {
		v := cfg.Variables[id]
		add(v.OnChange)
		for _, p := range []*binding.ProviderConfig{v.Source, v.Storage} {
			if p != nil && p.Function != nil {
				add(p.Function.Name)
			}
		}
	}
	return out
}
