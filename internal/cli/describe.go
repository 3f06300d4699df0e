package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	statesync "github.com/goliatone/go-statesync"
)

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	runtimeOpts := &RuntimeOptions{}
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Resolve the configuration and print every variable",
		Long: `Resolve the configuration against its backends and print, per
variable, the inferred value type, the bound providers and whether the
variable alerts dependents.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(rootOpts, *runtimeOpts, cmd)
		},
	}
	addRuntimeFlags(cmd, runtimeOpts)
	return cmd
}

func addRuntimeFlags(cmd *cobra.Command, opts *RuntimeOptions) {
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "directory for the badger and bolt backends (in-memory when empty)")
	cmd.Flags().StringVar(&opts.RemoteURL, "remote", "", "websocket URL of a document server (in-memory when empty)")
	cmd.Flags().StringVar(&opts.Location, "location", "/", "initial URL read by url sources")
	cmd.Flags().IntVar(&opts.HistoryCapacity, "history", statesync.DefaultHistoryCapacity, "change records retained for undo")
	cmd.Flags().DurationVar(&opts.RequestTimeout, "timeout", 10*time.Second, "bound on every backend call")
}

func runDescribe(opts *RootOptions, runtimeOpts RuntimeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(err, nil)
		return err
	}

	rt, err := OpenRuntime(cmd.Context(), cfg, runtimeOpts, opts.logger(cmd.ErrOrStderr()), nil)
	if err != nil {
		_ = formatter.Error(err, nil)
		return WrapExitError(ExitCommandError, "resolve configuration", err)
	}
	defer rt.Close()

	descriptors := rt.Store.Describe()
	var b strings.Builder
	writeDescriptors(&b, descriptors)
	return formatter.Success(strings.TrimRight(b.String(), "\n"), descriptors)
}

func writeDescriptors(w io.Writer, descriptors []statesync.VariableDescriptor) {
	for _, d := range descriptors {
		fmt.Fprintf(w, "%-16s %-8s", d.ID, d.Type)
		if d.Source != "" {
			fmt.Fprintf(w, " source=%s:%s", d.Source, d.SourcePath)
		}
		if d.Storage != "" {
			fmt.Fprintf(w, " storage=%s:%s", d.Storage, d.StoragePath)
		}
		if d.AlertsDependents {
			fmt.Fprintf(w, " alerts=%d", d.Listeners)
		}
		fmt.Fprintln(w)
		for _, field := range d.Fields {
			fmt.Fprintf(w, "  %s %s\n", field.Path, field.Type)
		}
	}
}
