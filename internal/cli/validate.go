package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-statesync/pkg/binding"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Variables   int      `json:"variables,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
	Collections []string `json:"collections,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a variable configuration",
		Long: `Decode and validate the variable configuration without opening any
backend. Every problem is reported: unknown fields, ambiguous bindings,
source-only kinds used for storage and placeholders naming undefined
variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	formatter.VerboseLog("validating %s", strings.Join(opts.Configs, ", "))

	cfg, err := binding.LoadFiles(opts.Configs...)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			_ = formatter.Error(err, nil)
			return WrapExitError(ExitCommandError, "load configuration", err)
		}
		problems := splitErrors(err)
		result := ValidationResult{Valid: false, Errors: problems}
		if formatter.Format == "json" {
			_ = formatter.Error(err, result)
		} else {
			for _, problem := range problems {
				fmt.Fprintf(formatter.Writer, "invalid: %s\n", problem)
			}
		}
		return WrapExitError(ExitFailure, "configuration is invalid", err)
	}

	result := ValidationResult{
		Valid:       true,
		Variables:   len(cfg.Variables),
		Collections: cfg.Collections(),
	}
	for _, kind := range cfg.Kinds() {
		result.Kinds = append(result.Kinds, string(kind))
	}
	text := fmt.Sprintf("ok: %d variables", result.Variables)
	if len(result.Kinds) > 0 {
		text += fmt.Sprintf(", providers [%s]", strings.Join(result.Kinds, " "))
	}
	if len(result.Collections) > 0 {
		text += fmt.Sprintf(", collections [%s]", strings.Join(result.Collections, " "))
	}
	return formatter.Success(text, result)
}

// splitErrors flattens errors.Join trees into one message per problem.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
