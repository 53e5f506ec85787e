package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/compiler"
	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	Version   int64                      `json:"version,omitempty"`
	Resources int                        `json:"resources,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model>",
		Short: "Validate a model without deploying it",
		Long: `Validate a desired-state model.

The model is a YAML file, a CUE file, or a directory holding a CUE package.
Checks resource ids, requirements and identifying attributes, then builds the
dependency graph and rejects cycles. Nothing is persisted and no executor is
started.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if err := statModel(formatter, path); err != nil {
		return err
	}

	doc, err := compiler.Load(path)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeModel, "model does not compile", err)
	}
	formatter.VerboseLog("Loaded %d resource(s) from %s", len(doc.Resources), doc.Source)

	if errs := compiler.Validate(doc); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	ms, err := doc.State()
	if err != nil {
		return formatter.Fail(ExitFailure, graphErrorCode(err), "model graph is invalid", err)
	}
	if err := checkOrder(ms); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGraph, "model graph is invalid", err)
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Version: ms.Version, Resources: ms.Len()})
	}
	fmt.Fprintf(formatter.Writer, "✓ Model valid: version %d, %d resource(s)\n", ms.Version, ms.Len())
	return nil
}

// statModel reports a missing model path as a command error.
func statModel(formatter *OutputFormatter, path string) error {
	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("model not found: %s", path), nil)
	}
	return nil
}

// checkOrder linearizes the model to reject requirement cycles.
func checkOrder(ms *model.ModelState) error {
	tasks := make([]*scheduler.Task, 0, ms.Len())
	for _, r := range ms.Resources() {
		tasks = append(tasks, scheduler.NewTask(r, scheduler.PriorityNominal))
	}
	_, err := scheduler.Linearize(tasks)
	return err
}

func graphErrorCode(err error) string {
	if model.IsGraphError(err) {
		return ErrCodeGraph
	}
	var verrs *compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return ErrCodeModel
	}
	return ErrCodeGeneric
}

// outputValidationErrors outputs validation errors in the configured format.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		_ = formatter.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeModel,
				Message: fmt.Sprintf("%d validation error(s)", len(errs)),
			},
		})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %d validation error(s):\n", len(errs))
		for _, e := range errs {
			if e.Line > 0 {
				fmt.Fprintf(formatter.Writer, "  [%s] line %d: %s: %s\n", e.Code, e.Line, e.Field, e.Message)
			} else {
				fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
			}
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
}
