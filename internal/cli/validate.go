package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/savegraph/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid" yaml:"valid"`
	Capsules []string       `json:"capsules" yaml:"capsules"`
	Issues   []schema.Issue `json:"issues,omitempty" yaml:"issues,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("All capsules valid (%s checked)", plural(len(r.Capsules), "capsule"))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Validation failed with %s\n\n", plural(len(r.Issues), "issue"))
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "  %s\n", issue.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}

type validateOptions struct {
	strict bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	vopts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate <schema.cue> [capsule-id...]",
		Short: "Check stored records against a CUE schema",
		Long: `Check stored capsule records against CUE constraints.

The schema declares roots (one constraint per capsule ID, applied to the
root record) and types (one constraint per registry tag). Without capsule
IDs every stored capsule is checked.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, vopts, args[0], args[1:])
		},
	}
	cmd.Flags().BoolVar(&vopts.strict, "strict", false, "report records whose type has no constraint")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, vopts *validateOptions, schemaPath string, ids []string) error {
	ctx := cmd.Context()
	formatter := newFormatter(cmd, opts)

	sch, err := schema.LoadFile(schemaPath)
	if err != nil {
		var ce *schema.CompileError
		if errors.As(err, &ce) {
			return formatter.fail(ExitCommandError, ce.Code, ce.Message, ce.Err)
		}
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "load schema", err)
	}
	sch.Strict = vopts.strict
	formatter.VerboseLog("Schema %s constrains %s", schemaPath, plural(len(sch.Tags()), "type"))

	sess, err := openSession(ctx, cmd, opts, formatter, ids)
	if err != nil {
		return err
	}
	defer sess.Close()

	views, err := sess.engine.Read(ctx)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBackend, "read capsules", err)
	}

	result := ValidationResult{Valid: true, Capsules: sess.ids}
	for _, v := range views {
		formatter.VerboseLog("Validating capsule: %s", v.CapsuleID)
		result.Issues = append(result.Issues, sch.Validate(v)...)
	}
	if len(result.Issues) == 0 {
		return formatter.Success(result)
	}

	result.Valid = false
	if opts.Format == "text" {
		fmt.Fprintln(formatter.Writer, result)
	} else if err := formatter.Error(result.Issues[0].Code, result.Issues[0].Error(), result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %s", plural(len(result.Issues), "issue")))
}
