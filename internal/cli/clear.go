package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ClearResult is the output of the clear command.
type ClearResult struct {
	Cleared []string `json:"cleared" yaml:"cleared"`
	Removed bool     `json:"removed" yaml:"removed"`
}

func (r ClearResult) String() string {
	verb := "Emptied"
	if r.Removed {
		verb = "Removed"
	}
	return fmt.Sprintf("%s %s: %s", verb, plural(len(r.Cleared), "capsule"), strings.Join(r.Cleared, ", "))
}

type clearOptions struct {
	all    bool
	remove bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	copts := &clearOptions{}
	cmd := &cobra.Command{
		Use:   "clear [capsule-id...]",
		Short: "Empty or remove capsule documents",
		Long: `Reset capsules to an empty state. By default the empty state is written
back; with --remove the documents are deleted. Pass capsule IDs, or --all
for every stored capsule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd, rootOpts, copts, args)
		},
	}
	cmd.Flags().BoolVar(&copts.all, "all", false, "clear every stored capsule")
	cmd.Flags().BoolVar(&copts.remove, "remove", false, "delete documents instead of writing an empty state")
	return cmd
}

func runClear(cmd *cobra.Command, opts *RootOptions, copts *clearOptions, ids []string) error {
	ctx := cmd.Context()
	formatter := newFormatter(cmd, opts)

	if len(ids) == 0 && !copts.all {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "name capsules to clear or pass --all", nil)
	}
	if len(ids) > 0 && copts.all {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "--all takes no capsule IDs", nil)
	}

	sess, err := openSession(ctx, cmd, opts, formatter, ids)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.engine.Clear(ctx, copts.remove); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeWrite, "clear capsules", err)
	}
	return formatter.Success(ClearResult{Cleared: sess.ids, Removed: copts.remove})
}
