package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/savegraph/pkg/migrate"
)

// CapsuleSummary describes one stored document.
type CapsuleSummary struct {
	ID             string `json:"id" yaml:"id"`
	Status         string `json:"status" yaml:"status"` // "ok" | "corrupt"
	Records        int    `json:"records" yaml:"records"`
	MigrationIndex int    `json:"migration_index" yaml:"migration_index"`
	Bytes          int    `json:"bytes" yaml:"bytes"`
}

// ListResult is the output of the list command.
type ListResult struct {
	Capsules []CapsuleSummary `json:"capsules" yaml:"capsules"`
}

func (r ListResult) String() string {
	if len(r.Capsules) == 0 {
		return "No capsules stored"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-8s %8s %9s %8s\n", "CAPSULE", "STATUS", "RECORDS", "MIGRATION", "BYTES")
	for _, c := range r.Capsules {
		fmt.Fprintf(&b, "%-24s %-8s %8d %9d %8d\n", c.ID, c.Status, c.Records, c.MigrationIndex, c.Bytes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored capsules",
		Long: `List every capsule document in the backend with its record count and
stored migration index. Documents that fail to decode are reported as
corrupt; the engine would load them as empty.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	formatter := newFormatter(cmd, opts)

	sess, err := openSession(ctx, cmd, opts, formatter, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	result := ListResult{Capsules: []CapsuleSummary{}}
	for _, id := range sess.ids {
		data, found, err := sess.store.Backend.Read(ctx, id)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeBackend, "read "+id, err)
		}
		if !found {
			continue
		}
		summary := CapsuleSummary{ID: id, Status: "ok", MigrationIndex: -1, Bytes: len(data)}
		set, err := sess.store.Codec.DecodeSet(id, data)
		if err != nil {
			formatter.VerboseLog("%s: %v", id, err)
			summary.Status = "corrupt"
		} else {
			summary.Records = len(set)
			summary.MigrationIndex = migrate.Index(set)
		}
		result.Capsules = append(result.Capsules, summary)
	}
	return formatter.Success(result)
}
