package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/savegraph/pkg/record"
)

// ValueDump is one stored value.
type ValueDump struct {
	Key   string `json:"key" yaml:"key"`
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// RefDump is one stored reference.
type RefDump struct {
	Key   string   `json:"key" yaml:"key"`
	IDs   []string `json:"ids" yaml:"ids"`
	Multi bool     `json:"multi" yaml:"multi"`
}

// RecordDump is one record of a capsule.
type RecordDump struct {
	ID     string      `json:"id" yaml:"id"`
	Type   string      `json:"type,omitempty" yaml:"type,omitempty"`
	Values []ValueDump `json:"values" yaml:"values"`
	Refs   []RefDump   `json:"refs" yaml:"refs"`
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	Capsule string       `json:"capsule" yaml:"capsule"`
	Records []RecordDump `json:"records" yaml:"records"`
}

func (r InspectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capsule %s (%s)\n", r.Capsule, plural(len(r.Records), "record"))
	for _, rec := range r.Records {
		if rec.Type != "" {
			fmt.Fprintf(&b, "[%s] %s\n", rec.ID, rec.Type)
		} else {
			fmt.Fprintf(&b, "[%s]\n", rec.ID)
		}
		for _, v := range rec.Values {
			fmt.Fprintf(&b, "  %s (%s) = %s\n", v.Key, v.Type, v.Value)
		}
		for _, ref := range rec.Refs {
			if ref.Multi {
				fmt.Fprintf(&b, "  %s -> [%s]\n", ref.Key, strings.Join(ref.IDs, " "))
			} else {
				fmt.Fprintf(&b, "  %s -> %s\n", ref.Key, strings.Join(ref.IDs, ""))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// dumpView flattens a view in storage order: root first, then by ID.
func dumpView(v record.View) InspectResult {
	out := InspectResult{Capsule: v.CapsuleID, Records: []RecordDump{}}
	for _, id := range v.Set.IDs() {
		rec := v.Set[id]
		d := RecordDump{ID: id, Values: []ValueDump{}, Refs: []RefDump{}}
		d.Type, _ = rec.Type()
		for _, key := range rec.ValueKeys() {
			if key == record.TypeKey {
				continue
			}
			s, _ := rec.Value(key)
			d.Values = append(d.Values, ValueDump{Key: key, Type: s.ValueType, Value: s.ValueString})
		}
		for _, key := range rec.RefKeys() {
			ref, _ := rec.Ref(key)
			d.Refs = append(d.Refs, RefDump{Key: key, IDs: ref.IDs, Multi: ref.Multi})
		}
		out.Records = append(out.Records, d)
	}
	return out
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <capsule-id>",
		Short: "Print the records of one capsule",
		Long: `Print every record of a capsule: its type tag, its values as stored
(type name and text) and its references.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, rootOpts, args[0])
		},
	}
}

func runInspect(cmd *cobra.Command, opts *RootOptions, id string) error {
	ctx := cmd.Context()
	formatter := newFormatter(cmd, opts)

	sess, err := openSession(ctx, cmd, opts, formatter, []string{id})
	if err != nil {
		return err
	}
	defer sess.Close()

	view, _, err := sess.engine.TryRead(ctx, id)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeBackend, "read "+id, err)
	}
	if view.Empty() {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("capsule %q not found or empty", id), nil)
	}
	return formatter.Success(dumpView(view))
}
