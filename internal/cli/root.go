package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	ConfigPath string
	Backend    string
	Root       string
	Database   string
	Encoding   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the savegraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "savegraph",
		Short: "Inspect and maintain save graph documents",
		Long: `Inspect and maintain capsule documents written by a savegraph engine.

The tool works on raw records only; it never needs the application's node
types. Backend and encoding come from --config, SAVEGRAPH_* environment
variables and the flags below, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.Backend, "backend", "", "backend kind (file|sqlite)")
	flags.StringVar(&opts.Root, "root", "", "document directory for the file backend")
	flags.StringVar(&opts.Database, "db", "", "database path for the sqlite backend")
	flags.StringVar(&opts.Encoding, "encoding", "", "document encoding (none|base64)")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}
