// Command savegraph inspects, validates and clears stored capsules.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/savegraph/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Commands report their own failures; anything else came from
		// flag or argument parsing.
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
