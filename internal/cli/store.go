package cli

import (
	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/policy"
	"github.com/diasync/diasync/internal/shard"
)

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// openStore opens the store at the resolved root and loads its policy.
// An invalid policy document fails the command; a missing one yields
// the compiled-in defaults.
func openStore(opts *RootOptions) (*shard.Store, policy.Policy, error) {
	st := shard.Open(opts.Root)
	pol, err := policy.Load(st)
	if err != nil {
		return nil, policy.Policy{}, err
	}
	return st, pol, nil
}
