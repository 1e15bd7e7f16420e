package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/verify"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Zone string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Audit store integrity",
		Long: `Decode, schema-check and hash-verify every ledger line. The audit
is read-only: damage is reported, never repaired. Any hash mismatch
fails the command.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Zone, "zone", "", "restrict to one zone (streams|bus|views|coordination|governance|projects)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	rep, err := verify.Run(st, verify.Options{Zone: opts.Zone})
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	if rep.Clean {
		fmt.Fprintf(&b, "store clean: %d line(s) verified", rep.Lines)
	} else {
		fmt.Fprintf(&b, "store damaged: %d ok, %d schema error(s), %d hash mismatch(es), %d unreadable",
			rep.OK, rep.SchemaErrors, rep.HashMismatches, rep.Unreadable)
	}
	for _, zr := range rep.Zones {
		fmt.Fprintf(&b, "\n  %-12s %5d line(s), %d bad", zr.Zone, zr.Lines, zr.Lines-zr.OK)
	}
	for _, d := range rep.Samples {
		fmt.Fprintf(&b, "\n  %s:%d %s: %s", d.Path, d.Line, d.Kind, d.Detail)
	}

	if verr := rep.Err(); verr != nil {
		// The report still prints in full so the damage is visible;
		// only the envelope status and exit code flip.
		if f.Format == "json" {
			enc := json.NewEncoder(f.Writer)
			enc.SetIndent("", "  ")
			_ = enc.Encode(Envelope{
				Status: "error",
				Data:   rep,
				Error:  &ErrorBody{Kind: string(fault.KindIntegrity), Message: verr.Error()},
			})
		} else {
			fmt.Fprintln(f.Writer, b.String())
		}
		return WrapExitError(ExitFailure, verr.Error(), verr)
	}
	return f.Success(rep, b.String())
}
