package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/stream"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Summary    string
	Scope      string
	Instance   string
	RunID      string
	Type       string
	Horizon    string
	Salience   string
	Confidence float64
	Tags       []string
	Project    string
	Visibility string
	DryRun     bool
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Append an entry to the private stream",
		Long: `Append a memory.captured event to this instance's private daily
stream. Nothing is shared until the entry is distilled or published.

Example:
  diasync capture --scope project:phoenix --summary "retry budget exhausted on /sync"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Summary, "summary", "", "entry summary (required)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope to file the entry under")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "writing instance id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "proposed object type (fact|decision|commitment)")
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "relevance horizon (now|day|week|month|quarter|year)")
	cmd.Flags().StringVar(&opts.Salience, "salience", "", "salience (low|medium|high)")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 0, "confidence in [0,1]")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "tags")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug")
	cmd.Flags().StringVar(&opts.Visibility, "visibility", "", "visibility (private|project|global)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkFlagRequired("summary")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	var confidence *float64
	if cmd.Flags().Changed("confidence") {
		confidence = &opts.Confidence
	}
	res, err := stream.Capture(st, stream.CaptureOptions{
		Entry: stream.Entry{
			Summary:    opts.Summary,
			Type:       record.ObjectType(opts.Type),
			Horizon:    record.Horizon(opts.Horizon),
			Salience:   record.Salience(opts.Salience),
			Confidence: confidence,
			Tags:       opts.Tags,
		},
		Scope:      opts.Scope,
		Instance:   opts.Instance,
		RunID:      opts.RunID,
		Project:    opts.Project,
		Visibility: record.Visibility(opts.Visibility),
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("captured %s -> %s", res.Event.EventID, res.Path)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
