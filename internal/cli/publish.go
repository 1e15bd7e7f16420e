package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/stream"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Summary     string
	Type        string
	Scope       string
	Instance    string
	RunID       string
	DecisionKey string
	Horizon     string
	Salience    string
	Confidence  float64
	Tags        []string
	Assumptions []string
	CausalRefs  []string
	ReviewAfter string
	DueDate     string
	Evidence    string
	Rationale   string
	Project     string
	DryRun      bool
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish shared knowledge to the bus",
		Long: `Append a memory.published event to the shared bus for other
instances to reduce. The object type must be declared; decisions should
carry a decision key so concurrent revisions of the same decision can be
detected.

Example:
  diasync publish --scope project:phoenix --type decision \
    --decision-key policy-x --summary "use exponential backoff on /sync"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Summary, "summary", "", "entry summary (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "object type (fact|decision|commitment) (required)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope to publish under")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "publishing instance id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.Flags().StringVar(&opts.DecisionKey, "decision-key", "", "stable decision identity")
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "relevance horizon (now|day|week|month|quarter|year)")
	cmd.Flags().StringVar(&opts.Salience, "salience", "", "salience (low|medium|high)")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 0, "confidence in [0,1]")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "tags")
	cmd.Flags().StringSliceVar(&opts.Assumptions, "assumption", nil, "assumptions behind the entry")
	cmd.Flags().StringSliceVar(&opts.CausalRefs, "causal-ref", nil, "event ids this publication depends on")
	cmd.Flags().StringVar(&opts.ReviewAfter, "review-after", "", "review date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date for commitments (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Evidence, "evidence", "", "evidence path under evidence/")
	cmd.Flags().StringVar(&opts.Rationale, "rationale", "", "rationale")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runPublish(opts *PublishOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	var confidence *float64
	if cmd.Flags().Changed("confidence") {
		confidence = &opts.Confidence
	}
	res, err := stream.Publish(st, stream.PublishOptions{
		Entry: stream.Entry{
			Summary:     opts.Summary,
			Type:        record.ObjectType(opts.Type),
			Horizon:     record.Horizon(opts.Horizon),
			Salience:    record.Salience(opts.Salience),
			Confidence:  confidence,
			Tags:        opts.Tags,
			DecisionKey: opts.DecisionKey,
			ReviewAfter: opts.ReviewAfter,
			DueDate:     opts.DueDate,
			Evidence:    opts.Evidence,
			Rationale:   opts.Rationale,
			Assumptions: opts.Assumptions,
		},
		Scope:      opts.Scope,
		Instance:   opts.Instance,
		RunID:      opts.RunID,
		Project:    opts.Project,
		CausalRefs: opts.CausalRefs,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("published %s -> %s", res.Event.EventID, res.Path)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
