package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
)

// AgendaOptions holds flags shared by the agenda subcommands.
type AgendaOptions struct {
	*RootOptions
	Project      string
	ID           string
	Summary      string
	Priority     string
	DueDate      string
	SourceObject string
	DryRun       bool
}

// NewAgendaCommand creates the agenda command group.
func NewAgendaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgendaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Manage the project agenda",
		Long: `Add, close, update and list agenda items. The agenda is an
append-only per-project ledger; list folds it into current items sorted
by priority.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Project, "project", "", "project slug (required)")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkPersistentFlagRequired("project")

	add := &cobra.Command{
		Use:           "add",
		Short:         "Add an agenda item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgendaAdd(opts, cmd)
		},
	}
	add.Flags().StringVar(&opts.Summary, "summary", "", "item summary (required)")
	add.Flags().StringVar(&opts.Priority, "priority", "", "priority (low|medium|high)")
	add.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.SourceObject, "source", "", "source object id")
	_ = add.MarkFlagRequired("summary")

	closeCmd := &cobra.Command{
		Use:           "close",
		Short:         "Close an agenda item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgendaClose(opts, cmd)
		},
	}
	closeCmd.Flags().StringVar(&opts.ID, "id", "", "agenda item id (required)")
	_ = closeCmd.MarkFlagRequired("id")

	update := &cobra.Command{
		Use:           "update",
		Short:         "Update an agenda item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgendaUpdate(opts, cmd)
		},
	}
	update.Flags().StringVar(&opts.ID, "id", "", "agenda item id (required)")
	update.Flags().StringVar(&opts.Summary, "summary", "", "new summary")
	update.Flags().StringVar(&opts.Priority, "priority", "", "new priority (low|medium|high)")
	update.Flags().StringVar(&opts.DueDate, "due", "", "new due date (YYYY-MM-DD)")
	_ = update.MarkFlagRequired("id")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List open agenda items",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgendaList(opts, cmd)
		},
	}

	cmd.AddCommand(add, closeCmd, update, list)
	return cmd
}

func runAgendaAdd(opts *AgendaOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := project.AgendaAdd(st, project.AgendaAddOptions{
		Project:      opts.Project,
		Summary:      opts.Summary,
		Priority:     record.Priority(opts.Priority),
		DueDate:      opts.DueDate,
		SourceObject: opts.SourceObject,
		DryRun:       opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}
	return f.Success(res, agendaText("added", res))
}

func runAgendaClose(opts *AgendaOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := project.AgendaClose(st, project.AgendaCloseOptions{
		Project: opts.Project,
		ID:      opts.ID,
		DryRun:  opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}
	return f.Success(res, agendaText("closed", res))
}

func runAgendaUpdate(opts *AgendaOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := project.AgendaUpdate(st, project.AgendaUpdateOptions{
		Project:  opts.Project,
		ID:       opts.ID,
		Summary:  opts.Summary,
		Priority: record.Priority(opts.Priority),
		DueDate:  opts.DueDate,
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}
	return f.Success(res, agendaText("updated", res))
}

func runAgendaList(opts *AgendaOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	items, err := project.AgendaList(st, opts.Project)
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d open item(s) for %s", len(items), opts.Project)
	for _, it := range items {
		fmt.Fprintf(&b, "\n  [%s] %s: %s", it.Priority, it.ID, it.Summary)
		if it.DueDate != "" {
			fmt.Fprintf(&b, " (due %s)", it.DueDate)
		}
	}
	return f.Success(items, b.String())
}

func agendaText(verb string, res *project.AgendaResult) string {
	text := fmt.Sprintf("%s %s: %s", verb, res.Op.Item.ID, res.Op.Item.Summary)
	if res.DryRun {
		text += " [dry-run]"
	}
	return text
}
