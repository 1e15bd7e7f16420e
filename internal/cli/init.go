package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/policy"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// InitResult reports what an init run created.
type InitResult struct {
	Root    string   `json:"root"`
	Created []string `json:"created"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store layout",
		Long: `Create the store directory tree, version marker, wire schemas and
default policy under the resolved root. Idempotent: an existing store is
left untouched and only missing pieces are created.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	st := shard.Open(opts.Root)

	created, err := st.EnsureLayout()
	if err != nil {
		return f.Failure(err)
	}

	// The wire schemas are embedded in the binary; a copy in _meta lets
	// non-Go tooling validate shards without importing this module.
	more, err := seedMetaFiles(st)
	if err != nil {
		return f.Failure(err)
	}
	created = append(created, more...)

	res := InitResult{Root: st.Root(), Created: created}
	if res.Created == nil {
		res.Created = []string{}
	}
	text := fmt.Sprintf("store ready at %s", res.Root)
	if len(res.Created) > 0 {
		text += "\ncreated:\n  " + strings.Join(res.Created, "\n  ")
	}
	return f.Success(res, text)
}

func seedMetaFiles(st *shard.Store) ([]string, error) {
	created := []string{}

	seed := func(path, rel, content string) error {
		_, exists, err := st.ReadFile(path)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := st.ReplaceFile(path, []byte(content)); err != nil {
			return err
		}
		created = append(created, rel)
		return nil
	}

	if err := seed(st.EventSchemaPath(), "_meta/event_schema.json", record.EventSchemaJSON); err != nil {
		return nil, err
	}
	if err := seed(st.ObjectSchemaPath(), "_meta/object_schema.json", record.ObjectSchemaJSON); err != nil {
		return nil, err
	}

	_, exists, err := st.ReadFile(st.PolicyPath())
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := policy.Save(st, policy.Default()); err != nil {
			return nil, err
		}
		created = append(created, "_meta/policy.yaml")
	}
	return created, nil
}
