// Package policy loads the operational tunables every subsystem reads
// from _meta/policy.yaml.
//
// The document is validated against an embedded CUE schema before use, so
// a mistyped knob fails loudly (naming the offending path) instead of
// silently running with a default. Precedence: CLI flags override policy,
// policy overrides compiled-in defaults.
package policy

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/shard"
)

//go:embed schema.cue
var schemaCUE string

// Policy holds the tunables. Field-by-field zero values are never used
// directly; Load overlays the document onto Default().
type Policy struct {
	StaleAfterSeconds    int `yaml:"stale_after_seconds" json:"stale_after_seconds"`
	LeaseTTLSeconds      int `yaml:"lease_ttl_seconds" json:"lease_ttl_seconds"`
	ReduceLimit          int `yaml:"reduce_limit" json:"reduce_limit"`
	DistillLimit         int `yaml:"distill_limit" json:"distill_limit"`
	RotateMaxLines       int `yaml:"rotate_max_lines" json:"rotate_max_lines"`
	ArchiveBeforeMonths  int `yaml:"archive_before_months" json:"archive_before_months"`
	PruneRetentionMonths int `yaml:"prune_retention_months" json:"prune_retention_months"`
	ViewFreshSeconds     int `yaml:"view_fresh_seconds" json:"view_fresh_seconds"`
	ViewAgingSeconds     int `yaml:"view_aging_seconds" json:"view_aging_seconds"`
	MaxActions           int `yaml:"max_actions" json:"max_actions"`
	TopDecisions         int `yaml:"top_decisions" json:"top_decisions"`
	TopCommitments       int `yaml:"top_commitments" json:"top_commitments"`
}

// Default returns the compiled-in tunables.
func Default() Policy {
	return Policy{
		StaleAfterSeconds:    1800,
		LeaseTTLSeconds:      900,
		ReduceLimit:          500,
		DistillLimit:         200,
		RotateMaxLines:       800,
		ArchiveBeforeMonths:  3,
		PruneRetentionMonths: 12,
		ViewFreshSeconds:     24 * 3600,
		ViewAgingSeconds:     72 * 3600,
		MaxActions:           5,
		TopDecisions:         10,
		TopCommitments:       10,
	}
}

// Load reads and validates _meta/policy.yaml.
// A missing file returns Default() unchanged; a present but invalid file
// is a validation error — never silently ignored.
func Load(st *shard.Store) (Policy, error) {
	const op = "policy.load"

	text, exists, err := st.ReadFile(st.PolicyPath())
	if err != nil {
		return Policy{}, err
	}
	if !exists {
		return Default(), nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return Policy{}, fault.Validationf(op, "parse policy.yaml: %v", err)
	}
	if doc == nil {
		return Default(), nil
	}
	if err := validateDoc(doc); err != nil {
		return Policy{}, err
	}

	// Overlay the validated document onto the defaults. yaml.Unmarshal
	// leaves absent fields untouched, which is exactly the precedence
	// behavior Load promises.
	p := Default()
	if err := yaml.Unmarshal([]byte(text), &p); err != nil {
		return Policy{}, fault.Validationf(op, "decode policy.yaml: %v", err)
	}
	return p, nil
}

// Save writes the policy document capsule. Used by init to seed the
// default document so operators have something concrete to edit.
func Save(st *shard.Store, p Policy) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fault.Validationf("policy.save", "marshal policy: %v", err)
	}
	header := []byte("# diasync operational policy. Validated against an embedded CUE schema;\n# unknown fields and out-of-range values are rejected.\n")
	return st.ReplaceFile(st.PolicyPath(), append(header, data...))
}

// validateDoc unifies the decoded document with the #Policy schema and
// requires the result to be concrete and closed.
func validateDoc(doc map[string]any) error {
	const op = "policy.load"

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Policy"))
	if !def.Exists() {
		return fmt.Errorf("policy schema: #Policy definition missing")
	}

	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fault.Validationf(op, "encode policy document: %v", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fault.Validationf(op, "policy.yaml: %s", cueerrors.Details(err, nil))
	}
	return nil
}
