package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Assertion types evaluated after the flow completes.
const (
	AssertActiveObjects = "active_objects"
	AssertOpenConflicts = "open_conflicts"
	AssertLeaseState    = "lease_state"
	AssertScore         = "score"
	AssertEventCount    = "event_count"
)

// Scenario clock defaults. Start anchors the deterministic clock and
// Step is the interval between flow steps.
const (
	DefaultStart = "2026-03-01T09:00:00Z"
	DefaultStep  = time.Second
)

// Scenario is one YAML-defined store exercise: a flow of operations
// plus assertions over the resulting state.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Scope is the default scope for steps that omit one.
	Scope string `yaml:"scope,omitempty"`

	// Start overrides the clock origin (RFC 3339). Step overrides the
	// per-step interval (Go duration string).
	Start string `yaml:"start,omitempty"`
	Step  string `yaml:"step,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation in a scenario flow. Fail, when set, names the
// fault kind the step is required to be refused with; a step without
// Fail must succeed.
type Step struct {
	Op   string         `yaml:"op"`
	Args map[string]any `yaml:"args,omitempty"`
	Fail string         `yaml:"fail,omitempty"`
}

// Assertion is one post-flow check. Which fields apply depends on
// Type; validateAssertion enforces the per-type requirements.
type Assertion struct {
	Type string `yaml:"type"`

	// active_objects / open_conflicts / event_count
	Count *int `yaml:"count,omitempty"`

	// active_objects
	Scope      string `yaml:"scope,omitempty"`
	ObjectType string `yaml:"object_type,omitempty"`
	Summary    string `yaml:"summary,omitempty"` // newest object must carry this summary

	// lease_state
	Key    string `yaml:"key,omitempty"`
	Held   *bool  `yaml:"held,omitempty"`
	Holder string `yaml:"holder,omitempty"`

	// score
	Score *int   `yaml:"score,omitempty"`
	Band  string `yaml:"band,omitempty"`

	// event_count
	Zone string `yaml:"zone,omitempty"`
}

// knownOps is the dispatch whitelist; validateScenario rejects
// anything else so typos fail at load, not mid-run.
var knownOps = map[string]bool{
	"sync.start":     true,
	"sync.heartbeat": true,
	"sync.stop":      true,
	"capture":        true,
	"publish":        true,
	"distill":        true,
	"reduce":         true,
	"lease.acquire":  true,
	"lease.release":  true,
	"reconcile":      true,
	"diagnose":       true,
	"tick":           true,
}

var knownAssertions = map[string]bool{
	AssertActiveObjects: true,
	AssertOpenConflicts: true,
	AssertLeaseState:    true,
	AssertScore:         true,
	AssertEventCount:    true,
}

// LoadScenario reads and validates one scenario file. Unknown YAML
// keys are rejected so stale fixtures surface immediately.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	if sc.Start != "" {
		if _, err := time.Parse(time.RFC3339, sc.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if sc.Step != "" {
		if _, err := time.ParseDuration(sc.Step); err != nil {
			return fmt.Errorf("step: %w", err)
		}
	}
	for i, step := range sc.Flow {
		if step.Op == "" {
			return fmt.Errorf("flow[%d]: op is required", i)
		}
		if !knownOps[step.Op] {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
	}
	for i, a := range sc.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !knownAssertions[a.Type] {
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	switch a.Type {
	case AssertActiveObjects, AssertOpenConflicts:
		if a.Count == nil {
			return fmt.Errorf("%s requires count", a.Type)
		}
	case AssertLeaseState:
		if a.Key == "" {
			return fmt.Errorf("lease_state requires key")
		}
		if a.Held == nil {
			return fmt.Errorf("lease_state requires held")
		}
	case AssertScore:
		if a.Score == nil && a.Band == "" {
			return fmt.Errorf("score requires score or band")
		}
	case AssertEventCount:
		if a.Zone == "" {
			return fmt.Errorf("event_count requires zone")
		}
		if a.Count == nil {
			return fmt.Errorf("event_count requires count")
		}
	}
	return nil
}

// clockStart resolves the scenario's clock origin.
func (sc *Scenario) clockStart() time.Time {
	start := sc.Start
	if start == "" {
		start = DefaultStart
	}
	t, _ := time.Parse(time.RFC3339, start) // validated at load
	return t.UTC()
}

// clockStep resolves the interval between flow steps.
func (sc *Scenario) clockStep() time.Duration {
	if sc.Step == "" {
		return DefaultStep
	}
	d, _ := time.ParseDuration(sc.Step) // validated at load
	return d
}
