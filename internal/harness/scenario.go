package harness

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dylon/f1r3fly/internal/rspace"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// Scenario is a scripted sequence of tuplespace operations. Scenarios back
// the CLI run/replay commands and the conformance tests: the same file can
// be executed live, checkpointed, and replayed.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Source is the metrics source label for the space.
	Source string `yaml:"source,omitempty"`

	// Steps is the operation script, executed in order.
	Steps []Step `yaml:"steps"`
}

// Step is one scripted operation.
type Step struct {
	// Op is one of "produce", "consume", "install".
	Op string `yaml:"op"`

	// Channel and Data apply to produce.
	Channel any `yaml:"channel,omitempty"`
	Data    any `yaml:"data,omitempty"`

	// Channels, Patterns, and K apply to consume and install.
	Channels []any `yaml:"channels,omitempty"`
	Patterns []any `yaml:"patterns,omitempty"`
	K        any   `yaml:"k,omitempty"`

	// Persist applies to produce and consume.
	Persist bool `yaml:"persist,omitempty"`

	// Peeks applies to consume.
	Peeks []int `yaml:"peeks,omitempty"`

	// Expect optionally pins the outcome: "match" or "none".
	Expect string `yaml:"expect,omitempty"`
}

// TraceEvent records the outcome of one executed step.
type TraceEvent struct {
	Op      string
	Matched bool
	Seq     int
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates every expect clause held.
	Pass bool

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent

	// Errors contains expectation failures. Empty if Pass.
	Errors []string
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: steps are required", path)
	}
	return &sc, nil
}

// Run executes every step of a scenario against a space and records the
// trace. Operation errors abort the run; expectation mismatches are
// collected into the result instead.
func Run(ctx context.Context, space *rspace.Space, sc *Scenario) (*Result, error) {
	res := &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}

	for i, step := range sc.Steps {
		matched, err := runStep(ctx, space, step)
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d (%s): %w", sc.Name, i+1, step.Op, err)
		}

		res.Trace = append(res.Trace, TraceEvent{Op: step.Op, Matched: matched, Seq: i + 1})

		switch step.Expect {
		case "":
		case "match":
			if !matched {
				res.addError(fmt.Sprintf("step %d (%s): expected a match, got none", i+1, step.Op))
			}
		case "none":
			if matched {
				res.addError(fmt.Sprintf("step %d (%s): expected no match, got one", i+1, step.Op))
			}
		default:
			return nil, fmt.Errorf("scenario %s step %d: unknown expect %q", sc.Name, i+1, step.Expect)
		}
	}

	return res, nil
}

func runStep(ctx context.Context, space *rspace.Space, step Step) (matched bool, err error) {
	switch step.Op {
	case "produce":
		channel, err := tuple.FromGo(step.Channel)
		if err != nil {
			return false, fmt.Errorf("channel: %w", err)
		}
		data, err := tuple.FromGo(step.Data)
		if err != nil {
			return false, fmt.Errorf("data: %w", err)
		}
		res, err := space.Produce(ctx, channel, data, step.Persist)
		if err != nil {
			return false, err
		}
		return res != nil, nil

	case "consume":
		channels, patterns, k, err := consumeArgs(step)
		if err != nil {
			return false, err
		}
		res, err := space.Consume(ctx, channels, patterns, k, step.Persist, step.Peeks)
		if err != nil {
			return false, err
		}
		return res != nil, nil

	case "install":
		channels, patterns, k, err := consumeArgs(step)
		if err != nil {
			return false, err
		}
		if err := space.Install(ctx, channels, patterns, k); err != nil {
			return false, err
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown op %q", step.Op)
	}
}

func consumeArgs(step Step) ([]tuple.Value, []tuple.Value, tuple.Value, error) {
	channels := make([]tuple.Value, len(step.Channels))
	for i, raw := range step.Channels {
		c, err := tuple.FromGo(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("channels[%d]: %w", i, err)
		}
		channels[i] = c
	}
	patterns := make([]tuple.Value, len(step.Patterns))
	for i, raw := range step.Patterns {
		p, err := tuple.FromGo(raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("patterns[%d]: %w", i, err)
		}
		patterns[i] = p
	}
	k, err := tuple.FromGo(step.K)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("k: %w", err)
	}
	return channels, patterns, k, nil
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
