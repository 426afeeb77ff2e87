package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// TraceSnapshot captures the executed trace of a scenario for golden
// comparison. The snapshot serializes canonically, so byte-for-byte golden
// files stay stable across processes.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toValue converts a TraceSnapshot to a canonical Value.
func (s *TraceSnapshot) toValue() tuple.Value {
	trace := make(tuple.Array, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = tuple.Object{
			"op":      tuple.String(ev.Op),
			"matched": tuple.Bool(ev.Matched),
			"seq":     tuple.Int(int64(ev.Seq)),
		}
	}
	return tuple.Object{
		"scenario_name": tuple.String(s.ScenarioName),
		"trace":         trace,
	}
}

// AssertGolden compares a scenario result against the golden file for
// name. Run tests with -update to regenerate golden files.
func AssertGolden(t *testing.T, name string, sc *Scenario, res *Result) {
	t.Helper()

	snap := &TraceSnapshot{ScenarioName: sc.Name, Trace: res.Trace}
	raw, err := tuple.MarshalCanonical(snap.toValue())
	if err != nil {
		t.Fatalf("marshal trace snapshot: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, name, raw)
}
