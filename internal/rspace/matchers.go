package rspace

import "github.com/dylon/f1r3fly/internal/tuple"

// Wildcard is the pattern accepted by StructuralMatcher as "match
// anything".
const Wildcard = tuple.String("_")

// StructuralMatcher is a simple matcher over term values: the wildcard
// pattern accepts any datum, any other pattern accepts exactly the datum
// with the same canonical encoding. The datum is never rewritten.
//
// It backs the CLI scenario runner and the test suites. Richer matchers
// plug in through the Matcher interface; the engine is indifferent.
type StructuralMatcher struct{}

// Match implements Matcher.
func (StructuralMatcher) Match(pattern, datum tuple.Value) (tuple.Value, bool, error) {
	if p, ok := pattern.(tuple.String); ok && p == Wildcard {
		return datum, true, nil
	}
	same, err := tuple.Equal(pattern, datum)
	if err != nil {
		return nil, false, err
	}
	if !same {
		return nil, false, nil
	}
	return datum, true, nil
}
