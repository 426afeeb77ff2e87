package testutil

import "github.com/dylon/f1r3fly/internal/tuple"

// FailingMatcher always errors. Used to verify that matcher failures abort
// the operation without state changes.
type FailingMatcher struct {
	Err error
}

// Match implements the engine's matcher interface.
func (m FailingMatcher) Match(pattern, datum tuple.Value) (tuple.Value, bool, error) {
	return nil, false, m.Err
}

// RejectAllMatcher never matches. Used to force the store-and-wait path.
type RejectAllMatcher struct{}

// Match implements the engine's matcher interface.
func (RejectAllMatcher) Match(pattern, datum tuple.Value) (tuple.Value, bool, error) {
	return nil, false, nil
}

// TaggingMatcher matches like a wildcard but rewrites the datum by
// wrapping it in an object. Used to verify that the continuation receives
// the matcher-rewritten value.
type TaggingMatcher struct {
	Tag string
}

// Match implements the engine's matcher interface.
func (m TaggingMatcher) Match(pattern, datum tuple.Value) (tuple.Value, bool, error) {
	return tuple.Object{m.Tag: datum}, true, nil
}
