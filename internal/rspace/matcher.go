package rspace

import (
	"fmt"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// Matcher is the pluggable pattern matcher. Match reports whether pattern
// accepts datum and may rewrite the datum (the rewritten value is what the
// continuation receives). Matchers must be purely functional: no side
// effects on the store, same answer for same inputs.
//
// The engine never inspects patterns itself.
type Matcher interface {
	Match(pattern, datum tuple.Value) (rewritten tuple.Value, ok bool, err error)
}

// indexedDatum pairs a datum with its stable store index. The producer's
// own in-flight datum carries ownDatumIndex: it exists only virtually and
// is consumed in place, never removed from the store.
type indexedDatum struct {
	datum tuple.Datum
	index int
}

// ownDatumIndex is the sentinel index of the datum being produced by the
// current call.
const ownDatumIndex = -1

// indexedCont pairs a waiting continuation with its stable store index.
type indexedCont struct {
	wc    tuple.WaitingContinuation
	index int
}

// consumeCandidate is one matched (channel, datum) pair of a tuple match.
type consumeCandidate struct {
	channel   tuple.Value
	datum     tuple.Datum
	rewritten tuple.Value
	index     int
}

// produceCandidate is a full produce-side match: the joined channel tuple,
// the matched continuation with its index, and one data candidate per
// channel position.
type produceCandidate struct {
	channels       []tuple.Value
	wc             tuple.WaitingContinuation
	contIndex      int
	dataCandidates []consumeCandidate
}

// extractDataCandidates attempts to satisfy every pattern of a channel
// tuple from the per-position data lists.
//
// Patterns are processed in input order; for each, the first matching
// datum in its (already ordered) list wins. A datum claimed for an earlier
// position is skipped when the same channel appears again, so duplicate
// channels in a tuple never match one datum twice. Any pattern with no
// match aborts the extraction for the whole tuple.
//
// channelKeys must hold the hash hex of each channel position; data[i] is
// the candidate list for position i.
func extractDataCandidates(m Matcher, channels []tuple.Value, channelKeys []string, patterns []tuple.Value, data [][]indexedDatum) ([]consumeCandidate, bool, error) {
	claimed := make(map[string]map[int]bool)

	candidates := make([]consumeCandidate, 0, len(patterns))
	for i, pattern := range patterns {
		key := channelKeys[i]
		found := false
		for _, cand := range data[i] {
			if claimed[key][cand.index] {
				continue
			}
			rewritten, ok, err := m.Match(pattern, cand.datum.A)
			if err != nil {
				return nil, false, fmt.Errorf("match pattern %d: %w", i, err)
			}
			if !ok {
				continue
			}
			if claimed[key] == nil {
				claimed[key] = make(map[int]bool)
			}
			claimed[key][cand.index] = true
			candidates = append(candidates, consumeCandidate{
				channel:   channels[i],
				datum:     cand.datum,
				rewritten: rewritten,
				index:     cand.index,
			})
			found = true
			break
		}
		if !found {
			return nil, false, nil
		}
	}
	return candidates, true, nil
}

// extractFirstMatch scans the waiting continuations of one joined channel
// tuple (in the given order) and returns the first whose patterns can all
// be satisfied from the per-channel data, or nil.
//
// fetchData returns the ordered candidate list for channel position i; it
// is called fresh per continuation because peeks do not affect candidate
// visibility but earlier failed extractions must not leak claims.
func extractFirstMatch(m Matcher, channels []tuple.Value, channelKeys []string, conts []indexedCont, fetchData func(i int) []indexedDatum) (*produceCandidate, error) {
	for _, cand := range conts {
		data := make([][]indexedDatum, len(channels))
		for i := range channels {
			data[i] = fetchData(i)
		}
		dataCandidates, ok, err := extractDataCandidates(m, channels, channelKeys, cand.wc.Patterns, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		return &produceCandidate{
			channels:       channels,
			wc:             cand.wc,
			contIndex:      cand.index,
			dataCandidates: dataCandidates,
		}, nil
	}
	return nil, nil
}
