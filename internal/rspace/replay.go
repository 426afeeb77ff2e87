package rspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// ReplaySpace re-executes a recorded event log deterministically.
//
// Rig loads the log and builds replayData: a multimap from each consume
// and produce reference to the COMM events it participated in. While
// replaying, a produce or consume that would match commits only if the
// resulting COMM equals one of its rigged entries; committing consumes the
// entry from every reference it was registered under. A match with no
// corresponding rigged COMM is a divergence and poisons the session.
//
// The rigged COMM disambiguates which producer or continuation is chosen
// wherever several outcomes were possible, so replay needs no reproducible
// RNG: candidate ordering is steered toward rigged participants instead.
//
// After re-executing the log's API calls, CheckReplayData asserts that no
// rigged entry is left over.
type ReplaySpace struct {
	*Space
}

// NewReplaySpace creates a replay tuplespace over the repository's empty
// root. Rig must be called before replaying operations.
func NewReplaySpace(ctx context.Context, repo *history.Repository, matcher Matcher, opts ...Option) (*ReplaySpace, error) {
	s, err := NewSpace(ctx, repo, matcher, opts...)
	if err != nil {
		return nil, err
	}
	s.replay = newReplayData()
	s.sel = &replaySelector{rd: s.replay}
	return &ReplaySpace{Space: s}, nil
}

// Rig loads the event log to replay. Any previously rigged state is
// replaced. Produce and consume events carry no obligations; only COMM
// events must be reproduced.
func (r *ReplaySpace) Rig(log []tuple.Event) error {
	return r.replay.rig(log)
}

// CheckReplayData asserts that every rigged COMM was reproduced. Residual
// entries signal divergence between the rigged log and the replayed calls.
func (r *ReplaySpace) CheckReplayData() error {
	if n := r.replay.pending(); n > 0 {
		r.invalid.Store(true)
		return NewDivergenceError("check-replay-data",
			fmt.Sprintf("%d rigged COMM event(s) were not reproduced", n), nil)
	}
	return nil
}

// riggedComm is one COMM obligation. done flips when a replayed operation
// commits it; a done entry stays registered but is ignored.
type riggedComm struct {
	key  string
	comm tuple.Comm
	done bool
}

// replayData is the multimap from operation references to rigged COMMs.
type replayData struct {
	mu    sync.Mutex
	comms map[string][]*riggedComm
}

func newReplayData() *replayData {
	return &replayData{comms: make(map[string][]*riggedComm)}
}

// rig rebuilds the multimap from a log's COMM events.
func (rd *replayData) rig(log []tuple.Event) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	rd.comms = make(map[string][]*riggedComm)
	for _, ev := range log {
		if ev.Kind != tuple.EventComm {
			continue
		}
		comm := *ev.Comm
		key, err := commKey(comm.Consume.Ref, comm.Produces, comm.Peeks)
		if err != nil {
			return fmt.Errorf("rig: %w", err)
		}
		rc := &riggedComm{key: key, comm: comm}

		refs := map[string]bool{comm.Consume.Ref.Hex(): true}
		for _, p := range comm.Produces {
			refs[p.Ref.Hex()] = true
		}
		for ref := range refs {
			rd.comms[ref] = append(rd.comms[ref], rc)
		}
	}
	return nil
}

// consumeRigged marks the rigged COMM with the given key done, if one is
// pending under ref. Returns false when no pending entry matches.
func (rd *replayData) consumeRigged(ref tuple.Hash, key string) bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	for _, rc := range rd.comms[ref.Hex()] {
		if !rc.done && rc.key == key {
			rc.done = true
			return true
		}
	}
	return false
}

// riggedProduces returns the produce refs participating in any pending
// COMM of ref. Used to steer data candidate ordering.
func (rd *replayData) riggedProduces(ref tuple.Hash) map[string]bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	out := make(map[string]bool)
	for _, rc := range rd.comms[ref.Hex()] {
		if rc.done {
			continue
		}
		for _, p := range rc.comm.Produces {
			out[p.Ref.Hex()] = true
		}
	}
	return out
}

// riggedConsumes returns the consume refs of any pending COMM of ref.
// Used to steer continuation candidate ordering.
func (rd *replayData) riggedConsumes(ref tuple.Hash) map[string]bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	out := make(map[string]bool)
	for _, rc := range rd.comms[ref.Hex()] {
		if !rc.done {
			out[rc.comm.Consume.Ref.Hex()] = true
		}
	}
	return out
}

// pending counts distinct rigged COMMs not yet reproduced.
func (rd *replayData) pending() int {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	seen := make(map[*riggedComm]bool)
	n := 0
	for _, rcs := range rd.comms {
		for _, rc := range rcs {
			if !rc.done && !seen[rc] {
				seen[rc] = true
				n++
			}
		}
	}
	return n
}

// commKey is the structural identity of a COMM used for replay
// comparison: the consume ref, the produce refs in channel-position order,
// and the peeks. Seq stamps and repeat counters are excluded - they are
// session accounting, not identity.
func commKey(consumeRef tuple.Hash, produces []tuple.Produce, peeks []int) (string, error) {
	produceRefs := make(tuple.Array, len(produces))
	for i, p := range produces {
		produceRefs[i] = tuple.String(p.Ref.Hex())
	}
	peekVals := make(tuple.Array, len(peeks))
	for i, p := range peeks {
		peekVals[i] = tuple.Int(p)
	}
	canonical, err := tuple.MarshalCanonical(tuple.Object{
		"consume":  tuple.String(consumeRef.Hex()),
		"produces": produceRefs,
		"peeks":    peekVals,
	})
	if err != nil {
		return "", fmt.Errorf("comm key: %w", err)
	}
	return string(canonical), nil
}
