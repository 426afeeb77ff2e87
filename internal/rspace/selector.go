package rspace

import (
	"math/rand/v2"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// selector orders candidate lists before extraction. The live variant
// shuffles with a pseudo-random permutation to prevent pathological
// starvation; the replay variant orders rigged participants first so the
// greedy extraction reproduces the recorded commit without any RNG.
type selector interface {
	orderData(opRef tuple.Hash, data []indexedDatum) []indexedDatum
	orderConts(opRef tuple.Hash, conts []indexedCont) []indexedCont
}

// liveSelector shuffles with perm. The default perm draws a fresh
// pseudo-random permutation per call.
type liveSelector struct {
	perm func(n int) []int
}

func newLiveSelector(perm func(n int) []int) *liveSelector {
	if perm == nil {
		perm = rand.Perm
	}
	return &liveSelector{perm: perm}
}

func (s *liveSelector) orderData(_ tuple.Hash, data []indexedDatum) []indexedDatum {
	out := make([]indexedDatum, len(data))
	for i, j := range s.perm(len(data)) {
		out[i] = data[j]
	}
	return out
}

func (s *liveSelector) orderConts(_ tuple.Hash, conts []indexedCont) []indexedCont {
	out := make([]indexedCont, len(conts))
	for i, j := range s.perm(len(conts)) {
		out[i] = conts[j]
	}
	return out
}

// replaySelector steers extraction toward the rigged COMM events of the
// current operation: data produced by a rigged produce and continuations
// registered by a rigged consume sort first, original order preserved
// within each partition.
type replaySelector struct {
	rd *replayData
}

func (s *replaySelector) orderData(opRef tuple.Hash, data []indexedDatum) []indexedDatum {
	rigged := s.rd.riggedProduces(opRef)
	if len(rigged) == 0 {
		return data
	}
	out := make([]indexedDatum, 0, len(data))
	for _, d := range data {
		if rigged[d.datum.Source.Ref.Hex()] {
			out = append(out, d)
		}
	}
	for _, d := range data {
		if !rigged[d.datum.Source.Ref.Hex()] {
			out = append(out, d)
		}
	}
	return out
}

func (s *replaySelector) orderConts(opRef tuple.Hash, conts []indexedCont) []indexedCont {
	rigged := s.rd.riggedConsumes(opRef)
	if len(rigged) == 0 {
		return conts
	}
	out := make([]indexedCont, 0, len(conts))
	for _, c := range conts {
		if rigged[c.wc.Source.Ref.Hex()] {
			out = append(out, c)
		}
	}
	for _, c := range conts {
		if !rigged[c.wc.Source.Ref.Hex()] {
			out = append(out, c)
		}
	}
	return out
}
