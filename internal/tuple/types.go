package tuple

import (
	"fmt"
	"slices"
)

// Produce is the structural reference record of a produce operation.
// Ref is content-addressed over (channel, data, persist), never identity
// based, so replay across processes and across store rebuilds stays
// meaningful.
type Produce struct {
	Channel Value
	Data    Value
	Persist bool
	Ref     Hash
}

// NewProduce builds a Produce with its structural reference computed.
func NewProduce(channel, data Value, persist bool) (Produce, error) {
	ref, err := hashValue(DomainProduce, Object{
		"channel": channel,
		"data":    data,
		"persist": Bool(persist),
	})
	if err != nil {
		return Produce{}, fmt.Errorf("produce ref: %w", err)
	}
	return Produce{Channel: channel, Data: data, Persist: persist, Ref: ref}, nil
}

// Consume is the structural reference record of a consume operation.
// Ref is content-addressed over (channels, patterns, k, persist).
type Consume struct {
	Channels []Value
	Patterns []Value
	K        Value
	Persist  bool
	Ref      Hash
}

// NewConsume builds a Consume with its structural reference computed.
func NewConsume(channels, patterns []Value, k Value, persist bool) (Consume, error) {
	ref, err := hashValue(DomainConsume, Object{
		"channels": Array(channels),
		"patterns": Array(patterns),
		"k":        k,
		"persist":  Bool(persist),
	})
	if err != nil {
		return Consume{}, fmt.Errorf("consume ref: %w", err)
	}
	return Consume{Channels: channels, Patterns: patterns, K: k, Persist: persist, Ref: ref}, nil
}

// Comm records a communication: the matched consume, the produces whose data
// participated (in channel order), the peeked indices, and the per-produce
// repeat counters at commit time. TimesRepeated is keyed by produce ref hex.
type Comm struct {
	Consume       Consume
	Produces      []Produce
	Peeks         []int
	TimesRepeated map[string]int
}

// Datum is a produced payload living in the store: the payload itself,
// whether it survives a match, and the produce event that created it.
type Datum struct {
	A       Value
	Persist bool
	Source  Produce
}

// WaitingContinuation is one continuation awaiting data on a tuple of
// channels. Peeks is a sorted set of channel indices whose matched datum
// must be retained even on a non-persistent match.
type WaitingContinuation struct {
	Patterns []Value
	K        Value
	Persist  bool
	Peeks    []int
	Source   Consume
}

// EventKind distinguishes the logical event types in the session log.
type EventKind int

const (
	EventProduce EventKind = iota
	EventConsume
	EventComm
)

// String returns the event kind as a string.
func (k EventKind) String() string {
	switch k {
	case EventProduce:
		return "produce"
	case EventConsume:
		return "consume"
	case EventComm:
		return "comm"
	default:
		return "unknown"
	}
}

// Event is one entry of the session event log. Exactly one of Produce,
// Consume, Comm is set, matching Kind. Seq is the logical clock stamp;
// it orders events within a session and is excluded from structural
// comparison during replay.
type Event struct {
	Kind    EventKind
	Seq     int64
	Produce *Produce
	Consume *Consume
	Comm    *Comm
}

// DataRow is the state of one channel: the channel value and its data
// sequence in insertion order.
type DataRow struct {
	Channel Value
	Data    []Datum
}

// ContRow is the state of one channel tuple: the tuple and its waiting
// continuations. Installed continuations are kept apart because they are
// re-applied on reset and never serialized into history.
type ContRow struct {
	Channels  []Value
	Installed []WaitingContinuation
	Conts     []WaitingContinuation
}

// JoinRow is the join index of one channel: every channel tuple the channel
// participates in. Installed joins mirror installed continuations.
type JoinRow struct {
	Channel   Value
	Installed [][]Value
	Joins     [][]Value
}

// Snapshot is a deep copy of the hot store overlay: every touched key with
// its current value. Map keys are digest hex strings (ChannelHash for Data
// and Joins, ChannelsHash for Conts).
type Snapshot struct {
	Data  map[string]DataRow
	Conts map[string]ContRow
	Joins map[string]JoinRow
}

// Clone returns a deep copy of the snapshot. Values are shared (they are
// immutable by convention); slices and maps are copied.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Data:  make(map[string]DataRow, len(s.Data)),
		Conts: make(map[string]ContRow, len(s.Conts)),
		Joins: make(map[string]JoinRow, len(s.Joins)),
	}
	for k, row := range s.Data {
		out.Data[k] = DataRow{Channel: row.Channel, Data: slices.Clone(row.Data)}
	}
	for k, row := range s.Conts {
		out.Conts[k] = ContRow{
			Channels:  slices.Clone(row.Channels),
			Installed: cloneConts(row.Installed),
			Conts:     cloneConts(row.Conts),
		}
	}
	for k, row := range s.Joins {
		out.Joins[k] = JoinRow{
			Channel:   row.Channel,
			Installed: cloneJoins(row.Installed),
			Joins:     cloneJoins(row.Joins),
		}
	}
	return out
}

func cloneConts(wcs []WaitingContinuation) []WaitingContinuation {
	out := make([]WaitingContinuation, len(wcs))
	for i, wc := range wcs {
		out[i] = wc
		out[i].Patterns = slices.Clone(wc.Patterns)
		out[i].Peeks = slices.Clone(wc.Peeks)
	}
	return out
}

func cloneJoins(joins [][]Value) [][]Value {
	out := make([][]Value, len(joins))
	for i, cs := range joins {
		out[i] = slices.Clone(cs)
	}
	return out
}

// SoftCheckpoint bundles the hot store snapshot with the drained session
// log and produce counter. It is revertible within the process and has no
// cross-session meaning.
type SoftCheckpoint struct {
	Cache   Snapshot
	Log     []Event
	Counter map[string]int
}

// Checkpoint is a persisted history root together with the event log of the
// session that produced it.
type Checkpoint struct {
	Root Hash
	Log  []Event
}
