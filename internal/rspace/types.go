package rspace

import "github.com/dylon/f1r3fly/internal/tuple"

// ContResult is the continuation half of a commit result: the continuation
// payload plus the registration it was matched under.
type ContResult struct {
	K        tuple.Value
	Persist  bool
	Channels []tuple.Value
	Patterns []tuple.Value
	Peek     bool
}

// Result is the per-channel half of a commit result: the channel, the
// matched (possibly matcher-rewritten) payload, whether the datum was
// removed from the store, and the datum's persist flag.
type Result struct {
	Channel tuple.Value
	A       tuple.Value
	Removed bool
	Persist bool
}

// ConsumeResult is returned by a consume that committed a communication.
// Results are in channel-position order.
type ConsumeResult struct {
	Continuation ContResult
	Results      []Result
}

// ProduceResult is returned by a produce that committed a communication.
// The shape is identical to ConsumeResult.
type ProduceResult = ConsumeResult

// Row is one entry of the materialized map view: a channel tuple with its
// effective data (1-tuples only) and waiting continuations.
type Row struct {
	Channels []tuple.Value
	Data     []tuple.Datum
	Conts    []tuple.WaitingContinuation
}
