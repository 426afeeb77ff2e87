package tuple

import "fmt"

// Record encodings. Every record type round-trips through a Value so that
// storage blobs, root hashing, and golden comparisons all share the one
// canonical serialization.

// ToValue encodes a Produce as an Object.
func (p Produce) ToValue() Value {
	return Object{
		"channel": p.Channel,
		"data":    p.Data,
		"persist": Bool(p.Persist),
		"ref":     String(p.Ref.Hex()),
	}
}

// ProduceFromValue decodes a Produce from its Object encoding.
func ProduceFromValue(v Value) (Produce, error) {
	obj, err := asObject(v, "produce")
	if err != nil {
		return Produce{}, err
	}
	ref, err := refField(obj, "produce")
	if err != nil {
		return Produce{}, err
	}
	persist, err := boolField(obj, "persist", "produce")
	if err != nil {
		return Produce{}, err
	}
	return Produce{
		Channel: obj["channel"],
		Data:    obj["data"],
		Persist: persist,
		Ref:     ref,
	}, nil
}

// ToValue encodes a Consume as an Object.
func (c Consume) ToValue() Value {
	return Object{
		"channels": Array(c.Channels),
		"patterns": Array(c.Patterns),
		"k":        c.K,
		"persist":  Bool(c.Persist),
		"ref":      String(c.Ref.Hex()),
	}
}

// ConsumeFromValue decodes a Consume from its Object encoding.
func ConsumeFromValue(v Value) (Consume, error) {
	obj, err := asObject(v, "consume")
	if err != nil {
		return Consume{}, err
	}
	ref, err := refField(obj, "consume")
	if err != nil {
		return Consume{}, err
	}
	persist, err := boolField(obj, "persist", "consume")
	if err != nil {
		return Consume{}, err
	}
	channels, err := asValues(obj["channels"], "consume channels")
	if err != nil {
		return Consume{}, err
	}
	patterns, err := asValues(obj["patterns"], "consume patterns")
	if err != nil {
		return Consume{}, err
	}
	return Consume{
		Channels: channels,
		Patterns: patterns,
		K:        obj["k"],
		Persist:  persist,
		Ref:      ref,
	}, nil
}

// ToValue encodes a Comm as an Object.
func (c Comm) ToValue() Value {
	produces := make(Array, len(c.Produces))
	for i, p := range c.Produces {
		produces[i] = p.ToValue()
	}
	counters := make(Object, len(c.TimesRepeated))
	for ref, n := range c.TimesRepeated {
		counters[ref] = Int(n)
	}
	return Object{
		"consume":        c.Consume.ToValue(),
		"produces":       produces,
		"peeks":          intsToArray(c.Peeks),
		"times_repeated": counters,
	}
}

// CommFromValue decodes a Comm from its Object encoding.
func CommFromValue(v Value) (Comm, error) {
	obj, err := asObject(v, "comm")
	if err != nil {
		return Comm{}, err
	}
	consume, err := ConsumeFromValue(obj["consume"])
	if err != nil {
		return Comm{}, fmt.Errorf("comm: %w", err)
	}
	rawProduces, err := asValues(obj["produces"], "comm produces")
	if err != nil {
		return Comm{}, err
	}
	produces := make([]Produce, len(rawProduces))
	for i, pv := range rawProduces {
		p, err := ProduceFromValue(pv)
		if err != nil {
			return Comm{}, fmt.Errorf("comm produces[%d]: %w", i, err)
		}
		produces[i] = p
	}
	peeks, err := arrayToInts(obj["peeks"], "comm peeks")
	if err != nil {
		return Comm{}, err
	}
	countersObj, err := asObject(obj["times_repeated"], "comm times_repeated")
	if err != nil {
		return Comm{}, err
	}
	counters := make(map[string]int, len(countersObj))
	for ref, nv := range countersObj {
		n, ok := nv.(Int)
		if !ok {
			return Comm{}, fmt.Errorf("comm times_repeated[%q]: expected Int, got %T", ref, nv)
		}
		counters[ref] = int(n)
	}
	return Comm{Consume: consume, Produces: produces, Peeks: peeks, TimesRepeated: counters}, nil
}

// ToValue encodes an Event as an Object tagged by kind.
func (e Event) ToValue() Value {
	obj := Object{
		"kind": String(e.Kind.String()),
		"seq":  Int(e.Seq),
	}
	switch e.Kind {
	case EventProduce:
		obj["produce"] = e.Produce.ToValue()
	case EventConsume:
		obj["consume"] = e.Consume.ToValue()
	case EventComm:
		obj["comm"] = e.Comm.ToValue()
	}
	return obj
}

// EventFromValue decodes an Event from its Object encoding.
func EventFromValue(v Value) (Event, error) {
	obj, err := asObject(v, "event")
	if err != nil {
		return Event{}, err
	}
	kind, ok := obj["kind"].(String)
	if !ok {
		return Event{}, fmt.Errorf("event: missing kind")
	}
	seq, ok := obj["seq"].(Int)
	if !ok {
		return Event{}, fmt.Errorf("event: missing seq")
	}
	ev := Event{Seq: int64(seq)}
	switch string(kind) {
	case "produce":
		p, err := ProduceFromValue(obj["produce"])
		if err != nil {
			return Event{}, fmt.Errorf("event: %w", err)
		}
		ev.Kind = EventProduce
		ev.Produce = &p
	case "consume":
		c, err := ConsumeFromValue(obj["consume"])
		if err != nil {
			return Event{}, fmt.Errorf("event: %w", err)
		}
		ev.Kind = EventConsume
		ev.Consume = &c
	case "comm":
		c, err := CommFromValue(obj["comm"])
		if err != nil {
			return Event{}, fmt.Errorf("event: %w", err)
		}
		ev.Kind = EventComm
		ev.Comm = &c
	default:
		return Event{}, fmt.Errorf("event: unknown kind %q", kind)
	}
	return ev, nil
}

// ToValue encodes a Datum as an Object.
func (d Datum) ToValue() Value {
	return Object{
		"a":       d.A,
		"persist": Bool(d.Persist),
		"source":  d.Source.ToValue(),
	}
}

// DatumFromValue decodes a Datum from its Object encoding.
func DatumFromValue(v Value) (Datum, error) {
	obj, err := asObject(v, "datum")
	if err != nil {
		return Datum{}, err
	}
	persist, err := boolField(obj, "persist", "datum")
	if err != nil {
		return Datum{}, err
	}
	source, err := ProduceFromValue(obj["source"])
	if err != nil {
		return Datum{}, fmt.Errorf("datum: %w", err)
	}
	return Datum{A: obj["a"], Persist: persist, Source: source}, nil
}

// ToValue encodes a WaitingContinuation as an Object.
func (wc WaitingContinuation) ToValue() Value {
	return Object{
		"patterns": Array(wc.Patterns),
		"k":        wc.K,
		"persist":  Bool(wc.Persist),
		"peeks":    intsToArray(wc.Peeks),
		"source":   wc.Source.ToValue(),
	}
}

// ContinuationFromValue decodes a WaitingContinuation from its encoding.
func ContinuationFromValue(v Value) (WaitingContinuation, error) {
	obj, err := asObject(v, "continuation")
	if err != nil {
		return WaitingContinuation{}, err
	}
	persist, err := boolField(obj, "persist", "continuation")
	if err != nil {
		return WaitingContinuation{}, err
	}
	patterns, err := asValues(obj["patterns"], "continuation patterns")
	if err != nil {
		return WaitingContinuation{}, err
	}
	peeks, err := arrayToInts(obj["peeks"], "continuation peeks")
	if err != nil {
		return WaitingContinuation{}, err
	}
	source, err := ConsumeFromValue(obj["source"])
	if err != nil {
		return WaitingContinuation{}, fmt.Errorf("continuation: %w", err)
	}
	return WaitingContinuation{
		Patterns: patterns,
		K:        obj["k"],
		Persist:  persist,
		Peeks:    peeks,
		Source:   source,
	}, nil
}

// JoinsToValue encodes a join list as an Array of channel tuples.
func JoinsToValue(joins [][]Value) Value {
	out := make(Array, len(joins))
	for i, cs := range joins {
		out[i] = Array(cs)
	}
	return out
}

// JoinsFromValue decodes a join list from its Array encoding.
func JoinsFromValue(v Value) ([][]Value, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("joins: expected Array, got %T", v)
	}
	out := make([][]Value, len(arr))
	for i, elem := range arr {
		cs, ok := elem.(Array)
		if !ok {
			return nil, fmt.Errorf("joins[%d]: expected Array, got %T", i, elem)
		}
		out[i] = []Value(cs)
	}
	return out, nil
}

func intsToArray(ns []int) Array {
	out := make(Array, len(ns))
	for i, n := range ns {
		out[i] = Int(n)
	}
	return out
}

func arrayToInts(v Value, context string) ([]int, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("%s: expected Array, got %T", context, v)
	}
	out := make([]int, len(arr))
	for i, elem := range arr {
		n, ok := elem.(Int)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected Int, got %T", context, i, elem)
		}
		out[i] = int(n)
	}
	return out, nil
}

func asObject(v Value, context string) (Object, error) {
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("%s: expected Object, got %T", context, v)
	}
	return obj, nil
}

func asValues(v Value, context string) ([]Value, error) {
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("%s: expected Array, got %T", context, v)
	}
	return []Value(arr), nil
}

func boolField(obj Object, field, context string) (bool, error) {
	b, ok := obj[field].(Bool)
	if !ok {
		return false, fmt.Errorf("%s: missing %s", context, field)
	}
	return bool(b), nil
}

func refField(obj Object, context string) (Hash, error) {
	s, ok := obj["ref"].(String)
	if !ok {
		return ZeroHash, fmt.Errorf("%s: missing ref", context)
	}
	ref, err := ParseHash(string(s))
	if err != nil {
		return ZeroHash, fmt.Errorf("%s: %w", context, err)
	}
	return ref, nil
}
