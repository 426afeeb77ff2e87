package history

import (
	"fmt"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// Storage blobs are the canonical JSON of each record's Value encoding.
// Canonical bytes keep blob identity stable across processes, which makes
// the idempotent ON CONFLICT writes meaningful.

func marshalValue(v tuple.Value, context string) ([]byte, error) {
	raw, err := tuple.MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", context, err)
	}
	return raw, nil
}

func unmarshalValue(raw []byte, context string) (tuple.Value, error) {
	v, err := tuple.UnmarshalValue(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", context, err)
	}
	return v, nil
}

func marshalDatum(d tuple.Datum) ([]byte, error) {
	return marshalValue(d.ToValue(), "datum")
}

func unmarshalDatum(raw []byte) (tuple.Datum, error) {
	v, err := unmarshalValue(raw, "datum")
	if err != nil {
		return tuple.Datum{}, err
	}
	return tuple.DatumFromValue(v)
}

func marshalContinuation(wc tuple.WaitingContinuation) ([]byte, error) {
	return marshalValue(wc.ToValue(), "continuation")
}

func unmarshalContinuation(raw []byte) (tuple.WaitingContinuation, error) {
	v, err := unmarshalValue(raw, "continuation")
	if err != nil {
		return tuple.WaitingContinuation{}, err
	}
	return tuple.ContinuationFromValue(v)
}

func marshalJoins(joins [][]tuple.Value) ([]byte, error) {
	return marshalValue(tuple.JoinsToValue(joins), "joins")
}

func unmarshalJoins(raw []byte) ([][]tuple.Value, error) {
	v, err := unmarshalValue(raw, "joins")
	if err != nil {
		return nil, err
	}
	return tuple.JoinsFromValue(v)
}

func marshalEvent(ev tuple.Event) ([]byte, error) {
	return marshalValue(ev.ToValue(), "event")
}

func unmarshalEvent(raw []byte) (tuple.Event, error) {
	v, err := unmarshalValue(raw, "event")
	if err != nil {
		return tuple.Event{}, err
	}
	return tuple.EventFromValue(v)
}

func marshalTerm(v tuple.Value, context string) ([]byte, error) {
	return marshalValue(v, context)
}

func unmarshalTerm(raw []byte, context string) (tuple.Value, error) {
	return unmarshalValue(raw, context)
}
