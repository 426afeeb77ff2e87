package history

import (
	"fmt"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// Hash aliases the digest type so callers read history.Hash where the
// repository surface is concerned.
type Hash = tuple.Hash

// EmptyRoot is the canonical empty state: the root every fresh session and
// every clear() resolves to.
var EmptyRoot = mustStateHash(tuple.Snapshot{})

// stateValue builds the canonical Value of a full state. Empty rows are
// dropped so that "no entry" and "entry with nothing in it" hash alike.
// Only the Conts and Joins fields participate: installed continuations and
// joins are session state, not history.
func stateValue(st tuple.Snapshot) (tuple.Value, error) {
	dataObj := make(tuple.Object, len(st.Data))
	for key, row := range st.Data {
		if len(row.Data) == 0 {
			continue
		}
		arr := make(tuple.Array, len(row.Data))
		for i, d := range row.Data {
			arr[i] = d.ToValue()
		}
		dataObj[key] = arr
	}

	contsObj := make(tuple.Object, len(st.Conts))
	for key, row := range st.Conts {
		if len(row.Conts) == 0 {
			continue
		}
		arr := make(tuple.Array, len(row.Conts))
		for i, wc := range row.Conts {
			arr[i] = wc.ToValue()
		}
		contsObj[key] = arr
	}

	joinsObj := make(tuple.Object, len(st.Joins))
	for key, row := range st.Joins {
		if len(row.Joins) == 0 {
			continue
		}
		joinsObj[key] = tuple.JoinsToValue(row.Joins)
	}

	return tuple.Object{
		"data":          dataObj,
		"continuations": contsObj,
		"joins":         joinsObj,
	}, nil
}

// stateHash computes the content-addressed root of a full state.
func stateHash(st tuple.Snapshot) (Hash, error) {
	v, err := stateValue(st)
	if err != nil {
		return tuple.ZeroHash, err
	}
	canonical, err := tuple.MarshalCanonical(v)
	if err != nil {
		return tuple.ZeroHash, fmt.Errorf("state hash: %w", err)
	}
	return tuple.Sum(tuple.DomainRoot, canonical), nil
}

func mustStateHash(st tuple.Snapshot) Hash {
	h, err := stateHash(st)
	if err != nil {
		panic(err)
	}
	return h
}

func parseHash(s string) (Hash, error) {
	return tuple.ParseHash(s)
}
