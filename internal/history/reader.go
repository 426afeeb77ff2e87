package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// Reader is a read-only view of the committed state at one root.
// Concurrent readers are allowed; no mutation is possible through a Reader.
type Reader struct {
	repo *Repository
	root Hash
}

// Reader returns a read-only view of the state at root.
// Returns an error for a root that was never committed.
func (r *Repository) Reader(ctx context.Context, root Hash) (*Reader, error) {
	ok, err := r.HasRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unknown root %s", root.Hex())
	}
	return &Reader{repo: r, root: root}, nil
}

// Base returns the root this reader is bound to.
func (rd *Reader) Base() Hash {
	return rd.root
}

// GetData returns the committed data sequence of a channel, in insertion
// order. Returns an empty slice for a channel with no data.
func (rd *Reader) GetData(ctx context.Context, c tuple.Value) ([]tuple.Datum, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}

	rows, err := rd.repo.db.QueryContext(ctx, `
		SELECT datum FROM channel_data
		WHERE root_hash = ? AND channel_hash = ?
		ORDER BY idx ASC
	`, rd.root.Hex(), key.Hex())
	if err != nil {
		return nil, fmt.Errorf("query data: %w", err)
	}
	defer rows.Close()

	data := []tuple.Datum{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan datum: %w", err)
		}
		d, err := unmarshalDatum(raw)
		if err != nil {
			return nil, err
		}
		data = append(data, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data: %w", err)
	}

	return data, nil
}

// GetContinuations returns the committed waiting continuations of a channel
// tuple, in insertion order. Installed continuations never appear here; they
// are session state, re-applied by the engine on every reset.
func (rd *Reader) GetContinuations(ctx context.Context, cs []tuple.Value) ([]tuple.WaitingContinuation, error) {
	key, err := tuple.ChannelsHash(cs)
	if err != nil {
		return nil, fmt.Errorf("get continuations: %w", err)
	}

	rows, err := rd.repo.db.QueryContext(ctx, `
		SELECT continuation FROM continuations
		WHERE root_hash = ? AND joined_hash = ?
		ORDER BY idx ASC
	`, rd.root.Hex(), key.Hex())
	if err != nil {
		return nil, fmt.Errorf("query continuations: %w", err)
	}
	defer rows.Close()

	conts := []tuple.WaitingContinuation{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan continuation: %w", err)
		}
		wc, err := unmarshalContinuation(raw)
		if err != nil {
			return nil, err
		}
		conts = append(conts, wc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate continuations: %w", err)
	}

	return conts, nil
}

// GetJoins returns the committed join index of a channel: every channel
// tuple the channel participates in.
func (rd *Reader) GetJoins(ctx context.Context, c tuple.Value) ([][]tuple.Value, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, fmt.Errorf("get joins: %w", err)
	}

	var raw []byte
	err = rd.repo.db.QueryRowContext(ctx, `
		SELECT joined FROM joins
		WHERE root_hash = ? AND channel_hash = ?
	`, rd.root.Hex(), key.Hex()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return [][]tuple.Value{}, nil
		}
		return nil, fmt.Errorf("query joins: %w", err)
	}

	return unmarshalJoins(raw)
}

// Materialize loads the complete committed state at the reader's root.
// Used by checkpointing (to overlay the hot delta) and by the engine's
// materialized map view. The Installed fields of the returned rows are
// always empty: history never holds installs.
func (rd *Reader) Materialize(ctx context.Context) (tuple.Snapshot, error) {
	st := tuple.Snapshot{
		Data:  make(map[string]tuple.DataRow),
		Conts: make(map[string]tuple.ContRow),
		Joins: make(map[string]tuple.JoinRow),
	}

	rows, err := rd.repo.db.QueryContext(ctx, `
		SELECT channel_hash, channel, datum FROM channel_data
		WHERE root_hash = ?
		ORDER BY channel_hash ASC, idx ASC
	`, rd.root.Hex())
	if err != nil {
		return tuple.Snapshot{}, fmt.Errorf("query state data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var chRaw, dRaw []byte
		if err := rows.Scan(&key, &chRaw, &dRaw); err != nil {
			return tuple.Snapshot{}, fmt.Errorf("scan state data: %w", err)
		}
		ch, err := unmarshalTerm(chRaw, "channel")
		if err != nil {
			return tuple.Snapshot{}, err
		}
		d, err := unmarshalDatum(dRaw)
		if err != nil {
			return tuple.Snapshot{}, err
		}
		row := st.Data[key]
		row.Channel = ch
		row.Data = append(row.Data, d)
		st.Data[key] = row
	}
	if err := rows.Err(); err != nil {
		return tuple.Snapshot{}, fmt.Errorf("iterate state data: %w", err)
	}

	contRows, err := rd.repo.db.QueryContext(ctx, `
		SELECT joined_hash, channels, continuation FROM continuations
		WHERE root_hash = ?
		ORDER BY joined_hash ASC, idx ASC
	`, rd.root.Hex())
	if err != nil {
		return tuple.Snapshot{}, fmt.Errorf("query state continuations: %w", err)
	}
	defer contRows.Close()

	for contRows.Next() {
		var key string
		var csRaw, wcRaw []byte
		if err := contRows.Scan(&key, &csRaw, &wcRaw); err != nil {
			return tuple.Snapshot{}, fmt.Errorf("scan state continuation: %w", err)
		}
		csVal, err := unmarshalTerm(csRaw, "channels")
		if err != nil {
			return tuple.Snapshot{}, err
		}
		cs, ok := csVal.(tuple.Array)
		if !ok {
			return tuple.Snapshot{}, fmt.Errorf("state continuation channels: expected Array, got %T", csVal)
		}
		wc, err := unmarshalContinuation(wcRaw)
		if err != nil {
			return tuple.Snapshot{}, err
		}
		row := st.Conts[key]
		row.Channels = []tuple.Value(cs)
		row.Conts = append(row.Conts, wc)
		st.Conts[key] = row
	}
	if err := contRows.Err(); err != nil {
		return tuple.Snapshot{}, fmt.Errorf("iterate state continuations: %w", err)
	}

	joinRows, err := rd.repo.db.QueryContext(ctx, `
		SELECT channel_hash, channel, joined FROM joins
		WHERE root_hash = ?
		ORDER BY channel_hash ASC
	`, rd.root.Hex())
	if err != nil {
		return tuple.Snapshot{}, fmt.Errorf("query state joins: %w", err)
	}
	defer joinRows.Close()

	for joinRows.Next() {
		var key string
		var chRaw, jRaw []byte
		if err := joinRows.Scan(&key, &chRaw, &jRaw); err != nil {
			return tuple.Snapshot{}, fmt.Errorf("scan state join: %w", err)
		}
		ch, err := unmarshalTerm(chRaw, "channel")
		if err != nil {
			return tuple.Snapshot{}, err
		}
		joins, err := unmarshalJoins(jRaw)
		if err != nil {
			return tuple.Snapshot{}, err
		}
		st.Joins[key] = tuple.JoinRow{Channel: ch, Joins: joins}
	}
	if err := joinRows.Err(); err != nil {
		return tuple.Snapshot{}, fmt.Errorf("iterate state joins: %w", err)
	}

	return st, nil
}
