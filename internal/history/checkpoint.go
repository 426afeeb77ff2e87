package history

import (
	"context"
	"fmt"

	"github.com/dylon/f1r3fly/internal/tuple"
)

// Checkpoint materializes a hot-store delta over a base root into a new
// committed root and persists the session event log under it.
//
// The new root hash is content-addressed: Blake2b-256 over the canonical
// serialization of the complete resulting state. Committing the same state
// twice therefore yields the same root, and all writes use
// ON CONFLICT DO NOTHING so re-checkpointing is idempotent.
//
// Installed continuations and joins in the snapshot are session state and
// are NOT persisted; the engine re-applies installs on every reset.
func (r *Repository) Checkpoint(ctx context.Context, base Hash, snap tuple.Snapshot, log []tuple.Event) (Hash, error) {
	reader, err := r.Reader(ctx, base)
	if err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
	}

	st, err := reader.Materialize(ctx)
	if err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
	}

	// Overlay: a touched key replaces the base row wholesale. The hot store
	// guarantees every touched row holds the full effective value.
	for key, row := range snap.Data {
		st.Data[key] = tuple.DataRow{Channel: row.Channel, Data: row.Data}
	}
	for key, row := range snap.Conts {
		st.Conts[key] = tuple.ContRow{Channels: row.Channels, Conts: row.Conts}
	}
	for key, row := range snap.Joins {
		st.Joins[key] = tuple.JoinRow{Channel: row.Channel, Joins: row.Joins}
	}

	newRoot, err := stateHash(st)
	if err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
	}

	var lastSeq int64
	for _, ev := range log {
		if ev.Seq > lastSeq {
			lastSeq = ev.Seq
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO roots (hash, created_seq) VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, newRoot.Hex(), lastSeq); err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: insert root: %w", err)
	}

	for key, row := range st.Data {
		chRaw, err := marshalTerm(row.Channel, "channel")
		if err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
		}
		for idx, d := range row.Data {
			dRaw, err := marshalDatum(d)
			if err != nil {
				return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO channel_data (root_hash, channel_hash, idx, channel, datum)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, newRoot.Hex(), key, idx, chRaw, dRaw); err != nil {
				return tuple.ZeroHash, fmt.Errorf("checkpoint: insert datum: %w", err)
			}
		}
	}

	for key, row := range st.Conts {
		csRaw, err := marshalTerm(tuple.Array(row.Channels), "channels")
		if err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
		}
		for idx, wc := range row.Conts {
			wcRaw, err := marshalContinuation(wc)
			if err != nil {
				return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO continuations (root_hash, joined_hash, idx, channels, continuation)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, newRoot.Hex(), key, idx, csRaw, wcRaw); err != nil {
				return tuple.ZeroHash, fmt.Errorf("checkpoint: insert continuation: %w", err)
			}
		}
	}

	for key, row := range st.Joins {
		if len(row.Joins) == 0 {
			continue
		}
		chRaw, err := marshalTerm(row.Channel, "channel")
		if err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
		}
		jRaw, err := marshalJoins(row.Joins)
		if err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO joins (root_hash, channel_hash, channel, joined)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, newRoot.Hex(), key, chRaw, jRaw); err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: insert join: %w", err)
		}
	}

	for idx, ev := range log {
		evRaw, err := marshalEvent(ev)
		if err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_log (root_hash, idx, event)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, newRoot.Hex(), idx, evRaw); err != nil {
			return tuple.ZeroHash, fmt.Errorf("checkpoint: insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return tuple.ZeroHash, fmt.Errorf("checkpoint: commit: %w", err)
	}

	return newRoot, nil
}

// EventLog returns the event log persisted with a checkpointed root, in
// session order. Returns an empty slice for a root with no saved log
// (including the empty root).
func (r *Repository) EventLog(ctx context.Context, root Hash) ([]tuple.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event FROM event_log
		WHERE root_hash = ?
		ORDER BY idx ASC
	`, root.Hex())
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}
	defer rows.Close()

	log := []tuple.Event{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(raw)
		if err != nil {
			return nil, err
		}
		log = append(log, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return log, nil
}
