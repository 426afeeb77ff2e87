package rspace

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// hotStore is the in-memory overlay over a history reader.
//
// A key is "touched" once a mutation lands on it; from then on the overlay
// row is the effective value. Untouched keys read through to history, so
// the effective value of any key is always (history value) + (overlay
// delta).
//
// Mutations seed a row from history on first touch, treating the unread
// history value as the starting list. Installed continuations and joins
// live in separate regions of each row: they match like regular entries
// but are never serialized into history.
//
// Indices handed out by getData/getContinuations are positions in the
// returned slices. They stay stable within a single engine operation
// because the engine removes strictly by descending index.
//
// Concurrency: the engine mutates only under the channel locks, but
// outside readers (GetData, ToMap) run concurrently, so every access goes
// through the store-wide mutex and reads return copies.
type hotStore struct {
	mu     sync.RWMutex
	reader *history.Reader
	data   map[string]*tuple.DataRow
	conts  map[string]*tuple.ContRow
	joins  map[string]*tuple.JoinRow
}

// newHotStore builds an empty overlay atop a history reader.
func newHotStore(reader *history.Reader) *hotStore {
	return &hotStore{
		reader: reader,
		data:   make(map[string]*tuple.DataRow),
		conts:  make(map[string]*tuple.ContRow),
		joins:  make(map[string]*tuple.JoinRow),
	}
}

// newHotStoreFromSnapshot rebuilds an overlay from a prior snapshot,
// layered over the same history root (soft checkpoint revert).
func newHotStoreFromSnapshot(reader *history.Reader, snap tuple.Snapshot) *hotStore {
	s := newHotStore(reader)
	clone := snap.Clone()
	for key, row := range clone.Data {
		r := row
		s.data[key] = &r
	}
	for key, row := range clone.Conts {
		r := row
		s.conts[key] = &r
	}
	for key, row := range clone.Joins {
		r := row
		s.joins[key] = &r
	}
	return s
}

// getData returns the effective data sequence of a channel.
func (s *hotStore) getData(ctx context.Context, c tuple.Value) ([]tuple.Datum, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	row, ok := s.data[key.Hex()]
	if ok {
		out := slices.Clone(row.Data)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	return s.reader.GetData(ctx, c)
}

// getContinuations returns the effective waiting continuations of a channel
// tuple: installed continuations first, then regular ones, so install
// positions stay stable for the whole session.
func (s *hotStore) getContinuations(ctx context.Context, cs []tuple.Value) ([]tuple.WaitingContinuation, error) {
	key, err := tuple.ChannelsHash(cs)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	row, ok := s.conts[key.Hex()]
	if ok {
		out := make([]tuple.WaitingContinuation, 0, len(row.Installed)+len(row.Conts))
		out = append(out, row.Installed...)
		out = append(out, row.Conts...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	return s.reader.GetContinuations(ctx, cs)
}

// getJoins returns the effective join index of a channel: installed joins
// first, then regular ones. putJoin skips a join present in either region,
// but installJoin checks only the install region, so a join already in the
// regular region can appear in both.
func (s *hotStore) getJoins(ctx context.Context, c tuple.Value) ([][]tuple.Value, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	row, ok := s.joins[key.Hex()]
	if ok {
		out := make([][]tuple.Value, 0, len(row.Installed)+len(row.Joins))
		out = append(out, row.Installed...)
		out = append(out, row.Joins...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	return s.reader.GetJoins(ctx, c)
}

// putDatum appends a datum to a channel's sequence.
func (s *hotStore) putDatum(ctx context.Context, c tuple.Value, d tuple.Datum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.dataRow(ctx, c)
	if err != nil {
		return err
	}
	row.Data = append(row.Data, d)
	return nil
}

// removeDatum removes the datum at a stable index.
func (s *hotStore) removeDatum(ctx context.Context, c tuple.Value, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.dataRow(ctx, c)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(row.Data) {
		return fmt.Errorf("remove datum: index %d out of range (len %d)", idx, len(row.Data))
	}
	row.Data = slices.Delete(row.Data, idx, idx+1)
	return nil
}

// putContinuation appends a waiting continuation to a channel tuple.
func (s *hotStore) putContinuation(ctx context.Context, cs []tuple.Value, wc tuple.WaitingContinuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.contRow(ctx, cs)
	if err != nil {
		return err
	}
	row.Conts = append(row.Conts, wc)
	return nil
}

// installContinuation appends into the install region. Installed entries
// match like regular ones but are never serialized into history.
func (s *hotStore) installContinuation(ctx context.Context, cs []tuple.Value, wc tuple.WaitingContinuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.contRow(ctx, cs)
	if err != nil {
		return err
	}
	row.Installed = append(row.Installed, wc)
	return nil
}

// removeContinuation removes the continuation at a stable index, counted
// over the concatenated installed-then-regular view that getContinuations
// returns. Installed continuations cannot be removed.
func (s *hotStore) removeContinuation(ctx context.Context, cs []tuple.Value, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.contRow(ctx, cs)
	if err != nil {
		return err
	}
	if idx < len(row.Installed) {
		return fmt.Errorf("remove continuation: index %d addresses an installed continuation", idx)
	}
	rel := idx - len(row.Installed)
	if rel >= len(row.Conts) {
		return fmt.Errorf("remove continuation: index %d out of range (len %d)", idx, len(row.Installed)+len(row.Conts))
	}
	row.Conts = slices.Delete(row.Conts, rel, rel+1)
	return nil
}

// putJoin ensures cs is in the join list of c. Deduplicates against both
// regions.
func (s *hotStore) putJoin(ctx context.Context, c tuple.Value, cs []tuple.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.joinRow(ctx, c)
	if err != nil {
		return err
	}
	present, err := containsJoin(append(slices.Clone(row.Installed), row.Joins...), cs)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	row.Joins = append(row.Joins, slices.Clone(cs))
	return nil
}

// installJoin ensures cs is in the install region of c's join list.
func (s *hotStore) installJoin(ctx context.Context, c tuple.Value, cs []tuple.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.joinRow(ctx, c)
	if err != nil {
		return err
	}
	present, err := containsJoin(row.Installed, cs)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	row.Installed = append(row.Installed, slices.Clone(cs))
	return nil
}

// removeJoin removes cs from the join list of c by value, but only when no
// waiting continuation remains at cs: several continuations share one join
// entry, so the entry lives as long as any of them does. Installed joins
// are never removed; they go away on reset.
func (s *hotStore) removeJoin(ctx context.Context, c tuple.Value, cs []tuple.Value) error {
	key, err := tuple.ChannelsHash(cs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := 0
	if row, ok := s.conts[key.Hex()]; ok {
		remaining = len(row.Installed) + len(row.Conts)
	} else {
		wcs, err := s.reader.GetContinuations(ctx, cs)
		if err != nil {
			return err
		}
		remaining = len(wcs)
	}
	if remaining > 0 {
		return nil
	}

	row, err := s.joinRow(ctx, c)
	if err != nil {
		return err
	}
	for i, join := range row.Joins {
		same, err := sameChannels(join, cs)
		if err != nil {
			return err
		}
		if same {
			row.Joins = slices.Delete(row.Joins, i, i+1)
			return nil
		}
	}
	return nil
}

// snapshot captures the complete overlay: every touched key with its
// current value, deep-copied so a later revert cannot alias live state.
func (s *hotStore) snapshot() tuple.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := tuple.Snapshot{
		Data:  make(map[string]tuple.DataRow, len(s.data)),
		Conts: make(map[string]tuple.ContRow, len(s.conts)),
		Joins: make(map[string]tuple.JoinRow, len(s.joins)),
	}
	for key, row := range s.data {
		snap.Data[key] = *row
	}
	for key, row := range s.conts {
		snap.Conts[key] = *row
	}
	for key, row := range s.joins {
		snap.Joins[key] = *row
	}
	return snap.Clone()
}

// toMap materializes the effective view of every entry: the committed state
// overlaid with every touched row. Data rows appear under their 1-tuple key
// so the result is uniformly keyed by channel-tuple hash.
func (s *hotStore) toMap(ctx context.Context) (map[string]Row, error) {
	base, err := s.reader.Materialize(ctx)
	if err != nil {
		return nil, err
	}

	// snapshot() deep-copies under the store lock, so the merge below cannot
	// race with a concurrent operation mutating a shared backing array.
	overlay := s.snapshot()

	for key, row := range overlay.Data {
		base.Data[key] = row
	}
	for key, row := range overlay.Conts {
		base.Conts[key] = row
	}

	out := make(map[string]Row)
	for _, row := range base.Data {
		if len(row.Data) == 0 {
			continue
		}
		cs := []tuple.Value{row.Channel}
		key, err := tuple.ChannelsHash(cs)
		if err != nil {
			return nil, err
		}
		entry := out[key.Hex()]
		entry.Channels = cs
		entry.Data = slices.Clone(row.Data)
		out[key.Hex()] = entry
	}
	for key, row := range base.Conts {
		conts := make([]tuple.WaitingContinuation, 0, len(row.Installed)+len(row.Conts))
		conts = append(conts, row.Installed...)
		conts = append(conts, row.Conts...)
		if len(conts) == 0 {
			continue
		}
		entry := out[key]
		entry.Channels = slices.Clone(row.Channels)
		entry.Conts = conts
		out[key] = entry
	}
	return out, nil
}

// dataRow returns the overlay row for a channel, seeding it from history on
// first touch. Caller must hold s.mu for writing.
func (s *hotStore) dataRow(ctx context.Context, c tuple.Value) (*tuple.DataRow, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, err
	}
	if row, ok := s.data[key.Hex()]; ok {
		return row, nil
	}
	data, err := s.reader.GetData(ctx, c)
	if err != nil {
		return nil, err
	}
	row := &tuple.DataRow{Channel: c, Data: slices.Clone(data)}
	s.data[key.Hex()] = row
	return row, nil
}

// contRow returns the overlay row for a channel tuple, seeding it from
// history on first touch. Caller must hold s.mu for writing.
func (s *hotStore) contRow(ctx context.Context, cs []tuple.Value) (*tuple.ContRow, error) {
	key, err := tuple.ChannelsHash(cs)
	if err != nil {
		return nil, err
	}
	if row, ok := s.conts[key.Hex()]; ok {
		return row, nil
	}
	conts, err := s.reader.GetContinuations(ctx, cs)
	if err != nil {
		return nil, err
	}
	row := &tuple.ContRow{Channels: slices.Clone(cs), Conts: slices.Clone(conts)}
	s.conts[key.Hex()] = row
	return row, nil
}

// joinRow returns the overlay row for a channel's joins, seeding it from
// history on first touch. Caller must hold s.mu for writing.
func (s *hotStore) joinRow(ctx context.Context, c tuple.Value) (*tuple.JoinRow, error) {
	key, err := tuple.ChannelHash(c)
	if err != nil {
		return nil, err
	}
	if row, ok := s.joins[key.Hex()]; ok {
		return row, nil
	}
	joins, err := s.reader.GetJoins(ctx, c)
	if err != nil {
		return nil, err
	}
	row := &tuple.JoinRow{Channel: c, Joins: cloneJoinList(joins)}
	s.joins[key.Hex()] = row
	return row, nil
}

func cloneJoinList(joins [][]tuple.Value) [][]tuple.Value {
	out := make([][]tuple.Value, len(joins))
	for i, cs := range joins {
		out[i] = slices.Clone(cs)
	}
	return out
}

// containsJoin reports whether cs is already present in a join list,
// compared structurally by channel-tuple hash.
func containsJoin(joins [][]tuple.Value, cs []tuple.Value) (bool, error) {
	for _, join := range joins {
		same, err := sameChannels(join, cs)
		if err != nil {
			return false, err
		}
		if same {
			return true, nil
		}
	}
	return false, nil
}

// sameChannels compares two channel tuples structurally.
func sameChannels(a, b []tuple.Value) (bool, error) {
	ha, err := tuple.ChannelsHash(a)
	if err != nil {
		return false, err
	}
	hb, err := tuple.ChannelsHash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
