package rspace

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dylon/f1r3fly/internal/history"
	"github.com/dylon/f1r3fly/internal/tuple"
)

// Space is the tuplespace engine: produce/consume/install over a hot store
// layered on a history root, with checkpointing, soft checkpointing, and
// reset.
//
// Concurrency model: every operation runs under the two-step channel-hash
// lock, so operations with disjoint key sets proceed in parallel while
// intersecting ones are totally ordered. The store/log/root swap performed
// by reset, checkpointing, and revert happens under an exclusive
// read-write lock that every operation takes shared.
//
// Within one operation the event-log append precedes the hot-store
// mutations, and data removals run in strictly descending index order so
// the indices recorded by the match stay valid. Both orderings are
// load-bearing.
type Space struct {
	repo    *history.Repository
	matcher Matcher
	source  string

	// resetMu guards the swap points: store, log, root, reader.
	// Operations take it shared; reset-like transitions take it exclusive.
	resetMu sync.RWMutex

	locks *lockManager
	clock *Clock
	store *hotStore
	log   *eventLog
	root  tuple.Hash

	installsMu sync.Mutex
	installs   map[string]installRecord

	// sel orders candidates: pseudo-random in live mode, COMM-steered in
	// replay mode.
	sel selector

	// replay is nil in live mode.
	replay *replayData

	// invalid poisons a replay session after a divergence.
	invalid atomic.Bool
}

// installRecord is the durable registration re-applied on every reset.
type installRecord struct {
	channels []tuple.Value
	patterns []tuple.Value
	k        tuple.Value
}

// Option configures a Space.
type Option func(*Space)

// WithSource sets the metrics source label.
func WithSource(source string) Option {
	return func(s *Space) {
		s.source = source
	}
}

// WithPermuter overrides the live-mode shuffle permutation.
// Tests pass a deterministic permuter; production keeps the default
// pseudo-random one.
func WithPermuter(perm func(n int) []int) Option {
	return func(s *Space) {
		s.sel = newLiveSelector(perm)
	}
}

// NewSpace creates a live tuplespace over the repository's empty root.
func NewSpace(ctx context.Context, repo *history.Repository, matcher Matcher, opts ...Option) (*Space, error) {
	s := &Space{
		repo:     repo,
		matcher:  matcher,
		source:   "rspace",
		locks:    newLockManager(),
		clock:    NewClock(),
		installs: make(map[string]installRecord),
		sel:      newLiveSelector(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = newEventLog(s.clock)

	reader, err := repo.Reader(ctx, history.EmptyRoot)
	if err != nil {
		return nil, fmt.Errorf("new space: %w", err)
	}
	s.store = newHotStore(reader)
	s.root = history.EmptyRoot
	return s, nil
}

// Root returns the history root the space is currently bound to.
func (s *Space) Root() tuple.Hash {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.root
}

// Consume registers patterns over a tuple of channels with a continuation.
// If current data satisfies every pattern the matched items are removed
// (honoring persist and peeks), a COMM is logged, and the continuation is
// handed back. Otherwise the continuation is stored to wait.
//
// peeks is a set of channel indices whose matched datum is retained even
// on a non-persistent match.
func (s *Space) Consume(ctx context.Context, channels []tuple.Value, patterns []tuple.Value, k tuple.Value, persist bool, peeks []int) (*ConsumeResult, error) {
	start := time.Now()
	defer func() {
		consumeDurations.WithLabelValues(s.source).Observe(time.Since(start).Seconds())
	}()

	if len(channels) == 0 {
		return nil, NewInvalidArgumentError("consume", "channels must not be empty")
	}
	if len(channels) != len(patterns) {
		return nil, NewInvalidArgumentError("consume",
			fmt.Sprintf("channels and patterns must align: %d channels, %d patterns", len(channels), len(patterns)))
	}
	peeks, err := normalizePeeks(peeks, len(channels))
	if err != nil {
		return nil, NewInvalidArgumentError("consume", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	if s.invalid.Load() {
		return nil, NewDivergenceError("consume", "replay session is invalid", nil)
	}

	consume, err := tuple.NewConsume(channels, patterns, k, persist)
	if err != nil {
		return nil, NewInvalidArgumentError("consume", err.Error())
	}
	hashes, keys, err := channelHashes(channels)
	if err != nil {
		return nil, NewInvalidArgumentError("consume", err.Error())
	}

	var result *ConsumeResult
	lockErr := s.locks.acquire(hashes, nil, func() error {
		res, err := s.consumeUnderLock(ctx, consume, keys, peeks)
		result = res
		return err
	})
	return result, lockErr
}

func (s *Space) consumeUnderLock(ctx context.Context, consume tuple.Consume, keys []string, peeks []int) (*ConsumeResult, error) {
	data := make([][]indexedDatum, len(consume.Channels))
	for i, c := range consume.Channels {
		ds, err := s.store.getData(ctx, c)
		if err != nil {
			return nil, NewStoreError("consume", err)
		}
		data[i] = s.sel.orderData(consume.Ref, indexData(ds))
	}

	candidates, ok, err := extractDataCandidates(s.matcher, consume.Channels, keys, consume.Patterns, data)
	if err != nil {
		return nil, NewMatcherError("consume", err)
	}

	if !ok {
		wc := tuple.WaitingContinuation{
			Patterns: consume.Patterns,
			K:        consume.K,
			Persist:  consume.Persist,
			Peeks:    peeks,
			Source:   consume,
		}
		if err := s.store.putContinuation(ctx, consume.Channels, wc); err != nil {
			return nil, NewStoreError("consume", err)
		}
		for _, c := range consume.Channels {
			if err := s.store.putJoin(ctx, c, consume.Channels); err != nil {
				return nil, NewStoreError("consume", err)
			}
		}
		s.log.logConsume(consume)
		slog.Debug("continuation stored",
			"op", "consume",
			"ref", consume.Ref.Hex(),
			"channels", len(consume.Channels),
			"persist", consume.Persist,
		)
		return nil, nil
	}

	produces := candidateProduces(candidates)
	if s.replay != nil {
		key, err := commKey(consume.Ref, produces, peeks)
		if err != nil {
			return nil, NewStoreError("consume", err)
		}
		if !s.replay.consumeRigged(consume.Ref, key) {
			s.invalid.Store(true)
			return nil, NewDivergenceError("consume",
				"match does not correspond to any rigged COMM", map[string]string{
					"consume": consume.Ref.Hex(),
				})
		}
	}

	s.log.logComm(consume, produces, peeks, tuple.ZeroHash)
	commConsumeCount.WithLabelValues(s.source).Inc()

	if err := s.removeMatchedData(ctx, candidates, peeks); err != nil {
		return nil, NewStoreError("consume", err)
	}

	// The continuation was never stored on this path, so there is nothing
	// to remove on the consume side, persistent or not.
	slog.Debug("communication committed",
		"op", "consume",
		"ref", consume.Ref.Hex(),
		"produces", len(produces),
	)

	return &ConsumeResult{
		Continuation: ContResult{
			K:        consume.K,
			Persist:  consume.Persist,
			Channels: consume.Channels,
			Patterns: consume.Patterns,
			Peek:     len(peeks) > 0,
		},
		Results: buildResults(candidates, peeks),
	}, nil
}

// Produce publishes a datum on a channel. Every join the channel
// participates in is scanned for a waiting continuation whose patterns can
// be satisfied; the first match commits a COMM. With no match the datum is
// stored.
func (s *Space) Produce(ctx context.Context, channel tuple.Value, data tuple.Value, persist bool) (*ProduceResult, error) {
	start := time.Now()
	defer func() {
		produceDurations.WithLabelValues(s.source).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	if s.invalid.Load() {
		return nil, NewDivergenceError("produce", "replay session is invalid", nil)
	}

	produce, err := tuple.NewProduce(channel, data, persist)
	if err != nil {
		return nil, NewInvalidArgumentError("produce", err.Error())
	}
	chHash, err := tuple.ChannelHash(channel)
	if err != nil {
		return nil, NewInvalidArgumentError("produce", err.Error())
	}

	// Phase A locks the produced channel; the phase B callback reads the
	// join index under that lock and expands the held set to every sibling
	// channel, so no concurrent consumer can commit an inconsistent match
	// on a shared join.
	var joins [][]tuple.Value
	var result *ProduceResult
	lockErr := s.locks.acquire([]tuple.Hash{chHash}, func() ([]tuple.Hash, error) {
		js, err := s.store.getJoins(ctx, channel)
		if err != nil {
			return nil, NewStoreError("produce", err)
		}
		joins = js
		var extra []tuple.Hash
		for _, cs := range js {
			for _, c := range cs {
				h, err := tuple.ChannelHash(c)
				if err != nil {
					return nil, NewStoreError("produce", err)
				}
				extra = append(extra, h)
			}
		}
		return extra, nil
	}, func() error {
		res, err := s.produceUnderLock(ctx, produce, chHash, joins)
		result = res
		return err
	})
	return result, lockErr
}

func (s *Space) produceUnderLock(ctx context.Context, produce tuple.Produce, chHash tuple.Hash, joins [][]tuple.Value) (*ProduceResult, error) {
	ownDatum := tuple.Datum{A: produce.Data, Persist: produce.Persist, Source: produce}

	var chosen *produceCandidate
	mismatched := false

	for _, cs := range joins {
		wcs, err := s.store.getContinuations(ctx, cs)
		if err != nil {
			return nil, NewStoreError("produce", err)
		}
		if len(wcs) == 0 {
			continue
		}
		conts := s.sel.orderConts(produce.Ref, indexConts(wcs))

		keys := make([]string, len(cs))
		for i, c := range cs {
			h, err := tuple.ChannelHash(c)
			if err != nil {
				return nil, NewStoreError("produce", err)
			}
			keys[i] = h.Hex()
		}

		var fetchErr error
		fetchData := func(i int) []indexedDatum {
			if fetchErr != nil {
				return nil
			}
			ds, err := s.store.getData(ctx, cs[i])
			if err != nil {
				fetchErr = err
				return nil
			}
			out := indexData(ds)
			if keys[i] == chHash.Hex() {
				// The produced datum participates virtually at the
				// sentinel index: consumed in place, never stored.
				out = append(out, indexedDatum{datum: ownDatum, index: ownDatumIndex})
			}
			return s.sel.orderData(produce.Ref, out)
		}

		cand, err := extractFirstMatch(s.matcher, cs, keys, conts, fetchData)
		if fetchErr != nil {
			return nil, NewStoreError("produce", fetchErr)
		}
		if err != nil {
			return nil, NewMatcherError("produce", err)
		}
		if cand == nil {
			continue
		}

		if s.replay == nil {
			chosen = cand
			break
		}
		key, err := commKey(cand.wc.Source.Ref, candidateProduces(cand.dataCandidates), cand.wc.Peeks)
		if err != nil {
			return nil, NewStoreError("produce", err)
		}
		if s.replay.consumeRigged(produce.Ref, key) {
			chosen = cand
			break
		}
		mismatched = true
	}

	if chosen == nil {
		if mismatched {
			s.invalid.Store(true)
			return nil, NewDivergenceError("produce",
				"match does not correspond to any rigged COMM", map[string]string{
					"produce": produce.Ref.Hex(),
				})
		}
		if err := s.store.putDatum(ctx, produce.Channel, ownDatum); err != nil {
			return nil, NewStoreError("produce", err)
		}
		s.log.logProduce(produce)
		slog.Debug("datum stored",
			"op", "produce",
			"ref", produce.Ref.Hex(),
			"persist", produce.Persist,
		)
		return nil, nil
	}

	produces := candidateProduces(chosen.dataCandidates)
	s.log.logComm(chosen.wc.Source, produces, chosen.wc.Peeks, produce.Ref)
	commProduceCount.WithLabelValues(s.source).Inc()

	if !chosen.wc.Persist {
		if err := s.store.removeContinuation(ctx, chosen.channels, chosen.contIndex); err != nil {
			return nil, NewStoreError("produce", err)
		}
		for _, c := range chosen.channels {
			if err := s.store.removeJoin(ctx, c, chosen.channels); err != nil {
				return nil, NewStoreError("produce", err)
			}
		}
	}

	if err := s.removeMatchedData(ctx, chosen.dataCandidates, chosen.wc.Peeks); err != nil {
		return nil, NewStoreError("produce", err)
	}

	slog.Debug("communication committed",
		"op", "produce",
		"ref", produce.Ref.Hex(),
		"consume", chosen.wc.Source.Ref.Hex(),
	)

	return &ProduceResult{
		Continuation: ContResult{
			K:        chosen.wc.K,
			Persist:  chosen.wc.Persist,
			Channels: chosen.channels,
			Patterns: chosen.wc.Patterns,
			Peek:     len(chosen.wc.Peeks) > 0,
		},
		Results: buildResults(chosen.dataCandidates, chosen.wc.Peeks),
	}, nil
}

// removeMatchedData applies the data half of a commit: matched data are
// removed unless persistent or peeked, in strictly descending index order
// so every recorded index stays valid. The producer's own datum (sentinel
// index) is stored only when its position is peeked; otherwise it is
// consumed in place.
func (s *Space) removeMatchedData(ctx context.Context, candidates []consumeCandidate, peeks []int) error {
	type removal struct {
		position int
		cand     consumeCandidate
	}
	order := make([]removal, len(candidates))
	for i, cand := range candidates {
		order[i] = removal{position: i, cand: cand}
	}
	sort.Slice(order, func(a, b int) bool {
		return order[a].cand.index > order[b].cand.index
	})

	for _, r := range order {
		peeked := slices.Contains(peeks, r.position)
		if r.cand.index == ownDatumIndex {
			if peeked {
				if err := s.store.putDatum(ctx, r.cand.channel, r.cand.datum); err != nil {
					return err
				}
			}
			continue
		}
		if r.cand.datum.Persist || peeked {
			continue
		}
		if err := s.store.removeDatum(ctx, r.cand.channel, r.cand.index); err != nil {
			return err
		}
	}
	return nil
}

// Install registers an always-persistent continuation that is re-applied
// on every reset. Install is startup-only: finding a match is a permanent
// configuration error.
func (s *Space) Install(ctx context.Context, channels []tuple.Value, patterns []tuple.Value, k tuple.Value) error {
	if len(channels) == 0 {
		return NewInvalidArgumentError("install", "channels must not be empty")
	}
	if len(channels) != len(patterns) {
		return NewInvalidArgumentError("install",
			fmt.Sprintf("channels and patterns must align: %d channels, %d patterns", len(channels), len(patterns)))
	}

	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	consume, err := tuple.NewConsume(channels, patterns, k, true)
	if err != nil {
		return NewInvalidArgumentError("install", err.Error())
	}
	hashes, keys, err := channelHashes(channels)
	if err != nil {
		return NewInvalidArgumentError("install", err.Error())
	}

	return s.locks.acquire(hashes, nil, func() error {
		data := make([][]indexedDatum, len(channels))
		for i, c := range channels {
			ds, err := s.store.getData(ctx, c)
			if err != nil {
				return NewStoreError("install", err)
			}
			data[i] = indexData(ds)
		}
		_, ok, err := extractDataCandidates(s.matcher, channels, keys, patterns, data)
		if err != nil {
			return NewMatcherError("install", err)
		}
		if ok {
			return NewInstallError()
		}

		wc := tuple.WaitingContinuation{
			Patterns: patterns,
			K:        k,
			Persist:  true,
			Source:   consume,
		}
		if err := s.store.installContinuation(ctx, channels, wc); err != nil {
			return NewStoreError("install", err)
		}
		for _, c := range channels {
			if err := s.store.installJoin(ctx, c, channels); err != nil {
				return NewStoreError("install", err)
			}
		}

		key, err := tuple.ChannelsHash(channels)
		if err != nil {
			return NewStoreError("install", err)
		}
		s.installsMu.Lock()
		s.installs[key.Hex()] = installRecord{channels: channels, patterns: patterns, k: k}
		s.installsMu.Unlock()

		slog.Debug("continuation installed", "ref", consume.Ref.Hex(), "channels", len(channels))
		return nil
	})
}

// Reset rebinds the space to a history root: fresh hot store, drained
// event log and produce counter, every install re-applied, lock manager
// cleaned up. A replay session becomes valid again.
func (s *Space) Reset(ctx context.Context, root tuple.Hash) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()
	return s.resetLocked(ctx, root)
}

// Clear rebinds the space to the canonical empty root.
func (s *Space) Clear(ctx context.Context) error {
	return s.Reset(ctx, history.EmptyRoot)
}

func (s *Space) resetLocked(ctx context.Context, root tuple.Hash) error {
	reader, err := s.repo.Reader(ctx, root)
	if err != nil {
		return NewStoreError("reset", err)
	}

	s.store = newHotStore(reader)
	s.root = root
	s.log.drain()
	s.invalid.Store(false)

	if err := s.restoreInstalls(ctx); err != nil {
		return err
	}

	s.locks.cleanUp()
	resetCount.WithLabelValues(s.source).Inc()
	slog.Debug("space reset", "root", root.Hex())
	return nil
}

// restoreInstalls re-applies every install into the fresh hot store.
// Installed continuations never pass through event logs; reinstalling is
// the only way they come back.
func (s *Space) restoreInstalls(ctx context.Context) error {
	s.installsMu.Lock()
	records := make([]installRecord, 0, len(s.installs))
	for _, rec := range s.installs {
		records = append(records, rec)
	}
	s.installsMu.Unlock()

	for _, rec := range records {
		consume, err := tuple.NewConsume(rec.channels, rec.patterns, rec.k, true)
		if err != nil {
			return NewStoreError("reset", err)
		}
		wc := tuple.WaitingContinuation{
			Patterns: rec.patterns,
			K:        rec.k,
			Persist:  true,
			Source:   consume,
		}
		if err := s.store.installContinuation(ctx, rec.channels, wc); err != nil {
			return NewStoreError("reset", err)
		}
		for _, c := range rec.channels {
			if err := s.store.installJoin(ctx, c, rec.channels); err != nil {
				return NewStoreError("reset", err)
			}
		}
	}
	return nil
}

// CreateSoftCheckpoint atomically snapshots the hot store and drains the
// event log and produce counter. The space continues from a clean
// in-session state atop the same root.
func (s *Space) CreateSoftCheckpoint() tuple.SoftCheckpoint {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	snap := s.store.snapshot()
	events, counter := s.log.drain()
	return tuple.SoftCheckpoint{Cache: snap, Log: events, Counter: counter}
}

// RevertToSoftCheckpoint rebuilds the hot store from the saved snapshot
// over the same root and restores the saved event log and produce counter.
func (s *Space) RevertToSoftCheckpoint(ctx context.Context, sc tuple.SoftCheckpoint) error {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	reader, err := s.repo.Reader(ctx, s.root)
	if err != nil {
		return NewStoreError("revert-soft-checkpoint", err)
	}
	s.store = newHotStoreFromSnapshot(reader, sc.Cache)
	s.log.replace(sc.Log, sc.Counter)
	revertCount.WithLabelValues(s.source).Inc()
	return nil
}

// CreateCheckpoint materializes the hot-store delta into a new history
// root. Afterwards the space runs atop the new root with an empty hot
// store and event log (installs re-applied), and the drained log is
// returned with the root.
func (s *Space) CreateCheckpoint(ctx context.Context) (tuple.Checkpoint, error) {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	snap := s.store.snapshot()
	events, _ := s.log.snapshot()

	newRoot, err := s.repo.Checkpoint(ctx, s.root, snap, events)
	if err != nil {
		return tuple.Checkpoint{}, NewStoreError("checkpoint", err)
	}

	if err := s.resetLocked(ctx, newRoot); err != nil {
		return tuple.Checkpoint{}, err
	}
	return tuple.Checkpoint{Root: newRoot, Log: events}, nil
}

// GetData returns the effective data on a channel.
func (s *Space) GetData(ctx context.Context, c tuple.Value) ([]tuple.Datum, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.store.getData(ctx, c)
}

// GetWaitingContinuations returns the effective continuations on a channel
// tuple.
func (s *Space) GetWaitingContinuations(ctx context.Context, cs []tuple.Value) ([]tuple.WaitingContinuation, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.store.getContinuations(ctx, cs)
}

// GetJoins returns the effective join index of a channel.
func (s *Space) GetJoins(ctx context.Context, c tuple.Value) ([][]tuple.Value, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.store.getJoins(ctx, c)
}

// ToMap returns the materialized view of every entry, keyed by the hex
// digest of the channel tuple.
func (s *Space) ToMap(ctx context.Context) (map[string]Row, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.store.toMap(ctx)
}

// EventLog returns a copy of the session event log. Used for tests and
// diagnostics.
func (s *Space) EventLog() []tuple.Event {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	events, _ := s.log.snapshot()
	return events
}

// ProduceCount returns the repeat counter of one produce reference.
func (s *Space) ProduceCount(ref tuple.Hash) int {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	return s.log.produceCount(ref)
}

// channelHashes computes the lock keys and hex keys of a channel list.
func channelHashes(channels []tuple.Value) ([]tuple.Hash, []string, error) {
	hashes := make([]tuple.Hash, len(channels))
	keys := make([]string, len(channels))
	for i, c := range channels {
		h, err := tuple.ChannelHash(c)
		if err != nil {
			return nil, nil, err
		}
		hashes[i] = h
		keys[i] = h.Hex()
	}
	return hashes, keys, nil
}

// normalizePeeks sorts, deduplicates, and range-checks a peek set.
func normalizePeeks(peeks []int, arity int) ([]int, error) {
	out := slices.Clone(peeks)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, p := range out {
		if p < 0 || p >= arity {
			return nil, fmt.Errorf("peek index %d out of range [0,%d)", p, arity)
		}
	}
	if out == nil {
		out = []int{}
	}
	return out, nil
}

func indexData(ds []tuple.Datum) []indexedDatum {
	out := make([]indexedDatum, len(ds))
	for i, d := range ds {
		out[i] = indexedDatum{datum: d, index: i}
	}
	return out
}

func indexConts(wcs []tuple.WaitingContinuation) []indexedCont {
	out := make([]indexedCont, len(wcs))
	for i, wc := range wcs {
		out[i] = indexedCont{wc: wc, index: i}
	}
	return out
}

// candidateProduces lists the source produces of matched candidates in
// channel-position order.
func candidateProduces(candidates []consumeCandidate) []tuple.Produce {
	out := make([]tuple.Produce, len(candidates))
	for i, cand := range candidates {
		out[i] = cand.datum.Source
	}
	return out
}

// buildResults assembles the per-channel results of a commit in
// channel-position order.
func buildResults(candidates []consumeCandidate, peeks []int) []Result {
	out := make([]Result, len(candidates))
	for i, cand := range candidates {
		peeked := slices.Contains(peeks, i)
		removed := false
		switch {
		case peeked:
			removed = false
		case cand.index == ownDatumIndex:
			removed = true
		default:
			removed = !cand.datum.Persist
		}
		out[i] = Result{
			Channel: cand.channel,
			A:       cand.rewritten,
			Removed: removed,
			Persist: cand.datum.Persist,
		}
	}
	return out
}
