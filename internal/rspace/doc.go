// Package rspace implements the concurrent tuplespace engine.
//
// # Commit discipline
//
// An operation decides its full commit before touching anything: the
// matcher runs over candidate data, a COMM is appended to the event log,
// and only then do hot-store mutations apply, in strictly descending
// datum-index order so every index recorded by the match stays valid.
// Errors before the log append leave no trace; there are no partial
// commits to roll back.
//
// # Locking
//
// Operations run under a two-step per-channel-hash lock. A consume locks
// the hashes of its channel tuple. A produce first locks its own channel,
// then - under that lock - reads the join index and expands the held set
// to every sibling channel of every join, because a concurrent consumer on
// a sibling could otherwise commit an inconsistent match. Keys are always
// taken in digest order.
//
// # Two tiers
//
// The hot store is a touched-key overlay over a read-only history root.
// CreateCheckpoint folds the overlay into a new committed root;
// CreateSoftCheckpoint snapshots the overlay plus the session log for an
// in-process revert; Reset drops the overlay and rebinds to a root,
// re-applying installs.
//
// # Replay
//
// A ReplaySpace is rigged with a recorded event log and re-executes the
// same API calls. Match selection is steered by the rigged COMM events
// instead of the live shuffle, and any commit the log cannot account for
// is a divergence.
package rspace
