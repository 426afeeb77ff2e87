// Package tuple defines the term values the tuplespace traffics in and
// their content-addressed identities.
//
// Channels, patterns, payloads, and continuations are opaque Values with a
// canonical byte encoding (RFC 8785 canonical JSON). Two values are
// equivalent iff their canonical bytes match, and every stable identity in
// the system - channel hashes, produce and consume references, history
// roots - is a Blake2b-256 digest over those bytes under a domain prefix.
package tuple
