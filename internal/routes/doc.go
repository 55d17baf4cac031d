// Package routes classifies request paths into access tiers for the gate.
//
// The classification is configured as a single ordered table of
// (exact-or-prefix, path, tier) entries and compiled once into an exact-match
// map plus a path-segment trie, so per-request lookup cost stays proportional
// to the number of path segments rather than the number of rules.
//
// When both an exact rule and a prefix rule cover a path, the exact rule
// wins; among prefix rules the longest one wins, which lets conversion
// endpoints refine broader API prefixes. Paths matched by no rule fall into
// TierProtected.
package routes
