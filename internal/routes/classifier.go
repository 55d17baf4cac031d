package routes

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Tier is the access classification of a request path.
type Tier int

// Tiers in gate precedence order. TierProtected is the fail-closed default
// for anything the table does not cover.
const (
	TierProtected Tier = iota
	TierBypass
	TierPublicPrefix
	TierPublic
	TierPendingVerification
	TierAPI
	TierFile
	TierConversion
)

// tierNames maps tiers to their configuration spelling.
var tierNames = map[Tier]string{
	TierProtected:           "protected",
	TierBypass:              "bypass",
	TierPublicPrefix:        "public_prefix",
	TierPublic:              "public",
	TierPendingVerification: "pending_verification",
	TierAPI:                 "api",
	TierFile:                "file",
	TierConversion:          "conversion",
}

// String returns the configuration spelling of the tier.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier converts a configuration spelling into a Tier.
func ParseTier(name string) (Tier, error) {
	for tier, n := range tierNames {
		if n == name {
			return tier, nil
		}
	}
	return TierProtected, fmt.Errorf("unknown tier %q", name)
}

// Match kinds for table rules.
const (
	MatchExact  = "exact"
	MatchPrefix = "prefix"
)

// Rule is one entry of the classification table.
type Rule struct {
	Match string
	Path  string
	Tier  Tier
}

// trieNode is one segment of the prefix trie.
type trieNode struct {
	children map[string]*trieNode
	tier     Tier
	terminal bool
}

// Table is an immutable compiled classification table.
type Table struct {
	exact map[string]Tier
	root  *trieNode
}

// NewTable compiles rules into a Table. Duplicate paths with the same match
// kind are rejected.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{
		exact: make(map[string]Tier),
		root:  &trieNode{children: make(map[string]*trieNode)},
	}

	for _, r := range rules {
		if r.Path == "" {
			return nil, fmt.Errorf("empty path in classification rule")
		}
		path := normalize(r.Path)

		switch r.Match {
		case MatchExact:
			if _, dup := t.exact[path]; dup {
				return nil, fmt.Errorf("duplicate exact rule for %q", path)
			}
			t.exact[path] = r.Tier
		case MatchPrefix:
			if err := t.insertPrefix(path, r.Tier); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown match kind %q for %q", r.Match, r.Path)
		}
	}

	return t, nil
}

// insertPrefix adds a prefix rule to the trie.
func (t *Table) insertPrefix(path string, tier Tier) error {
	node := t.root
	for _, seg := range segments(path) {
		child, ok := node.children[seg]
		if !ok {
			child = &trieNode{children: make(map[string]*trieNode)}
			node.children[seg] = child
		}
		node = child
	}

	if node.terminal {
		return fmt.Errorf("duplicate prefix rule for %q", path)
	}
	node.terminal = true
	node.tier = tier
	return nil
}

// Classify returns the tier of a request path. Exact rules win over prefix
// rules; among prefix rules the longest match wins.
func (t *Table) Classify(path string) Tier {
	path = normalize(path)

	if tier, ok := t.exact[path]; ok {
		return tier
	}

	tier := TierProtected
	node := t.root
	if node.terminal {
		tier = node.tier
	}
	for _, seg := range segments(path) {
		child, ok := node.children[seg]
		if !ok {
			break
		}
		node = child
		if node.terminal {
			tier = node.tier
		}
	}

	return tier
}

// normalize reduces a path to a canonical slash-prefixed form without a
// trailing slash, so "/login" and "/login/" classify identically.
func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// segments splits a normalized path into its non-empty segments.
func segments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// AtomicTable is a concurrency-safe holder for a Table, swapped whole on
// configuration reload so in-flight requests always see a consistent table.
type AtomicTable struct {
	table atomic.Pointer[Table]
}

// NewAtomicTable creates a holder seeded with the given table.
func NewAtomicTable(t *Table) *AtomicTable {
	a := &AtomicTable{}
	a.table.Store(t)
	return a
}

// Classify delegates to the current table.
func (a *AtomicTable) Classify(path string) Tier {
	return a.table.Load().Classify(path)
}

// Swap replaces the current table.
func (a *AtomicTable) Swap(t *Table) {
	a.table.Store(t)
}
