// alias.go canonicalizes entity mentions before they become a Relation's
// source_entity/target_entity, so "Bob", "bob smith" and "Bob Smith" that
// have been registered as aliases of the same entity collapse to one node
// instead of fragmenting the graph. Resolve is an exact lookup of the
// canonicalized alias; ScanText runs an Aho-Corasick automaton over free
// text to find registered aliases in it.
package relation

import (
	"sync"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/memoryvcs/internal/tokenize"
)

// AliasIndex maps registered surface forms to a canonical entity key.
type AliasIndex struct {
	mu        sync.RWMutex
	automaton *ahocorasick.Automaton
	canonical map[string]string // canonicalized surface -> canonical key
	dirty     bool
	patterns  []string
}

// NewAliasIndex returns an empty index.
func NewAliasIndex() *AliasIndex {
	return &AliasIndex{canonical: make(map[string]string)}
}

// Register adds alias as a surface form resolving to canonicalKey. Safe to
// call concurrently with Resolve, though the automaton is only rebuilt on
// the next ScanText after a Register.
func (a *AliasIndex) Register(alias, canonicalKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	norm := tokenize.Canonicalize(alias)
	if norm == "" {
		return
	}
	if _, exists := a.canonical[norm]; !exists {
		a.patterns = append(a.patterns, norm)
	}
	a.canonical[norm] = canonicalKey
	a.dirty = true
}

// Resolve returns the canonical key for entity if it (or its canonical
// form) has been registered, otherwise it returns entity unchanged.
func (a *AliasIndex) Resolve(entity string) string {
	a.mu.RLock()
	norm := tokenize.Canonicalize(entity)
	key, ok := a.canonical[norm]
	a.mu.RUnlock()
	if ok {
		return key
	}
	return entity
}

// Rebuild compiles the Aho-Corasick automaton over all registered aliases.
// Only needed for ScanText; Resolve works off the plain map.
func (a *AliasIndex) Rebuild() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return nil
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(a.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return err
	}
	a.automaton = automaton
	a.dirty = false
	return nil
}

// ScanText finds every registered alias mentioned in text and returns their
// canonical keys, deduplicated. Used by ConsolidationEngine to recognize
// entities inside observation summaries before writing relations.
func (a *AliasIndex) ScanText(text string) []string {
	if err := a.Rebuild(); err != nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.automaton == nil {
		return nil
	}

	norm := tokenize.Canonicalize(text)
	matches := a.automaton.FindAllOverlapping([]byte(norm))

	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		surface := norm[m.Start:m.End]
		key, ok := a.canonical[surface]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
