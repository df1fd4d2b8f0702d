// Package routing decides where classified documents go: rule lookup by
// document type, ordered fallback chains, and an alert of last resort.
package routing

import "sync"

// Table maps document types to ordered destination chains. Rules can be
// swapped at runtime without touching in-flight routing; Route only ever
// reads a snapshot.
type Table struct {
	mu           sync.RWMutex
	rules        map[string][]string
	defaultChain []string
}

// NewTable builds a rule table. defaultChain serves document types with
// no explicit rule.
func NewTable(rules map[string][]string, defaultChain []string) *Table {
	t := &Table{
		rules:        make(map[string][]string, len(rules)),
		defaultChain: append([]string(nil), defaultChain...),
	}
	for docType, chain := range rules {
		t.rules[docType] = append([]string(nil), chain...)
	}
	return t
}

// Set replaces the chain for one document type. An empty chain removes
// the rule, falling back to the default.
func (t *Table) Set(docType string, chain []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(chain) == 0 {
		delete(t.rules, docType)
		return
	}
	t.rules[docType] = append([]string(nil), chain...)
}

// Chain returns a copy of the destination chain for docType.
func (t *Table) Chain(docType string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if chain, ok := t.rules[docType]; ok {
		return append([]string(nil), chain...)
	}
	return append([]string(nil), t.defaultChain...)
}
