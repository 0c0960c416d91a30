package tools

import (
	"sort"
	"strings"
)

// Gate decides which tools need a human decision before they run. Rules are
// exact tool names or prefix patterns with a trailing "*" ("fs_*" matches
// fs_read and fs_write). A nil Gate gates nothing.
type Gate struct {
	exact    map[string]bool
	prefixes []string
}

// NewGate builds a gate from the given rules. Empty rules are skipped; a
// bare "*" gates every tool.
func NewGate(rules ...string) *Gate {
	g := &Gate{exact: make(map[string]bool)}
	for _, rule := range rules {
		if rule == "" {
			continue
		}
		if strings.HasSuffix(rule, "*") {
			g.prefixes = append(g.prefixes, strings.TrimSuffix(rule, "*"))
			continue
		}
		g.exact[rule] = true
	}
	return g
}

// Requires reports whether the named tool must be approved before execution.
func (g *Gate) Requires(name string) bool {
	if g == nil {
		return false
	}
	if g.exact[name] {
		return true
	}
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Rules returns the gate's rules in sorted order, wildcard suffixes
// restored. Useful for startup logging.
func (g *Gate) Rules() []string {
	if g == nil {
		return nil
	}
	rules := make([]string, 0, len(g.exact)+len(g.prefixes))
	for name := range g.exact {
		rules = append(rules, name)
	}
	for _, prefix := range g.prefixes {
		rules = append(rules, prefix+"*")
	}
	sort.Strings(rules)
	return rules
}
