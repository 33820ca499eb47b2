package walker

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jamesainslie/nefaxer/pkg/nefax/config"
)

// Matcher evaluates exclusion glob patterns against relative paths.
// Patterns are tried against both the full relative path (with '/' as
// the separator) and the entry's base name, so "node_modules" excludes
// that directory anywhere in the tree while "sub/**" prunes one
// subtree.
type Matcher struct {
	path []glob.Glob
	name []glob.Glob
}

// NewMatcher compiles the given patterns plus the tool's default
// exclusions. An unparsable pattern is an error; exclusion silently
// not applying would be worse than failing the run.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	all := append(config.DefaultExcludes(), patterns...)
	for _, p := range all {
		if p == "" {
			continue
		}
		pg, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		ng, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		m.path = append(m.path, pg)
		m.name = append(m.name, ng)
	}
	return m, nil
}

// Excluded reports whether the relative path should be elided. OS junk
// files are always excluded.
func (m *Matcher) Excluded(rel string) bool {
	name := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		name = rel[i+1:]
	}
	if config.IsOSJunk(name) {
		return true
	}
	for i := range m.path {
		if m.path[i].Match(rel) || m.name[i].Match(name) {
			return true
		}
	}
	return false
}
