// Package filter decides which directory entries are data and which are
// transient artifacts that must never enter a tier catalog.
package filter

// Transient holds the canonical exclusion globs: editor swap files,
// office lock files, and temporary-save files.
var Transient = []string{
	".*.swp",
	".~lock.*#",
	"~$*",
}

// Chain holds an ordered list of exclusion patterns. The transient set is
// always present; config may append more.
type Chain struct {
	patterns []*compiledPattern
}

// NewChain creates a chain containing only the transient exclusions.
func NewChain() *Chain {
	c := &Chain{}
	for _, p := range Transient {
		// Canonical patterns always compile.
		cp, err := compilePattern(p)
		if err != nil {
			panic("filter: bad transient pattern " + p + ": " + err.Error())
		}
		c.patterns = append(c.patterns, cp)
	}
	return c
}

// AddExclude appends an exclusion pattern to the chain.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.patterns = append(c.patterns, cp)
	return nil
}

// Match reports whether the tier-root-relative path should be catalogued.
func (c *Chain) Match(relPath string) bool {
	for _, p := range c.patterns {
		if p.match(relPath) {
			return false
		}
	}
	return true
}
