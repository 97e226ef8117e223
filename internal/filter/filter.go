// Package filter decides which source entries a copy skips, by rsync-style
// path patterns and by file size.
package filter

import "fmt"

// Rule represents a single include or exclude filter rule.
type Rule struct {
	Pattern *compiledPattern
	Include bool
}

// Chain holds an ordered list of filter rules plus size filters. A nil
// *Chain includes everything.
type Chain struct {
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// Options is the declarative form of a chain, as read from configuration.
type Options struct {
	Include   []string
	Exclude   []string
	RulesFile string
	MinSize   string
	MaxSize   string
}

// New builds a chain from opts. Includes are added before excludes, then
// the rules file, so an explicit include beats a broad exclude.
func New(opts Options) (*Chain, error) {
	c := NewChain()
	for _, p := range opts.Include {
		if err := c.AddInclude(p); err != nil {
			return nil, err
		}
	}
	for _, p := range opts.Exclude {
		if err := c.AddExclude(p); err != nil {
			return nil, err
		}
	}
	if opts.RulesFile != "" {
		if err := c.LoadFile(opts.RulesFile); err != nil {
			return nil, err
		}
	}
	if opts.MinSize != "" {
		n, err := ParseSize(opts.MinSize)
		if err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
		c.SetMinSize(n)
	}
	if opts.MaxSize != "" {
		n, err := ParseSize(opts.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
		c.SetMaxSize(n)
	}
	return c, nil
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	return c.add(pattern, false)
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	return c.add(pattern, true)
}

func (c *Chain) add(pattern string, include bool) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: include})
	return nil
}

// SetMinSize sets the minimum file size filter.
func (c *Chain) SetMinSize(n int64) {
	c.minSize = n
}

// SetMaxSize sets the maximum file size filter.
func (c *Chain) SetMaxSize(n int64) {
	c.maxSize = n
}

// Empty reports whether the chain has no rules and no size filters.
func (c *Chain) Empty() bool {
	return c == nil || (len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0)
}

// Match returns true if the path should be INCLUDED (not filtered out).
// relPath is relative to the copy root, isDir indicates folders,
// and size is the file size (ignored for folders).
func (c *Chain) Match(relPath string, isDir bool, size int64) bool {
	if c == nil {
		return true
	}
	if !isDir {
		if c.minSize > 0 && size < c.minSize {
			return false
		}
		if c.maxSize > 0 && size > c.maxSize {
			return false
		}
	}

	// First matching rule wins.
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}

// SkipFile reports whether the file at relPath is filtered out.
func (c *Chain) SkipFile(relPath string, size int64) bool {
	return !c.Match(relPath, false, size)
}

// SkipFolder reports whether the folder at relPath, and so its whole
// subtree, is filtered out.
func (c *Chain) SkipFolder(relPath string) bool {
	return !c.Match(relPath, true, 0)
}
