package filter

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// compiledPattern is a validated glob pattern that can match paths.
type compiledPattern struct {
	glob     string
	original string
	anchored bool // pattern starts with / or contains one
	dirOnly  bool // pattern ends with /
}

// compilePattern parses an rsync-style glob pattern. Globbing itself is
// doublestar's: * and ? stop at /, ** spans folders, [!x] negates.
func compilePattern(pattern string) (*compiledPattern, error) {
	cp := &compiledPattern{original: pattern}

	if strings.HasSuffix(pattern, "/") {
		cp.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	if strings.HasPrefix(pattern, "/") {
		cp.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") {
		// A / anywhere anchors the pattern, as in rsync.
		cp.anchored = true
	}

	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", cp.original)
	}
	cp.glob = pattern
	return cp, nil
}

// match tests whether a relative path matches this pattern. Unanchored
// patterns match the basename or any trailing run of path elements.
func (cp *compiledPattern) match(relPath string, isDir bool) bool {
	if cp.dirOnly && !isDir {
		return false
	}
	if cp.anchored {
		return globMatch(cp.glob, relPath)
	}
	for {
		if globMatch(cp.glob, relPath) {
			return true
		}
		i := strings.IndexByte(relPath, '/')
		if i < 0 {
			return false
		}
		relPath = relPath[i+1:]
	}
}

func globMatch(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
