package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-volume ignore file, read from the volume root.
const IgnoreFileName = ".devcatignore"

// DefaultIgnorePatterns apply to every volume. They cover the ignore file
// itself and the housekeeping directories filesystems and desktops create.
var DefaultIgnorePatterns = []string{
	IgnoreFileName,
	"lost+found/",
	".Trash-*/",
	"System Volume Information/",
	"$RECYCLE.BIN/",
}

// IgnoreRules decides which entries of a volume the walker skips. Rules use
// a subset of gitignore syntax:
//
//	*.tmp        a basename anywhere on the volume
//	/exports/*   anchored, matched against the path from the volume root
//	cache/       directories only
//	!keep.tmp    re-includes an entry an earlier rule excluded
//
// The last matching rule wins. An excluded directory is not descended into,
// so nothing beneath it can be re-included.
type IgnoreRules struct {
	rules []ignoreRule
}

type ignoreRule struct {
	glob     string
	anchored bool
	dirOnly  bool
	negate   bool
}

// NewIgnoreRules compiles one or more pattern sets, in order. Blank lines
// and lines starting with '#' are skipped.
func NewIgnoreRules(sets ...[]string) *IgnoreRules {
	r := &IgnoreRules{}
	for _, set := range sets {
		for _, line := range set {
			if rule, ok := parseRule(line); ok {
				r.rules = append(r.rules, rule)
			}
		}
	}
	return r
}

func parseRule(line string) (ignoreRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}

	var rule ignoreRule
	if strings.HasPrefix(line, "!") {
		rule.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		rule.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		rule.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	if strings.Contains(line, "/") {
		rule.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}
	rule.glob = line
	return rule, true
}

// Ignored reports whether the entry at rel, relative to the volume root,
// should be skipped.
func (r *IgnoreRules) Ignored(rel string, dir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	p := filepath.ToSlash(rel)
	base := path.Base(p)

	ignored := false
	for _, rule := range r.rules {
		if rule.dirOnly && !dir {
			continue
		}
		target := base
		if rule.anchored {
			target = p
		}
		// Malformed globs never match.
		if ok, err := path.Match(rule.glob, target); err == nil && ok {
			ignored = !rule.negate
		}
	}
	return ignored
}

// ParseIgnoreFile returns the raw lines of an ignore file, or nil when the
// volume has none.
func ParseIgnoreFile(fsys afero.Fs, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
