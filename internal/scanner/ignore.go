package scanner

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// pattern is one parsed ignore rule. Rules use gitignore-style semantics:
// the last matching rule wins, a trailing "/" restricts the rule to
// directories (and everything beneath them), and a leading "!" negates.
type pattern struct {
	pat      string
	negate   bool
	dirOnly  bool
	anchored bool // contains a path separator; matched against the full relative path
}

// Matcher evaluates an ordered list of ignore patterns.
type Matcher struct {
	patterns []pattern
}

// NewMatcher parses raw pattern lines in order. Blank lines and lines
// starting with "#" are skipped.
func NewMatcher(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var p pattern
		if strings.HasPrefix(line, "!") {
			p.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			p.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			continue
		}
		p.anchored = strings.Contains(line, "/")
		p.pat = line
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Ignored reports whether relPath (POSIX-relative) is excluded. Later
// patterns override earlier ones.
func (m *Matcher) Ignored(relPath string, isDir bool) bool {
	ignored := false
	for _, p := range m.patterns {
		if p.matches(relPath, isDir) {
			ignored = !p.negate
		}
	}
	return ignored
}

// CanPrune reports whether an ignored directory's subtree can be skipped
// entirely. It is conservative: if any negated pattern could re-include
// something beneath dirRel, the directory must still be entered.
func (m *Matcher) CanPrune(dirRel string) bool {
	for _, p := range m.patterns {
		if !p.negate {
			continue
		}
		// A bare-name negation can apply at any depth.
		if !p.anchored {
			return false
		}
		// A cross-directory wildcard can reach beneath any directory.
		if strings.Contains(p.pat, "**") {
			return false
		}
		if prefixCouldMatch(p.pat, dirRel) {
			return false
		}
	}
	return true
}

func (p pattern) matches(relPath string, isDir bool) bool {
	if p.anchored {
		// Match the path itself, or any ancestor directory (a rule matching
		// a directory covers everything beneath it).
		if globPath(p.pat, relPath) {
			return !p.dirOnly || isDir
		}
		for anc := path.Dir(relPath); anc != "." && anc != "/"; anc = path.Dir(anc) {
			if globPath(p.pat, anc) {
				return true
			}
		}
		return false
	}

	// Unanchored: match against each path segment.
	segs := strings.Split(relPath, "/")
	for i, seg := range segs {
		ok, _ := path.Match(p.pat, seg)
		if !ok {
			continue
		}
		last := i == len(segs)-1
		if !last {
			// Matched an ancestor directory segment.
			return true
		}
		if p.dirOnly && !isDir {
			return false
		}
		return true
	}
	return false
}

// globPath matches pat against s segment by segment. "*" and "?" stay within
// a segment; "**" spans any number of segments.
func globPath(pat, s string) bool {
	return matchSegs(strings.Split(pat, "/"), strings.Split(s, "/"))
}

func matchSegs(ps, ss []string) bool {
	if len(ps) == 0 {
		return len(ss) == 0
	}
	if ps[0] == "**" {
		if matchSegs(ps[1:], ss) {
			return true
		}
		return len(ss) > 0 && matchSegs(ps, ss[1:])
	}
	if len(ss) == 0 {
		return false
	}
	if ok, _ := path.Match(ps[0], ss[0]); !ok {
		return false
	}
	return matchSegs(ps[1:], ss[1:])
}

// prefixCouldMatch reports whether pat could match a path beneath dirRel:
// either pat's leading segments match the directory, or pat matches the
// directory itself or one of its ancestors.
func prefixCouldMatch(pat, dirRel string) bool {
	ps := strings.Split(pat, "/")
	ds := strings.Split(dirRel, "/")

	if len(ps) > len(ds) {
		for i, d := range ds {
			if ok, _ := path.Match(ps[i], d); !ok {
				return false
			}
		}
		return true
	}
	// Pattern is no deeper than the directory: it re-includes beneath only
	// if it matches the directory or an ancestor outright.
	if globPath(pat, dirRel) {
		return true
	}
	for anc := path.Dir(dirRel); anc != "." && anc != "/"; anc = path.Dir(anc) {
		if globPath(pat, anc) {
			return true
		}
	}
	return false
}

// loadIgnoreLines reads the project ignore file. If it does not exist, a
// default one is written so users can discover and edit it.
func loadIgnoreLines(ignorePath string, defaults []string) []string {
	f, err := os.Open(ignorePath)
	if err != nil {
		writeDefaultIgnoreFile(ignorePath, defaults)
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func writeDefaultIgnoreFile(ignorePath string, defaults []string) {
	var b strings.Builder
	b.WriteString("# Paths to exclude from indexing, one pattern per line.\n")
	b.WriteString("# A trailing / matches directories only; a leading ! re-includes.\n\n")
	for _, p := range defaults {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	// Best-effort write; scanning proceeds either way.
	os.WriteFile(ignorePath, []byte(b.String()), 0o644)
}
