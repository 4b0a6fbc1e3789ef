// Package scanner walks a project tree, applies the layered ignore policy,
// classifies files, and computes content hashes. Its file-hash maps are the
// unit of diffing between successive scans.
package scanner

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mnemo/internal/config"
)

// Classification reasons for non-text files.
const (
	ReasonTooLarge = "too_large"
	ReasonBinary   = "binary"
)

// builtinIgnores are always applied, before any project-supplied patterns.
var builtinIgnores = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".idea/",
	".vscode/",
	config.DirName + "/",
	"dist/",
	"build/",
}

// ScannedFile is one discovered filesystem entry. Recreated on every scan,
// never mutated. SHA256 is set iff the file is text and was fully read.
type ScannedFile struct {
	Path        string // absolute
	RelPath     string // POSIX-normalized, relative to the project root
	Size        int64
	SHA256      string
	IsText      bool
	IsReference bool
	Reason      string
}

// Settings carries the per-scan policy.
type Settings struct {
	MaxFileBytes    int64
	ReferencePrefix string
}

// Report summarizes one scan.
type Report struct {
	Scanned  int
	Ignored  int
	Binary   int
	TooLarge int
}

// Scan walks root and returns every scannable file plus a report. Binary
// files are excluded entirely; files over the size ceiling are included
// unhashed so manifest bookkeeping still sees them.
func Scan(root string, settings Settings, log *zap.Logger) ([]ScannedFile, Report, error) {
	var report Report

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, report, err
	}

	lines := loadIgnoreLines(filepath.Join(absRoot, config.IgnoreFileName), defaultIgnoreFilePatterns)
	matcher := NewMatcher(append(append([]string{}, builtinIgnores...), lines...))

	var files []ScannedFile
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, the walk continues
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if matcher.Ignored(rel, true) {
				if matcher.CanPrune(rel) {
					return filepath.SkipDir
				}
				// A negated pattern could re-include something beneath:
				// keep walking and test each entry individually.
				log.Debug("entering ignored directory, negation may apply", zap.String("dir", rel))
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if matcher.Ignored(rel, false) {
			report.Ignored++
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		sf := ScannedFile{
			Path:        path,
			RelPath:     rel,
			Size:        info.Size(),
			IsReference: settings.ReferencePrefix != "" && strings.HasPrefix(rel, settings.ReferencePrefix),
		}

		// Over-ceiling files are never read, so the size check takes
		// precedence over binary detection: an oversized binary file is
		// reported too_large, not binary.
		if settings.MaxFileBytes > 0 && info.Size() > settings.MaxFileBytes {
			sf.Reason = ReasonTooLarge
			report.TooLarge++
			files = append(files, sf)
			report.Scanned++
			return nil
		}

		src, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(readErr))
			return nil
		}
		if bytes.IndexByte(src, 0) >= 0 {
			report.Binary++
			return nil
		}

		sum := sha256.Sum256(src)
		sf.SHA256 = hex.EncodeToString(sum[:])
		sf.IsText = true
		files = append(files, sf)
		report.Scanned++
		return nil
	})
	if err != nil {
		return nil, report, err
	}

	log.Info("scan complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("ignored", report.Ignored),
		zap.Int("binary", report.Binary),
		zap.Int("too_large", report.TooLarge))

	return files, report, nil
}

// defaultIgnoreFilePatterns seed a fresh ignore file. The builtin set above
// applies regardless; these give users a visible starting point.
var defaultIgnoreFilePatterns = []string{
	"*.min.js",
	"*.lock",
	"coverage/",
}
