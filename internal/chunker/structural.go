package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"mnemo/internal/scanner"
)

// Structural parses source files with tree-sitter and emits chunks aligned
// to syntactic units (functions, methods, types, classes).
type Structural struct {
	registry *Registry
}

// NewStructural creates a structural chunker backed by the given registry.
func NewStructural(r *Registry) *Structural {
	return &Structural{registry: r}
}

// Chunk parses the file and returns one Result. An error means the grammar
// failed on this file; callers degrade to the fallback strategy.
func (s *Structural) Chunk(file scanner.ScannedFile, src []byte) (Result, error) {
	res := Result{Status: StatusSuccess, SourcePath: file.RelPath}

	spec, lang := s.registry.Lookup(file.RelPath)
	if spec == nil {
		return res, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", file.RelPath, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(spec.Query), spec.Language)
	if err != nil {
		return res, fmt.Errorf("compile query for %s: %w", lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var caps []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, cap := range m.Captures {
			switch q.CaptureNameForId(cap.Index) {
			case "chunk":
				node = cap.Node
			case "name":
				name = cap.Node.Content(src)
			}
		}
		if node == nil {
			continue
		}
		caps = append(caps, capture{
			name:      name,
			nodeKind:  node.Type(),
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
		})
	}

	caps = dedupCaptures(caps)

	lines := strings.Split(string(src), "\n")
	for _, cap := range caps {
		text := sliceLines(lines, cap.startLine, cap.endLine)
		summary := structuralSummary(lang, cap.nodeKind, cap.name, file.RelPath)

		pieces := []piece{{text: text, start: cap.startLine, end: cap.endLine}}
		if len(text) > maxStructuralChunkBytes {
			pieces = splitOversized(lines, cap.startLine, cap.endLine)
		}
		for _, p := range pieces {
			res.Chunks = append(res.Chunks, Chunk{
				ID:           ChunkID(file.RelPath, len(res.Chunks)),
				Text:         p.text,
				Summary:      summary,
				Kind:         KindCode,
				SourcePath:   file.RelPath,
				SourceSHA256: file.SHA256,
				StartLine:    p.start,
				EndLine:      p.end,
				Language:     lang,
			})
		}
	}
	return res, nil
}

// maxStructuralChunkBytes caps a single syntactic chunk; larger units are
// re-split into line windows.
const maxStructuralChunkBytes = 8192

type capture struct {
	name      string
	nodeKind  string
	startLine int
	endLine   int
	startByte uint32
	endByte   uint32
}

type piece struct {
	text  string
	start int
	end   int
}

// dedupCaptures drops captures fully contained within a larger one, keeping
// the outer node.
func dedupCaptures(caps []capture) []capture {
	if len(caps) <= 1 {
		return caps
	}
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return (caps[i].endByte - caps[i].startByte) > (caps[j].endByte - caps[j].startByte)
	})

	var out []capture
	var lastEnd uint32
	for _, c := range caps {
		if c.startByte >= lastEnd || lastEnd == 0 {
			out = append(out, c)
			if c.endByte > lastEnd {
				lastEnd = c.endByte
			}
		}
	}
	return out
}

// sliceLines joins the 1-indexed inclusive line range.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start-1:end], "\n")
}

// splitOversized breaks a large syntactic unit into fixed windows with a
// 10-line overlap, preserving absolute line numbers.
func splitOversized(lines []string, start, end int) []piece {
	const window = 40
	const overlap = 10

	if end > len(lines) {
		end = len(lines)
	}
	var out []piece
	for i := start; i <= end; {
		last := i + window - 1
		if last > end {
			last = end
		}
		out = append(out, piece{
			text:  sliceLines(lines, i, last),
			start: i,
			end:   last,
		})
		if last >= end {
			break
		}
		i += window - overlap
	}
	return out
}

func structuralSummary(lang, nodeKind, name, relPath string) string {
	if name == "" {
		return fmt.Sprintf("%s %s in %s", lang, nodeKind, relPath)
	}
	return fmt.Sprintf("%s %s %s in %s", lang, nodeKind, name, relPath)
}
