package chunker

import (
	"fmt"
	"strings"

	"mnemo/internal/scanner"
)

// NaiveChunks splits src into fixed-size overlapping line windows. For any
// non-empty input it returns at least one chunk; windows advance by
// window-overlap lines so consecutive chunks stitch over every input line.
// Chunk text is truncated (never erred) at maxChars.
func NaiveChunks(file scanner.ScannedFile, lang string, src []byte, window, overlap, maxChars int) []Chunk {
	if len(src) == 0 {
		return nil
	}
	if window <= 0 {
		window = 40
	}
	if overlap < 0 || overlap >= window {
		overlap = window / 4
	}

	lines := strings.Split(string(src), "\n")
	var chunks []Chunk
	for i := 0; i < len(lines); {
		end := i + window
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[i:end], "\n")
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars]
		}
		chunks = append(chunks, Chunk{
			ID:           ChunkID(file.RelPath, len(chunks)),
			Text:         text,
			Summary:      naiveSummary(file.RelPath, lines[i:end], i+1, end),
			Kind:         KindFallback,
			SourcePath:   file.RelPath,
			SourceSHA256: file.SHA256,
			StartLine:    i + 1,
			EndLine:      end,
			Language:     lang,
		})
		if end >= len(lines) {
			break
		}
		i += window - overlap
	}
	return chunks
}

func naiveSummary(relPath string, lines []string, start, end int) string {
	head := ""
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			head = s
			break
		}
	}
	if len(head) > 80 {
		head = head[:80]
	}
	if head == "" {
		return fmt.Sprintf("%s lines %d-%d", relPath, start, end)
	}
	return fmt.Sprintf("%s lines %d-%d: %s", relPath, start, end, head)
}
