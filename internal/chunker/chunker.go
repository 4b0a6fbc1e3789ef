// Package chunker turns scanned files into retrievable chunks. Three
// strategies are available: structural (tree-sitter), tool-assisted (an
// external reasoning command), and a naive line-window fallback that every
// terminal failure degrades to.
package chunker

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mnemo/internal/config"
	"mnemo/internal/scanner"
)

// Status classifies the outcome of chunking one file.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusFallbackExec  Status = "fallback_exec"
	StatusFallbackParse Status = "fallback_parse"
	StatusFallbackEmpty Status = "fallback_empty"
)

// Chunk kinds.
const (
	KindCode     = "code"
	KindDoc      = "doc"
	KindFallback = "fallback"
)

// Chunk is one retrievable unit of content with its provenance.
type Chunk struct {
	ID           string
	Text         string
	Summary      string
	Kind         string
	SourcePath   string
	SourceSHA256 string
	StartLine    int // 1-indexed, inclusive
	EndLine      int
	Language     string
}

// Result is the outcome of chunking one file. Exactly one Result is produced
// per file per pass, even when a strategy fails and the fallback takes over.
type Result struct {
	Chunks     []Chunk
	Status     Status
	SourcePath string
	Err        string
	RetryCount int
}

// StrategyKind identifies which strategy SelectStrategy picked.
type StrategyKind int

const (
	StrategyNaive StrategyKind = iota
	StrategyStructural
	StrategyTool
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyStructural:
		return "structural"
	case StrategyTool:
		return "tool"
	default:
		return "naive"
	}
}

// Options is the per-invocation chunking policy.
type Options struct {
	MaxRetries       int
	RetryDelay       time.Duration
	Window           int
	Overlap          int
	MaxChunkChars    int
	ToolEnabled      bool
	PriorityPatterns []string
}

// OptionsFromConfig maps the declarative config onto Options.
func OptionsFromConfig(cfg config.ChunkingConfig) Options {
	return Options{
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       time.Duration(cfg.RetryDelaySeconds * float64(time.Second)),
		Window:           cfg.Window,
		Overlap:          cfg.Overlap,
		MaxChunkChars:    cfg.MaxChunkChars,
		ToolEnabled:      cfg.ToolEnabled,
		PriorityPatterns: cfg.PriorityPatterns,
	}
}

// SmartChunker selects and runs one strategy per file.
type SmartChunker struct {
	opts       Options
	registry   *Registry
	structural *Structural
	tool       *ToolChunker
	log        *zap.Logger
}

// New creates a SmartChunker. runner may be nil when tool-assisted chunking
// is disabled.
func New(opts Options, registry *Registry, runner Runner, log *zap.Logger) *SmartChunker {
	c := &SmartChunker{
		opts:       opts,
		registry:   registry,
		structural: NewStructural(registry),
		log:        log,
	}
	if opts.ToolEnabled && runner != nil {
		c.tool = NewToolChunker(runner, opts, c.Fallback, log)
	}
	return c
}

// SelectStrategy decides which strategy handles a file. Priority-pattern
// matches go to the tool regardless of extension; files with a registered
// grammar go to the structural chunker; everything else gets the fallback.
func (c *SmartChunker) SelectStrategy(relPath string) StrategyKind {
	if c.tool != nil {
		base := path.Base(relPath)
		for _, pat := range c.opts.PriorityPatterns {
			if ok, _ := path.Match(pat, relPath); ok {
				return StrategyTool
			}
			if !strings.Contains(pat, "/") {
				if ok, _ := path.Match(pat, base); ok {
					return StrategyTool
				}
			}
		}
	}
	if spec, _ := c.registry.Lookup(relPath); spec != nil {
		return StrategyStructural
	}
	return StrategyNaive
}

// ChunkFile produces one Result for a scanned file. Per-file failures never
// propagate as errors: any terminal failure degrades to the naive fallback.
func (c *SmartChunker) ChunkFile(ctx context.Context, file scanner.ScannedFile, src []byte) Result {
	kind := c.SelectStrategy(file.RelPath)
	c.log.Debug("chunking file",
		zap.String("path", file.RelPath),
		zap.String("strategy", kind.String()))

	switch kind {
	case StrategyTool:
		return c.tool.Chunk(ctx, file, src)
	case StrategyStructural:
		res, err := c.structural.Chunk(file, src)
		if err != nil {
			c.log.Warn("structural chunking failed, using fallback",
				zap.String("path", file.RelPath), zap.Error(err))
			res = c.Fallback(file, src)
			res.Status = StatusFallbackParse
			res.Err = err.Error()
			return res
		}
		if len(res.Chunks) == 0 {
			return c.Fallback(file, src)
		}
		return res
	default:
		return c.Fallback(file, src)
	}
}

// Fallback runs the naive line-window strategy. It always succeeds.
func (c *SmartChunker) Fallback(file scanner.ScannedFile, src []byte) Result {
	lang := c.registry.LanguageName(file.RelPath)
	chunks := NaiveChunks(file, lang, src, c.opts.Window, c.opts.Overlap, c.opts.MaxChunkChars)
	return Result{
		Chunks:     chunks,
		Status:     StatusSuccess,
		SourcePath: file.RelPath,
	}
}

// chunkNamespace scopes the uuid5 chunk IDs to this tool.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("mnemo"))

// ChunkID derives a stable ID from the source path and chunk ordinal.
func ChunkID(relPath string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", relPath, ordinal))).String()
}

// NormalizeSourcePath converts a tool-reported path to POSIX-relative form:
// backslashes become slashes and any leading "./" is stripped.
func NormalizeSourcePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	return path.Clean(p)
}
