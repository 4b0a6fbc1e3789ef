package chunker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"mnemo/internal/scanner"
)

// ToolErrorKind separates retryable timeouts from terminal execution
// failures. Retry policy only continues past timeouts.
type ToolErrorKind int

const (
	ToolErrTimeout ToolErrorKind = iota
	ToolErrExec
)

// ToolError is returned by a Runner when the external tool fails.
type ToolError struct {
	Kind   ToolErrorKind
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ToolErrTimeout:
		return fmt.Sprintf("tool timed out: %v", e.Err)
	default:
		if e.Stderr != "" {
			return fmt.Sprintf("tool execution failed: %v (stderr: %s)", e.Err, e.Stderr)
		}
		return fmt.Sprintf("tool execution failed: %v", e.Err)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// Runner invokes the external reasoning tool with a prompt and returns its
// raw text output.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// CommandRunner runs the tool as a subprocess, feeding the prompt on stdin.
type CommandRunner struct {
	Command []string
	Timeout time.Duration
}

// Run executes the configured command. A deadline hit maps to ToolErrTimeout;
// tool-not-found and non-zero exits map to ToolErrExec.
func (r *CommandRunner) Run(ctx context.Context, prompt string) (string, error) {
	if len(r.Command) == 0 {
		return "", &ToolError{Kind: ToolErrExec, Err: errors.New("no tool command configured")}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &ToolError{Kind: ToolErrTimeout, Stderr: stderr.String(), Err: ctx.Err()}
		}
		return "", &ToolError{Kind: ToolErrExec, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// ToolChunker delegates chunk boundaries and summaries to the external tool.
type ToolChunker struct {
	runner   Runner
	opts     Options
	fallback func(scanner.ScannedFile, []byte) Result
	log      *zap.Logger
}

// NewToolChunker wires a runner with the retry policy from opts. fallback is
// invoked whenever the tool fails terminally.
func NewToolChunker(runner Runner, opts Options, fallback func(scanner.ScannedFile, []byte) Result, log *zap.Logger) *ToolChunker {
	return &ToolChunker{runner: runner, opts: opts, fallback: fallback, log: log}
}

const toolPrompt = `Split the file below into retrieval-sized chunks for a code knowledge base.
Respond with ONLY a JSON array. Each element must have string fields "id",
"summary" (one line), and "content", and may include "source_path",
"start_line", and "end_line" (1-indexed, inclusive).

File: %s

%s`

type toolChunkDesc struct {
	ID         string `json:"id"`
	Summary    string `json:"summary"`
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

// Chunk runs the tool with retry-on-timeout semantics and parses its output.
// Every terminal failure degrades to the fallback strategy; the Result's
// RetryCount records how many retries were actually consumed.
func (t *ToolChunker) Chunk(ctx context.Context, file scanner.ScannedFile, src []byte) Result {
	prompt := fmt.Sprintf(toolPrompt, file.RelPath, string(src))

	retries := 0
	var out string
	for {
		var err error
		out, err = t.runner.Run(ctx, prompt)
		if err == nil {
			break
		}
		var terr *ToolError
		if errors.As(err, &terr) && terr.Kind == ToolErrTimeout && retries < t.opts.MaxRetries {
			retries++
			t.log.Warn("tool timed out, retrying",
				zap.String("path", file.RelPath),
				zap.Int("retry", retries))
			select {
			case <-time.After(t.opts.RetryDelay):
			case <-ctx.Done():
			}
			continue
		}
		// Terminal: execution failure, or timeout budget exhausted.
		t.log.Warn("tool failed, using fallback",
			zap.String("path", file.RelPath), zap.Error(err))
		res := t.fallback(file, src)
		res.Status = StatusFallbackExec
		res.Err = err.Error()
		res.RetryCount = retries
		return res
	}

	descs, err := parseToolResponse(out)
	if err != nil {
		t.log.Warn("tool output unparseable, using fallback",
			zap.String("path", file.RelPath), zap.Error(err))
		res := t.fallback(file, src)
		res.Status = StatusFallbackParse
		res.Err = err.Error()
		res.RetryCount = retries
		return res
	}
	if len(descs) == 0 {
		res := t.fallback(file, src)
		res.Status = StatusFallbackEmpty
		res.RetryCount = retries
		return res
	}

	res := Result{Status: StatusSuccess, SourcePath: file.RelPath, RetryCount: retries}
	for i, d := range descs {
		id := d.ID
		if id == "" {
			id = ChunkID(file.RelPath, i)
		}
		srcPath := file.RelPath
		if d.SourcePath != "" {
			srcPath = NormalizeSourcePath(d.SourcePath)
		}
		start, end := d.StartLine, d.EndLine
		if start < 1 {
			start = 1
		}
		if end < start {
			end = start + strings.Count(d.Content, "\n")
		}
		res.Chunks = append(res.Chunks, Chunk{
			ID:           id,
			Text:         d.Content,
			Summary:      d.Summary,
			Kind:         KindDoc,
			SourcePath:   srcPath,
			SourceSHA256: file.SHA256,
			StartLine:    start,
			EndLine:      end,
			Language:     "",
		})
	}
	return res
}

// parseToolResponse decodes the tool's output as a JSON array of chunk
// descriptors, tolerating a surrounding markdown code fence.
func parseToolResponse(out string) ([]toolChunkDesc, error) {
	s := strings.TrimSpace(out)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, errors.New("empty tool response")
	}

	var descs []toolChunkDesc
	if err := json.Unmarshal([]byte(s), &descs); err != nil {
		return nil, fmt.Errorf("decode tool response: %w", err)
	}
	for i, d := range descs {
		if d.ID == "" && d.Summary == "" && d.Content == "" {
			return nil, fmt.Errorf("chunk %d missing id, summary, and content", i)
		}
		if d.Content == "" {
			return nil, fmt.Errorf("chunk %d (%s) has no content", i, d.ID)
		}
	}
	return descs, nil
}
