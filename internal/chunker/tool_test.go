package chunker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo/internal/chunker"
	"mnemo/internal/scanner"
)

// scriptedRunner returns one queued response per call.
type scriptedRunner struct {
	calls     int
	responses []func() (string, error)
}

func (r *scriptedRunner) Run(ctx context.Context, prompt string) (string, error) {
	if r.calls >= len(r.responses) {
		return "", errors.New("unexpected extra tool invocation")
	}
	i := r.calls
	r.calls++
	return r.responses[i]()
}

func timeoutResp() func() (string, error) {
	return func() (string, error) {
		return "", &chunker.ToolError{Kind: chunker.ToolErrTimeout, Err: context.DeadlineExceeded}
	}
}

func execFailResp(stderr string) func() (string, error) {
	return func() (string, error) {
		return "", &chunker.ToolError{Kind: chunker.ToolErrExec, Stderr: stderr, Err: errors.New("exit status 1")}
	}
}

func okResp(body string) func() (string, error) {
	return func() (string, error) { return body, nil }
}

func newToolChunker(r chunker.Runner, maxRetries int) *chunker.ToolChunker {
	opts := chunker.Options{MaxRetries: maxRetries, RetryDelay: time.Millisecond, Window: 40, Overlap: 10, MaxChunkChars: 8192}
	fallback := func(f scanner.ScannedFile, src []byte) chunker.Result {
		return chunker.Result{
			Chunks:     chunker.NaiveChunks(f, "", src, opts.Window, opts.Overlap, opts.MaxChunkChars),
			Status:     chunker.StatusSuccess,
			SourcePath: f.RelPath,
		}
	}
	return chunker.NewToolChunker(r, opts, fallback, zap.NewNop())
}

func toolFile() scanner.ScannedFile {
	return scanner.ScannedFile{RelPath: "README.md", SHA256: "cafe", IsText: true}
}

const goodResponse = `[
  {"id": "readme-1", "summary": "Project intro", "content": "# Title\nIntro text", "start_line": 1, "end_line": 2},
  {"id": "readme-2", "summary": "Usage", "content": "Usage text", "source_path": ".\\README.md"}
]`

func TestToolChunkSuccess(t *testing.T) {
	r := &scriptedRunner{responses: []func() (string, error){okResp(goodResponse)}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("# Title\nIntro text\nUsage text"))

	assert.Equal(t, chunker.StatusSuccess, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "readme-1", res.Chunks[0].ID)
	assert.Equal(t, "Project intro", res.Chunks[0].Summary)
	assert.Equal(t, chunker.KindDoc, res.Chunks[0].Kind)
	assert.Equal(t, "cafe", res.Chunks[0].SourceSHA256)
	// Windows-style tool path is normalized to POSIX-relative form.
	assert.Equal(t, "README.md", res.Chunks[1].SourcePath)
	// Missing line range defaults to a valid one.
	assert.LessOrEqual(t, res.Chunks[1].StartLine, res.Chunks[1].EndLine)
}

func TestToolChunkRetriesOnTimeoutThenSucceeds(t *testing.T) {
	r := &scriptedRunner{responses: []func() (string, error){
		timeoutResp(), timeoutResp(), okResp(goodResponse),
	}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, r.calls)
}

func TestToolChunkTimeoutBudgetExhausted(t *testing.T) {
	// Three timeouts with max_retries=2: the third attempt is the last one
	// ever made, and only two retries are counted.
	r := &scriptedRunner{responses: []func() (string, error){
		timeoutResp(), timeoutResp(), timeoutResp(), okResp(goodResponse),
	}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusFallbackExec, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, r.calls)
	assert.NotEmpty(t, res.Chunks) // fallback still yields indexable content
}

func TestToolChunkExecFailureNoRetry(t *testing.T) {
	r := &scriptedRunner{responses: []func() (string, error){execFailResp("boom")}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusFallbackExec, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	assert.Equal(t, 1, r.calls)
	assert.Contains(t, res.Err, "boom")
	assert.NotEmpty(t, res.Chunks)
}

func TestToolChunkParseFailureNoRetry(t *testing.T) {
	r := &scriptedRunner{responses: []func() (string, error){okResp("this is not json")}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusFallbackParse, res.Status)
	assert.Equal(t, 1, r.calls)
	assert.Contains(t, res.Err, "decode tool response")
	assert.NotEmpty(t, res.Chunks)
}

func TestToolChunkEmptyList(t *testing.T) {
	r := &scriptedRunner{responses: []func() (string, error){okResp("[]")}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusFallbackEmpty, res.Status)
	assert.NotEmpty(t, res.Chunks)
}

func TestToolChunkFencedResponse(t *testing.T) {
	fenced := "```json\n" + goodResponse + "\n```"
	r := &scriptedRunner{responses: []func() (string, error){okResp(fenced)}}
	res := newToolChunker(r, 2).Chunk(context.Background(), toolFile(), []byte("body"))

	assert.Equal(t, chunker.StatusSuccess, res.Status)
	assert.Len(t, res.Chunks, 2)
}

func TestNormalizeSourcePath(t *testing.T) {
	assert.Equal(t, "a/b.md", chunker.NormalizeSourcePath(`.\a\b.md`))
	assert.Equal(t, "a/b.md", chunker.NormalizeSourcePath("./a/b.md"))
	assert.Equal(t, "a/b.md", chunker.NormalizeSourcePath("a/b.md"))
}
