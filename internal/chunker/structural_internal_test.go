package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOversizedCoversRange(t *testing.T) {
	lines := make([]string, 120)
	for i := range lines {
		lines[i] = "line"
	}
	pieces := splitOversized(lines, 1, 120)
	require.NotEmpty(t, pieces)
	assert.Equal(t, 1, pieces[0].start)
	assert.Equal(t, 120, pieces[len(pieces)-1].end)
	for i := 1; i < len(pieces); i++ {
		assert.Equal(t, pieces[i-1].start+30, pieces[i].start)
	}
}
