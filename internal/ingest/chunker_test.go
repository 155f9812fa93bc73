package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("t%d", i)
	}
	return strings.Join(parts, " ")
}

func Test_Chunk_OverlappingWindows(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	chunks := c.Chunk(tokens(1200))
	require.Len(t, chunks, 3)

	// Windows advance by 450: [0,500), [450,950), [900,1200).
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, 500, chunks[0].TokenCount)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "t0 "))
	assert.True(t, strings.HasSuffix(chunks[0].Text, " t499"))

	assert.Equal(t, 1, chunks[1].Position)
	assert.Equal(t, 500, chunks[1].TokenCount)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "t450 "))
	assert.True(t, strings.HasSuffix(chunks[1].Text, " t949"))

	assert.Equal(t, 2, chunks[2].Position)
	assert.Equal(t, 300, chunks[2].TokenCount)
	assert.True(t, strings.HasPrefix(chunks[2].Text, "t900 "))
	assert.True(t, strings.HasSuffix(chunks[2].Text, " t1199"))
}

func Test_Chunk_Deterministic(t *testing.T) {
	c, err := NewChunker(50, 10)
	require.NoError(t, err)

	text := tokens(333)
	first := c.Chunk(text)
	second := c.Chunk(text)
	assert.Equal(t, first, second)
}

func Test_Chunk_ShortTextSingleChunk(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	chunks := c.Chunk("just a few words here")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, 5, chunks[0].TokenCount)
	assert.Equal(t, "just a few words here", chunks[0].Text)
}

func Test_Chunk_EmptyText(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

func Test_Chunk_NoEmptyTrailingWindow(t *testing.T) {
	c, err := NewChunker(4, 2)
	require.NoError(t, err)

	// 6 tokens, step 2: [0,4), [2,6) and nothing after.
	chunks := c.Chunk(tokens(6))
	require.Len(t, chunks, 2)
	assert.Equal(t, 4, chunks[0].TokenCount)
	assert.Equal(t, 4, chunks[1].TokenCount)
	assert.True(t, strings.HasSuffix(chunks[1].Text, " t5"))
}

func Test_Chunk_OrdinalsContiguous(t *testing.T) {
	c, err := NewChunker(10, 3)
	require.NoError(t, err)

	chunks := c.Chunk(tokens(95))
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.GreaterOrEqual(t, ch.TokenCount, 1)
	}
}

func Test_NewChunker_Validation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)

	_, err = NewChunker(100, 100)
	assert.Error(t, err)

	_, err = NewChunker(100, -1)
	assert.Error(t, err)

	_, err = NewChunker(100, 99)
	assert.NoError(t, err)
}
