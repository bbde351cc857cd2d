package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunks := Split("企服通是一站式企业数字化转型平台。")
	require.Len(t, chunks, 1)
}

func TestSplitEmptyText(t *testing.T) {
	assert.Empty(t, Split(""))
	assert.Empty(t, Split("   \n\n  "))
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("甲", 300)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), ChunkSize+ChunkOverlap+2,
			"chunk exceeds the size bound")
	}
}

func TestSplitSentencePunctuation(t *testing.T) {
	sentence := strings.Repeat("乙", 120) + "。"
	text := strings.Repeat(sentence, 10) // no newlines at all
	chunks := Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), ChunkSize+ChunkOverlap+2)
	}
}

func TestSplitHardTextWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 2000)
	chunks := Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), ChunkSize)
	}
	// The first hard-split window is a full ChunkSize.
	assert.Equal(t, ChunkSize, len([]rune(chunks[0])))
}

func TestSplitCoversAllContent(t *testing.T) {
	text := strings.Repeat("数据治理。", 400)
	chunks := Split(text)
	total := 0
	for _, c := range chunks {
		total += len([]rune(c))
	}
	// With overlap the sum exceeds the input; it must never undercount.
	assert.GreaterOrEqual(t, total, len([]rune(text))-ChunkSize)
}
