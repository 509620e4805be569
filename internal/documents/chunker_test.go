package documents

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(n int, text string) Page {
	return Page{Number: n, Label: fmt.Sprint(n), Text: text}
}

func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "word%d ", i)
	}
	return b.String()
}

func TestNewChunker(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewChunker()
		assert.Equal(t, DefaultChunkSize, c.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, c.overlap)
	})

	t.Run("overlap clamped below size", func(t *testing.T) {
		c := NewChunker(WithChunkSize(100), WithOverlap(150))
		assert.Equal(t, 99, c.overlap)
	})

	t.Run("invalid values ignored", func(t *testing.T) {
		c := NewChunker(WithChunkSize(0), WithOverlap(-1))
		assert.Equal(t, DefaultChunkSize, c.chunkSize)
		assert.Equal(t, DefaultChunkOverlap, c.overlap)
	})
}

func TestSplitEmpty(t *testing.T) {
	c := NewChunker()
	assert.Empty(t, c.Split(nil))
	assert.Empty(t, c.Split([]Page{page(1, "")}))
	assert.Empty(t, c.Split([]Page{page(1, "   \n\t"), page(2, "  ")}))
}

func TestSplitFixedWindows(t *testing.T) {
	c := NewChunker()
	chunks := c.Split([]Page{page(1, strings.Repeat("x", 2500))})

	require.Len(t, chunks, 3)
	assert.Equal(t, [2]int{0, 1000}, [2]int{chunks[0].Start, chunks[0].End})
	assert.Equal(t, [2]int{800, 1800}, [2]int{chunks[1].Start, chunks[1].End})
	assert.Equal(t, [2]int{1600, 2500}, [2]int{chunks[2].Start, chunks[2].End})
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, 1, ch.Page)
		assert.Equal(t, "1", ch.PageLabel)
	}
}

func TestSplitLengthAndOverlap(t *testing.T) {
	c := NewChunker()
	pages := []Page{page(1, words(300)), page(2, words(400)), page(3, words(150))}
	chunks := c.Split(pages)
	require.Greater(t, len(chunks), 3)

	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 1000, "chunk %d too long", i)
		if i == 0 {
			continue
		}
		prev := []rune(chunks[i-1].Text)
		cur := []rune(ch.Text)
		assert.Equal(t, chunks[i-1].End-200, ch.Start)
		assert.Equal(t, string(prev[len(prev)-200:]), string(cur[:200]), "chunk %d overlap", i)
	}
}

func TestSplitPrefersWordBoundary(t *testing.T) {
	c := NewChunker()
	chunks := c.Split([]Page{page(1, strings.Repeat("hello ", 300))})

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 996, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, " "))
}

func TestSplitDeterministic(t *testing.T) {
	c := NewChunker()
	pages := []Page{page(1, words(500)), page(2, words(500))}
	assert.Equal(t, c.Split(pages), c.Split(pages))
}

func TestSplitMajorityPageLabel(t *testing.T) {
	c := NewChunker()
	pages := []Page{page(1, strings.Repeat("a", 700)), page(2, strings.Repeat("b", 700))}
	chunks := c.Split(pages)

	require.Len(t, chunks, 2)
	// 701 characters of page 1 (text plus separator) against 299 of page 2
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 2, chunks[1].Page)
	assert.Equal(t, "2", chunks[1].PageLabel)
}

func TestSplitTieGoesToEarlierPage(t *testing.T) {
	c := NewChunker()
	pages := []Page{page(1, strings.Repeat("a", 499)), page(2, strings.Repeat("b", 500))}
	chunks := c.Split(pages)

	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Page)
}

func TestSplitUsesCustomLabels(t *testing.T) {
	c := NewChunker()
	chunks := c.Split([]Page{{Number: 5, Label: "iv", Text: "preface text"}})

	require.Len(t, chunks, 1)
	assert.Equal(t, 5, chunks[0].Page)
	assert.Equal(t, "iv", chunks[0].PageLabel)
}

func TestSplitCountsCharactersNotBytes(t *testing.T) {
	c := NewChunker()
	chunks := c.Split([]Page{page(1, strings.Repeat("é", 1500))})

	require.Len(t, chunks, 2)
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Text))
	assert.Equal(t, 700, utf8.RuneCountInString(chunks[1].Text))
}

func TestSplitSkipsBlankWindows(t *testing.T) {
	c := NewChunker(WithChunkSize(10), WithOverlap(2))
	pages := []Page{page(1, "abcdefghij"), page(2, strings.Repeat(" ", 30)), page(3, "klmnopqrst")}
	chunks := c.Split(pages)

	for i, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Text))
		assert.Equal(t, i, ch.Index)
	}
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 3, chunks[len(chunks)-1].Page)
}
