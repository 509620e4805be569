package documents

import (
	"strings"
	"unicode"
)

// DefaultChunkSize is the default number of characters per chunk
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters shared by neighbouring chunks
const DefaultChunkOverlap = 200

// Chunk is a contiguous span of document text attributed to one page
type Chunk struct {
	Index     int
	Text      string
	Page      int
	PageLabel string
	// Start and End are character offsets into the joined page stream
	Start int
	End   int
}

// Chunker splits page-segmented text into overlapping character windows
type Chunker struct {
	chunkSize int
	overlap   int
}

// ChunkerOption configures a Chunker
type ChunkerOption func(*Chunker)

// WithChunkSize sets the chunk size in characters
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker, 1000/200 unless configured otherwise
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize - 1
	}
	return c
}

// Split chunks the pages in order.
//
// Pages are joined with a single newline, which counts toward the page
// before it. A window never exceeds chunkSize characters and the next
// window starts exactly overlap characters before the previous one ended.
// Inside the trailing fifth of a window the cut moves back to the last
// whitespace so words are not split when avoidable.
//
// A chunk spanning a page break is labelled with the page owning most of
// its characters; ties go to the earlier page. Whitespace-only windows
// are dropped. Output depends only on the input.
func (c *Chunker) Split(pages []Page) []Chunk {
	text, owner := joinPages(pages)
	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for {
		end := c.cut(text, start)
		body := string(text[start:end])
		if strings.TrimSpace(body) != "" {
			p := pages[majorityPage(owner[start:end])]
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Text:      body,
				Page:      p.Number,
				PageLabel: p.Label,
				Start:     start,
				End:       end,
			})
		}
		if end >= n {
			break
		}
		start = end - c.overlap
	}
	return chunks
}

// cut returns the end offset of the window starting at start
func (c *Chunker) cut(text []rune, start int) int {
	end := start + c.chunkSize
	if end >= len(text) {
		return len(text)
	}
	// the window must extend past the overlap or the walk would stall
	floor := start + c.chunkSize - c.chunkSize/5
	floor = max(floor, start+c.overlap+1)
	for i := end; i > floor; i-- {
		if unicode.IsSpace(text[i-1]) {
			return i
		}
	}
	return end
}

func joinPages(pages []Page) ([]rune, []int) {
	var text []rune
	var owner []int
	for i, p := range pages {
		r := []rune(p.Text)
		text = append(text, r...)
		for range r {
			owner = append(owner, i)
		}
		if i < len(pages)-1 {
			text = append(text, '\n')
			owner = append(owner, i)
		}
	}
	return text, owner
}

func majorityPage(owner []int) int {
	counts := make(map[int]int)
	for _, o := range owner {
		counts[o]++
	}
	best, bestCount := owner[0], 0
	for _, o := range owner {
		// owners are ascending, so the first maximum is the earliest page
		if counts[o] > bestCount {
			best, bestCount = o, counts[o]
		}
	}
	return best
}
