package rag_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ink-chat/inkchat/internal/documents"
	"github.com/ink-chat/inkchat/internal/rag"
)

type fakeParser struct {
	pages []documents.Page
	err   error
}

func (p *fakeParser) Parse(ctx context.Context, _ []byte) ([]documents.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.pages, p.err
}

// topicEmbedder maps text onto one axis per topic word, so texts about the
// same topic score 1.0 and unrelated texts score 0.
type topicEmbedder struct {
	topics   []string
	failCall int32 // 1-based EmbedBatch call that fails, 0 never

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu      sync.Mutex
	queries []string
}

func newTopicEmbedder(topics ...string) *topicEmbedder {
	return &topicEmbedder{topics: topics}
}

func (e *topicEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(e.topics))
	for i, t := range e.topics {
		v[i] = float32(strings.Count(lower, t))
	}
	return v
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.queries = append(e.queries, text)
	e.mu.Unlock()
	return e.vector(text), nil
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	call := e.calls.Add(1)
	if e.failCall != 0 && call == e.failCall {
		return nil, errors.New("quota exceeded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type memCollection struct {
	entries []rag.Entry
}

// memIndex is an in-memory cosine index
type memIndex struct {
	mu          sync.Mutex
	collections map[string]*memCollection
	createErr   error
	searches    int
}

func newMemIndex() *memIndex {
	return &memIndex{collections: map[string]*memCollection{}}
}

func (m *memIndex) CreateCollection(_ context.Context, name string, entries []rag.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionExists)
	}
	m.collections[name] = &memCollection{entries: append([]rag.Entry(nil), entries...)}
	return nil
}

func (m *memIndex) Search(_ context.Context, name string, vector []float32, k int) ([]rag.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	var out []rag.Match
	for _, e := range c.entries {
		out = append(out, rag.Match{Text: e.Text, Metadata: e.Metadata, Score: cosine(vector, e.Vector)})
	}
	// insertion sort by score, stable
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memIndex) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	delete(m.collections, name)
	return nil
}

func (m *memIndex) ListCollections(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for n := range m.collections {
		names = append(names, n)
	}
	return names, nil
}

func (m *memIndex) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var pageHeader = regexp.MustCompile(`(?m)^Page (\d+):$`)

// echoSynth answers the HyDE call by echoing the question and cites every
// page header it was shown, unless pages is set.
type echoSynth struct {
	hypothetical string
	pages        []int
	answerText   string
	completeErr  error
	structErr    error
	block        bool

	mu          sync.Mutex
	lastUser    string
	structCalls int
}

func (s *echoSynth) Complete(ctx context.Context, _, user string, maxTokens int) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.completeErr != nil {
		return "", s.completeErr
	}
	if maxTokens != rag.HypotheticalMax {
		return "", fmt.Errorf("unexpected max tokens %d", maxTokens)
	}
	if s.hypothetical != "" {
		return s.hypothetical, nil
	}
	return "A hypothetical answer: " + user, nil
}

func (s *echoSynth) CompleteStructured(_ context.Context, _, user string, schema rag.Schema, maxTokens int, out any) error {
	s.mu.Lock()
	s.structCalls++
	s.lastUser = user
	s.mu.Unlock()

	if s.structErr != nil {
		return s.structErr
	}
	if maxTokens != rag.AnswerMaxTokens {
		return fmt.Errorf("unexpected max tokens %d", maxTokens)
	}
	pages := s.pages
	if pages == nil {
		for _, m := range pageHeader.FindAllStringSubmatch(user, -1) {
			n, _ := strconv.Atoi(m[1])
			pages = append(pages, n)
		}
	}
	text := s.answerText
	if text == "" {
		text = "Here is what the document says."
	}
	raw := fmt.Sprintf(`{"answer":%q,"relevant_pages":%s}`, text, intsJSON(pages))
	return schema.Decode([]byte(raw), out)
}

func intsJSON(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// fixedIndex returns canned matches for every search
type fixedIndex struct {
	matches []rag.Match
	lastK   int
}

func (f *fixedIndex) CreateCollection(context.Context, string, []rag.Entry) error { return nil }

func (f *fixedIndex) Search(_ context.Context, _ string, _ []float32, k int) ([]rag.Match, error) {
	f.lastK = k
	return f.matches, nil
}

func (f *fixedIndex) DeleteCollection(context.Context, string) error { return nil }
