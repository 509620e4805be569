package rag_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ink-chat/inkchat/internal/documents"
	"github.com/ink-chat/inkchat/internal/rag"
)

var threePages = []documents.Page{
	{Number: 1, Label: "1", Text: strings.Repeat("Volcano eruptions push magma through the crust. ", 10)},
	{Number: 2, Label: "2", Text: strings.Repeat("Photosynthesis turns sunlight into chemical energy. ", 10)},
	{Number: 3, Label: "3", Text: strings.Repeat("Jazz improvisation builds on chord changes. ", 10)},
}

func newTestService(t *testing.T, idx rag.VectorIndex, synth rag.Synthesizer, opts ...rag.Option) (*rag.Service, *topicEmbedder) {
	t.Helper()
	emb := newTopicEmbedder("volcano", "photosynthesis", "jazz")
	parser := &fakeParser{pages: threePages}
	return rag.NewService(parser, emb, idx, synth, opts...), emb
}

func TestIngestThenAnswerFromPageTwo(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	synth := &echoSynth{}
	svc, _ := newTestService(t, idx, synth)

	res, err := svc.Ingest(ctx, []byte("%PDF-"), "biology_1700000000.pdf")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "biology_1700000000.pdf", res.CollectionName)
	assert.Greater(t, res.Chunks, 0)

	matches, err := svc.Retrieve(ctx, "How does photosynthesis work?", "biology_1700000000.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, 2, m.Metadata.Page)
		assert.Greater(t, m.Score, float32(0.6))
	}

	ans, err := svc.Answer(ctx, "How does photosynthesis work?", "biology_1700000000.pdf")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ans.RelevantPages)
	assert.False(t, ans.IsFallback())
	assert.Contains(t, synth.lastUser, "Page 2:\n")
	assert.True(t, strings.HasSuffix(synth.lastUser, "Question: How does photosynthesis work?"))
}

func TestAnswerOffTopicReturnsFallback(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	synth := &echoSynth{}
	svc, _ := newTestService(t, idx, synth)

	_, err := svc.Ingest(ctx, []byte("%PDF-"), "doc.pdf")
	require.NoError(t, err)

	ans, err := svc.Answer(ctx, "Who won the football final?", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, rag.FallbackAnswer(), ans)
	assert.True(t, ans.IsFallback())
	assert.Equal(t, 0, synth.structCalls, "synthesis must be skipped when nothing is relevant")
}

func TestAnswerDropsScoresAtOrBelowThreshold(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{
		{Text: "a", Metadata: rag.Metadata{Page: 1, PageLabel: "1"}, Score: 0.6},
		{Text: "b", Metadata: rag.Metadata{Page: 2, PageLabel: "2"}, Score: 0.42},
	}}
	synth := &echoSynth{}
	svc, _ := newTestService(t, idx, synth)

	ans, err := svc.Answer(context.Background(), "anything", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, rag.FallbackText, ans.Answer)
	assert.Equal(t, []int{}, ans.RelevantPages)
	assert.Equal(t, 0, synth.structCalls)
}

func TestAnswerKeepsOnlyHitsAboveThreshold(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{
		{Text: "alpha", Metadata: rag.Metadata{Page: 4, PageLabel: "4"}, Score: 0.91},
		{Text: "beta", Metadata: rag.Metadata{Page: 7, PageLabel: "7"}, Score: 0.61},
		{Text: "gamma", Metadata: rag.Metadata{Page: 9, PageLabel: "9"}, Score: 0.59},
	}}
	synth := &echoSynth{}
	svc, _ := newTestService(t, idx, synth)

	ans, err := svc.Answer(context.Background(), "q", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 7}, ans.RelevantPages)
	assert.Equal(t, "Page 4:\nalpha\n\nPage 7:\nbeta\n\nQuestion: q", synth.lastUser)
}

func TestAnswerStrictPagesAreSubsetOfRetrieved(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{
		{Text: "x", Metadata: rag.Metadata{Page: 2, PageLabel: "2"}, Score: 0.8},
		{Text: "y", Metadata: rag.Metadata{Page: 3, PageLabel: "3"}, Score: 0.7},
	}}

	t.Run("unknown pages dropped", func(t *testing.T) {
		svc, _ := newTestService(t, idx, &echoSynth{pages: []int{3, 9, 3, 2}})
		ans, err := svc.Answer(context.Background(), "q", "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, []int{3, 2}, ans.RelevantPages)
	})

	t.Run("retrieved pages substituted when none survive", func(t *testing.T) {
		svc, _ := newTestService(t, idx, &echoSynth{pages: []int{42}})
		ans, err := svc.Answer(context.Background(), "q", "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, ans.RelevantPages)
	})

	t.Run("synthesizer fallback kept verbatim", func(t *testing.T) {
		svc, _ := newTestService(t, idx, &echoSynth{answerText: rag.FallbackText, pages: []int{2}})
		ans, err := svc.Answer(context.Background(), "q", "doc.pdf")
		require.NoError(t, err)
		assert.Equal(t, rag.FallbackAnswer(), ans)
	})
}

// Trust mode reproduces the unvalidated behaviour: pages the model invents
// reach the caller even though no retrieved chunk came from them.
func TestAnswerTrustModePassesModelPagesThrough(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{
		{Text: "x", Metadata: rag.Metadata{Page: 2, PageLabel: "2"}, Score: 0.8},
	}}
	svc, _ := newTestService(t, idx, &echoSynth{pages: []int{2, 42}}, rag.WithPageValidation(rag.PagesTrust))

	ans, err := svc.Answer(context.Background(), "q", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 42}, ans.RelevantPages)
}

func TestAnswerAfterDeleteFailsWithNotFound(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	svc, _ := newTestService(t, idx, &echoSynth{})

	_, err := svc.Ingest(ctx, []byte("%PDF-"), "doc.pdf")
	require.NoError(t, err)

	del, err := svc.DeleteCollection(ctx, "doc.pdf")
	require.NoError(t, err)
	assert.True(t, del.Success)

	_, err = svc.Answer(ctx, "How does photosynthesis work?", "doc.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrCollectionNotFound)
	assert.ErrorIs(t, err, rag.ErrVectorIndex)
}

func TestDeleteUnknownCollection(t *testing.T) {
	svc, _ := newTestService(t, newMemIndex(), &echoSynth{})

	res, err := svc.DeleteCollection(context.Background(), "missing.pdf")
	assert.False(t, res.Success)
	assert.ErrorIs(t, err, rag.ErrCollectionNotFound)
}

func TestIngestEmbeddingFailureLeavesNoCollection(t *testing.T) {
	idx := newMemIndex()
	svc, emb := newTestService(t, idx, &echoSynth{}, rag.WithBatchSize(1), rag.WithWorkers(1))
	emb.failCall = 2

	res, err := svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, err, rag.ErrEmbeddingService)
	assert.False(t, idx.has("doc.pdf"))

	_, err = svc.Answer(context.Background(), "photosynthesis?", "doc.pdf")
	assert.ErrorIs(t, err, rag.ErrCollectionNotFound)
}

func TestIngestIndexFailure(t *testing.T) {
	idx := newMemIndex()
	idx.createErr = errors.New("disk full")
	svc, _ := newTestService(t, idx, &echoSynth{})

	res, err := svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	assert.False(t, res.Success)
	assert.ErrorIs(t, err, rag.ErrVectorIndex)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, idx.has("doc.pdf"))
}

func TestIngestParseFailure(t *testing.T) {
	parser := &fakeParser{err: documents.ErrParse}
	svc := rag.NewService(parser, newTopicEmbedder("x"), newMemIndex(), &echoSynth{})

	res, err := svc.Ingest(context.Background(), []byte("not a pdf"), "doc.pdf")
	assert.False(t, res.Success)
	assert.ErrorIs(t, err, rag.ErrDocumentParse)
	assert.ErrorIs(t, err, documents.ErrParse)

	var rerr *rag.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "parse", rerr.Op)
}

func TestIngestBlankDocument(t *testing.T) {
	parser := &fakeParser{pages: []documents.Page{{Number: 1, Label: "1", Text: "   "}}}
	svc := rag.NewService(parser, newTopicEmbedder("x"), newMemIndex(), &echoSynth{})

	_, err := svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	assert.ErrorIs(t, err, rag.ErrDocumentParse)
}

func TestIngestDuplicateName(t *testing.T) {
	idx := newMemIndex()
	svc, _ := newTestService(t, idx, &echoSynth{})

	_, err := svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	assert.ErrorIs(t, err, rag.ErrCollectionExists)
}

func TestIngestBatchesKeepChunkOrder(t *testing.T) {
	idx := newMemIndex()
	chunker := documents.NewChunker(documents.WithChunkSize(60), documents.WithOverlap(10))
	svc, emb := newTestService(t, idx, &echoSynth{},
		rag.WithChunker(chunker), rag.WithBatchSize(3), rag.WithWorkers(2))

	res, err := svc.Ingest(context.Background(), []byte("%PDF-"), "doc.pdf")
	require.NoError(t, err)

	entries := idx.collections["doc.pdf"].entries
	require.Len(t, entries, res.Chunks)
	for i, e := range entries {
		assert.Equal(t, i, e.Metadata.ChunkIndex)
		assert.Equal(t, emb.vector(e.Text), e.Vector, "entry %d has another chunk's vector", i)
	}
	assert.LessOrEqual(t, emb.maxSeen.Load(), int32(2))
	assert.Equal(t, int32((res.Chunks+2)/3), emb.calls.Load())
}

func TestIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx := newMemIndex()
	svc, _ := newTestService(t, idx, &echoSynth{})

	_, err := svc.Ingest(ctx, []byte("%PDF-"), "doc.pdf")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, idx.has("doc.pdf"))
}

func TestAnswerSynthesisTimeout(t *testing.T) {
	svc, _ := newTestService(t, newMemIndex(), &echoSynth{block: true}, rag.WithCallTimeout(20*time.Millisecond))

	_, err := svc.Answer(context.Background(), "q", "doc.pdf")
	assert.ErrorIs(t, err, rag.ErrSynthesisService)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnswerSynthesisFailure(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{{Text: "x", Metadata: rag.Metadata{Page: 1}, Score: 0.9}}}
	svc, _ := newTestService(t, idx, &echoSynth{structErr: errors.New("output is missing required field \"answer\"")})

	_, err := svc.Answer(context.Background(), "q", "doc.pdf")
	assert.ErrorIs(t, err, rag.ErrSynthesisService)
	assert.NotErrorIs(t, err, rag.ErrVectorIndex)
}

func TestListCollections(t *testing.T) {
	idx := newMemIndex()
	svc, _ := newTestService(t, idx, &echoSynth{})
	_, err := svc.Ingest(context.Background(), []byte("%PDF-"), "a.pdf")
	require.NoError(t, err)

	names, err := svc.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, names)

	plain, _ := newTestService(t, &fixedIndex{}, &echoSynth{})
	_, err = plain.ListCollections(context.Background())
	assert.Error(t, err)
}

func TestRetrieveEmbedsHypotheticalAnswer(t *testing.T) {
	idx := &fixedIndex{matches: []rag.Match{
		{Text: "Chlorophyll absorbs light.", Metadata: rag.Metadata{Page: 2, PageLabel: "2"}, Score: 0.8},
	}}
	synth := &echoSynth{hypothetical: "Photosynthesis in leaves is driven by chlorophyll."}
	svc, emb := newTestService(t, idx, synth)

	_, err := svc.Retrieve(context.Background(), "What do plants do with light?", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{synth.hypothetical}, emb.queries)
	assert.Equal(t, rag.TopK, idx.lastK)
	assert.Equal(t, 7, idx.lastK)
}

func TestRetrieveBlankHypotheticalEmbedsQuestion(t *testing.T) {
	idx := &fixedIndex{}
	synth := &echoSynth{hypothetical: " \n\t "}
	svc, emb := newTestService(t, idx, synth)

	ans, err := svc.Answer(context.Background(), "What do plants do with light?", "doc.pdf")
	require.NoError(t, err)
	assert.True(t, ans.IsFallback())
	assert.Equal(t, []string{"What do plants do with light?"}, emb.queries)
}

func TestAnswerHypotheticalFailure(t *testing.T) {
	idx := &fixedIndex{}
	synth := &echoSynth{completeErr: errors.New("model unavailable")}
	svc, emb := newTestService(t, idx, synth)

	_, err := svc.Answer(context.Background(), "What do plants do with light?", "doc.pdf")
	require.ErrorIs(t, err, rag.ErrSynthesisService)
	assert.ErrorContains(t, err, "model unavailable")
	assert.Empty(t, emb.queries)
	assert.Zero(t, idx.lastK)
	assert.Zero(t, synth.structCalls)
}
