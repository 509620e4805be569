package rag

import (
	"context"
	"strings"
	"time"
)

// Answer runs hypothetical-answer retrieval against the named collection.
//
// The question is first answered speculatively by the synthesizer; that
// text, not the question, is embedded and searched. Hits scoring at or
// below MinScore are discarded. If none survive the fixed fallback answer
// is returned without error.
func (s *Service) Answer(ctx context.Context, question, collection string) (Answer, error) {
	start := time.Now()

	matches, err := s.Retrieve(ctx, question, collection)
	if err != nil {
		s.metrics.Answer("error")
		s.log.Warnw("retrieval failed", "collection", collection, "error", err)
		return Answer{}, err
	}
	if len(matches) == 0 {
		s.metrics.Answer("fallback")
		s.log.Infow("no relevant content", "collection", collection)
		return FallbackAnswer(), nil
	}

	synthStart := time.Now()
	callCtx, cancel := s.callContext(ctx)
	var ans Answer
	err = s.synth.CompleteStructured(callCtx, answerSystemPrompt,
		BuildPrompt(BuildContext(matches), question), AnswerSchema, AnswerMaxTokens, &ans)
	cancel()
	s.metrics.Stage("synthesize", synthStart)
	if err != nil {
		s.metrics.Answer("error")
		s.log.Warnw("synthesis failed", "collection", collection, "error", err)
		return Answer{}, newError(ErrSynthesisService, "synthesize answer", err)
	}

	returned := ans.RelevantPages
	ans = validatePages(s.pages, ans, matches)
	if len(returned) != len(ans.RelevantPages) {
		s.log.Debugw("relevant pages adjusted", "returned", returned, "kept", ans.RelevantPages)
	}

	outcome := "answered"
	if ans.IsFallback() {
		outcome = "fallback"
	}
	s.metrics.Answer(outcome)
	s.log.Infow("question answered",
		"collection", collection,
		"outcome", outcome,
		"pages", ans.RelevantPages,
		"duration", time.Since(start),
	)
	return ans, nil
}

// Retrieve returns the hits for question that score above MinScore, best first
func (s *Service) Retrieve(ctx context.Context, question, collection string) ([]Match, error) {
	hydeStart := time.Now()
	callCtx, cancel := s.callContext(ctx)
	hypothetical, err := s.synth.Complete(callCtx, hydeSystemPrompt, question, HypotheticalMax)
	cancel()
	s.metrics.Stage("hyde", hydeStart)
	if err != nil {
		return nil, newError(ErrSynthesisService, "hypothetical answer", err)
	}
	if strings.TrimSpace(hypothetical) == "" {
		// nothing to embed; search with the question itself
		hypothetical = question
	}

	embedStart := time.Now()
	callCtx, cancel = s.callContext(ctx)
	vector, err := s.embedder.Embed(callCtx, hypothetical)
	cancel()
	s.metrics.Stage("embed_query", embedStart)
	if err != nil {
		return nil, newError(ErrEmbeddingService, "embed hypothetical answer", err)
	}

	searchStart := time.Now()
	callCtx, cancel = s.callContext(ctx)
	hits, err := s.index.Search(callCtx, collection, vector, TopK)
	cancel()
	s.metrics.Stage("search", searchStart)
	if err != nil {
		return nil, newError(ErrVectorIndex, "search", err)
	}

	kept := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.Score > MinScore {
			kept = append(kept, h)
		}
	}
	s.log.Debugw("search filtered", "collection", collection, "hits", len(hits), "kept", len(kept))
	return kept, nil
}
