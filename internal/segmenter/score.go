package segmenter

import (
	"context"
	"fmt"
	"sort"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/drift"
	"github.com/bull/chat-divergence/internal/topic"
)

// Composite score weights and normalization, shared by every chat so scores
// stay comparable across a corpus.
const (
	driftWeight    = 0.4
	entropyWeight  = 0.3
	dominantWeight = 0.3

	// entropyNorm divides topic entropy before clamping to [0,1]. Chat
	// topic counts rarely push entropy past ~3 bits.
	entropyNorm = 3.0

	// Component-score normalizers for the report breakdown.
	driftScoreNorm      = 0.5
	transitionScoreNorm = 2.0

	// splitScoreThreshold and splitSegmentThreshold drive ShouldSplit.
	splitScoreThreshold   = 0.5
	splitSegmentThreshold = 3
)

// ComputeDivergenceScore computes the per-chat composite divergence score
// and its component breakdown, independent of segmentation. An empty chat
// yields a zero score and the "highly focused" interpretation, never an
// error.
func (s *Segmenter) ComputeDivergenceScore(ctx context.Context, c chat.Chat) (*chat.DivergenceReport, error) {
	report := &chat.DivergenceReport{
		ChatID:               c.ID,
		Interpretation:       interpretScore(0),
		SuggestedSplitPoints: []int{},
	}
	if len(c.Messages) == 0 {
		return report, nil
	}

	filtered := chat.Filter(c.Messages)
	sig := s.run(ctx, c.Messages, filtered)
	if err := degradeDriftErr(sig.driftErr); err != nil {
		return nil, fmt.Errorf("drift signal: %w", err)
	}

	var meanDrift float64
	if sig.curve != nil && sig.driftErr == nil {
		meanDrift = sig.curve.Metrics.MeanDrift
	}
	metrics := sig.topics.Metrics

	normalizedEntropy := clamp01(metrics.TopicEntropy / entropyNorm)
	composite := clamp01(driftWeight*meanDrift +
		entropyWeight*normalizedEntropy +
		dominantWeight*(1-metrics.DominantTopicRatio))

	report.OverallScore = composite
	report.Interpretation = interpretScore(composite)
	report.EmbeddingDriftScore = clamp01(meanDrift / driftScoreNorm)
	report.TopicEntropyScore = normalizedEntropy
	report.TopicTransitionScore = clamp01(metrics.TransitionRate * transitionScoreNorm)
	if sig.llm.Available {
		// Relevance runs 0-10 with 10 = fully on topic; invert to divergence.
		llmScore := clamp01(1 - sig.llm.Metrics.MeanRelevance/10.0)
		report.LLMRelevanceScore = &llmScore
	}

	report.SuggestedSplitPoints = splitPoints(sig)
	report.NumSegments = len(report.SuggestedSplitPoints) + 1
	report.ShouldSplit = composite > splitScoreThreshold || report.NumSegments > splitSegmentThreshold

	return report, nil
}

// splitPoints merges the drift and topic boundary candidates into a sorted
// list of original message indices (index 0 excluded).
func splitPoints(sig *signals) []int {
	seen := map[int]bool{}
	if sig.curve != nil && sig.driftErr == nil {
		for _, pos := range drift.DetectChangepoints(sig.curve.Scores, drift.DefaultChangepointThreshold, drift.DefaultMinSegmentLength) {
			if idx := sig.curve.Messages[pos].Index; idx > 0 {
				seen[idx] = true
			}
		}
	}
	for _, pos := range topic.Boundaries(sig.topics.Segments) {
		if idx := sig.topics.Messages[pos].Index; idx > 0 {
			seen[idx] = true
		}
	}

	points := make([]int, 0, len(seen))
	for idx := range seen {
		points = append(points, idx)
	}
	sort.Ints(points)
	return points
}

// AnalyzeChatFull runs scoring and segmentation in one pass and attaches the
// segments to the report. With generateSummaries set and a summarizer wired
// in, each segment also gets an LLM topic summary.
func (s *Segmenter) AnalyzeChatFull(ctx context.Context, c chat.Chat, generateSummaries bool) (*chat.DivergenceReport, error) {
	report, err := s.ComputeDivergenceScore(ctx, c)
	if err != nil {
		return nil, err
	}

	segments, err := s.SegmentChat(ctx, c)
	if err != nil {
		return nil, err
	}

	if generateSummaries && s.summarizer != nil {
		summaries := make([]string, len(segments))
		for i := range segments {
			msgs := c.Messages[segments[i].StartMessageIdx : segments[i].EndMessageIdx+1]
			summary, err := s.summarizer.SummarizeSegment(ctx, msgs)
			if err != nil {
				s.logger.Warn("segment summary failed", "chat_id", c.ID, "segment", segments[i].ID, "error", err)
			}
			if summary != "" {
				segments[i].Summary = summary
			}
			summaries[i] = summary
		}
		report.TopicSummaries = summaries
	}

	report.Segments = segments
	report.NumSegments = len(segments)

	return report, nil
}

// interpretScore maps a composite score to its human-readable band.
func interpretScore(score float64) string {
	switch {
	case score < 0.2:
		return "Highly focused - single topic throughout"
	case score < 0.4:
		return "Mostly focused with minor tangents"
	case score < 0.6:
		return "Moderate divergence - multiple related topics"
	case score < 0.8:
		return "Significant divergence - distinct topic branches"
	default:
		return "Highly divergent - consider splitting into child chats"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
