// Package classify provides the optional LLM signal: per-message relational
// classification against the conversation's anchor topic, with defined
// fallbacks so the capability can be absent or fail without breaking the
// pipeline.
package classify

import (
	"context"
	"log/slog"

	"github.com/bull/chat-divergence/internal/chat"
)

const (
	// anchorMaxChars limits the anchor topic text taken from the first
	// user message.
	anchorMaxChars = 500

	// contextWindow is how many trailing messages of conversation-so-far
	// are shown to the classifier.
	contextWindow = 10

	// unknownAnchor is the placeholder when no user message exists.
	unknownAnchor = "Unknown topic"
)

// Classifier classifies one message's relation to the conversation's anchor
// topic. Implementations may fail; errors are converted to the defined
// fallback by Analyzer and never propagate further.
type Classifier interface {
	Classify(ctx context.Context, conversationSoFar []chat.Message, current chat.Message, anchorTopic string) (chat.ClassificationResult, error)
}

// Summarizer produces a short topic summary for a run of messages.
// The OpenAI classifier implements it; it is optional.
type Summarizer interface {
	SummarizeSegment(ctx context.Context, messages []chat.Message) (string, error)
}

// Metrics aggregate the per-message classifications for scoring.
type Metrics struct {
	MeanRelevance float64 `json:"mean_relevance"`
	BranchCount   int     `json:"branch_count"`
	TangentCount  int     `json:"tangent_count"`
	DrillCount    int     `json:"drill_count"`
}

// FullAnalysis is the LLM signal for one conversation.
type FullAnalysis struct {
	Classifications []chat.ClassificationResult `json:"classifications"`
	Metrics         Metrics                     `json:"metrics"`
	// SuggestedChangepoints are the original message indices the classifier
	// flagged as segment starts.
	SuggestedChangepoints []int `json:"suggested_changepoints"`
	// Available reports whether a real classifier ran. When false every
	// result is the neutral default.
	Available bool `json:"available"`
}

// Analyzer runs a Classifier over a whole chat, feeding growing
// conversation-so-far context, and aggregates the results. A nil Classifier
// is a valid degraded mode: every message gets the neutral default.
type Analyzer struct {
	classifier Classifier
	logger     *slog.Logger
}

// NewAnalyzer creates an analyzer over the given classifier, which may be
// nil when the capability is unavailable.
func NewAnalyzer(classifier Classifier, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{classifier: classifier, logger: logger}
}

// Available reports whether a classifier is wired in.
func (a *Analyzer) Available() bool {
	return a.classifier != nil
}

// unavailableResult is the "didn't try" default: assume no boundary, full
// relevance.
func unavailableResult(idx int, id string) chat.ClassificationResult {
	return chat.ClassificationResult{
		MessageID:      id,
		MessageIdx:     idx,
		Relation:       chat.RelationContinuing,
		RelevanceScore: 10.0,
		Reasoning:      "LLM not available",
	}
}

// errorResult is the "tried and failed" fallback, distinguished from the
// unavailable case by its neutral 5.0 relevance and the error text.
func errorResult(idx int, id string, err error) chat.ClassificationResult {
	return chat.ClassificationResult{
		MessageID:      id,
		MessageIdx:     idx,
		Relation:       chat.RelationContinuing,
		RelevanceScore: 5.0,
		Reasoning:      err.Error(),
	}
}

// AnchorTopic returns the classification anchor for a chat: the content of
// the first user-role message truncated to 500 chars, or "Unknown topic"
// when no user message exists.
func AnchorTopic(messages []chat.Message) string {
	for _, m := range messages {
		if m.Role == chat.RoleUser && m.Content != "" {
			return truncate(m.Content, anchorMaxChars)
		}
	}
	return unknownAnchor
}

// AnalyzeFullChat classifies every message in order against the anchor
// topic, feeding growing conversation context. The first message always
// classifies as continuing with full relevance: it defines the anchor.
// Classification errors degrade to per-message fallbacks, never to a failed
// analysis.
func (a *Analyzer) AnalyzeFullChat(ctx context.Context, messages []chat.Message) *FullAnalysis {
	analysis := &FullAnalysis{
		Metrics:   Metrics{MeanRelevance: 10.0},
		Available: a.Available(),
	}
	if len(messages) == 0 {
		return analysis
	}

	anchor := AnchorTopic(messages)
	results := make([]chat.ClassificationResult, 0, len(messages))

	for i, msg := range messages {
		switch {
		case !a.Available():
			results = append(results, unavailableResult(i, msg.ID))
		case i == 0:
			first := unavailableResult(0, msg.ID)
			first.Reasoning = "First message defines the anchor topic."
			results = append(results, first)
		default:
			result, err := a.classifier.Classify(ctx, messages[:i], msg, anchor)
			if err != nil {
				a.logger.Warn("classification failed", "message_idx", i, "error", err)
				results = append(results, errorResult(i, msg.ID, err))
				continue
			}
			result.MessageID = msg.ID
			result.MessageIdx = i
			results = append(results, result)
		}
	}

	analysis.Classifications = results

	var relevanceSum float64
	for _, r := range results {
		relevanceSum += r.RelevanceScore
		switch r.Relation {
		case chat.RelationBranching:
			analysis.Metrics.BranchCount++
		case chat.RelationTangent:
			analysis.Metrics.TangentCount++
		case chat.RelationDrilling:
			analysis.Metrics.DrillCount++
		}
		if r.SuggestedBoundary {
			analysis.SuggestedChangepoints = append(analysis.SuggestedChangepoints, r.MessageIdx)
		}
	}
	analysis.Metrics.MeanRelevance = relevanceSum / float64(len(results))

	return analysis
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
