package classify

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/bull/chat-divergence/internal/chat"
)

// scriptedClassifier returns one canned result per call, in order.
type scriptedClassifier struct {
	results []chat.ClassificationResult
	errs    []error
	calls   int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ []chat.Message, _ chat.Message, _ string) (chat.ClassificationResult, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return chat.ClassificationResult{}, c.errs[i]
	}
	return c.results[i], nil
}

func result(relation chat.Relation, relevance float64, boundary bool) chat.ClassificationResult {
	return chat.ClassificationResult{
		Relation:          relation,
		RelevanceScore:    relevance,
		SuggestedBoundary: boundary,
		Reasoning:         "scripted",
	}
}

func messages(contents ...string) []chat.Message {
	out := make([]chat.Message, len(contents))
	for i, c := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		out[i] = chat.Message{ID: string(rune('a' + i)), Content: c, Role: role}
	}
	return out
}

func TestAnchorTopic(t *testing.T) {
	t.Run("first user message", func(t *testing.T) {
		msgs := []chat.Message{
			{Role: chat.RoleAssistant, Content: "hello"},
			{Role: chat.RoleUser, Content: "help me with docker"},
		}
		if got := AnchorTopic(msgs); got != "help me with docker" {
			t.Errorf("Expected first user message, got %q", got)
		}
	})

	t.Run("no user message", func(t *testing.T) {
		msgs := []chat.Message{{Role: chat.RoleAssistant, Content: "hello"}}
		if got := AnchorTopic(msgs); got != "Unknown topic" {
			t.Errorf("Expected placeholder, got %q", got)
		}
	})

	t.Run("truncated to 500 chars", func(t *testing.T) {
		msgs := []chat.Message{{Role: chat.RoleUser, Content: strings.Repeat("x", 600)}}
		if got := AnchorTopic(msgs); len(got) != 500 {
			t.Errorf("Expected 500 chars, got %d", len(got))
		}
	})
}

func TestAnalyzeFullChat_Unavailable(t *testing.T) {
	a := NewAnalyzer(nil, nil)
	msgs := messages("one", "two", "three")

	got := a.AnalyzeFullChat(context.Background(), msgs)

	if got.Available {
		t.Error("Expected Available=false with nil classifier")
	}
	if len(got.Classifications) != 3 {
		t.Fatalf("Expected 3 classifications, got %d", len(got.Classifications))
	}
	for i, r := range got.Classifications {
		if r.Relation != chat.RelationContinuing {
			t.Errorf("Message %d: expected continuing, got %s", i, r.Relation)
		}
		if r.RelevanceScore != 10.0 {
			t.Errorf("Message %d: expected relevance 10.0, got %f", i, r.RelevanceScore)
		}
		if r.SuggestedBoundary {
			t.Errorf("Message %d: expected no boundary", i)
		}
		if r.Reasoning != "LLM not available" {
			t.Errorf("Message %d: unexpected reasoning %q", i, r.Reasoning)
		}
	}
	if got.Metrics.MeanRelevance != 10.0 {
		t.Errorf("Expected mean relevance 10.0, got %f", got.Metrics.MeanRelevance)
	}
	if len(got.SuggestedChangepoints) != 0 {
		t.Errorf("Expected no changepoints, got %v", got.SuggestedChangepoints)
	}
}

func TestAnalyzeFullChat_Empty(t *testing.T) {
	a := NewAnalyzer(nil, nil)
	got := a.AnalyzeFullChat(context.Background(), nil)
	if len(got.Classifications) != 0 {
		t.Errorf("Expected no classifications, got %d", len(got.Classifications))
	}
	if got.Metrics.MeanRelevance != 10.0 {
		t.Errorf("Expected default mean relevance 10.0, got %f", got.Metrics.MeanRelevance)
	}
}

func TestAnalyzeFullChat_FirstMessageAlwaysContinuing(t *testing.T) {
	c := &scriptedClassifier{
		results: []chat.ClassificationResult{
			result(chat.RelationBranching, 3.0, true),
		},
	}
	a := NewAnalyzer(c, nil)
	msgs := messages("anchor", "branch")

	got := a.AnalyzeFullChat(context.Background(), msgs)

	first := got.Classifications[0]
	if first.Relation != chat.RelationContinuing || first.RelevanceScore != 10.0 {
		t.Errorf("First message: expected continuing/10.0, got %s/%f", first.Relation, first.RelevanceScore)
	}
	if first.Reasoning != "First message defines the anchor topic." {
		t.Errorf("First message: unexpected reasoning %q", first.Reasoning)
	}
	// Only the second message reaches the classifier.
	if c.calls != 1 {
		t.Errorf("Expected 1 classifier call, got %d", c.calls)
	}
	if got.Classifications[1].Relation != chat.RelationBranching {
		t.Errorf("Second message: expected branching, got %s", got.Classifications[1].Relation)
	}
}

func TestAnalyzeFullChat_MetricsAndChangepoints(t *testing.T) {
	c := &scriptedClassifier{
		results: []chat.ClassificationResult{
			result(chat.RelationDrilling, 8.0, false),
			result(chat.RelationBranching, 4.0, true),
			result(chat.RelationTangent, 2.0, true),
		},
	}
	a := NewAnalyzer(c, nil)
	msgs := messages("anchor", "drill", "branch", "tangent")

	got := a.AnalyzeFullChat(context.Background(), msgs)

	if !got.Available {
		t.Error("Expected Available=true")
	}
	if got.Metrics.BranchCount != 1 || got.Metrics.TangentCount != 1 || got.Metrics.DrillCount != 1 {
		t.Errorf("Unexpected relation counts: %+v", got.Metrics)
	}
	// (10 + 8 + 4 + 2) / 4
	if math.Abs(got.Metrics.MeanRelevance-6.0) > 1e-9 {
		t.Errorf("Expected mean relevance 6.0, got %f", got.Metrics.MeanRelevance)
	}
	if len(got.SuggestedChangepoints) != 2 || got.SuggestedChangepoints[0] != 2 || got.SuggestedChangepoints[1] != 3 {
		t.Errorf("Expected changepoints [2 3], got %v", got.SuggestedChangepoints)
	}
}

func TestAnalyzeFullChat_ErrorFallback(t *testing.T) {
	c := &scriptedClassifier{
		results: []chat.ClassificationResult{
			{},
			result(chat.RelationContinuing, 9.0, false),
		},
		errs: []error{errors.New("rate limited"), nil},
	}
	a := NewAnalyzer(c, nil)
	msgs := messages("anchor", "fails", "works")

	got := a.AnalyzeFullChat(context.Background(), msgs)

	failed := got.Classifications[1]
	if failed.Relation != chat.RelationContinuing || failed.RelevanceScore != 5.0 {
		t.Errorf("Failed message: expected continuing/5.0, got %s/%f", failed.Relation, failed.RelevanceScore)
	}
	if failed.Reasoning != "rate limited" {
		t.Errorf("Failed message: expected error text, got %q", failed.Reasoning)
	}
	if failed.SuggestedBoundary {
		t.Error("Failed message must not suggest a boundary")
	}
	// The failure is per-message: the next one still classifies.
	if got.Classifications[2].RelevanceScore != 9.0 {
		t.Errorf("Third message: expected 9.0, got %f", got.Classifications[2].RelevanceScore)
	}
}

func TestAnalyzeFullChat_ResultIdentityOverwritten(t *testing.T) {
	c := &scriptedClassifier{
		results: []chat.ClassificationResult{
			{MessageID: "bogus", MessageIdx: 99, Relation: chat.RelationContinuing, RelevanceScore: 7.0},
		},
	}
	a := NewAnalyzer(c, nil)
	msgs := messages("anchor", "second")

	got := a.AnalyzeFullChat(context.Background(), msgs)

	r := got.Classifications[1]
	if r.MessageID != msgs[1].ID || r.MessageIdx != 1 {
		t.Errorf("Expected identity from the chat, got id=%q idx=%d", r.MessageID, r.MessageIdx)
	}
}

func TestParseRelation(t *testing.T) {
	for _, valid := range []chat.Relation{
		chat.RelationContinuing, chat.RelationClarifying, chat.RelationDrilling,
		chat.RelationBranching, chat.RelationTangent, chat.RelationConcluding,
		chat.RelationReturning,
	} {
		got, err := parseRelation(string(valid))
		if err != nil {
			t.Errorf("parseRelation(%q) failed: %v", valid, err)
		}
		if got != valid {
			t.Errorf("parseRelation(%q): got %q", valid, got)
		}
	}
	if _, err := parseRelation("meandering"); err == nil {
		t.Error("Expected error for unknown relation")
	}
}

func TestFallbackSummary(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "hi"},
		{Role: chat.RoleUser, Content: "   "},
		{Role: chat.RoleUser, Content: "configure nginx"},
	}
	if got := FallbackSummary(msgs); got != "configure nginx" {
		t.Errorf("Expected first non-blank user message, got %q", got)
	}
	if got := FallbackSummary(nil); got != "Unknown topic" {
		t.Errorf("Expected placeholder, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("Expected unchanged, got %q", got)
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("Expected first 5 bytes, got %q", got)
	}
}
