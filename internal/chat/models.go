// Package chat defines the transcript data model shared by every analyzer:
// messages, segments, classification results, and the divergence report.
package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single transcript entry. The engine only reads Content and
// Role; messages are owned by the caller and never mutated.
type Message struct {
	ID        string     `json:"id,omitempty"`
	ChatID    string     `json:"chat_id,omitempty"`
	Content   string     `json:"content"`
	Role      Role       `json:"role"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Chat is an ordered transcript belonging to one conversation.
type Chat struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// Segment is a contiguous run of messages treated as one sub-topic.
// Start and end indices are inclusive, 0-based positions in the original
// message list. Segments produced for a chat are ordered, non-overlapping,
// and cover the full message range.
type Segment struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chat_id"`
	StartMessageIdx int       `json:"start_message_idx"`
	EndMessageIdx   int       `json:"end_message_idx"`
	AnchorEmbedding []float32 `json:"anchor_embedding,omitempty"`
	Summary         string    `json:"summary"`
	TopicLabel      string    `json:"topic_label,omitempty"`
	ParentSegmentID string    `json:"parent_segment_id,omitempty"`
	DivergenceScore float64   `json:"divergence_score"`
	// Short marks segments below the configured minimum message count.
	// They are flagged, not merged.
	Short bool `json:"short,omitempty"`
}

// MessageCount returns the number of messages covered by the segment.
func (s Segment) MessageCount() int {
	return s.EndMessageIdx - s.StartMessageIdx + 1
}

// Relation describes how a message relates to the conversation's anchor topic.
type Relation string

const (
	RelationContinuing Relation = "continuing"
	RelationClarifying Relation = "clarifying"
	RelationDrilling   Relation = "drilling"
	RelationBranching  Relation = "branching"
	RelationTangent    Relation = "tangent"
	RelationConcluding Relation = "concluding"
	RelationReturning  Relation = "returning"
)

// ClassificationResult is one message's LLM classification relative to the
// conversation anchor.
type ClassificationResult struct {
	MessageID         string   `json:"message_id,omitempty"`
	MessageIdx        int      `json:"message_idx"`
	Relation          Relation `json:"relation"`
	RelevanceScore    float64  `json:"relevance_score"`
	SuggestedBoundary bool     `json:"suggested_boundary"`
	Reasoning         string   `json:"reasoning"`
}

// DivergenceReport summarizes a full analysis run for one chat.
type DivergenceReport struct {
	ChatID       string  `json:"chat_id"`
	OverallScore float64 `json:"overall_score"`

	EmbeddingDriftScore  float64  `json:"embedding_drift_score"`
	TopicEntropyScore    float64  `json:"topic_entropy_score"`
	TopicTransitionScore float64  `json:"topic_transition_score"`
	LLMRelevanceScore    *float64 `json:"llm_relevance_score,omitempty"`

	NumSegments int       `json:"num_segments"`
	Segments    []Segment `json:"segments,omitempty"`

	ShouldSplit          bool  `json:"should_split"`
	SuggestedSplitPoints []int `json:"suggested_split_points"`

	TopicSummaries []string `json:"topic_summaries,omitempty"`
	Interpretation string   `json:"interpretation"`
}

// LinkResult identifies the target segment that best matches a source chat's
// opening topic, for cross-chat linking.
type LinkResult struct {
	TargetSegmentID string  `json:"target_segment_id"`
	SimilarityScore float64 `json:"similarity_score"`
	LinkType        string  `json:"link_type"`
}
