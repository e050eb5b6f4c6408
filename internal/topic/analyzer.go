// Package topic quantifies topical diversity and structure from a discrete
// topic assignment per message: entropy, transition rate, dominant-topic
// ratio, and contiguous same-topic segments.
package topic

import (
	"context"
	"log/slog"
	"math"

	"github.com/bull/chat-divergence/internal/chat"
)

// OutlierTopic is the topic id used by models for noise/outlier messages.
const OutlierTopic = -1

// MinMessages is the minimum number of usable messages for topic analysis.
// Topic assignment is statistically unreliable below this; shorter inputs
// get the empty result.
const MinMessages = 5

// Model assigns a discrete topic id to each text. Implementations are
// external capabilities (a topic-model service, or DriftModel in-process).
// Outliers are encoded as OutlierTopic.
type Model interface {
	FitTopics(ctx context.Context, texts []string) (ids []int, labels map[int]string, err error)
}

// Metrics are scalar summaries of a topic-id sequence.
type Metrics struct {
	NumTopics          int     `json:"num_topics"`
	TopicEntropy       float64 `json:"topic_entropy"`
	TransitionRate     float64 `json:"transition_rate"`
	DominantTopicRatio float64 `json:"dominant_topic_ratio"`
}

// ContiguousSegment is a maximal run of messages sharing one topic id.
// Indices are positions within the topic-id sequence.
type ContiguousSegment struct {
	StartIdx int `json:"start_idx"`
	EndIdx   int `json:"end_idx"`
	TopicID  int `json:"topic_id"`
}

// Analysis is the full topic signal for one conversation. TopicIDs holds one
// entry per filtered message; Messages records the original index of each.
type Analysis struct {
	TopicIDs    []int
	TopicLabels map[int]string
	Messages    []chat.Filtered
	Metrics     Metrics
	Segments    []ContiguousSegment
}

// Analyzer computes topic divergence metrics using an external topic model.
type Analyzer struct {
	model  Model
	logger *slog.Logger
}

// NewAnalyzer creates a topic analyzer backed by the given model.
func NewAnalyzer(model Model, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{model: model, logger: logger}
}

// Analyze fits the topic model on the filtered messages and computes
// divergence metrics. Inputs below MinMessages, a missing model, or a model
// failure all yield the defined empty result; topic modeling is best-effort
// enrichment and never fails the pipeline.
func (a *Analyzer) Analyze(ctx context.Context, filtered []chat.Filtered) *Analysis {
	if a.model == nil || len(filtered) < MinMessages {
		return emptyAnalysis()
	}

	ids, labels, err := a.model.FitTopics(ctx, chat.Texts(filtered))
	if err != nil {
		a.logger.Warn("topic modeling failed", "error", err)
		return emptyAnalysis()
	}
	if len(ids) != len(filtered) {
		a.logger.Warn("topic model returned misaligned ids",
			"want", len(filtered), "got", len(ids))
		return emptyAnalysis()
	}

	return &Analysis{
		TopicIDs:    ids,
		TopicLabels: labels,
		Messages:    filtered,
		Metrics:     computeMetrics(ids),
		Segments:    ContiguousSegments(ids),
	}
}

// emptyAnalysis is the defined degraded result: no topics, zero entropy,
// no transitions, and full dominance.
func emptyAnalysis() *Analysis {
	return &Analysis{
		TopicLabels: map[int]string{},
		Metrics: Metrics{
			NumTopics:          0,
			TopicEntropy:       0,
			TransitionRate:     0,
			DominantTopicRatio: 1.0,
		},
	}
}

func computeMetrics(ids []int) Metrics {
	m := Metrics{DominantTopicRatio: 1.0}
	if len(ids) == 0 {
		return m
	}

	counts := make(map[int]int)
	for _, id := range ids {
		counts[id]++
	}

	m.NumTopics = len(counts)
	if _, hasOutliers := counts[OutlierTopic]; hasOutliers {
		m.NumTopics--
	}

	m.TopicEntropy = Entropy(ids)

	if len(ids) > 1 {
		transitions := 0
		for i := 1; i < len(ids); i++ {
			if ids[i] != ids[i-1] {
				transitions++
			}
		}
		m.TransitionRate = float64(transitions) / float64(len(ids)-1)
	}

	// Dominant topic share among non-outlier messages. When every message
	// is an outlier there is no dominant structure at all; that counts as
	// maximal dominance (1.0) so the scatter shows up through entropy and
	// transitions instead of a falsely low dominance term.
	validTotal := 0
	maxCount := 0
	for id, count := range counts {
		if id == OutlierTopic {
			continue
		}
		validTotal += count
		if count > maxCount {
			maxCount = count
		}
	}
	if validTotal > 0 {
		m.DominantTopicRatio = float64(maxCount) / float64(validTotal)
	}

	return m
}

// Entropy returns the Shannon entropy (base 2) of the topic-id frequency
// distribution, outliers included.
func Entropy(ids []int) float64 {
	if len(ids) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, id := range ids {
		counts[id]++
	}
	total := float64(len(ids))
	var entropy float64
	for _, count := range counts {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// ContiguousSegments groups the id sequence into maximal same-topic runs.
// The result is ascending, non-overlapping, and covers every position
// exactly once; the final segment always closes at the last index.
func ContiguousSegments(ids []int) []ContiguousSegment {
	if len(ids) == 0 {
		return nil
	}

	var segments []ContiguousSegment
	current := ids[0]
	start := 0
	for i, id := range ids {
		if id != current {
			segments = append(segments, ContiguousSegment{StartIdx: start, EndIdx: i - 1, TopicID: current})
			current = id
			start = i
		}
	}
	segments = append(segments, ContiguousSegment{StartIdx: start, EndIdx: len(ids) - 1, TopicID: current})

	return segments
}

// Boundaries returns the segment start positions excluding 0, the topic
// signal's boundary candidates for fusion.
func Boundaries(segments []ContiguousSegment) []int {
	var boundaries []int
	for _, s := range segments {
		if s.StartIdx > 0 {
			boundaries = append(boundaries, s.StartIdx)
		}
	}
	return boundaries
}
