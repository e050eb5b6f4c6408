// Package segmenter fuses the three drift signals (embedding drift, topic
// structure, LLM classification) into final segment boundaries and computes
// the per-chat composite divergence score.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/classify"
	"github.com/bull/chat-divergence/internal/drift"
	"github.com/bull/chat-divergence/internal/embedding"
	"github.com/bull/chat-divergence/internal/topic"
)

const (
	// DefaultDriftThreshold is the changepoint detection threshold used by
	// SegmentChat.
	DefaultDriftThreshold = 0.35

	// DefaultMinSegmentMessages is the advisory minimum segment size.
	// Shorter segments are flagged, not merged.
	DefaultMinSegmentMessages = 3

	// segmentAnchorMessages is how many non-empty messages from a segment's
	// start are pooled into its anchor embedding.
	segmentAnchorMessages = 3

	// llmVoteWeight doubles the LLM's boundary vote: the most semantically
	// informed signal, and the most expensive one.
	llmVoteWeight = 2

	// confirmVotes is the agreement needed to confirm a boundary when at
	// least two signal-weights are available.
	confirmVotes = 2
)

// Options tune the fusion algorithm. The zero value means defaults.
type Options struct {
	// DriftThreshold for changepoint detection (default 0.35).
	DriftThreshold float64
	// MinSegmentLength is the minimum drift excursion span (default 2).
	MinSegmentLength int
	// MinSegmentMessages flags segments below this size (default 3).
	MinSegmentMessages int
	// AnchorWindow is the whole-chat anchor size (default 3).
	AnchorWindow int
	// AllowShortSegments keeps short segments as-is, only flagged. This is
	// the current policy; merging is deliberately not implemented.
	AllowShortSegments bool
	// SignalTimeout bounds each analyzer signal. A timed-out signal is
	// treated as unavailable instead of failing the run. Zero means no
	// bound beyond the caller's context.
	SignalTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DriftThreshold <= 0 {
		o.DriftThreshold = DefaultDriftThreshold
	}
	if o.MinSegmentLength <= 0 {
		o.MinSegmentLength = drift.DefaultMinSegmentLength
	}
	if o.MinSegmentMessages <= 0 {
		o.MinSegmentMessages = DefaultMinSegmentMessages
	}
	if o.AnchorWindow <= 0 {
		o.AnchorWindow = drift.DefaultAnchorWindow
	}
	return o
}

// Segmenter orchestrates the three signals for one chat at a time. It holds
// no mutable state between runs, so a single instance can analyze many chats
// concurrently as long as its providers are thread-safe.
type Segmenter struct {
	provider   embedding.Provider
	drift      *drift.Analyzer
	topics     *topic.Analyzer
	llm        *classify.Analyzer
	summarizer classify.Summarizer
	opts       Options
	logger     *slog.Logger
}

// New creates a Segmenter. model and classifier are optional: passing nil
// degrades the corresponding signal to its defined default. When the
// classifier also implements classify.Summarizer, segment summaries become
// available to AnalyzeChatFull.
func New(provider embedding.Provider, model topic.Model, classifier classify.Classifier, opts Options, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Segmenter{
		provider: provider,
		drift:    drift.NewAnalyzer(provider),
		topics:   topic.NewAnalyzer(model, logger),
		llm:      classify.NewAnalyzer(classifier, logger),
		opts:     opts.withDefaults(),
		logger:   logger,
	}
	if summarizer, ok := classifier.(classify.Summarizer); ok {
		s.summarizer = summarizer
	}
	return s
}

// signals carries the three analyzer results for one run. Fields are
// written by separate goroutines and read only after the WaitGroup settles.
type signals struct {
	curve    *drift.Curve
	driftErr error
	topics   *topic.Analysis
	llm      *classify.FullAnalysis
}

// run executes the three analyzers concurrently, each bounded by
// SignalTimeout. A timed-out drift signal is recorded as an error and
// degraded by the caller.
func (s *Segmenter) run(ctx context.Context, messages []chat.Message, filtered []chat.Filtered) *signals {
	sig := &signals{}
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		sctx, cancel := s.signalContext(ctx)
		defer cancel()
		sig.curve, sig.driftErr = s.drift.ComputeDriftCurve(sctx, filtered, s.opts.AnchorWindow)
	}()
	go func() {
		defer wg.Done()
		sctx, cancel := s.signalContext(ctx)
		defer cancel()
		sig.topics = s.topics.Analyze(sctx, filtered)
	}()
	go func() {
		defer wg.Done()
		sctx, cancel := s.signalContext(ctx)
		defer cancel()
		sig.llm = s.llm.AnalyzeFullChat(sctx, messages)
	}()
	wg.Wait()

	return sig
}

func (s *Segmenter) signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.SignalTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.SignalTimeout)
	}
	return context.WithCancel(ctx)
}

// degradeDriftErr decides whether a drift failure fails the run. Timeouts
// and cancellations degrade the signal; hard embedding errors propagate
// because drift analysis is meaningless without embeddings.
func degradeDriftErr(err error) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SegmentChat detects segment boundaries with the ensemble vote and returns
// ordered, non-overlapping segments covering the whole message range. An
// empty chat returns no segments and no error.
func (s *Segmenter) SegmentChat(ctx context.Context, c chat.Chat) ([]chat.Segment, error) {
	if len(c.Messages) == 0 {
		return nil, nil
	}

	filtered := chat.Filter(c.Messages)
	sig := s.run(ctx, c.Messages, filtered)
	if err := degradeDriftErr(sig.driftErr); err != nil {
		return nil, fmt.Errorf("drift signal: %w", err)
	}

	boundaries := s.fuseBoundaries(sig, len(c.Messages))
	return s.buildSegments(ctx, c, sig, boundaries)
}

// fuseBoundaries runs the deterministic vote over the candidate indices of
// all three signals. Index 0 is always a boundary. A candidate is confirmed
// when its votes reach the required threshold: 2 when at least two
// signal-weights are available, 1 in single-signal degraded mode (the lone
// signal must still be able to split).
func (s *Segmenter) fuseBoundaries(sig *signals, numMessages int) []int {
	driftCandidates := map[int]bool{}
	if sig.curve != nil && sig.driftErr == nil {
		positions := drift.DetectChangepoints(sig.curve.Scores, s.opts.DriftThreshold, s.opts.MinSegmentLength)
		for _, pos := range positions {
			driftCandidates[sig.curve.Messages[pos].Index] = true
		}
	}

	topicCandidates := map[int]bool{}
	for _, pos := range topic.Boundaries(sig.topics.Segments) {
		topicCandidates[sig.topics.Messages[pos].Index] = true
	}

	llmCandidates := map[int]bool{}
	if sig.llm.Available {
		for _, idx := range sig.llm.SuggestedChangepoints {
			llmCandidates[idx] = true
		}
	}

	required := confirmVotes
	if s.availableWeight(sig) < confirmVotes {
		required = 1
	}

	confirmed := map[int]bool{0: true}
	for _, candidates := range []map[int]bool{driftCandidates, topicCandidates, llmCandidates} {
		for idx := range candidates {
			if idx <= 0 || idx >= numMessages || confirmed[idx] {
				continue
			}
			votes := 0
			if driftCandidates[idx] {
				votes++
			}
			if topicCandidates[idx] {
				votes++
			}
			if llmCandidates[idx] {
				votes += llmVoteWeight
			}
			if votes >= required {
				confirmed[idx] = true
			}
		}
	}

	boundaries := make([]int, 0, len(confirmed))
	for idx := range confirmed {
		boundaries = append(boundaries, idx)
	}
	sort.Ints(boundaries)
	return boundaries
}

// availableWeight sums the vote weights of the signals that actually
// produced output this run.
func (s *Segmenter) availableWeight(sig *signals) int {
	weight := 0
	if sig.curve != nil && sig.driftErr == nil && len(sig.curve.Scores) > 0 {
		weight++
	}
	if len(sig.topics.TopicIDs) > 0 {
		weight++
	}
	if sig.llm.Available {
		weight += llmVoteWeight
	}
	return weight
}

// buildSegments materializes Segment records from sorted boundaries. Each
// segment gets its own anchor embedding, pooled from its first few non-empty
// messages (best-effort; a failed embed leaves the anchor nil).
func (s *Segmenter) buildSegments(ctx context.Context, c chat.Chat, sig *signals, boundaries []int) ([]chat.Segment, error) {
	segments := make([]chat.Segment, 0, len(boundaries))
	for i, start := range boundaries {
		end := len(c.Messages) - 1
		if i+1 < len(boundaries) {
			end = boundaries[i+1] - 1
		}

		anchor, err := s.segmentAnchor(ctx, c.Messages[start:end+1])
		if err != nil {
			s.logger.Warn("segment anchor embedding failed", "chat_id", c.ID, "start", start, "error", err)
			anchor = nil
		}

		segment := chat.Segment{
			ID:              uuid.New().String(),
			ChatID:          c.ID,
			StartMessageIdx: start,
			EndMessageIdx:   end,
			AnchorEmbedding: anchor,
			Summary:         fmt.Sprintf("Segment %d", i+1),
			DivergenceScore: segmentMeanDrift(sig.curve, start, end),
			Short:           end-start+1 < s.opts.MinSegmentMessages,
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

// segmentAnchor mean-pools the first few non-empty messages of a segment.
func (s *Segmenter) segmentAnchor(ctx context.Context, messages []chat.Message) ([]float32, error) {
	texts := make([]string, 0, segmentAnchorMessages)
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		texts = append(texts, m.Content)
		if len(texts) == segmentAnchorMessages {
			break
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	return embedding.EmbedMany(ctx, s.provider, texts)
}

// segmentMeanDrift averages the drift scores of the messages inside the
// segment's range, 0 when the drift signal did not run.
func segmentMeanDrift(curve *drift.Curve, start, end int) float64 {
	if curve == nil || len(curve.Scores) == 0 {
		return 0
	}
	var sum float64
	count := 0
	for i, f := range curve.Messages {
		if f.Index >= start && f.Index <= end {
			sum += curve.Scores[i]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
