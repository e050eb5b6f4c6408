// Package drift quantifies how far each message in a conversation has moved
// semantically from its opening context, using embedding cosine distance to
// an anchor built from the first few messages.
package drift

import (
	"context"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/embedding"
)

const (
	// DefaultAnchorWindow is the number of opening messages pooled into the
	// anchor embedding. Averaging the first few messages keeps the anchor
	// robust to an off-topic single-message start.
	DefaultAnchorWindow = 3

	// DefaultChangepointThreshold is the drift score above which a message
	// is considered part of an excursion.
	DefaultChangepointThreshold = 0.3

	// DefaultMinSegmentLength is the minimum excursion duration, in
	// messages, for a changepoint to count. Shorter excursions are treated
	// as noise spikes.
	DefaultMinSegmentLength = 2

	// Hysteresis band for counting returns to topic: the curve must exceed
	// returnHigh before a drop below returnLow counts as a return.
	returnHigh = 0.5
	returnLow  = 0.3
)

// Metrics are scalar summaries of a drift curve.
type Metrics struct {
	MaxDrift      float64 `json:"max_drift"`
	MeanDrift     float64 `json:"mean_drift"`
	DriftVelocity float64 `json:"drift_velocity"`
	FinalDrift    float64 `json:"final_drift"`
	ReturnCount   int     `json:"return_count"`
}

// Curve is the per-message drift trace for one conversation. Scores hold one
// entry per filtered message, each in [0, 2]; Messages records which original
// message each score belongs to.
type Curve struct {
	AnchorEmbedding []float32
	Scores          []float64
	Messages        []chat.Filtered
	Metrics         Metrics
}

// Analyzer computes drift curves and changepoints against an embedding
// provider. Safe for concurrent use across chats as long as the provider is.
type Analyzer struct {
	provider embedding.Provider
}

// NewAnalyzer creates a drift analyzer backed by the given provider.
func NewAnalyzer(provider embedding.Provider) *Analyzer {
	return &Analyzer{provider: provider}
}

// ComputeDriftCurve embeds the filtered messages in one batch and scores
// each against the anchor (mean of the first min(anchorWindow, N)
// embeddings). An empty input yields an empty curve with zero metrics and a
// nil anchor. Embedding failures propagate as embedding.ErrEmbedding.
func (a *Analyzer) ComputeDriftCurve(ctx context.Context, filtered []chat.Filtered, anchorWindow int) (*Curve, error) {
	if anchorWindow <= 0 {
		anchorWindow = DefaultAnchorWindow
	}
	if len(filtered) == 0 {
		return &Curve{}, nil
	}

	vectors, err := a.provider.EmbedBatch(ctx, chat.Texts(filtered))
	if err != nil {
		return nil, err
	}

	anchorCount := min(len(vectors), anchorWindow)
	anchor := embedding.MeanPool(vectors[:anchorCount])

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = embedding.CosineDistance(anchor, v)
	}

	return &Curve{
		AnchorEmbedding: anchor,
		Scores:          scores,
		Messages:        filtered,
		Metrics:         computeMetrics(scores),
	}, nil
}

// computeMetrics derives scalar metrics from a non-empty score sequence.
func computeMetrics(scores []float64) Metrics {
	m := Metrics{}
	if len(scores) == 0 {
		return m
	}

	m.MaxDrift = scores[0]
	var sum float64
	for _, s := range scores {
		if s > m.MaxDrift {
			m.MaxDrift = s
		}
		sum += s
	}
	m.MeanDrift = sum / float64(len(scores))
	m.FinalDrift = scores[len(scores)-1]

	// Mean absolute first difference: the rate of topical change.
	if len(scores) > 1 {
		var diffSum float64
		for i := 1; i < len(scores); i++ {
			d := scores[i] - scores[i-1]
			if d < 0 {
				d = -d
			}
			diffSum += d
		}
		m.DriftVelocity = diffSum / float64(len(scores)-1)
	}

	// Returns to topic, with hysteresis so oscillation around a single
	// threshold does not inflate the count.
	isHigh := false
	for _, s := range scores {
		switch {
		case s > returnHigh:
			isHigh = true
		case s < returnLow && isHigh:
			m.ReturnCount++
			isHigh = false
		}
	}

	return m
}

// DetectChangepoints returns the positions (within the score sequence) where
// sustained excursions above threshold begin. An excursion counts only if it
// spans at least minSegmentLength scores; an excursion still open at the end
// of the sequence counts if its length so far qualifies.
func DetectChangepoints(scores []float64, threshold float64, minSegmentLength int) []int {
	if minSegmentLength <= 0 {
		minSegmentLength = DefaultMinSegmentLength
	}

	var changepoints []int
	inDrift := false
	driftStart := -1

	for i, score := range scores {
		if score > threshold {
			if !inDrift {
				inDrift = true
				driftStart = i
			}
			continue
		}
		if inDrift {
			if i-driftStart >= minSegmentLength {
				changepoints = append(changepoints, driftStart)
			}
			inDrift = false
		}
	}

	if inDrift && len(scores)-driftStart >= minSegmentLength {
		changepoints = append(changepoints, driftStart)
	}

	return changepoints
}
