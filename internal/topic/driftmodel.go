package topic

import (
	"context"
	"fmt"

	"github.com/bull/chat-divergence/internal/embedding"
)

// Pseudo-topic assignment thresholds: a new topic starts when the drift
// score jumps above driftEnter from below driftReset.
const (
	driftEnter = 0.3
	driftReset = 0.25
)

// DriftModel is an in-process Model that derives pseudo-topics from
// embedding drift: each sustained jump in distance from the conversation
// anchor starts a new topic. It is far coarser than a real topic model but
// gives the engine a usable topic signal without an external service.
type DriftModel struct {
	provider     embedding.Provider
	anchorWindow int
}

// NewDriftModel creates a drift-based topic assigner. anchorWindow controls
// how many opening messages form the anchor (0 means the default of 3).
func NewDriftModel(provider embedding.Provider, anchorWindow int) *DriftModel {
	if anchorWindow <= 0 {
		anchorWindow = 3
	}
	return &DriftModel{provider: provider, anchorWindow: anchorWindow}
}

// FitTopics assigns one pseudo-topic id per text. Never returns OutlierTopic.
func (m *DriftModel) FitTopics(ctx context.Context, texts []string) ([]int, map[int]string, error) {
	if len(texts) == 0 {
		return nil, map[int]string{}, nil
	}

	vectors, err := m.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	anchorCount := min(len(vectors), m.anchorWindow)
	anchor := embedding.MeanPool(vectors[:anchorCount])

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = embedding.CosineDistance(anchor, v)
	}

	ids := make([]int, len(scores))
	current := 0
	for i, score := range scores {
		if i > 0 && score > driftEnter && scores[i-1] < driftReset {
			current++
		}
		ids[i] = current
	}

	labels := make(map[int]string, current+1)
	for id := 0; id <= current; id++ {
		labels[id] = fmt.Sprintf("topic_%d", id)
	}

	return ids, labels, nil
}
