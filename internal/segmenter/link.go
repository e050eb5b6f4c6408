package segmenter

import (
	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/embedding"
)

// LinkTypeRelated is the link type assigned by anchor similarity matching.
// Finer-grained types (continues, branches_from, resolves) need LLM
// confirmation and are left to callers.
const LinkTypeRelated = "related"

// FindBestLinkTarget compares the source chat's opening topic (its first
// segment's anchor) against every target segment anchor and returns the
// closest match by cosine similarity. Returns nil when either side has no
// segment with an anchor.
func FindBestLinkTarget(sourceSegments, targetSegments []chat.Segment) *chat.LinkResult {
	if len(sourceSegments) == 0 {
		return nil
	}
	sourceAnchor := sourceSegments[0].AnchorEmbedding
	if sourceAnchor == nil {
		return nil
	}

	var best *chat.LinkResult
	for _, segment := range targetSegments {
		if segment.AnchorEmbedding == nil {
			continue
		}
		score := embedding.CosineSimilarity(sourceAnchor, segment.AnchorEmbedding)
		if best == nil || score > best.SimilarityScore {
			best = &chat.LinkResult{
				TargetSegmentID: segment.ID,
				SimilarityScore: score,
				LinkType:        LinkTypeRelated,
			}
		}
	}
	return best
}
