//go:build integration
// +build integration

package segmentindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/segmenter"
)

const testDimension = 8

// setupTestIndex creates a test index and ensures the collection exists.
// Skips the test if Qdrant is not running.
func setupTestIndex(t *testing.T) *Index {
	index, err := NewIndex("localhost", 6334, testDimension)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = index.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")

	return index
}

// anchor builds a unit test vector with a 1 at the given position.
func anchor(hot int) []float32 {
	v := make([]float32, testDimension)
	v[hot] = 1
	return v
}

func testSegment(chatID string, hot int) chat.Segment {
	return chat.Segment{
		ID:              uuid.New().String(),
		ChatID:          chatID,
		StartMessageIdx: 0,
		EndMessageIdx:   4,
		AnchorEmbedding: anchor(hot),
		Summary:         "test segment",
		DivergenceScore: 0.1,
	}
}

func TestUpsertAndFindBestLinkTarget(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	ctx := context.Background()

	// Unique chat ids so concurrent test runs do not collide.
	chatA := "chat-a-" + uuid.New().String()
	chatB := "chat-b-" + uuid.New().String()

	near := testSegment(chatA, 0)
	far := testSegment(chatB, 1)
	err := index.UpsertSegments(ctx, []chat.Segment{near, far})
	require.NoError(t, err, "Failed to upsert segments")

	// Qdrant indexing is eventually consistent.
	time.Sleep(100 * time.Millisecond)

	result, err := index.FindBestLinkTarget(ctx, anchor(0), "")
	require.NoError(t, err, "Failed to query link target")
	require.NotNil(t, result, "Expected a link target")

	assert.Equal(t, near.ID, result.TargetSegmentID)
	assert.Equal(t, segmenter.LinkTypeRelated, result.LinkType)
	assert.Greater(t, result.SimilarityScore, 0.9, "Identical anchors should score near 1")
}

func TestFindBestLinkTarget_ExcludesOwnChat(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	ctx := context.Background()

	chatA := "chat-a-" + uuid.New().String()
	chatB := "chat-b-" + uuid.New().String()

	own := testSegment(chatA, 2)
	other := testSegment(chatB, 3)
	err := index.UpsertSegments(ctx, []chat.Segment{own, other})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	// The perfect match belongs to the excluded chat; the other segment wins.
	result, err := index.FindBestLinkTarget(ctx, anchor(2), chatA)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, own.ID, result.TargetSegmentID)
}

func TestUpsertSegments_SkipsNilAnchors(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	ctx := context.Background()

	noAnchor := chat.Segment{
		ID:     uuid.New().String(),
		ChatID: "chat-" + uuid.New().String(),
	}
	err := index.UpsertSegments(ctx, []chat.Segment{noAnchor})
	require.NoError(t, err, "Segments without anchors should be skipped, not fail")
}

func TestUpsertSegments_DimensionValidation(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	ctx := context.Background()

	wrong := chat.Segment{
		ID:              uuid.New().String(),
		ChatID:          "chat-" + uuid.New().String(),
		AnchorEmbedding: make([]float32, testDimension+1),
	}
	err := index.UpsertSegments(ctx, []chat.Segment{wrong})
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong anchor dimension")

	_, err = index.FindBestLinkTarget(ctx, make([]float32, testDimension+1), "")
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong query dimension")
}

func TestDeleteChatSegments(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	ctx := context.Background()

	chatID := "chat-del-" + uuid.New().String()
	segment := testSegment(chatID, 4)
	err := index.UpsertSegments(ctx, []chat.Segment{segment})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	err = index.DeleteChatSegments(ctx, chatID)
	require.NoError(t, err, "Failed to delete chat segments")

	time.Sleep(100 * time.Millisecond)

	// The deleted segment must not come back as a link target.
	result, err := index.FindBestLinkTarget(ctx, anchor(4), "")
	require.NoError(t, err)
	if result != nil {
		assert.NotEqual(t, segment.ID, result.TargetSegmentID)
	}
}

func TestHealth(t *testing.T) {
	index := setupTestIndex(t)
	defer index.Close()

	err := index.Health(context.Background())
	assert.NoError(t, err)
}
