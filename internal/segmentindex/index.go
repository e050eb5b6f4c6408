// Package segmentindex stores segment anchor embeddings in Qdrant so a
// chat's opening topic can be matched against segments from the whole
// corpus, not just one target chat. It is an index over caller-owned segment
// records, not the system of record.
package segmentindex

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/segmenter"
)

// CollectionName is the single Qdrant collection for segment anchors.
const CollectionName = "segments"

// anchorVectorName is the named vector holding the segment anchor embedding.
const anchorVectorName = "anchor"

// Index wraps the Qdrant client with connection management and health checks.
type Index struct {
	client    *qdrant.Client
	dimension int
}

// NewIndex creates a Qdrant-backed segment index with health validation.
// dimension must match the embedding provider feeding the segments. Fails
// fast if Qdrant is unreachable after retrying.
func NewIndex(host string, port int, dimension int) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	index := &Index{client: client, dimension: dimension}

	ctx := context.Background()
	if err := index.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return index, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (x *Index) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return x.Health(ctx)
	}, exponentialBackoff)
}

// Health performs a single health check against Qdrant.
func (x *Index) Health(ctx context.Context) error {
	result, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the segments collection (cosine distance over the
// anchor vector) and its payload indexes if missing. Idempotent.
func (x *Index) EnsureCollection(ctx context.Context) error {
	collections, err := x.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == CollectionName {
			return nil
		}
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: CollectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			anchorVectorName: {
				Size:     uint64(x.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without a chat_id index, the link-target exclusion filter scans the
	// whole collection.
	_, err = x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: CollectionName,
		FieldName:      "chat_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field chat_id: %w", err)
	}

	return nil
}

// ClearCollection deletes all points and recreates the collection.
func (x *Index) ClearCollection(ctx context.Context) error {
	if err := x.client.DeleteCollection(ctx, CollectionName); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return x.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (x *Index) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (x *Index) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName,
			Points:         points,
		})
		return err
	}, exponentialBackoff)
}

// UpsertSegments stores segment anchors in batches of 100. Segments without
// an anchor embedding are skipped; they cannot be matched anyway.
func (x *Index) UpsertSegments(ctx context.Context, segments []chat.Segment) error {
	var points []*qdrant.PointStruct
	for i, segment := range segments {
		if segment.AnchorEmbedding == nil {
			continue
		}
		if len(segment.AnchorEmbedding) != x.dimension {
			return fmt.Errorf("%w: segment %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(segment.AnchorEmbedding), x.dimension)
		}

		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(segment.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				anchorVectorName: qdrant.NewVector(segment.AnchorEmbedding...),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				"chat_id":           segment.ChatID,
				"start_message_idx": segment.StartMessageIdx,
				"end_message_idx":   segment.EndMessageIdx,
				"summary":           segment.Summary,
				"topic_label":       segment.TopicLabel,
				"divergence_score":  segment.DivergenceScore,
			}),
		})
	}

	batchSize := 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		if err := x.upsertWithRetry(ctx, points[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// DeleteChatSegments removes all indexed segments for a chat, used before
// re-indexing after a fresh analysis run.
func (x *Index) DeleteChatSegments(ctx context.Context, chatID string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("chat_id", chatID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete segments for chat %s: %w", chatID, err)
	}
	return nil
}

// FindBestLinkTarget returns the indexed segment whose anchor is closest to
// the given one, excluding segments of excludeChatID (a chat should not link
// to itself). Returns nil when the index has no eligible segments.
func (x *Index) FindBestLinkTarget(ctx context.Context, anchor []float32, excludeChatID string) (*chat.LinkResult, error) {
	if len(anchor) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(anchor), x.dimension)
	}

	var filter *qdrant.Filter
	if excludeChatID != "" {
		filter = &qdrant.Filter{
			MustNot: []*qdrant.Condition{
				qdrant.NewMatch("chat_id", excludeChatID),
			},
		}
	}

	vectorName := anchorVectorName
	results, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: CollectionName,
		Query:          qdrant.NewQuery(anchor...),
		Using:          &vectorName,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query segment index: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	return &chat.LinkResult{
		TargetSegmentID: results[0].Id.GetUuid(),
		SimilarityScore: float64(results[0].Score),
		LinkType:        segmenter.LinkTypeRelated,
	}, nil
}
