// Package main provides the divergence CLI: topic-drift analysis of chat
// transcripts supplied as generic JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/chat-divergence/internal/chat"
	"github.com/bull/chat-divergence/internal/classify"
	"github.com/bull/chat-divergence/internal/embedding"
	"github.com/bull/chat-divergence/internal/segmenter"
	"github.com/bull/chat-divergence/internal/segmentindex"
	"github.com/bull/chat-divergence/internal/textprep"
	"github.com/bull/chat-divergence/internal/topic"
)

var rootCmd = &cobra.Command{
	Use:   "divergence",
	Short: "Chat topic-drift segmentation and scoring",
	Long: `Detects where a conversation's topic drifts, producing segment
boundaries and a divergence score from an ensemble of embedding drift,
topic structure, and optional LLM classification.

Chats are plain JSON: {"id": "...", "messages": [{"role": "user", "content": "..."}]}.

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings and classification (required)
  QDRANT_HOST    Qdrant hostname for the segment index (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)`,
}

var (
	flagDriftThreshold float64
	flagMinSegment     int
	flagNoLLM          bool
	flagSummaries      bool
	flagPlaintext      bool
	flagSignalTimeout  time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <chat.json>",
	Short: "Segment and score a single chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var linkCmd = &cobra.Command{
	Use:   "link <source.json> <target.json>",
	Short: "Find the target chat segment that best matches the source's opening topic",
	Args:  cobra.ExactArgs(2),
	RunE:  runLink,
}

var indexCmd = &cobra.Command{
	Use:   "index <chat.json>",
	Short: "Analyze a chat and upsert its segments into the Qdrant segment index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, linkCmd, indexCmd} {
		cmd.Flags().Float64Var(&flagDriftThreshold, "drift-threshold", segmenter.DefaultDriftThreshold, "changepoint detection threshold")
		cmd.Flags().IntVar(&flagMinSegment, "min-segment", segmenter.DefaultMinSegmentMessages, "minimum messages per segment (advisory, short segments are flagged)")
		cmd.Flags().BoolVar(&flagNoLLM, "no-llm", false, "disable the LLM classification signal")
		cmd.Flags().BoolVar(&flagPlaintext, "plaintext", true, "strip markdown from message content before analysis")
		cmd.Flags().DurationVar(&flagSignalTimeout, "signal-timeout", 2*time.Minute, "per-signal timeout (0 = unbounded)")
	}
	analyzeCmd.Flags().BoolVar(&flagSummaries, "summaries", false, "generate LLM topic summaries per segment")
	indexCmd.Flags().BoolVar(&flagSummaries, "summaries", false, "generate LLM topic summaries per segment")

	rootCmd.AddCommand(analyzeCmd, linkCmd, indexCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSegmenter wires the OpenAI provider, the drift-based topic model, and
// (unless disabled) the OpenAI classifier into a Segmenter.
func newSegmenter() (*segmenter.Segmenter, embedding.Provider, error) {
	client, err := embedding.NewClient()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	provider := embedding.NewOpenAIProvider(client, 0) // Use default batch size

	var classifier classify.Classifier
	if !flagNoLLM {
		classifier = classify.NewOpenAIClassifier(client.Client(), "")
	}

	s := segmenter.New(provider, topic.NewDriftModel(provider, 0), classifier, segmenter.Options{
		DriftThreshold:     flagDriftThreshold,
		MinSegmentMessages: flagMinSegment,
		AllowShortSegments: true,
		SignalTimeout:      flagSignalTimeout,
	}, nil)

	return s, provider, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	c, err := loadChat(args[0])
	if err != nil {
		return err
	}

	s, _, err := newSegmenter()
	if err != nil {
		return err
	}

	report, err := s.AnalyzeChatFull(context.Background(), c, flagSummaries)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	return printJSON(report)
}

func runLink(cmd *cobra.Command, args []string) error {
	source, err := loadChat(args[0])
	if err != nil {
		return err
	}
	target, err := loadChat(args[1])
	if err != nil {
		return err
	}

	s, _, err := newSegmenter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	sourceSegments, err := s.SegmentChat(ctx, source)
	if err != nil {
		return fmt.Errorf("segmenting source: %w", err)
	}
	targetSegments, err := s.SegmentChat(ctx, target)
	if err != nil {
		return fmt.Errorf("segmenting target: %w", err)
	}

	link := segmenter.FindBestLinkTarget(sourceSegments, targetSegments)
	if link == nil {
		fmt.Println("No link target found")
		return nil
	}
	return printJSON(link)
}

func runIndex(cmd *cobra.Command, args []string) error {
	c, err := loadChat(args[0])
	if err != nil {
		return err
	}

	s, provider, err := newSegmenter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	report, err := s.AnalyzeChatFull(ctx, c, flagSummaries)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	index, err := segmentindex.NewIndex(
		getEnv("QDRANT_HOST", "localhost"),
		getEnvInt("QDRANT_PORT", 6334),
		provider.Dimension(),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer index.Close()

	if err := index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	if err := index.DeleteChatSegments(ctx, c.ID); err != nil {
		return fmt.Errorf("failed to clear previous segments: %w", err)
	}
	if err := index.UpsertSegments(ctx, report.Segments); err != nil {
		return fmt.Errorf("failed to index segments: %w", err)
	}

	fmt.Printf("Indexed %d segments for chat %s\n", len(report.Segments), c.ID)

	// Report the closest corpus segment for the chat's opening topic.
	if len(report.Segments) > 0 && report.Segments[0].AnchorEmbedding != nil {
		link, err := index.FindBestLinkTarget(ctx, report.Segments[0].AnchorEmbedding, c.ID)
		if err != nil {
			return fmt.Errorf("link lookup failed: %w", err)
		}
		if link != nil {
			fmt.Printf("Best corpus link: segment %s (similarity %.3f)\n", link.TargetSegmentID, link.SimilarityScore)
		}
	}

	return printJSON(report)
}

// loadChat reads a chat JSON document from a file, or stdin when path is "-".
func loadChat(path string) (chat.Chat, error) {
	var c chat.Chat

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return c, fmt.Errorf("reading chat: %w", err)
	}

	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing chat JSON: %w", err)
	}

	if flagPlaintext {
		c.Messages = textprep.NewNormalizer().NormalizeChat(c.Messages)
	}
	return c, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
