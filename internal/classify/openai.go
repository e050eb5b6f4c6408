package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/chat-divergence/internal/chat"
)

// contextMessageMaxChars limits each conversation-so-far message shown to
// the model.
const contextMessageMaxChars = 200

// classificationPayload is the strict-schema response shape.
type classificationPayload struct {
	Relation              string  `json:"relation" jsonschema:"enum=continuing,enum=clarifying,enum=drilling,enum=branching,enum=tangent,enum=concluding,enum=returning"`
	RelevanceScore        float64 `json:"relevance_score" jsonschema:"minimum=0,maximum=10"`
	SuggestedSegmentBreak bool    `json:"suggested_segment_break"`
	Reasoning             string  `json:"reasoning"`
}

var classificationSchema = GenerateSchema[classificationPayload]()

// OpenAIClassifier implements Classifier and Summarizer using OpenAI chat
// completions with a strict JSON-schema response format.
type OpenAIClassifier struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAIClassifier creates a classifier on the given client. An empty
// model defaults to GPT-4o.
func NewOpenAIClassifier(client *openai.Client, model openai.ChatModel) *OpenAIClassifier {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &OpenAIClassifier{client: client, model: model}
}

// Classify asks the model how the current message relates to the anchor
// topic given the conversation so far (last 10 messages). Transport and
// parse failures return an error; the caller degrades them to the defined
// fallback.
func (c *OpenAIClassifier) Classify(ctx context.Context, conversationSoFar []chat.Message, current chat.Message, anchorTopic string) (chat.ClassificationResult, error) {
	if len(conversationSoFar) > contextWindow {
		conversationSoFar = conversationSoFar[len(conversationSoFar)-contextWindow:]
	}

	prompt := fmt.Sprintf(`Analyze how this message relates to the conversation's original topic.

Original topic/question:
%s

Conversation so far (last 10 messages):
%s

Current message to classify:
[%s]: %s

Classify this message as one of:
- continuing: Directly addressing the original topic
- clarifying: Asking for clarification to better address the topic
- drilling: Going deeper into a subtopic (still related, but narrower)
- branching: Starting a new, different topic
- tangent: Brief aside, likely to return
- concluding: Wrapping up the current topic
- returning: Coming back to a previous topic after a departure

Also provide:
1. A relevance score (0-10) for how relevant this is to the original topic
2. Whether this message should start a new segment (true/false)
3. Brief reasoning`,
		anchorTopic,
		formatConversation(conversationSoFar),
		strings.ToUpper(string(current.Role)),
		current.Content,
	)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: c.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "message_classification",
					Schema: classificationSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return chat.ClassificationResult{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return chat.ClassificationResult{}, fmt.Errorf("chat completion returned no choices")
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return chat.ClassificationResult{}, fmt.Errorf("failed to parse response: %w", err)
	}

	relation, err := parseRelation(payload.Relation)
	if err != nil {
		return chat.ClassificationResult{}, err
	}

	return chat.ClassificationResult{
		Relation:          relation,
		RelevanceScore:    payload.RelevanceScore,
		SuggestedBoundary: payload.SuggestedSegmentBreak,
		Reasoning:         payload.Reasoning,
	}, nil
}

// SummarizeSegment produces a 1-2 sentence topic summary for a run of
// messages. On failure it falls back to the first user message, truncated,
// so segment records never end up without a summary.
func (c *OpenAIClassifier) SummarizeSegment(ctx context.Context, messages []chat.Message) (string, error) {
	prompt := fmt.Sprintf(`Summarize the main topic of this conversation segment in 1-2 sentences.
Focus on WHAT is being discussed, not HOW.

Conversation:
%s

Summary (1-2 sentences only):`, formatConversation(messages))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: c.model,
	})
	if err != nil || len(resp.Choices) == 0 {
		return FallbackSummary(messages), err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// FallbackSummary is the summary used when generation fails: the first user
// message truncated, or "Unknown topic".
func FallbackSummary(messages []chat.Message) string {
	for _, m := range messages {
		if m.Role == chat.RoleUser && strings.TrimSpace(m.Content) != "" {
			return truncate(m.Content, contextMessageMaxChars)
		}
	}
	return unknownAnchor
}

func parseRelation(s string) (chat.Relation, error) {
	relation := chat.Relation(strings.ToLower(strings.TrimSpace(s)))
	switch relation {
	case chat.RelationContinuing, chat.RelationClarifying, chat.RelationDrilling,
		chat.RelationBranching, chat.RelationTangent, chat.RelationConcluding,
		chat.RelationReturning:
		return relation, nil
	}
	return "", fmt.Errorf("unknown relation %q", s)
}

// formatConversation renders messages as "[ROLE]: content" lines with each
// message truncated to keep the prompt bounded.
func formatConversation(messages []chat.Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = fmt.Sprintf("[%s]: %s", strings.ToUpper(string(m.Role)), truncate(m.Content, contextMessageMaxChars))
	}
	return strings.Join(lines, "\n")
}
