// Package textprep normalizes markdown message content into plain text
// before embedding. Assistant replies are usually markdown; fenced code
// blocks and markup dominate embedding space and drown out the topical
// signal.
package textprep

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/bull/chat-divergence/internal/chat"
)

// Normalizer renders markdown to plain text via goldmark's AST.
type Normalizer struct {
	parser goldmark.Markdown
}

// NewNormalizer creates a markdown-to-plaintext normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{parser: goldmark.New()}
}

// Plaintext returns the textual content of a markdown document: prose,
// headings, list items, and inline code, with fenced code block bodies and
// raw HTML dropped. Non-markdown input passes through unchanged apart from
// whitespace normalization.
func (n *Normalizer) Plaintext(source string) string {
	src := []byte(source)
	doc := n.parser.Parser().Parse(text.NewReader(src))

	var buf strings.Builder
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := node.(type) {
		case *ast.FencedCodeBlock:
			// Keep the language tag; it still carries topical signal
			// ("python", "sql") without the token noise of the body.
			if entering {
				if lang := node.Language(src); lang != nil {
					buf.Write(lang)
					buf.WriteByte('\n')
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
		}
		if !entering && node.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})

	return collapseBlankLines(buf.String())
}

// NormalizeChat returns a copy of the messages with markdown content
// replaced by its plaintext rendering. Messages whose rendering comes back
// empty (a pure code paste, for instance) keep their original content so
// downstream filtering sees the same message set either way.
func (n *Normalizer) NormalizeChat(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if plain := n.Plaintext(out[i].Content); plain != "" {
			out[i].Content = plain
		}
	}
	return out
}

// collapseBlankLines trims the output and squeezes runs of blank lines.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
