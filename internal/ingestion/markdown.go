package ingestion

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// markdownToText reduces markdown to its readable text by walking the parsed
// AST and keeping only text segments. Code blocks are kept, markup is not.
func markdownToText(markdown string) string {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
	)

	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	var builder strings.Builder

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			builder.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				builder.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				builder.Write(seg.Value(source))
			}
		case *ast.AutoLink:
			builder.Write(node.URL(source))
		}

		// Paragraph-level nodes separate with a blank line.
		if n.Type() == ast.TypeBlock && builder.Len() > 0 {
			builder.WriteByte('\n')
		}

		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(builder.String())
}
