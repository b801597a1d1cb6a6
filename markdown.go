// Markdown export: converts the rendered block HTML to CommonMark.
package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

var (
	mdConverter     *converter.Converter
	mdConverterOnce sync.Once
)

// getMarkdownConverter returns the shared converter. Checkboxes and block
// equations are written verbatim so their brackets and dollars are not escaped.
func getMarkdownConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				strikethrough.NewStrikethroughPlugin(),
				table.NewTablePlugin(),
			),
		)
		// PriorityEarly (100) runs before the commonmark plugin (PriorityStandard 500).
		mdConverter.Register.RendererFor(checkboxTag, converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				if dom.GetAttributeOr(n, "data-checked", "") == "true" {
					w.WriteString("[x] ")
				} else {
					w.WriteString("[ ] ")
				}
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
		mdConverter.Register.RendererFor(equationTag, converter.TagTypeBlock,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				expr := strings.TrimSpace(dom.GetAttributeOr(n, "data-expression", ""))
				if expr == "" {
					return converter.RenderSuccess
				}
				w.WriteString("\n\n$$\n" + expr + "\n$$\n\n")
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
	})
	return mdConverter
}

// convertHTMLToMarkdown converts an HTML fragment to trimmed CommonMark.
func convertHTMLToMarkdown(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	md, err := getMarkdownConverter().ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}
	return strings.TrimSpace(md), nil
}

// blocksToMarkdown renders a page's block tree as Markdown.
func blocksToMarkdown(nodes []*blockNode) (string, error) {
	var b strings.Builder
	renderBlocks(&b, nodes)
	return convertHTMLToMarkdown(b.String())
}
