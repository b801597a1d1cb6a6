// Notion block tree to HTML. The HTML is only an intermediate form: it is
// handed to the Markdown converter, which owns escaping and list layout.
package main

import (
	"strings"

	"github.com/jomei/notionapi"
	"golang.org/x/net/html"
)

// blockNode is a block together with its fetched children.
type blockNode struct {
	block    notionapi.Block
	children []*blockNode
}

// Custom elements rendered by the Markdown converter, see markdown.go.
const (
	checkboxTag = "x-checkbox"
	equationTag = "x-equation"
)

// renderedTypes lists the block types renderBlock and renderListItem handle.
var renderedTypes = map[notionapi.BlockType]bool{
	"paragraph":          true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"to_do":              true,
	"toggle":             true,
	"quote":              true,
	"callout":            true,
	"code":               true,
	"divider":            true,
	"image":              true,
	"bookmark":           true,
	"embed":              true,
	"link_preview":       true,
	"equation":           true,
	"child_page":         true,
	"child_database":     true,
	"table":              true,
	"table_row":          true,
	"synced_block":       true,
	"column_list":        true,
	"column":             true,
}

// skippedTypes counts blocks in the tree that render to nothing.
func skippedTypes(nodes []*blockNode, counts map[string]int) {
	for _, n := range nodes {
		if t := n.block.GetType(); !renderedTypes[t] {
			name := string(t)
			if name == "" {
				name = "unsupported"
			}
			counts[name]++
		}
		skippedTypes(n.children, counts)
	}
}

// renderBlocks writes the HTML for a list of sibling blocks. Consecutive list
// items of the same type are grouped into a single <ul> or <ol>.
func renderBlocks(b *strings.Builder, nodes []*blockNode) {
	for i := 0; i < len(nodes); {
		t := nodes[i].block.GetType()
		tag := listTag(t)
		if tag == "" {
			renderBlock(b, nodes[i])
			i++
			continue
		}
		b.WriteString("<" + tag + ">")
		for i < len(nodes) && nodes[i].block.GetType() == t {
			renderListItem(b, nodes[i])
			i++
		}
		b.WriteString("</" + tag + ">")
	}
}

func listTag(t notionapi.BlockType) string {
	switch t {
	case "bulleted_list_item", "to_do":
		return "ul"
	case "numbered_list_item":
		return "ol"
	}
	return ""
}

func renderListItem(b *strings.Builder, n *blockNode) {
	b.WriteString("<li>")
	switch blk := n.block.(type) {
	case *notionapi.BulletedListItemBlock:
		b.WriteString(richTextHTML(blk.BulletedListItem.RichText))
	case *notionapi.NumberedListItemBlock:
		b.WriteString(richTextHTML(blk.NumberedListItem.RichText))
	case *notionapi.ToDoBlock:
		checked, mark := "false", "[ ]"
		if blk.ToDo.Checked {
			checked, mark = "true", "[x]"
		}
		b.WriteString("<" + checkboxTag + ` data-checked="` + checked + `">` + mark + "</" + checkboxTag + ">")
		b.WriteString(richTextHTML(blk.ToDo.RichText))
	}
	renderBlocks(b, n.children)
	b.WriteString("</li>")
}

func renderBlock(b *strings.Builder, n *blockNode) {
	switch blk := n.block.(type) {
	case *notionapi.ParagraphBlock:
		writeElement(b, "p", richTextHTML(blk.Paragraph.RichText))
		renderBlocks(b, n.children)
	case *notionapi.Heading1Block:
		writeElement(b, "h1", richTextHTML(blk.Heading1.RichText))
		renderBlocks(b, n.children)
	case *notionapi.Heading2Block:
		writeElement(b, "h2", richTextHTML(blk.Heading2.RichText))
		renderBlocks(b, n.children)
	case *notionapi.Heading3Block:
		writeElement(b, "h3", richTextHTML(blk.Heading3.RichText))
		renderBlocks(b, n.children)
	case *notionapi.ToggleBlock:
		writeElement(b, "p", richTextHTML(blk.Toggle.RichText))
		renderBlocks(b, n.children)
	case *notionapi.QuoteBlock:
		b.WriteString("<blockquote>")
		writeElement(b, "p", richTextHTML(blk.Quote.RichText))
		renderBlocks(b, n.children)
		b.WriteString("</blockquote>")
	case *notionapi.CalloutBlock:
		b.WriteString("<blockquote>")
		writeElement(b, "p", richTextHTML(blk.Callout.RichText))
		renderBlocks(b, n.children)
		b.WriteString("</blockquote>")
	case *notionapi.CodeBlock:
		lang := strings.ToLower(strings.TrimSpace(blk.Code.Language))
		b.WriteString("<pre><code")
		if lang != "" && lang != "plain text" {
			b.WriteString(` class="language-` + html.EscapeString(strings.ReplaceAll(lang, " ", "-")) + `"`)
		}
		b.WriteString(">" + html.EscapeString(plainText(blk.Code.RichText)) + "</code></pre>")
	case *notionapi.DividerBlock:
		b.WriteString("<hr>")
	case *notionapi.ImageBlock:
		src := imageURL(&blk.Image)
		if src == "" {
			return
		}
		alt := plainText(blk.Image.Caption)
		b.WriteString(`<p><img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(alt) + `"></p>`)
	case *notionapi.BookmarkBlock:
		writeLink(b, blk.Bookmark.URL, plainText(blk.Bookmark.Caption))
	case *notionapi.EmbedBlock:
		writeLink(b, blk.Embed.URL, plainText(blk.Embed.Caption))
	case *notionapi.LinkPreviewBlock:
		writeLink(b, blk.LinkPreview.URL, "")
	case *notionapi.EquationBlock:
		expr := html.EscapeString(blk.Equation.Expression)
		b.WriteString("<" + equationTag + ` data-expression="` + expr + `">` + expr + "</" + equationTag + ">")
	case *notionapi.ChildPageBlock:
		writeElement(b, "p", "<strong>"+html.EscapeString(blk.ChildPage.Title)+"</strong>")
	case *notionapi.ChildDatabaseBlock:
		writeElement(b, "p", "<strong>"+html.EscapeString(blk.ChildDatabase.Title)+"</strong>")
	case *notionapi.TableBlock:
		renderTable(b, n.children)
	default:
		// Containers such as synced blocks and columns render as their children.
		renderBlocks(b, n.children)
	}
}

func writeElement(b *strings.Builder, tag, inner string) {
	if inner == "" {
		return
	}
	b.WriteString("<" + tag + ">" + inner + "</" + tag + ">")
}

// writeLink writes a paragraph holding one link, labelled by its URL when
// there is no caption.
func writeLink(b *strings.Builder, href, caption string) {
	if href == "" {
		return
	}
	label := caption
	if label == "" {
		label = href
	}
	b.WriteString(`<p><a href="` + html.EscapeString(href) + `">` + html.EscapeString(label) + "</a></p>")
}

func imageURL(img *notionapi.Image) string {
	if img.External != nil && img.External.URL != "" {
		return img.External.URL
	}
	if img.File != nil {
		return img.File.URL
	}
	return ""
}

// renderTable writes a table from its table_row children. The first row is
// the header row; Markdown tables always have one.
func renderTable(b *strings.Builder, rows []*blockNode) {
	var cells [][]string
	for _, r := range rows {
		row, ok := r.block.(*notionapi.TableRowBlock)
		if !ok {
			continue
		}
		var line []string
		for _, c := range row.TableRow.Cells {
			line = append(line, richTextHTML(c))
		}
		cells = append(cells, line)
	}
	if len(cells) == 0 {
		return
	}

	b.WriteString("<table><thead><tr>")
	for _, c := range cells[0] {
		b.WriteString("<th>" + c + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, line := range cells[1:] {
		b.WriteString("<tr>")
		for _, c := range line {
			b.WriteString("<td>" + c + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
}

// richTextHTML renders annotated text spans.
func richTextHTML(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		if rt.PlainText == "" {
			continue
		}
		text := strings.ReplaceAll(html.EscapeString(cleanText(rt.PlainText)), "\n", "<br>")
		if string(rt.Type) == "equation" {
			text = "$" + text + "$"
		}
		if a := rt.Annotations; a != nil {
			if a.Code {
				text = "<code>" + text + "</code>"
			}
			if a.Bold {
				text = "<strong>" + text + "</strong>"
			}
			if a.Italic {
				text = "<em>" + text + "</em>"
			}
			if a.Strikethrough {
				text = "<del>" + text + "</del>"
			}
		}
		if rt.Href != "" {
			text = `<a href="` + html.EscapeString(rt.Href) + `">` + text + "</a>"
		}
		b.WriteString(text)
	}
	return b.String()
}

// cleanText drops control characters other than tab and line breaks, along
// with the noncharacters U+FFFE and U+FFFF. Postgres text columns reject NUL;
// strings.Map turns invalid UTF-8 into U+FFFD.
func cleanText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1
	}, s)
}
