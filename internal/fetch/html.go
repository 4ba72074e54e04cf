package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// documentText flattens extracted article HTML into the text form the
// ingestion pipeline consumes: block elements become paragraphs separated by
// blank lines, and <pre> blocks become fenced code so the extraction policy
// can tell code from prose.
func documentText(contentHTML string) (string, error) {
	root, err := html.Parse(strings.NewReader(contentHTML))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	flattenNode(&b, root, false)

	return strings.TrimSpace(b.String()), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "blockquote": true, "table": true, "tr": true,
}

var skipElements = map[string]bool{
	"script": true, "style": true, "nav": true, "noscript": true,
	"iframe": true, "svg": true,
}

func flattenNode(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		switch {
		case skipElements[n.Data]:
			return
		case n.Data == "pre":
			code := nodeText(n)
			if strings.TrimSpace(code) != "" {
				b.WriteString("\n\n```\n")
				b.WriteString(strings.TrimRight(code, "\n"))
				b.WriteString("\n```\n\n")
			}
			return
		case blockElements[n.Data]:
			b.WriteString("\n\n")
		case n.Data == "br":
			b.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		text := n.Data
		if !inPre {
			text = strings.Join(strings.Fields(text), " ")
			if text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") && !strings.HasSuffix(b.String(), " ") {
					b.WriteString(" ")
				}
			}
		}
		b.WriteString(text)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(b, c, inPre || (n.Type == html.ElementNode && n.Data == "pre"))
	}

	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteString("\n\n")
	}
}

// nodeText concatenates all text under a node, preserving whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return b.String()
}
