// Package htmltext extracts readable text from HTML documents.
package htmltext

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

// Extract returns the text of the document's body with runs of whitespace
// collapsed to a single space. Fragments without a body are handled too.
func Extract(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	root := findBody(doc)
	if root == nil {
		root = doc
	}
	var b strings.Builder
	walk(root, &b)
	return Collapse(b.String()), nil
}

// FromString is Extract for in-memory markup.
func FromString(s string) string {
	out, err := Extract(strings.NewReader(s))
	if err != nil {
		return Collapse(s)
	}
	return out
}

func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func walk(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && skipped[n.DataAtom] {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
}
