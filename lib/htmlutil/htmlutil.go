package htmlutil

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"itemharvest/lib/textutil"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// ChildTexts returns the cleaned text of each element child of the first
// node in sel in document order. Placeholder cells come back as "" so the
// position of every child is kept.
func ChildTexts(sel *goquery.Selection) []string {
	var out []string
	sel.First().Children().Each(func(_ int, child *goquery.Selection) {
		text := textutil.Clean(GetText(child.Nodes[0]))
		if textutil.IsPlaceholder(text) {
			text = ""
		}
		out = append(out, text)
	})
	return out
}
