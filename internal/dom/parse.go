package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Parse builds a Document from HTML markup. Only element nodes are kept;
// the children of <body> become the children of the document root.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := NewDocument()
	body := findBody(root)
	if body == nil {
		return doc, nil
	}
	copyAttrs(doc.body, body)
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if el := convert(c); el != nil {
			el.parent = doc.body
			doc.body.children = append(doc.body.children, el)
		}
	}
	return doc, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// convert builds a detached subtree without emitting mutations.
func convert(n *html.Node) *Element {
	if n.Type != html.ElementNode {
		return nil
	}
	el := NewElement(n.Data)
	copyAttrs(el, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := convert(c); child != nil {
			child.parent = el
			el.children = append(el.children, child)
		}
	}
	return el
}

func copyAttrs(dst *Element, src *html.Node) {
	for _, a := range src.Attr {
		dst.attrs[a.Key] = a.Val
	}
}
