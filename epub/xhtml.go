package epub

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/docparse/parser"
)

// blockAtoms are the elements treated as block boundaries when turning
// a content document into chunk text.
var blockAtoms = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
	atom.P: true, atom.Blockquote: true, atom.Pre: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true,
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3,
	atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// chunkXHTML parses one spine document into a chunk. The chunk keeps
// the raw body HTML for the downstream cleaning and rendering stages.
func (s *Stage) chunkXHTML(data []byte, spinePos int) (*parser.Chunk, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse xhtml: %w", err)
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return nil, fmt.Errorf("document has no body")
	}

	var (
		blocks   []string
		headings []parser.Heading
	)
	walkBlocks(body, func(n *html.Node) {
		text := collapseSpace(textContent(n))
		if text == "" {
			return
		}
		if lvl, ok := headingLevels[n.DataAtom]; ok {
			headings = append(headings, parser.Heading{Level: lvl, Text: text})
		}
		blocks = append(blocks, text)
	})
	content := strings.Join(blocks, "\n\n")
	if content == "" {
		// Documents with no recognized blocks still contribute their
		// raw text.
		content = collapseSpace(textContent(body))
	}

	title := ""
	if t := findElement(root, atom.Title); t != nil {
		title = collapseSpace(textContent(t))
	}
	if title == "" && len(headings) > 0 {
		title = headings[0].Text
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	return &parser.Chunk{
		ID:      s.newID(),
		Index:   spinePos,
		Content: content,
		HTML:    buf.String(),
		Meta: parser.ChunkMeta{
			Title:    title,
			Headings: headings,
			Words:    len(strings.Fields(content)),
		},
	}, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// walkBlocks visits block elements in document order without
// descending into a matched block, so nested lists or tables inside a
// paragraph do not double-report.
func walkBlocks(n *html.Node, visit func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				continue
			}
			if blockAtoms[c.DataAtom] {
				visit(c)
				continue
			}
		}
		walkBlocks(c, visit)
	}
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
			if n.DataAtom == atom.Br {
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
