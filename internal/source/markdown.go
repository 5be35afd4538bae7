package source

import (
	"bytes"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// readMarkdown emits one line per top-level block; soft line breaks inside a block are joined.
func readMarkdown(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var lines []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		for _, block := range blockTexts(n, src) {
			if block != "" {
				lines = append(lines, block)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func blockTexts(n ast.Node, src []byte) []string {
	switch n.Kind() {
	case ast.KindList, ast.KindListItem, ast.KindBlockquote:
		var out []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			out = append(out, blockTexts(c, src)...)
		}
		return out
	case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindThematicBreak, ast.KindHTMLBlock:
		return nil
	}
	return []string{inlineText(n, src)}
}

func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
			continue
		}
		buf.WriteString(inlineText(c, src))
	}
	if buf.Len() == 0 && n.Type() == ast.TypeBlock {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}
