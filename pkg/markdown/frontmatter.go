// Package markdown splits catalogue documents (skills, personas, commands)
// into their YAML frontmatter and body.
package markdown

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// ErrNoFrontmatter is returned when a document has no frontmatter block.
var ErrNoFrontmatter = errors.New("missing frontmatter")

// Document is a parsed markdown file.
type Document struct {
	Meta map[string]any
	Body string
}

// String returns the frontmatter value for key when it is a string.
func (d *Document) String(key string) string {
	s, _ := d.Meta[key].(string)
	return strings.TrimSpace(s)
}

// Parse extracts the frontmatter and body of content. Documents without a
// frontmatter block yield ErrNoFrontmatter together with the full body, so
// callers that treat frontmatter as optional can still use the result.
func Parse(content []byte) (*Document, error) {
	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	doc := &Document{Body: Body(string(content))}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter")
	}
	if len(metaData) == 0 {
		return doc, ErrNoFrontmatter
	}
	doc.Meta = metaData
	return doc, nil
}

// Body removes a leading frontmatter block and the blank lines after it.
// Content whose frontmatter is never closed is returned unchanged.
func Body(content string) string {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(strings.TrimSuffix(lines[i], "\r")) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\r\n")
}
