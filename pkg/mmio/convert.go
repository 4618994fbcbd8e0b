package mmio

import (
	"context"
	"os"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pkg/errors"
)

// Format is a document conversion target.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatText     Format = "text"
)

// LocalConverter names the model field of results produced without an API
// call.
const LocalConverter = "html-to-markdown"

var formatInstructions = map[Format]string{
	FormatMarkdown: "Convert to clean markdown, preserving structure and formatting.",
	FormatJSON:     "Extract content as structured JSON with sections, paragraphs, and metadata.",
	FormatText:     "Extract plain text content, maintaining logical reading order.",
}

// ParseFormat validates a conversion format name.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if _, ok := formatInstructions[f]; !ok {
		return "", errors.Errorf("unsupported format %q (want markdown, json or text)", s)
	}
	return f, nil
}

// Instruction returns the prompt used for format. Unknown formats fall back
// to markdown.
func (f Format) Instruction() string {
	if s, ok := formatInstructions[f]; ok {
		return s
	}
	return formatInstructions[FormatMarkdown]
}

// ConvertsLocally reports whether source can be converted to format without
// calling the API.
func ConvertsLocally(source string, format Format) bool {
	return format == FormatMarkdown && IsHTML(source)
}

// ConvertHTML converts a local HTML file to markdown.
func ConvertHTML(path string) (*Result, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert %s to markdown", path)
	}
	return &Result{Text: text, Model: LocalConverter, Duration: time.Since(start)}, nil
}

// Convert extracts the content of a document in the requested format.
func (c *Client) Convert(ctx context.Context, source string, format Format, model string) (*Result, error) {
	if ConvertsLocally(source, format) {
		return ConvertHTML(source)
	}
	return c.Process(ctx, source, format.Instruction(), ProcessOptions{
		Model: model,
		JSON:  format == FormatJSON,
	})
}
