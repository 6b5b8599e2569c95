// Package report serializes an extracted mapping as a two-column
// Option / Value table.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/goccy/go-yaml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Format selects the report encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

const (
	Title       = "Configuration Settings"
	EmptyNotice = "No key/value pairs found."
)

// ParseFormat accepts a format name or a common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// ContentType returns the MIME type of a rendered report.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Render writes m to w in format f.
func Render(w io.Writer, f Format, m *extract.Mapping) error {
	var (
		out []byte
		err error
	)
	switch f {
	case FormatMarkdown:
		out = []byte(Markdown(m))
	case FormatHTML:
		out, err = HTML(m)
	case FormatJSON:
		out, err = JSON(m)
	case FormatYAML:
		out, err = YAML(m)
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// RenderString is Render into a string.
func RenderString(f Format, m *extract.Mapping) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, f, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Markdown renders a GFM table.
func Markdown(m *extract.Mapping) string {
	var b strings.Builder
	b.WriteString("# " + Title + "\n\n")

	if m.Len() == 0 {
		b.WriteString(EmptyNotice + "\n")
		return b.String()
	}

	b.WriteString("| Option | Value |\n")
	b.WriteString("| --- | --- |\n")
	for k, v := range m.All() {
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(k), escapeCell(v))
	}
	return b.String()
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
	"&", `\&`,
)

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}

// HTML renders the Markdown table as a standalone HTML page.
func HTML(m *extract.Mapping) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))

	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(m)), &body); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	page.WriteString("<title>" + Title + "</title>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

type jsonReport struct {
	Title    string         `json:"title"`
	Count    int            `json:"count"`
	Settings []extract.Pair `json:"settings"`
}

// JSON renders the pairs as an ordered array.
func JSON(m *extract.Mapping) ([]byte, error) {
	pairs := m.Pairs()
	if pairs == nil {
		pairs = []extract.Pair{}
	}
	out, err := json.MarshalIndent(jsonReport{Title: Title, Count: len(pairs), Settings: pairs}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json report: %w", err)
	}
	return append(out, '\n'), nil
}

// YAML renders the pairs as an ordered mapping.
func YAML(m *extract.Mapping) ([]byte, error) {
	settings := yaml.MapSlice{}
	for k, v := range m.All() {
		settings = append(settings, yaml.MapItem{Key: k, Value: v})
	}

	doc := yaml.MapSlice{
		{Key: "title", Value: Title},
		{Key: "count", Value: m.Len()},
		{Key: "settings", Value: settings},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml report: %w", err)
	}
	return out, nil
}
