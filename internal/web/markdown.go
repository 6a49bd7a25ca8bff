package web

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// markdownRenderer turns recipe Markdown into HTML. Raw HTML in the source
// is dropped, so model output can never inject markup.
type markdownRenderer struct {
	md goldmark.Markdown
}

func newMarkdownRenderer() *markdownRenderer {
	return &markdownRenderer{md: goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)}
}

// Render converts src. A conversion error leaves the escaped source in a
// pre block so partial text is still visible.
func (m *markdownRenderer) Render(src string) string {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "<pre>" + template.HTMLEscapeString(src) + "</pre>"
	}
	return buf.String()
}

func (m *markdownRenderer) HTML(src string) template.HTML {
	return template.HTML(m.Render(src))
}
