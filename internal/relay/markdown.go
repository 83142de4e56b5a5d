package relay

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
)

// RenderMarkdown converts markdown text to HTML (safe to inject as template.HTML).
func RenderMarkdown(md string) template.HTML {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	_ = goldmark.Convert([]byte(md), &buf)
	return template.HTML(buf.String())
}
