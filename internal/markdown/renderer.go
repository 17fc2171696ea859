// Package markdown renders document bodies for read-side previews. Only raw
// text is ever stored; rendering happens on demand and the output is
// sanitized before it leaves the service.
package markdown

import (
	"bytes"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts raw markdown to sanitized HTML.
type Renderer struct {
	engine    goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewRenderer constructs a renderer with GitHub-flavored extensions and a
// UGC sanitization policy.
func NewRenderer() *Renderer {
	return &Renderer{
		engine: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// Render converts raw markdown to HTML safe for direct embedding. Script and
// event-handler content never survives the sanitizer.
func (r *Renderer) Render(rawText string) (string, error) {
	var rendered bytes.Buffer
	if err := r.engine.Convert([]byte(rawText), &rendered); err != nil {
		return "", err
	}
	return r.sanitizer.Sanitize(rendered.String()), nil
}
