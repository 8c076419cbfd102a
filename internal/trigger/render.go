package trigger

import (
	"strings"
	"text/template"
)

// Context is the data a zone template is rendered against.
type Context struct {
	Zone   ZoneInfo   `json:"zone"`
	Board  BoardInfo  `json:"board"`
	Entity EntityInfo `json:"entity"`
}

type ZoneInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type BoardInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EntityInfo struct {
	ObjectID string `json:"objectId"`
	ID       string `json:"id"`
	Title    string `json:"title"`
}

// Renderer expands a zone template.
type Renderer interface {
	Render(tmpl string, ctx Context) (string, error)
}

// TextRenderer renders templates with text/template. Missing keys are errors
// so a typo falls back to the raw template instead of rendering "<no value>".
type TextRenderer struct{}

func (TextRenderer) Render(tmpl string, ctx Context) (string, error) {
	t, err := template.New("zone").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, ctx); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(string, Context) (string, error)

func (f RendererFunc) Render(tmpl string, ctx Context) (string, error) {
	return f(tmpl, ctx)
}
