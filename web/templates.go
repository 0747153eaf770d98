// ABOUTME: TemplateEngine wraps rendered status documents in the dashboard page with html/template.
// ABOUTME: The page polls itself while a run is active so the browser follows progress without scripts.
package web

import (
	"fmt"
	"html/template"
	"io"
	"net/http"
)

const layoutHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
<style>
body { font-family: ui-monospace, monospace; margin: 2rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
form { display: inline; }
</style>
</head>
<body>
{{.Body}}
<p>
<form method="post" action="/run"><button {{if .Busy}}disabled{{end}}>Run pending tasks</button></form>
<form method="post" action="/stop"><button {{if not .Busy}}disabled{{end}}>Stop</button></form>
<form method="post" action="/clean"><button>Clean</button></form>
</p>
</body>
</html>
`

// PageData holds everything the layout renders.
type PageData struct {
	Title   string
	Body    template.HTML // trusted: produced by the markdown renderer with raw HTML disabled
	Busy    bool
	Refresh int // seconds; zero disables auto-refresh
}

// TemplateEngine renders the dashboard layout.
type TemplateEngine struct {
	layout *template.Template
}

// NewTemplateEngine parses the layout.
func NewTemplateEngine() (*TemplateEngine, error) {
	t, err := template.New("layout.html").Parse(layoutHTML)
	if err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}
	return &TemplateEngine{layout: t}, nil
}

// Render writes the page to w.
func (e *TemplateEngine) Render(w io.Writer, data PageData) error {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	return e.layout.Execute(w, data)
}
