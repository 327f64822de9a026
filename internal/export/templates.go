package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData is the data passed to the joke export template.
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Categories  []string
	SourceTitle string
	Publication string
	Status      string
	ExportedAt  string
	Activity    []ActivityLine
}

// ActivityLine is one row of the optional activity appendix.
type ActivityLine struct {
	Action string
	Actor  string
	At     string
}

const jokePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Georgia, 'Times New Roman', serif; max-width: 42rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; line-height: 1.6; }
  header { border-bottom: 2px solid #1a1a1a; margin-bottom: 1.5rem; padding-bottom: 0.75rem; }
  h1 { font-size: 1.6rem; margin: 0 0 0.25rem; }
  .source { color: #555; font-style: italic; font-size: 0.95rem; }
  .categories { margin: 1rem 0; }
  .categories span { display: inline-block; background: #eee; border-radius: 3px; padding: 0.1rem 0.5rem; margin-right: 0.4rem; font-size: 0.85rem; }
  blockquote { border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; color: #444; }
  footer { margin-top: 2rem; border-top: 1px solid #ccc; padding-top: 0.5rem; font-size: 0.8rem; color: #777; }
  table.activity { border-collapse: collapse; font-size: 0.85rem; margin-top: 1rem; }
  table.activity td, table.activity th { border: 1px solid #ddd; padding: 0.25rem 0.6rem; text-align: left; }
</style>
</head>
<body>
<header>
  <h1>{{.Title}}</h1>
  {{if .SourceTitle}}<div class="source">{{.SourceTitle}}{{if .Publication}}, {{.Publication}}{{end}}</div>{{end}}
</header>
{{if .Categories}}
<div class="categories">{{range .Categories}}<span>{{.}}</span>{{end}}</div>
{{end}}
<article>
{{.ContentHTML}}
</article>
{{if .Activity}}
<table class="activity">
  <tr><th>Action</th><th>By</th><th>When</th></tr>
  {{range .Activity}}<tr><td>{{.Action}}</td><td>{{.Actor}}</td><td>{{.At}}</td></tr>
  {{end}}
</table>
{{end}}
<footer>Exported from the joke archive on {{.ExportedAt}}</footer>
</body>
</html>
`

var jokeTmpl = template.Must(template.New("joke").Parse(jokePageTemplate))

// RenderJokeHTML renders the export page for a joke.
func RenderJokeHTML(data TemplateData) ([]byte, error) {
	if data.ExportedAt == "" {
		data.ExportedAt = time.Now().Format("2 January 2006")
	}
	var buf bytes.Buffer
	if err := jokeTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
