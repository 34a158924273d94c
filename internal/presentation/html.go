package presentation

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/*.tmpl.html
var templateFS embed.FS

var funcMap = template.FuncMap{
	"percent": func(p float64) string {
		return fmt.Sprintf("%.2f%%", p)
	},
	"width": func(p float64) template.CSS {
		return template.CSS(fmt.Sprintf("width:%.4f%%;", p))
	},
	"imageSrc": imageSrc,
	"join":     strings.Join,
}

// imageSrc lets http(s) links and inline image data through the template
// URL filter; anything else is blanked.
func imageSrc(ref string) template.URL {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return template.URL(ref)
	case strings.HasPrefix(lower, "data:image/"):
		return template.URL(ref)
	default:
		return ""
	}
}

// Page is the data behind the single HTML page.
type Page struct {
	Labels   []string
	View     *View
	HasImage bool
	Error    string
	Accept   []string
}

type Renderer struct {
	page *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("page.tmpl.html").Funcs(funcMap).ParseFS(templateFS, "templates/page.tmpl.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{page: tmpl}, nil
}

// Page renders p fully before writing, so a template error never leaves a
// half written response.
func (r *Renderer) Page(w io.Writer, p Page) error {
	var buf bytes.Buffer
	if err := r.page.Execute(&buf, p); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
