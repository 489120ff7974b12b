package render

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// Renderer executes the print and summary templates. Safe for concurrent
// use.
type Renderer struct {
	tmpl *template.Template
	md   *converter.Converter
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	funcs := template.FuncMap{
		"root":      func() string { return RootID },
		"signature": signatureURL,
	}
	t, err := template.New("render").Funcs(funcs).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{
		tmpl: t,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}, nil
}

// MustNew is New for package-level initialisation.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// HTML renders the full printable page.
func (r *Renderer) HTML(d Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "document.html.tmpl", sanitize(d)); err != nil {
		return nil, fmt.Errorf("render: document: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown renders a plain-text summary suitable for pasting into a
// message. Signatures are summarised, never embedded.
func (r *Renderer) Markdown(d Document) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "summary.html.tmpl", sanitize(d)); err != nil {
		return "", fmt.Errorf("render: summary: %w", err)
	}
	md, err := r.md.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return strings.TrimSpace(md) + "\n", nil
}

// Viewer wraps a PNG in a minimal page for platforms that cannot download
// generated files. The image is embedded as a data URI.
func (r *Renderer) Viewer(title string, png []byte) ([]byte, error) {
	data := struct {
		Title string
		Src   template.URL
	}{
		Title: cleanText(title),
		Src:   signatureURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "viewer.html.tmpl", data); err != nil {
		return nil, fmt.Errorf("render: viewer: %w", err)
	}
	return buf.Bytes(), nil
}
