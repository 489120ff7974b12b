package render

import (
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every tag. Field text pasted from rich sources would
// otherwise print its markup literally.
var strict = bluemonday.StrictPolicy()

// cleanText removes markup from user text and undoes the entity escaping
// bluemonday applies, leaving html/template to escape once.
func cleanText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return html.UnescapeString(strict.Sanitize(s))
}

var signaturePrefixes = []string{"data:image/png;base64,", "data:image/jpeg;base64,"}

// signatureURL trusts only inline PNG/JPEG data URIs.
func signatureURL(s string) template.URL {
	for _, p := range signaturePrefixes {
		if strings.HasPrefix(s, p) && !strings.ContainsAny(s, "\"'<> ") {
			return template.URL(s)
		}
	}
	return ""
}

func cleanFields(fs []Field) []Field {
	out := make([]Field, len(fs))
	for i, f := range fs {
		out[i] = Field{Label: f.Label, Value: cleanText(f.Value)}
	}
	return out
}

// sanitize returns a copy of d with all user text cleaned.
func sanitize(d Document) Document {
	out := d
	out.Title = cleanText(d.Title)
	out.Subtitle = cleanText(d.Subtitle)
	out.Meta = cleanFields(d.Meta)
	out.Sections = make([]Section, len(d.Sections))
	for i, s := range d.Sections {
		cs := s
		cs.Fields = cleanFields(s.Fields)
		cs.Text = cleanText(s.Text)
		if s.Table != nil {
			t := &Table{Columns: s.Table.Columns, Footer: s.Table.Footer}
			t.Rows = make([][]string, len(s.Table.Rows))
			for r, row := range s.Table.Rows {
				t.Rows[r] = make([]string, len(row))
				for c, cell := range row {
					t.Rows[r][c] = cleanText(cell)
				}
			}
			cs.Table = t
		}
		cs.Signatures = make([]Signature, len(s.Signatures))
		for j, sig := range s.Signatures {
			cs.Signatures[j] = Signature{
				Label: sig.Label,
				Name:  cleanText(sig.Name),
				Image: string(signatureURL(sig.Image)),
				Date:  cleanText(sig.Date),
			}
		}
		out.Sections[i] = cs
	}
	return out
}
