package render

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const pngSig = "data:image/png;base64,iVBORw0KGgo="

func sampleDoc() Document {
	return Document{
		Title:    "Inspection and Test Record",
		Subtitle: "Sunterra",
		Meta: []Field{
			{Label: "Job Number", Value: "J-1001"},
			{Label: "Customer Name", Value: "<b>Jane</b> O'Brien & Co"},
		},
		Sections: []Section{
			{
				Title: "Test Results",
				Table: &Table{
					Columns: []string{"Test", "Result"},
					Rows:    [][]string{{"Insulation", "N/A"}, {"Polarity", "<script>x()</script>Pass"}},
				},
			},
			{
				Title: "Sign-off",
				Signatures: []Signature{
					{Label: "Tested by", Name: "Sam", Image: pngSig, Date: "26/09/2025"},
					{Label: "Customer", Name: "Jane", Image: "javascript:alert(1)"},
				},
			},
		},
	}
}

func parse(t *testing.T, b []byte) *html.Node {
	t.Helper()
	n, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func find(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func TestHTML_Structure(t *testing.T) {
	r := MustNew()
	out, err := r.HTML(sampleDoc())
	if err != nil {
		t.Fatal(err)
	}
	doc := parse(t, out)

	roots := find(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && attr(n, "id") == RootID })
	if len(roots) != 1 {
		t.Fatalf("capture root elements: %d", len(roots))
	}

	imgs := find(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "img" })
	if len(imgs) != 1 {
		t.Fatalf("img elements: got %d, want 1 (unsafe signature dropped)", len(imgs))
	}
	if attr(imgs[0], "src") != pngSig {
		t.Fatalf("signature src: %q", attr(imgs[0], "src"))
	}

	scripts := find(doc, func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "script" })
	if len(scripts) != 0 {
		t.Fatal("script element rendered")
	}
	if bytes.Contains(out, []byte("&lt;b&gt;")) {
		t.Fatal("markup from field text printed literally")
	}
	if !bytes.Contains(out, []byte("O&#39;Brien &amp; Co")) {
		t.Fatalf("customer name not escaped once:\n%s", out)
	}
}

func TestMarkdown_Summary(t *testing.T) {
	r := MustNew()
	md, err := r.Markdown(sampleDoc())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# Inspection and Test Record",
		"**Job Number:** J-1001",
		"signed by Sam on 26/09/2025",
		"not signed by Jane",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if !strings.Contains(md, "| Insulation") {
		t.Errorf("markdown missing results table:\n%s", md)
	}
	if strings.Contains(md, "base64") {
		t.Error("markdown embeds signature data")
	}
}

func TestFormatAUD(t *testing.T) {
	cases := map[float64]string{
		0:       "$0.00",
		1250:    "$1,250.00",
		99.5:    "$99.50",
		-40.25:  "-$40.25",
		1234567: "$1,234,567.00",
	}
	for in, want := range cases {
		if got := FormatAUD(in); got != want {
			t.Errorf("FormatAUD(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanText(t *testing.T) {
	if got := cleanText("plain"); got != "plain" {
		t.Fatalf("got %q", got)
	}
	if got := cleanText("<i>Fish</i> & Chips"); got != "Fish & Chips" {
		t.Fatalf("got %q", got)
	}
}

func TestViewer_EmbedsImage(t *testing.T) {
	out, err := MustNew().Viewer("ITR_x.png", []byte("\x89PNG"))
	if err != nil {
		t.Fatal(err)
	}
	imgs := find(parse(t, out), func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == "img" })
	if len(imgs) != 1 || !strings.HasPrefix(attr(imgs[0], "src"), "data:image/png;base64,") {
		t.Fatalf("viewer markup: %s", out)
	}
}
