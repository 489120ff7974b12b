// Package render turns a form into its printable HTML layout and a plain
// Markdown summary. The layout is what the capture pipeline rasterises.
package render

// RootID is the id of the element the capture pipeline measures and
// rasterises.
const RootID = "capture-root"

// Document is a printable record. It knows nothing about which form
// produced it.
type Document struct {
	Title    string
	Subtitle string
	Meta     []Field
	Sections []Section
	Footer   string
}

// Field is a label/value pair.
type Field struct {
	Label string
	Value string
}

// Section is one titled block of a Document. Any combination of the
// content kinds may be set; they render in declaration order.
type Section struct {
	Title      string
	Note       string
	Fields     []Field
	Table      *Table
	Text       string
	Signatures []Signature
}

// Table is a simple grid with an optional footer row.
type Table struct {
	Columns []string
	Rows    [][]string
	Footer  []string
}

// Signature is a captured signature with its printed name and date.
type Signature struct {
	Label string
	Name  string
	// Image is a data:image/png or data:image/jpeg URI. Anything else is
	// dropped at render time.
	Image string
	Date  string
}
