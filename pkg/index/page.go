package index

import "strings"

// FileName is the object name of a directory's index page.
const FileName = "index.html"

// Page accumulates the rows of one directory's index page. A Page has a
// single writer; callers collect fragments in order and add them once.
type Page struct {
	prefix string
	rows   []string
}

// NewPage starts an index page for the given logical prefix.
func NewPage(prefix string) *Page {
	return &Page{prefix: prefix}
}

// Prefix returns the logical prefix the page describes.
func (p *Page) Prefix() string {
	return p.prefix
}

// Add appends a rendered row fragment.
func (p *Page) Add(fragment string) {
	p.rows = append(p.rows, fragment)
}

// Len returns the number of rows added so far.
func (p *Page) Len() int {
	return len(p.rows)
}

// Bytes renders the full page: start, rows in insertion order, end.
func (p *Page) Bytes() []byte {
	var sb strings.Builder

	sb.WriteString(PageStart(p.prefix))

	for _, row := range p.rows {
		sb.WriteString(row)
	}

	sb.WriteString(PageEnd())

	return []byte(sb.String())
}
