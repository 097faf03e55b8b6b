package doctree

import "strings"

// Document is the extracted text of an uploaded file.
type Document struct {
	Title string   // Display name (from metadata or filename)
	Pages []string // One entry per physical page, in order
}

// HasText reports whether any page carries non-blank text.
func (d *Document) HasText() bool {
	if d == nil {
		return false
	}
	for _, p := range d.Pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

// Section is a titled, contiguous span of a document, the unit of generation.
type Section struct {
	Title string
	Body  string
}
