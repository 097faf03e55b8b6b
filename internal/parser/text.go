package parser

import (
	"fmt"
	"io"

	"github.com/dgallion1/studypack/internal/doctree"
)

// maxTextBytes bounds a plain-text read.
const maxTextBytes = 64 << 20

// TextParser handles plain text files. The whole file is one page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTextBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	if len(data) > maxTextBytes {
		return nil, fmt.Errorf("text file exceeds %d bytes", maxTextBytes)
	}
	return newDocument(stem(filename), []string{string(data)}), nil
}
