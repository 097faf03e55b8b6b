// Package prompts renders the instruction prompts sent to the generation
// service.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*
var templatesFS embed.FS

var (
	systemPrompt = mustRead("templates/system.md")
	sectionTmpl  = template.Must(template.New("section").Parse(mustRead("templates/section.md")))
	extrasTmpl   = template.Must(template.New("extras").Parse(mustRead("templates/extras.md")))
)

func mustRead(name string) string {
	b, err := templatesFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("prompts: read %s: %v", name, err))
	}
	return string(b)
}

// System returns the shared system instructions.
func System() string {
	return strings.TrimSpace(systemPrompt)
}

// SectionData fills the per-section template.
type SectionData struct {
	MaxQA        int
	SectionTitle string
	SectionText  string
}

// Section renders the user prompt for one section.
func Section(d SectionData) (string, error) {
	var buf bytes.Buffer
	if err := sectionTmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render section prompt: %w", err)
	}
	return buf.String(), nil
}

// Extras renders the user prompt for the whole-document request.
func Extras(chapterText string) (string, error) {
	var buf bytes.Buffer
	data := struct{ ChapterText string }{ChapterText: chapterText}
	if err := extrasTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render extras prompt: %w", err)
	}
	return buf.String(), nil
}
