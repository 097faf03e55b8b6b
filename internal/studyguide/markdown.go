package studyguide

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	ComprehensionHeading = "Comprehension-Based Q&A (Whole Chapter)"
	RevisionHeading      = "Extra Revision Q&A (Cross-Linking)"
)

// RenderMarkdown serializes a guide as Markdown.
func RenderMarkdown(g Guide) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", g.ChapterTitle)

	for _, sec := range g.Sections {
		title := sec.Title
		if title == "" {
			title = "Section"
		}
		fmt.Fprintf(&sb, "## %s\n", title)
		writeQA(&sb, sec.QA)
		if len(sec.KeyTopics) > 0 {
			fmt.Fprintf(&sb, "_Key topics_: %s\n", strings.Join(sec.KeyTopics, ", "))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "## %s\n", ComprehensionHeading)
	writeQA(&sb, g.Comprehension)

	fmt.Fprintf(&sb, "## %s\n", RevisionHeading)
	writeQA(&sb, g.Revision)

	return strings.TrimSpace(sb.String()) + "\n"
}

func writeQA(sb *strings.Builder, items []QA) {
	for i, qa := range items {
		fmt.Fprintf(sb, "**Q%d. %s**\n", i+1, qa.Question)
		for _, b := range qa.Bullets {
			fmt.Fprintf(sb, "- %s\n", b)
		}
		sb.WriteString("\n")
	}
}

// OutputName derives the guide file name from the uploaded file name.
func OutputName(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "chapter"
	}
	return stem + "_QA.md"
}
