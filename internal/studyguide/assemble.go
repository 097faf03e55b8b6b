package studyguide

import "github.com/dgallion1/studypack/internal/doctree"

// Assemble merges section results (aligned 1:1 with the input sections) and
// the whole-document extras into one guide. Order is kept; nothing is
// filtered or deduplicated.
func Assemble(chapterTitle string, results []SectionResult, extras ExtraResult) Guide {
	g := Guide{
		ChapterTitle:  chapterTitle,
		Sections:      make([]GuideSection, len(results)),
		Comprehension: nonNilQA(extras.Comprehension),
		Revision:      nonNilQA(extras.Revision),
	}
	for i, r := range results {
		g.Sections[i] = GuideSection{
			Title:     r.SectionTitle,
			QA:        nonNilQA(r.QA),
			KeyTopics: r.KeyTopics,
		}
		if g.Sections[i].KeyTopics == nil {
			g.Sections[i].KeyTopics = []string{}
		}
	}
	return g
}

// ChapterTitle picks the guide heading: the first section's title, else the
// document name.
func ChapterTitle(sections []doctree.Section, docName string) string {
	if len(sections) > 0 && sections[0].Title != "" {
		return sections[0].Title
	}
	if docName != "" {
		return docName
	}
	return "Chapter"
}

func nonNilQA(in []QA) []QA {
	if in == nil {
		return []QA{}
	}
	return in
}
