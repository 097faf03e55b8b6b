package studyguide

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults(n int) []SectionResult {
	out := make([]SectionResult, n)
	for i := range out {
		out[i] = SectionResult{
			SectionTitle: fmt.Sprintf("Section %d", i+1),
			QA:           []QA{{Question: fmt.Sprintf("q%d", i+1), Bullets: Bullets{"b"}}},
		}
	}
	return out
}

func TestAssemble_PreservesOrder(t *testing.T) {
	results := sampleResults(5)
	g := Assemble("Chapter", results, ExtraResult{})

	require.Len(t, g.Sections, 5)
	for i, s := range g.Sections {
		assert.Equal(t, results[i].SectionTitle, s.Title)
		assert.NotNil(t, s.KeyTopics)
	}
	assert.NotNil(t, g.Comprehension)
	assert.NotNil(t, g.Revision)
}

func TestAssemble_KeepsDuplicates(t *testing.T) {
	r := SectionResult{SectionTitle: "Same", QA: []QA{{Question: "dup"}, {Question: "dup"}}}
	g := Assemble("C", []SectionResult{r, r}, ExtraResult{})
	require.Len(t, g.Sections, 2)
	assert.Len(t, g.Sections[1].QA, 2)
}

func TestChapterTitle(t *testing.T) {
	assert.Equal(t, "Cells", ChapterTitle([]doctree.Section{{Title: "Cells", Body: "x"}}, "bio.pdf"))
	assert.Equal(t, "bio.pdf", ChapterTitle(nil, "bio.pdf"))
	assert.Equal(t, "Chapter", ChapterTitle(nil, ""))
}

func TestRenderMarkdown(t *testing.T) {
	g := Guide{
		ChapterTitle: "Chapter 1: Motivation",
		Sections: []GuideSection{
			{Title: "Intro", QA: []QA{{Question: "Why?", Bullets: Bullets{"because", "so"}}}, KeyTopics: []string{"a", "b"}},
			{Title: "", QA: []QA{}},
		},
		Comprehension: []QA{{Question: "How?", Bullets: Bullets{"thus"}}},
		Revision:      []QA{},
	}
	md := RenderMarkdown(g)

	want := []string{
		"# Chapter 1: Motivation",
		"## Intro",
		"**Q1. Why?**",
		"- because",
		"- so",
		"_Key topics_: a, b",
		"## Section",
		"## " + ComprehensionHeading,
		"**Q1. How?**",
		"## " + RevisionHeading,
	}
	last := -1
	for _, w := range want {
		idx := strings.Index(md, w)
		require.GreaterOrEqual(t, idx, 0, "missing %q in:\n%s", w, md)
		assert.Greater(t, idx, last, "%q out of order", w)
		last = idx
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(Guide{ChapterTitle: "Title"})
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<h2>Comprehension-Based Q&amp;A (Whole Chapter)</h2>")
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "chapter3_QA.md", OutputName("chapter3.pdf"))
	assert.Equal(t, "notes_QA.md", OutputName("/tmp/x/notes.txt"))
	assert.Equal(t, "chapter_QA.md", OutputName(""))
}
