package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/studypack/internal/budget"
	"github.com/dgallion1/studypack/internal/chunker"
	"github.com/dgallion1/studypack/internal/dispatch"
	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/dgallion1/studypack/internal/generate"
	"github.com/dgallion1/studypack/internal/parser"
	"github.com/dgallion1/studypack/internal/pathstore"
	"github.com/dgallion1/studypack/internal/studyguide"
)

var titleRe = regexp.MustCompile(`SECTION_TITLE: (.*)`)

type stubGen struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *stubGen) Generate(ctx context.Context, req generate.Request) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return "", errors.New("service unavailable")
	}
	if req.Shape == generate.ShapeExtras {
		return `{"comprehension":[{"q":"How do the parts connect?","a":["like this"]}],"revision":[{"q":"Recall?","a":"yes"}]}`, nil
	}
	title := ""
	if m := titleRe.FindStringSubmatch(req.User); m != nil {
		title = strings.TrimSpace(m[1])
	}
	return fmt.Sprintf(`{"qa":[{"q":"What is %s about?","a":["point one","point two"]}],"key_topics":["%s"]}`, title, title), nil
}

func (s *stubGen) Model() string { return "stub" }

func (s *stubGen) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(gen generate.Generator) *Pipeline {
	d := dispatch.New(gen, budget.Clamper{Tokenizer: budget.NewByteEstimator(4)},
		dispatch.Config{MaxAttempts: 1, CallTimeout: 5 * time.Second}, generate.NewLLMStats(time.Hour), discardLogger())
	seg := chunker.DefaultConfig()
	seg.HeadingBufferThreshold = 1
	return New(d, seg, discardLogger())
}

// chapterText builds a document whose headings each follow two body lines,
// enough to clear the lowered buffer threshold.
func chapterText() string {
	filler := strings.Repeat("The cell is the basic unit of life and this sentence pads the body. ", 6)
	var sb strings.Builder
	for i, h := range []string{"Chapter 1: Cells", "Section 2: Membranes", "Section 3: Energy"} {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(h + "\n" + filler + "\n" + filler)
	}
	return sb.String()
}

func TestPipeline_Run_HeadingDocument(t *testing.T) {
	gen := &stubGen{}
	p := newTestPipeline(gen)

	doc := &doctree.Document{Title: "bio", Pages: []string{chunker.NormalizePage(chapterText())}}
	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Sections)
	assert.Zero(t, res.Fallbacks)
	assert.Equal(t, "Chapter 1: Cells", res.Guide.ChapterTitle)
	require.Len(t, res.Guide.Sections, 3)
	assert.Equal(t, "Section 2: Membranes", res.Guide.Sections[1].Title)
	assert.Equal(t, "What is Section 3: Energy about?", res.Guide.Sections[2].QA[0].Question)
	assert.Len(t, res.Guide.Comprehension, 1)
	assert.Equal(t, []string{"yes"}, []string(res.Guide.Revision[0].Bullets))
	assert.Equal(t, 4, gen.Calls())

	assert.True(t, strings.HasPrefix(res.Markdown, "# Chapter 1: Cells\n"))
	assert.Contains(t, res.Markdown, "## "+studyguide.ComprehensionHeading)
	assert.Contains(t, res.Markdown, "## "+studyguide.RevisionHeading)
}

func TestPipeline_Run_TotalOutageStillProducesGuide(t *testing.T) {
	gen := &stubGen{fail: true}
	p := newTestPipeline(gen)

	doc := &doctree.Document{Title: "notes", Pages: []string{"just a little text", "and a second page"}}
	res, err := p.Run(context.Background(), doc)
	require.NoError(t, err)

	// Too few headings: one fixed chunk.
	assert.Equal(t, 1, res.Sections)
	assert.Equal(t, 1, res.Fallbacks)
	assert.True(t, res.ExtrasFailed)
	assert.Equal(t, "Part 1", res.Guide.ChapterTitle)
	require.Len(t, res.Guide.Sections, 1)
	assert.Equal(t, studyguide.FallbackQuestion, res.Guide.Sections[0].QA[0].Question)
	assert.Equal(t, "just a little text\nand a second page", res.Guide.Sections[0].QA[0].Bullets[0])
	assert.Empty(t, res.Guide.Comprehension)
	assert.Empty(t, res.Guide.Revision)
}

func TestPipeline_Run_NoText(t *testing.T) {
	gen := &stubGen{}
	p := newTestPipeline(gen)

	for _, doc := range []*doctree.Document{
		nil,
		{Title: "empty"},
		{Title: "blank", Pages: []string{"", "  \n\t "}},
	} {
		_, err := p.Run(context.Background(), doc)
		assert.ErrorIs(t, err, ErrNoText)
	}
	assert.Zero(t, gen.Calls(), "no generation before input validation passes")
}

func TestPipeline_RunWithHooks(t *testing.T) {
	p := newTestPipeline(&stubGen{})

	var mu sync.Mutex
	var stages []Stage
	var total, done int
	_, err := p.RunWithHooks(context.Background(),
		&doctree.Document{Pages: []string{chunker.NormalizePage(chapterText())}},
		Hooks{
			OnStage:     func(s Stage) { stages = append(stages, s) },
			OnSegmented: func(s []doctree.Section) { total = len(s) },
			OnSection: func(int, dispatch.Outcome) {
				mu.Lock()
				done++
				mu.Unlock()
			},
		})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageSegmenting, StageGenerating, StageRendering}, stages)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, done)
}

// memCache is an in-memory GuideCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]pathstore.CachedGuide
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]pathstore.CachedGuide{}}
}

func (m *memCache) GetGuide(_ context.Context, hash string) (*pathstore.CachedGuide, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	g, ok := m.entries[hash]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *memCache) PutGuide(_ context.Context, hash string, g pathstore.CachedGuide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hash] = g
	return nil
}

func (m *memCache) DeleteGuide(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
	return nil
}

func TestWorker_ProcessAndCache(t *testing.T) {
	gen := &stubGen{}
	cache := newMemCache()
	w := NewWorker(newTestPipeline(gen), cache, parser.Options{}, "stub", discardLogger())

	data := []byte(chapterText())
	job := NewJob("j1", "bio.txt", "", false, data)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Progress.Errors)
	assert.Equal(t, 3, snap.Progress.TotalSections)
	assert.Equal(t, 3, snap.Progress.SectionsDone)
	assert.NotEmpty(t, snap.ContentHash)
	require.NotNil(t, job.Output())
	assert.Contains(t, cache.entries, snap.ContentHash)
	calls := gen.Calls()

	// Same content again: served from cache without generation.
	job2 := NewJob("j2", "bio-copy.txt", "", false, data)
	w.Process(context.Background(), job2)
	assert.Equal(t, StatusCached, job2.Snapshot().Status)
	assert.Equal(t, job.Output().Markdown, job2.Output().Markdown)
	assert.Equal(t, calls, gen.Calls())

	// Forced: regenerated.
	job3 := NewJob("j3", "bio.txt", "", true, data)
	w.Process(context.Background(), job3)
	assert.Equal(t, StatusCompleted, job3.Snapshot().Status)
	assert.Greater(t, gen.Calls(), calls)
}

func TestWorker_DegradedGuideNotCached(t *testing.T) {
	cache := newMemCache()
	w := NewWorker(newTestPipeline(&stubGen{fail: true}), cache, parser.Options{}, "stub", discardLogger())

	job := NewJob("j1", "notes.md", "My Notes", false, []byte("some text"))
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.Progress.Fallbacks)
	assert.NotEmpty(t, snap.Progress.Errors)
	assert.Empty(t, cache.entries)
}

func TestWorker_CacheErrorsAreIgnored(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("pathstore down")
	w := NewWorker(newTestPipeline(&stubGen{}), cache, parser.Options{}, "stub", discardLogger())

	job := NewJob("j1", "bio.txt", "", false, []byte(chapterText()))
	w.Process(context.Background(), job)
	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
}

func TestWorker_Failures(t *testing.T) {
	w := NewWorker(newTestPipeline(&stubGen{}), nil, parser.Options{}, "stub", discardLogger())

	tests := []struct {
		name     string
		filename string
		data     string
		want     string
	}{
		{"unsupported", "a.exe", "x", "unsupported"},
		{"blank", "a.txt", "   \n\n  ", ErrNoText.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("j", tt.filename, "", false, []byte(tt.data))
			w.Process(context.Background(), job)
			snap := job.Snapshot()
			assert.Equal(t, StatusFailed, snap.Status)
			require.NotEmpty(t, snap.Progress.Errors)
			assert.Contains(t, snap.Progress.Errors[0], tt.want)
		})
	}
}

func TestOrchestrator_SubmitAndWait(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 2, MaxQueueSize: 4}, newTestPipeline(&stubGen{}), nil, discardLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("o1", "bio.txt", "", false, []byte(chapterText()))
	require.NoError(t, o.Submit(job))
	assert.Same(t, job, o.GetJob("o1"))

	require.Eventually(t, func() bool {
		return job.Snapshot().Status.Done()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 1}, newTestPipeline(&stubGen{}), nil, discardLogger())

	require.NoError(t, o.Submit(NewJob("a", "a.txt", "", false, []byte("x"))))
	assert.Equal(t, 1, o.QueueDepth())

	job := NewJob("b", "b.txt", "", false, []byte("x"))
	assert.Error(t, o.Submit(job))
	assert.Equal(t, StatusFailed, job.Snapshot().Status)
}

func TestOrchestrator_SubmitAfterStop(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 2}, newTestPipeline(&stubGen{}), nil, discardLogger())
	o.Start(context.Background())
	o.Stop()
	o.Stop()

	job := NewJob("late", "late.txt", "", false, []byte("x"))
	require.NotPanics(t, func() {
		assert.ErrorIs(t, o.Submit(job), ErrStopped)
	})
	assert.Equal(t, StatusFailed, job.Snapshot().Status)
}
