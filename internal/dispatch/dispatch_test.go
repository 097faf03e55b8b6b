package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/studypack/internal/budget"
	"github.com/dgallion1/studypack/internal/doctree"
	"github.com/dgallion1/studypack/internal/generate"
	"github.com/dgallion1/studypack/internal/studyguide"
)

type fakeGen struct {
	fn    func(ctx context.Context, req generate.Request) (string, error)
	calls atomic.Int32
}

func (f *fakeGen) Generate(ctx context.Context, req generate.Request) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func (f *fakeGen) Model() string { return "fake" }

var titleRe = regexp.MustCompile(`SECTION_TITLE: (.*)`)

func sectionTitle(req generate.Request) string {
	m := titleRe.FindStringSubmatch(req.User)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(gen generate.Generator, cfg Config) (*Dispatcher, *generate.LLMStats) {
	stats := generate.NewLLMStats(time.Hour)
	d := New(gen, budget.Clamper{Tokenizer: budget.NewByteEstimator(4)}, cfg, stats, quietLogger())
	d.backoff = func(int) time.Duration { return time.Millisecond }
	return d, stats
}

func sections(n int) []doctree.Section {
	out := make([]doctree.Section, n)
	for i := range out {
		out[i] = doctree.Section{Title: fmt.Sprintf("S%d", i+1), Body: fmt.Sprintf("body of section %d", i+1)}
	}
	return out
}

func okReply(req generate.Request) string {
	if req.Shape == generate.ShapeExtras {
		return `{"comprehension":[{"q":"why?","a":["because"]}],"revision":[]}`
	}
	return fmt.Sprintf(`{"section_title":%q,"qa":[{"q":"q for %s","a":["x"]}],"key_topics":["k"]}`, sectionTitle(req), sectionTitle(req))
}

func TestRun_PreservesOrder(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		// Later sections finish first.
		if title := sectionTitle(req); title == "S1" {
			time.Sleep(20 * time.Millisecond)
		}
		return okReply(req), nil
	}}
	d, _ := newTestDispatcher(gen, Config{})

	batch := d.Run(context.Background(), sections(5))
	require.Len(t, batch.Sections, 5)
	for i, r := range batch.Sections {
		assert.Equal(t, fmt.Sprintf("S%d", i+1), r.SectionTitle)
	}
	assert.Zero(t, batch.Fallbacks)
	assert.False(t, batch.ExtrasFailed)
	require.Len(t, batch.Extras.Comprehension, 1)
	assert.EqualValues(t, 6, gen.calls.Load())
}

func TestRun_FaultIsolation(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		if sectionTitle(req) == "S2" {
			return "", errors.New("connection reset")
		}
		return okReply(req), nil
	}}
	d, stats := newTestDispatcher(gen, Config{})

	in := sections(3)
	batch := d.Run(context.Background(), in)
	require.Len(t, batch.Sections, 3)
	assert.Equal(t, 1, batch.Fallbacks)
	assert.Equal(t, "q for S1", batch.Sections[0].QA[0].Question)
	assert.Equal(t, "q for S3", batch.Sections[2].QA[0].Question)
	assert.Equal(t, studyguide.FallbackSection("S2", in[1].Body), batch.Sections[1])
	assert.Error(t, batch.SectionErrors[1])
	assert.NoError(t, batch.SectionErrors[0])

	snap := stats.Snapshot()
	assert.Equal(t, 4, snap.Count)
	assert.Equal(t, 1, snap.Failures)
}

func TestRun_TotalOutage(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		return "", errors.New("service down")
	}}
	d, _ := newTestDispatcher(gen, Config{})

	in := []doctree.Section{
		{Title: "Alpha", Body: strings.Repeat("a", 500)},
		{Title: "Beta", Body: "short body"},
	}
	batch := d.Run(context.Background(), in)
	require.Len(t, batch.Sections, 2)
	assert.Equal(t, 2, batch.Fallbacks)
	assert.True(t, batch.ExtrasFailed)

	for i, r := range batch.Sections {
		assert.Equal(t, in[i].Title, r.SectionTitle)
		require.Len(t, r.QA, 1)
		assert.Equal(t, studyguide.FallbackQuestion, r.QA[0].Question)
		assert.NotNil(t, r.KeyTopics)
		assert.Empty(t, r.KeyTopics)
	}
	assert.Equal(t, strings.Repeat("a", 300), batch.Sections[0].QA[0].Bullets[0])
	assert.Equal(t, "short body", batch.Sections[1].QA[0].Bullets[0])
	assert.NotNil(t, batch.Extras.Comprehension)
	assert.Empty(t, batch.Extras.Comprehension)
	assert.NotNil(t, batch.Extras.Revision)
	assert.Empty(t, batch.Extras.Revision)
}

func TestRun_MalformedReplyFallsBack(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		if req.Shape == generate.ShapeExtras {
			return "not json at all", nil
		}
		return "   ", nil
	}}
	d, _ := newTestDispatcher(gen, Config{})

	batch := d.Run(context.Background(), sections(2))
	assert.Equal(t, 2, batch.Fallbacks)
	assert.True(t, batch.ExtrasFailed)
}

func TestRun_NoSections(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		return okReply(req), nil
	}}
	d, _ := newTestDispatcher(gen, Config{})

	batch := d.Run(context.Background(), nil)
	assert.Empty(t, batch.Sections)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestGenerateSection_TimeoutIsFallback(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d, _ := newTestDispatcher(gen, Config{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	res, o := d.GenerateSection(context.Background(), "Slow", "body")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, o.Fallback)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Equal(t, studyguide.FallbackQuestion, res.QA[0].Question)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestGenerateSection_RetriesTransientErrors(t *testing.T) {
	gen := &fakeGen{}
	gen.fn = func(ctx context.Context, req generate.Request) (string, error) {
		if gen.calls.Load() < 3 {
			return "", &generate.RetryableError{StatusCode: 429, Message: "rate limited"}
		}
		return okReply(req), nil
	}
	d, _ := newTestDispatcher(gen, Config{MaxAttempts: 3})

	res, o := d.GenerateSection(context.Background(), "S1", "body")
	assert.False(t, o.Fallback)
	assert.NoError(t, o.Err)
	assert.Equal(t, "q for S1", res.QA[0].Question)
	assert.EqualValues(t, 3, gen.calls.Load())
}

func TestGenerateSection_RetriesExhausted(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		return "", &generate.RetryableError{StatusCode: 503, Message: "unavailable"}
	}}
	d, _ := newTestDispatcher(gen, Config{MaxAttempts: 2})

	_, o := d.GenerateSection(context.Background(), "S1", "body")
	assert.True(t, o.Fallback)
	assert.True(t, IsRetryable(o.Err))
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestGenerateSection_NoRetryOnPermanentError(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		return "", errors.New("401 unauthorized")
	}}
	d, _ := newTestDispatcher(gen, Config{MaxAttempts: 3})

	_, o := d.GenerateSection(context.Background(), "S1", "body")
	assert.True(t, o.Fallback)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestGenerateSection_SingleAttempt(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		return "", &generate.RetryableError{StatusCode: 429, Message: "rate limited"}
	}}
	d, _ := newTestDispatcher(gen, Config{MaxAttempts: 1})

	_, o := d.GenerateSection(context.Background(), "S1", "body")
	assert.True(t, o.Fallback)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestRun_PanicIsolation(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		if sectionTitle(req) == "S2" {
			var m map[string]int
			m["boom"]++
		}
		return okReply(req), nil
	}}
	d, stats := newTestDispatcher(gen, Config{})

	batch := d.Run(context.Background(), sections(3))
	require.Len(t, batch.Sections, 3)
	assert.Equal(t, 1, batch.Fallbacks)
	assert.False(t, batch.ExtrasFailed)
	assert.Equal(t, "q for S1", batch.Sections[0].QA[0].Question)
	assert.Equal(t, studyguide.FallbackQuestion, batch.Sections[1].QA[0].Question)
	assert.Equal(t, "q for S3", batch.Sections[2].QA[0].Question)
	require.Error(t, batch.SectionErrors[1])
	assert.Contains(t, batch.SectionErrors[1].Error(), "panicked")
	snap := stats.Snapshot()
	assert.Equal(t, 4, snap.Count)
	assert.Equal(t, 1, snap.Failures)
}

func TestGenerateExtras_PanicIsFallback(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		panic("backend exploded")
	}}
	d, _ := newTestDispatcher(gen, Config{})

	res, o := d.GenerateExtras(context.Background(), "text")
	assert.True(t, o.Fallback)
	assert.NotNil(t, res.Comprehension)
	assert.Empty(t, res.Comprehension)
	assert.EqualValues(t, 1, gen.calls.Load())
}

func TestGenerateSection_ClampsBody(t *testing.T) {
	var user string
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		user = req.User
		return okReply(req), nil
	}}
	// 10 tokens at 4 bytes per token.
	d, _ := newTestDispatcher(gen, Config{SectionTokenBudget: 10})

	body := strings.Repeat("x", 40) + strings.Repeat("y", 40)
	_, o := d.GenerateSection(context.Background(), "S1", body)
	require.False(t, o.Fallback)
	assert.Contains(t, user, strings.Repeat("x", 40))
	assert.NotContains(t, user, "xy")
}

func TestGenerateExtras_JoinsBodies(t *testing.T) {
	var user string
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		if req.Shape == generate.ShapeExtras {
			user = req.User
		}
		return okReply(req), nil
	}}
	d, _ := newTestDispatcher(gen, Config{})

	d.Run(context.Background(), sections(2))
	assert.Contains(t, user, "body of section 1\n\nbody of section 2")
}

func TestRunWithProgress_ReportsEverySection(t *testing.T) {
	gen := &fakeGen{fn: func(ctx context.Context, req generate.Request) (string, error) {
		if sectionTitle(req) == "S3" {
			return "", errors.New("boom")
		}
		return okReply(req), nil
	}}
	d, _ := newTestDispatcher(gen, Config{MaxConcurrentCalls: 2})

	var mu sync.Mutex
	seen := map[int]bool{}
	d.RunWithProgress(context.Background(), sections(4), func(i int, o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[i] = o.Fallback
	})
	assert.Equal(t, map[int]bool{0: false, 1: false, 2: true, 3: false}, seen)
}

func TestBackoff(t *testing.T) {
	for attempt := range 8 {
		b := Backoff(attempt)
		base := time.Duration(1<<uint(attempt)) * time.Second
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		assert.GreaterOrEqual(t, b, base)
		assert.Less(t, b, base+base/2)
	}
}
