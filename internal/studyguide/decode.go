package studyguide

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FallbackQuestion is asked when a section could not be generated.
const FallbackQuestion = "Summary of this section?"

// FallbackExcerptLen is the rune length of the body excerpt used as the
// fallback answer.
const FallbackExcerptLen = 300

var errEmptyResponse = errors.New("empty response")

var codeBlockRe = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// DecodeSection parses a section response. Missing fields are backfilled:
// the title from the requested section, lists with empty values. QA beyond
// maxQA (when positive) and bullets beyond MaxBullets are dropped.
func DecodeSection(raw, title string, maxQA int) (SectionResult, error) {
	text := stripCodeBlock(raw)
	if text == "" || text == "null" {
		return SectionResult{}, errEmptyResponse
	}
	var res SectionResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return SectionResult{}, fmt.Errorf("parse section json: %w (raw: %s)", err, truncate(text, 200))
	}
	if strings.TrimSpace(res.SectionTitle) == "" {
		res.SectionTitle = title
	}
	res.QA = cleanQA(res.QA, maxQA)
	res.KeyTopics = cleanStrings(res.KeyTopics)
	return res, nil
}

// DecodeExtras parses a whole-document response, backfilling missing lists.
func DecodeExtras(raw string) (ExtraResult, error) {
	text := stripCodeBlock(raw)
	if text == "" || text == "null" {
		return ExtraResult{}, errEmptyResponse
	}
	var res ExtraResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return ExtraResult{}, fmt.Errorf("parse extras json: %w (raw: %s)", err, truncate(text, 200))
	}
	res.Comprehension = cleanQA(res.Comprehension, 0)
	res.Revision = cleanQA(res.Revision, 0)
	return res, nil
}

// FallbackSection is the deterministic stand-in for a failed section call.
func FallbackSection(title, body string) SectionResult {
	return SectionResult{
		SectionTitle: title,
		QA: []QA{{
			Question: FallbackQuestion,
			Bullets:  Bullets{excerpt(body, FallbackExcerptLen)},
		}},
		KeyTopics: []string{},
	}
}

// FallbackExtras is the deterministic stand-in for a failed extras call.
func FallbackExtras() ExtraResult {
	return ExtraResult{Comprehension: []QA{}, Revision: []QA{}}
}

func cleanQA(in []QA, maxQA int) []QA {
	out := make([]QA, 0, len(in))
	for _, qa := range in {
		qa.Question = strings.TrimSpace(qa.Question)
		if qa.Question == "" {
			continue
		}
		bullets := cleanStrings(qa.Bullets)
		if len(bullets) > MaxBullets {
			bullets = bullets[:MaxBullets]
		}
		qa.Bullets = bullets
		out = append(out, qa)
		if maxQA > 0 && len(out) == maxQA {
			break
		}
	}
	return out
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "-•*"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
