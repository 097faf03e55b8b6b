// Package studyguide holds generation results and assembles them into the
// final study guide.
package studyguide

import (
	"encoding/json"
	"strings"
)

// MaxBullets caps the answer bullets kept per question.
const MaxBullets = 3

// QA is one question with short bullet-point answers.
type QA struct {
	Question string  `json:"q"`
	Bullets  Bullets `json:"a"`
}

// Bullets decodes from either a JSON list of strings or a single string.
type Bullets []string

func (b *Bullets) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*b = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if strings.TrimSpace(one) == "" {
		*b = Bullets{}
	} else {
		*b = Bullets{one}
	}
	return nil
}

// SectionResult is the generated material for one section.
type SectionResult struct {
	SectionTitle string   `json:"section_title"`
	QA           []QA     `json:"qa"`
	KeyTopics    []string `json:"key_topics"`
}

// ExtraResult is the whole-document material.
type ExtraResult struct {
	Comprehension []QA `json:"comprehension"`
	Revision      []QA `json:"revision"`
}

// GuideSection is one section entry of an assembled guide.
type GuideSection struct {
	Title     string   `json:"title"`
	QA        []QA     `json:"qa"`
	KeyTopics []string `json:"key_topics"`
}

// Guide is the assembled, render-agnostic study guide.
type Guide struct {
	ChapterTitle  string         `json:"chapter_title"`
	Sections      []GuideSection `json:"sections"`
	Comprehension []QA           `json:"comprehension"`
	Revision      []QA           `json:"revision"`
}
