// Package guardrail screens incoming questions before any dependency is
// called.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rejection explains why a question was refused. It is safe to show to the
// caller.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return fmt.Sprintf("question rejected: %s", r.Reason) }

// blockedPatterns catch the common prompt-injection phrasings. Matching is
// deliberately coarse; the verifiers downstream are the real defense.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard your (system )?prompt`),
	regexp.MustCompile(`(?i)reveal your (system )?prompt`),
}

// Guardrail validates questions against size and content rules.
type Guardrail struct {
	maxQuestionChars int
}

// New creates a guardrail.
func New(maxQuestionChars int) *Guardrail {
	return &Guardrail{maxQuestionChars: maxQuestionChars}
}

// Check returns a *Rejection when the question must not enter the pipeline,
// nil otherwise.
func (g *Guardrail) Check(question string) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return &Rejection{Reason: "question is empty"}
	}
	if !utf8.ValidString(question) {
		return &Rejection{Reason: "question is not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(question); n > g.maxQuestionChars {
		return &Rejection{Reason: fmt.Sprintf("question exceeds %d characters", g.maxQuestionChars)}
	}
	for _, p := range blockedPatterns {
		if p.MatchString(trimmed) {
			return &Rejection{Reason: "question matches a blocked pattern"}
		}
	}
	return nil
}
