package agent

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxPromptChars is the hard limit applied to user prompts.
	MaxPromptChars = 1000
	// PromptPreviewChars bounds the preview carried by response-start events.
	PromptPreviewChars = 140
	// EmptyPromptDetail is reported when nothing is left after sanitization.
	EmptyPromptDetail = "Empty or invalid prompt after sanitization."
)

// ErrEmptyPrompt is returned by Sanitize when the prompt has no content.
var ErrEmptyPrompt = errors.New("empty or invalid prompt after sanitization")

// Sanitize normalizes a user prompt: NFKC, LF line endings, no control
// characters other than tab and newline, trimmed and capped at MaxPromptChars.
func Sanitize(prompt string) (string, error) {
	s := norm.NFKC.String(prompt)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	s = truncateRunes(s, MaxPromptChars)
	if s == "" {
		return "", ErrEmptyPrompt
	}
	return s, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
