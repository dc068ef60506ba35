package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "fix AI-5", "fix AI-5"},
		{"trims", "  fix AI-5 \n", "fix AI-5"},
		{"crlf", "line one\r\nline two\rline three", "line one\nline two\nline three"},
		{"controls", "fix\x00 AI\x07-5\tnow", "fix AI-5\tnow"},
		{"nfkc", "ｆｉｘ ＡＩ－５", "fix AI-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\x00\x01\n\t"} {
		_, err := Sanitize(in)
		assert.ErrorIs(t, err, ErrEmptyPrompt, "input %q", in)
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got, err := Sanitize(strings.Repeat("é", MaxPromptChars+50))
	require.NoError(t, err)
	assert.Equal(t, MaxPromptChars, utf8.RuneCountInString(got))
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(domain.StepIntake, domain.StepRepoPull))
	assert.True(t, Allowed(domain.StepRemediation, domain.StepSummary))
	assert.True(t, Allowed(domain.StepRepoPull, domain.StepError))
	assert.False(t, Allowed(domain.StepIntake, domain.StepSummary))
	assert.False(t, Allowed(domain.StepSummary, domain.StepIntake))
	assert.False(t, Allowed(domain.StepError, domain.StepError))
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, Strict, ParsePolicy(" Strict "))
	assert.Equal(t, Permissive, ParsePolicy("permissive"))
	assert.Equal(t, Permissive, ParsePolicy("bogus"))
	assert.Equal(t, "strict", Strict.String())
}
