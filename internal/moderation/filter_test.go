package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Check(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive", "kill yourself"})

	tests := []struct {
		name  string
		input string
		term  string // "" means the denylist does not match
	}{
		{"whole message", "badword", "badword"},
		{"inside a sentence", "this is badword here", "badword"},
		{"upper case", "BADWORD", "badword"},
		{"mixed case", "BaDwOrD", "badword"},
		{"surrounded by punctuation", "hello, badword!", "badword"},
		{"prefix of a longer word", "badwording", "badword"},
		{"suffix of a longer word", "mybadword", "badword"},
		{"split by a space", "bad word", ""},
		{"phrase", "you should kill yourself now", "kill yourself"},
		{"phrase upper case", "KILL YOURSELF", "kill yourself"},
		{"phrase with other ending", "kill yourselves", ""},
		{"phrase words apart", "kill and yourself", ""},
		{"leet digits", "b4dw0rd", "badword"},
		{"leet symbols", "off3n$!ve", "offensive"},
		{"leet everywhere", "0ff3n$!v3", "offensive"},
		{"clean", "i love this chat", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Check(tt.input)
			if tt.term == "" {
				assert.False(t, got.Profanity(), "Check(%q) = %+v", tt.input, got)
				return
			}
			assert.True(t, got.Blocked)
			assert.True(t, got.Profanity())
			assert.Equal(t, ReasonBlockedKeyword, got.Reason)
			assert.Equal(t, tt.term, got.Term)
		})
	}
}

func TestDefaultFilter(t *testing.T) {
	f := NewFilter()
	require.NotZero(t, f.Len())

	for _, msg := range []string{
		"kill yourself",
		"send nudes",
		"heil hitler",
		"free bitcoin",
		"what the fuck",
	} {
		assert.True(t, f.Check(msg).Profanity(), "Check(%q) should match the denylist", msg)
	}

	// Ordinary words that contain short stems must pass.
	for _, msg := range []string{
		"",
		"hello, how are you?",
		"what class are you in?",
		"I need to assess the situation",
		"the grape harvest was great",
		"a cucumber sandwich",
	} {
		assert.False(t, f.Check(msg).Blocked, "Check(%q) should pass", msg)
	}
}

func TestNewFilterWithTerms_Normalizes(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "Valid", "valid "})

	assert.Equal(t, 1, f.Len())
	got := f.Check("this is VALID")
	assert.Equal(t, "valid", got.Term)
	assert.False(t, NewFilterWithTerms(nil).Check("valid").Blocked)
}

func TestFilter_WithTerms(t *testing.T) {
	base := NewFilterWithTerms([]string{"alpha"})
	f := base.WithTerms([]string{"beta", "ALPHA"})

	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Check("beta").Blocked)
	assert.False(t, base.Check("beta").Blocked, "base filter unchanged")
}

func TestNormalizeLeet(t *testing.T) {
	for in, want := range map[string]string{
		"hello":  "hello",
		"h3ll0":  "hello",
		"$h!t":   "shit",
		"ch@ng3": "change",
		"7r4$h":  "trash",
	} {
		assert.Equal(t, want, normalizeLeet(in), "normalizeLeet(%q)", in)
	}
}

func BenchmarkCheck(b *testing.B) {
	f := NewFilter()
	msg := strings.Repeat("hey how are you doing today? what music do you like? ", 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
