package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"plain", "hello", nil},
		{"unicode", "merhaba dünya 👋", nil},
		{"empty", "", ErrEmpty},
		{"whitespace only", " \t\n ", ErrEmpty},
		{"max chars", strings.Repeat("a", MaxTextChars), nil},
		{"too many chars", strings.Repeat("a", MaxTextChars+1), ErrTooLarge},
		{"too many bytes", strings.Repeat("ü", MaxMessageBytes/2+1), ErrTooLarge},
		{"invalid utf8", "bad \xff byte", ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("ValidateMessage() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateMessage() = %v, want %v", err, tt.want)
			}
		})
	}
}
