package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeInput_SizeLimit(t *testing.T) {
	limit := DefaultMaxInputSize

	cases := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"under limit", limit - 1, false},
		{"exact limit", limit, false},
		{"over limit", limit + 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SanitizeInput(strings.Repeat("a", tc.size))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeInput_ControlChars(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "transcribe my audio", "transcribe my audio"},
		{"keeps newline and tab", "line one\n\tline two", "line one\n\tline two"},
		{"strips ansi escape", "red\x1b[31mtext", "red[31mtext"},
		{"strips null and bell", "a\x00b\x07c", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeInput(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeInput_InvalidUTF8(t *testing.T) {
	_, err := SanitizeInput("bad\xff\xfeinput")
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestSanitizeInput_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "10")

	_, err := SanitizeInput(strings.Repeat("a", 11))
	assert.ErrorIs(t, err, ErrInputTooLarge)

	got, err := SanitizeInput("short")
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}
