package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"trims ends", "  \n hello world \n\n ", "hello world"},
		{"caps blank lines", "para one\n\n\n\n\npara two", "para one\n\npara two"},
		{"keeps single newline", "line one\nline two", "line one\nline two"},
		{"windows newlines", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"strips control chars", "ab\x00c\x07d\x1fe", "abcde"},
		{"strips c1 controls", "x\u0085y\u009fz\u007f", "xyz"},
		{"space before newline dropped", "a  \n  b", "a\nb"},
		{"empty", "", ""},
		{"only whitespace", " \t\n\r ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_FixedPoint(t *testing.T) {
	inputs := []string{
		"The  quick\n\n\n brown\tfox \x01 jumps",
		"  leading and trailing  ",
		"a\n\nb\nc   d\r\ne",
		"unicode space and em space",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestNormalize(t *testing.T) {
	t.Run("valid text", func(t *testing.T) {
		out, err := Normalize("  This study  examines the results\n\n\nof a method.  ")
		require.NoError(t, err)
		assert.Equal(t, "This study examines the results\n\nof a method.", out)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Normalize("  the   \x00 ")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrEmptyContent)
	})

	t.Run("no function words", func(t *testing.T) {
		_, err := Normalize("xq zzv 1234 ##$% qqqq wwww eeee rrrr tttt")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidContent)
		assert.NotErrorIs(t, err, models.ErrEmptyContent)
	})

	t.Run("idempotent on output", func(t *testing.T) {
		out, err := Normalize("Results of the   study\n\n\n\nare in.")
		require.NoError(t, err)
		again, err := Normalize(out)
		require.NoError(t, err)
		assert.Equal(t, out, again)
	})
}

func TestLooksLikeText(t *testing.T) {
	assert.True(t, LooksLikeText("Data, collected WITH care."))
	assert.True(t, LooksLikeText("(the)"))
	assert.False(t, LooksLikeText("theory andromeda"))
	assert.False(t, LooksLikeText(""))
}
