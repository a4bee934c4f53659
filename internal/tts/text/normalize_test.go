package text_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/voice-narrator/internal/tts/text"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name     string
		input    string
		language string
		expected string
	}{
		{name: "empty", input: "", language: "en", expected: ""},
		{name: "whitespace only", input: " \t\r\n ", language: "en", expected: ""},
		{name: "collapse spaces", input: "Hello   \t world", language: "en", expected: "Hello world"},
		{name: "single newline joins lines", input: "Hello\r\nworld", language: "en", expected: "Hello world"},
		{
			name:     "paragraphs kept",
			input:    "First paragraph.\n\n\n  Second\nparagraph.",
			language: "en",
			expected: "First paragraph.\n\nSecond paragraph.",
		},
		{
			name:     "smart quotes and dashes",
			input:    "“Wait”—she said… it’s 9–10",
			language: "en",
			expected: `"Wait" - she said... it's 9-10`,
		},
		{name: "references removed", input: "As shown[12] before¹.", language: "en", expected: "As shown before."},
		{name: "english abbreviations", input: "Dr. Smith met Mr. Jones.", language: "en-US", expected: "Doctor Smith met Mister Jones."},
		{name: "spanish abbreviations", input: "El Sr. García, etc.", language: "es", expected: "El Señor García, etcétera"},
		{name: "no table for language", input: "Dr. Müller", language: "de", expected: "Dr. Müller"},
		{name: "invisible characters", input: "\ufeffno\u200bbreak\u00a0space", language: "en", expected: "nobreak space"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input, testCase.language))
		})
	}
}

func TestNormalizer_InvalidUTF8Unchanged(t *testing.T) {
	t.Parallel()

	invalid := string([]byte{'a', 0xff, 'b'})
	assert.Equal(t, invalid, text.NewNormalizer().Normalize(invalid, "en"))
}

func TestChunk(t *testing.T) {
	t.Parallel()

	assert.Nil(t, text.Chunk("   ", 10))
	assert.Equal(t, []string{"short"}, text.Chunk(" short ", 100))

	chunks := text.Chunk("One two. Three four. Five six.", 21)
	assert.Equal(t, []string{"One two. Three four.", "Five six."}, chunks)
}

func TestChunk_LongSentenceSplitsOnWords(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("palabra ", 50)

	chunks := text.Chunk(input, 30)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 30)
		assert.False(t, strings.HasPrefix(chunk, " "))
	}

	assert.Equal(t, strings.Fields(input), strings.Fields(strings.Join(chunks, " ")))
}

func TestChunk_NeverSplitsRunes(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("ñ", 40)

	chunks := text.Chunk(input, 7)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, len(chunk), 7)
	}

	assert.Equal(t, input, strings.Join(chunks, ""))
}
