package postproc

import (
	"context"
	"regexp"
	"strings"
)

var (
	asciiSpaceRuns = regexp.MustCompile(`[ \t]+`)
	blankLineRuns  = regexp.MustCompile(`\n{3,}`)
)

// japaneseTerminators are sentence-final characters that need no appended
// punctuation.
const japaneseTerminators = "。！？!?」』）)]"

// TextFormatter normalizes recognizer output: consistent line endings,
// collapsed whitespace, and optionally a sentence-final 。.
type TextFormatter struct {
	// EnsurePeriod appends 。 when the text does not already end with
	// terminal punctuation.
	EnsurePeriod bool
}

// NewTextFormatter returns the formatter used for Japanese transcripts.
func NewTextFormatter(ensurePeriod bool) *TextFormatter {
	return &TextFormatter{EnsurePeriod: ensurePeriod}
}

func (f *TextFormatter) Format(_ context.Context, text string) (string, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = asciiSpaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	text = strings.Join(lines, "\n")
	text = blankLineRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if f.EnsurePeriod && text != "" {
		runes := []rune(text)
		last := runes[len(runes)-1]
		if !strings.ContainsRune(japaneseTerminators, last) {
			text += "。"
		}
	}
	return text, nil
}
