package telegram

import (
	"strings"
	"testing"

	kit "statusbot/internal/transport"
)

func TestSplitTextShortIsUntouched(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	s := strings.Repeat(line+"\n", 10)
	chunks := splitText(s, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d", i, len(c))
		}
		for _, l := range strings.Split(c, "\n") {
			if l != line {
				t.Fatalf("chunk %d cut inside a line: %q", i, l)
			}
		}
	}
}

func TestSplitTextKeepsCodeFencesBalanced(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	b.WriteString("*PROD*\n```\n")
	for range 20 {
		b.WriteString("| Volume | $1,234.56 |\n")
	}
	b.WriteString("```")
	chunks := splitText(b.String(), 120)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunk(s)", len(chunks))
	}
	for i, c := range chunks {
		if n := strings.Count(c, "```"); n%2 != 0 {
			t.Fatalf("chunk %d has unbalanced fences (%d): %q", i, n, c)
		}
		if len([]rune(c)) > 120 {
			t.Fatalf("chunk %d exceeds limit: %d", i, len([]rune(c)))
		}
	}
}

func TestInlineMarkupTruncatesData(t *testing.T) {
	t.Parallel()
	rm := inlineMarkup([][]kit.Button{
		{{Text: "A", Data: "subscribe:TWAP"}},
		{},
		{{Text: "B", Data: strings.Repeat("x", 80)}},
	})
	if len(rm.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2 (empty rows skipped)", len(rm.InlineKeyboard))
	}
	if got := rm.InlineKeyboard[0][0].Data; got != "subscribe:TWAP" {
		t.Fatalf("data = %q", got)
	}
	if got := len(rm.InlineKeyboard[1][0].Data); got != maxCallbackData {
		t.Fatalf("long data length = %d", got)
	}
}
