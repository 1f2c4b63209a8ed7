package digest

import (
	"strings"
	"testing"
	"time"
)

func TestFormatMessagesEscapesReservedCharacters(t *testing.T) {
	body := "Markets closed lower. Revenue (est.) missed!"
	at := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

	msgs := FormatMessages(body, at)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]

	if !strings.Contains(got, `\(est\.\)`) {
		t.Fatalf("expected escaped parens and dot, got %q", got)
	}
	if !strings.Contains(got, `missed\!`) {
		t.Fatalf("expected escaped exclamation, got %q", got)
	}
	if !strings.Contains(got, `2026\-08\-03 09:30 UTC`) {
		t.Fatalf("expected timestamp line, got %q", got)
	}
}

func TestFormatMessagesNormalizesBulletLines(t *testing.T) {
	body := "Topic one\n- first point\n* second point\n• third point"
	at := time.Now().UTC()

	msgs := FormatMessages(body, at)
	got := msgs[0]

	if strings.Count(got, "•  ") != 3 {
		t.Fatalf("expected 3 normalized bullet lines, got %q", got)
	}
	if strings.Contains(got, `\•`) {
		t.Fatalf("bullet character must not be escaped: %q", got)
	}
}

func TestFormatMessagesEscapeIsIdempotent(t *testing.T) {
	body := "already-escaped: 50% done (ok)."
	once := escapeRun(body)
	twice := escapeRun(once)
	if once != twice {
		t.Fatalf("escape must be idempotent: once=%q twice=%q", once, twice)
	}
}

func TestFormatMessagesSplitsOversizedBodyWithNumberedHeaders(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 200; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 10))
	}
	body := strings.Join(paragraphs, "\n\n")

	msgs := FormatMessages(body, time.Now().UTC())
	if len(msgs) < 2 {
		t.Fatalf("expected body to split into multiple messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if len(msg) > messageLimit {
			t.Fatalf("message %d exceeds limit: %d bytes", i, len(msg))
		}
		marker := "(" + itoa(i+1) + "/" + itoa(len(msgs)) + ")"
		if !strings.Contains(msg, escapedMarker(marker)) {
			t.Fatalf("message %d missing pagination marker %q: %q", i, marker, msg)
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func escapedMarker(marker string) string {
	return strings.NewReplacer("(", `\(`, ")", `\)`).Replace(marker)
}
