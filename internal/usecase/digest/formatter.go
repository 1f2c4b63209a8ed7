// Package digest builds and formats the scheduled news digest.
package digest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// messageLimit is the chat platform's per-message byte ceiling.
const messageLimit = 4096

// escapeSet is the reserved character set of the extended-markdown dialect;
// every occurrence outside a pre-marked bold run must be backslash-escaped.
const escapeSet = "_*[]()~`>#+-=|{}.!"

// headerTitle is the localized title placed after the leading emoji.
const headerTitle = "Daily Digest"

// FormatMessages renders body (plain text, either the base digest or a
// translation) into one or more ready-to-send extended-markdown messages
// for the given UTC timestamp. When the escaped result exceeds messageLimit
// it is split on paragraph boundaries and each part is numbered (i/N) in
// its header.
func FormatMessages(body string, at time.Time) []string {
	paragraphs := splitParagraphs(escapeBody(body))
	if len(paragraphs) == 0 {
		paragraphs = []string{""}
	}

	chunks := packParagraphs(paragraphs, messageLimit-headerBudget())
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = header(at, i+1, len(chunks)) + "\n\n" + chunk
	}
	return out
}

// headerBudget reserves room for the longest possible numbered header so
// pagination never itself pushes a message over messageLimit.
func headerBudget() int {
	return len(header(time.Now().UTC(), 99, 99)) + 2
}

func header(at time.Time, index, total int) string {
	title := escapeRun(headerTitle)
	line1 := fmt.Sprintf("📰 *%s*", title)
	if total > 1 {
		line1 = fmt.Sprintf("📰 *%s* \\(%d/%d\\)", title, index, total)
	}
	line2 := escapeRun(at.UTC().Format("2006-01-02 15:04") + " UTC")
	return line1 + "\n" + line2
}

// escapeBody normalizes bullet lines and applies the extended-markdown
// escaper to the whole text, leaving bullet prefixes unescaped.
func escapeBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		leading := line[:len(line)-len(trimmed)]
		first, firstSize := utf8.DecodeRuneInString(trimmed)
		if first == '•' || first == '-' || first == '*' {
			rest := strings.TrimLeft(trimmed[firstSize:], " ")
			lines[i] = leading + "•  " + escapeRun(rest)
			continue
		}
		lines[i] = leading + escapeRun(trimmed)
	}
	return strings.Join(lines, "\n")
}

// Escape applies the extended-markdown escaper to an arbitrary plain-text
// string. Callers outside the digest body pipeline (webhook replies,
// admin alerts) use this to stay safe under the same parse_mode.
func Escape(s string) string {
	return escapeRun(s)
}

// escapeRun applies the reserved-character escaper to a plain-text run; it
// is idempotent because it only ever inserts a backslash before a reserved
// character that is not already preceded by one.
func escapeRun(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	runes := []rune(s)
	for i, r := range runes {
		if strings.ContainsRune(escapeSet, r) {
			if i > 0 && runes[i-1] == '\\' {
				b.WriteRune(r)
				continue
			}
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitParagraphs breaks text on blank-line boundaries (two or more
// consecutive newlines), trimming surrounding newlines from each part.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.Trim(p, "\n")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// packParagraphs greedily packs whole paragraphs into chunks no larger than
// limit bytes, joining packed paragraphs with a blank line. A single
// paragraph that itself exceeds limit is placed alone in its own chunk.
func packParagraphs(paragraphs []string, limit int) []string {
	if limit < 1 {
		limit = messageLimit
	}
	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		candidateLen := current.Len()
		if candidateLen > 0 {
			candidateLen += 2
		}
		candidateLen += len(p)

		if current.Len() > 0 && candidateLen > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
