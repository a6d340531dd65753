package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text into passages of at most maxLen runes for indexing.
// Paragraphs are packed together while they fit; a paragraph longer than
// maxLen is split on word boundaries.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultOptions().MaxContextLength
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	add := func(piece, sep string) {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+len(sep)+utf8.RuneCountInString(piece) > maxLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= maxLen {
			add(para, ContextSeparator)
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			for utf8.RuneCountInString(word) > maxLen {
				flush()
				r := []rune(word)
				chunks = append(chunks, string(r[:maxLen]))
				word = string(r[maxLen:])
			}
			add(word, " ")
		}
		flush()
	}
	flush()
	return chunks
}
