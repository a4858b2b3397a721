package util

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into word-aligned chunks of at most size runes.
// Consecutive chunks share up to overlap runes of trailing words. A single
// word longer than size becomes its own chunk.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); {
		end, n := start, 0
		for end < len(words) {
			w := utf8.RuneCountInString(words[end])
			if end > start {
				w++
			}
			if end > start && n+w > size {
				break
			}
			n += w
			end++
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		next, kept := end, 0
		for next > start+1 {
			w := utf8.RuneCountInString(words[next-1]) + 1
			if kept+w > overlap {
				break
			}
			kept += w
			next--
		}
		start = next
	}
	return out
}
