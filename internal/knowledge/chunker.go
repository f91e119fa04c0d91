package knowledge

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// TextChunk is a window of a document with its rune offsets.
type TextChunk struct {
	Content string
	Start   int
	End     int
}

// SplitText splits text into windows of at most size runes, each starting
// size-overlap runes after the previous one. Whitespace-only input yields no chunks.
func SplitText(text string, size, overlap int) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	total := len(runes)
	step := size - overlap

	var chunks []TextChunk
	for start := 0; start < total; start += step {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, TextChunk{
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == total {
			break
		}
	}
	return chunks
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n\s*`)

// SplitParagraphs packs consecutive paragraphs (separated by blank lines)
// into chunks of at most size runes. A paragraph longer than size is cut into
// overlapping windows as SplitText does. Offsets are in runes of text.
func SplitParagraphs(text string, size, overlap int) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []TextChunk
	curStart, curEnd := -1, -1
	flush := func() {
		if curStart < 0 {
			return
		}
		chunks = append(chunks, TextChunk{
			Content: text[curStart:curEnd],
			Start:   runeOffset(text, curStart),
			End:     runeOffset(text, curEnd),
		})
		curStart, curEnd = -1, -1
	}

	for _, p := range paragraphSpans(text) {
		if utf8.RuneCountInString(text[p[0]:p[1]]) > size {
			flush()
			base := runeOffset(text, p[0])
			for _, w := range SplitText(text[p[0]:p[1]], size, overlap) {
				w.Start += base
				w.End += base
				chunks = append(chunks, w)
			}
			continue
		}
		if curStart >= 0 && utf8.RuneCountInString(text[curStart:p[1]]) > size {
			flush()
		}
		if curStart < 0 {
			curStart = p[0]
		}
		curEnd = p[1]
	}
	flush()
	return chunks
}

// paragraphSpans returns the byte ranges of the non-blank paragraphs of text
// with surrounding whitespace trimmed.
func paragraphSpans(text string) [][2]int {
	var spans [][2]int
	add := func(start, end int) {
		seg := text[start:end]
		left := strings.TrimLeftFunc(seg, unicode.IsSpace)
		s := start + len(seg) - len(left)
		e := s + len(strings.TrimRightFunc(left, unicode.IsSpace))
		if e > s {
			spans = append(spans, [2]int{s, e})
		}
	}

	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		add(prev, loc[0])
		prev = loc[1]
	}
	add(prev, len(text))
	return spans
}

func runeOffset(text string, byteOffset int) int {
	return utf8.RuneCountInString(text[:byteOffset])
}
