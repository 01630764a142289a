package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

var (
	spaceRun      = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	trailingSpace = regexp.MustCompile(` +\n`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

type separator struct {
	text []rune
	keep int // runes of the separator that stay at the end of the chunk
}

func sep(s string, keep int) separator {
	return separator{text: []rune(s), keep: keep}
}

// boundary levels, most natural first
var boundaryLevels = [][]separator{
	{sep("\n\n", 0)},
	{sep("\n", 0)},
	{sep(". ", 1), sep("? ", 1), sep("! ", 1)},
	{sep("; ", 1)},
	{sep(" ", 0)},
}

// Chunker splits document text into overlapping chunks of bounded length.
// Lengths are counted in runes.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker returns a Chunker producing chunks of at most maxSize runes,
// consecutive chunks sharing overlap runes.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 || overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkParams, maxSize, overlap)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

func (c *Chunker) MaxSize() int { return c.maxSize }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks. Each window is cut at the most natural
// boundary it contains (paragraph, line, sentence, clause, word) and
// hard-cut at MaxSize when it contains none. The next window starts
// Overlap runes before the previous cut. Windows holding only whitespace
// are dropped.
func (c *Chunker) Split(text string) []string {
	r := []rune(normalizeText(text))
	n := len(r)
	if n == 0 {
		return nil
	}

	var chunks []string
	pos := 0
	for pos < n {
		if n-pos <= c.maxSize {
			chunks = appendChunk(chunks, r[pos:])
			break
		}

		cut := c.cutPoint(r, pos)
		chunks = appendChunk(chunks, r[pos:cut])

		next := cut - c.overlap
		if c.overlap == 0 {
			for next < n && unicode.IsSpace(r[next]) {
				next++
			}
		}
		pos = next
	}
	return chunks
}

func appendChunk(chunks []string, r []rune) []string {
	s := string(r)
	if strings.TrimSpace(s) == "" {
		return chunks
	}
	return append(chunks, s)
}

// cutPoint returns an end position in (pos+overlap, pos+maxSize].
func (c *Chunker) cutPoint(r []rune, pos int) int {
	from, to := pos+c.overlap, pos+c.maxSize
	for _, level := range boundaryLevels {
		best := -1
		for _, s := range level {
			if cut := lastCut(r, s, from, to); cut > best {
				best = cut
			}
		}
		if best > 0 {
			return best
		}
	}
	return to
}

// lastCut finds the last occurrence of s whose cut position lies in (from, to].
func lastCut(r []rune, s separator, from, to int) int {
	for i := to - s.keep; i+s.keep > from; i-- {
		if i+len(s.text) > len(r) {
			continue
		}
		if hasRunes(r[i:], s.text) {
			return i + s.keep
		}
	}
	return -1
}

func hasRunes(r, prefix []rune) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i := range prefix {
		if r[i] != prefix[i] {
			return false
		}
	}
	return true
}

// normalizeText tidies PDF extraction output so that boundaries are found
// consistently: unix newlines, single spaces, at most one blank line.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRun.ReplaceAllString(text, " ")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
