// Package diff renders a word-level comparison of two documents as HTML.
package diff

import (
	"html"
	"strings"
	"unicode"

	"cv-optimizer/pkg/htmltext"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Renderer compares the visible text of two HTML documents.
type Renderer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewRenderer() *Renderer {
	return &Renderer{dmp: diffmatchpatch.New()}
}

// Render normalizes both documents to text and marks inserted words with
// span.diff-added and deleted words with span.diff-removed.
func (r *Renderer) Render(original, refined string) (string, error) {
	a := tokenize(htmltext.FromString(original))
	b := tokenize(htmltext.FromString(refined))

	enc := newEncoder()
	diffs := r.dmp.DiffMainRunes(enc.encode(a), enc.encode(b), false)
	diffs = r.dmp.DiffCleanupSemantic(diffs)

	var out strings.Builder
	for _, d := range diffs {
		text := html.EscapeString(enc.decode(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			out.WriteString(`<span class="diff-added">` + text + `</span>`)
		case diffmatchpatch.DiffDelete:
			out.WriteString(`<span class="diff-removed">` + text + `</span>`)
		default:
			out.WriteString(text)
		}
	}
	return out.String(), nil
}

// tokenize splits s into alternating word and whitespace tokens so that
// joining them reproduces s.
func tokenize(s string) []string {
	var tokens []string
	start := 0
	inSpace := false
	for i, ch := range s {
		sp := unicode.IsSpace(ch)
		if i > 0 && sp != inSpace {
			tokens = append(tokens, s[start:i])
			start = i
		}
		inSpace = sp
	}
	if start < len(s) {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// encoder maps each distinct token to one rune so the character differ
// works on whole words.
type encoder struct {
	index  map[string]rune
	tokens []string
}

func newEncoder() *encoder {
	return &encoder{index: make(map[string]rune)}
}

// Private use area plus the supplementary planes, skipping surrogates.
const firstRune = 0xE000

func (e *encoder) encode(tokens []string) []rune {
	out := make([]rune, len(tokens))
	for i, t := range tokens {
		r, ok := e.index[t]
		if !ok {
			r = runeFor(len(e.tokens))
			e.index[t] = r
			e.tokens = append(e.tokens, t)
		}
		out[i] = r
	}
	return out
}

func runeFor(n int) rune {
	r := rune(firstRune + n)
	if r >= 0xF900 {
		// step past the rest of the BMP into plane 15
		r = 0xF0000 + rune(n-(0xF900-firstRune))
	}
	return r
}

func (e *encoder) decode(s string) string {
	var b strings.Builder
	for _, r := range s {
		idx := int(r - firstRune)
		if r >= 0xF0000 {
			idx = int(r-0xF0000) + (0xF900 - firstRune)
		}
		if idx >= 0 && idx < len(e.tokens) {
			b.WriteString(e.tokens[idx])
		}
	}
	return b.String()
}
