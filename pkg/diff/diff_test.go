package diff

import (
	"strings"
	"testing"
)

func TestRenderMarksWordChanges(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("<p>Built APIs in Python</p>", "<p>Built scalable APIs in Go</p>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `<span class="diff-added">scalable `) && !strings.Contains(out, `<span class="diff-added"> scalable`) {
		t.Fatalf("insertion not marked: %s", out)
	}
	if !strings.Contains(out, `<span class="diff-removed">Python</span>`) || !strings.Contains(out, `<span class="diff-added">Go</span>`) {
		t.Fatalf("replacement not marked: %s", out)
	}
	if !strings.HasPrefix(out, "Built") {
		t.Fatalf("unchanged prefix lost: %s", out)
	}
}

func TestRenderEscapesText(t *testing.T) {
	out, _ := NewRenderer().Render("<p>a</p>", "<p>a &lt;b&gt;</p>")
	if strings.Contains(out, "<b>") || !strings.Contains(out, "&lt;b&gt;") {
		t.Fatalf("text not escaped: %s", out)
	}
}

func TestRenderIdenticalHasNoMarkup(t *testing.T) {
	out, _ := NewRenderer().Render("<div>same  text</div>", "same text")
	if out != "same text" {
		t.Fatalf("got %q", out)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	s := "one  two\tthree"
	if strings.Join(tokenize(s), "") != s {
		t.Fatalf("tokenize lost characters: %q", tokenize(s))
	}
}

func TestEncoderManyTokens(t *testing.T) {
	e := newEncoder()
	var toks []string
	for i := 0; i < 7000; i++ {
		toks = append(toks, strings.Repeat("x", i%50)+string(rune('a'+i%26))+strings.Repeat("y", i/50))
	}
	runes := e.encode(toks)
	if got := e.decode(string(runes)); got != strings.Join(toks, "") {
		t.Fatalf("decode mismatch for large vocabulary")
	}
}
