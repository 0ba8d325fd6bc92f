package htmltext

import (
	"strings"
	"testing"
)

func TestExtractSkipsScriptsAndCollapsesWhitespace(t *testing.T) {
	page := `<html><head><title>Ignored</title><style>p{}</style></head>
<body>
  <h1>Senior   Go Engineer</h1>
  <script>var x = 1;</script>
  <p>Kubernetes,
     Postgres</p>
  <noscript>enable js</noscript>
</body></html>`
	got, err := Extract(strings.NewReader(page))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "Senior Go Engineer Kubernetes, Postgres" {
		t.Fatalf("got %q", got)
	}
}

func TestFromStringFragment(t *testing.T) {
	if got := FromString("<p>a <b>b</b></p>\n<p>c</p>"); got != "a b c" {
		t.Fatalf("got %q", got)
	}
}
