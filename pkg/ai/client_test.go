package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cv-optimizer/pkg/retry"
)

func newTestServer(t *testing.T, status int, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
			})
			return
		}
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestRefineDocumentStripsFence(t *testing.T) {
	srv, req := newTestServer(t, http.StatusOK, "```html\n<p>hi</p>\n```")
	c := NewClient(srv.URL, "k", "")
	out, err := c.RefineDocument(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if out != "<p>hi</p>" {
		t.Fatalf("got %q", out)
	}
	if req.Model != "o4-mini" || len(req.Messages) != 1 || req.Messages[0].Content != "prompt" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExtractKeywordsSendsJobText(t *testing.T) {
	srv, req := newTestServer(t, http.StatusOK, "go, postgres")
	c := NewClient(srv.URL, "k", "gpt-test")
	kw, err := c.ExtractKeywords(context.Background(), "We need Go engineers")
	if err != nil || kw != "go, postgres" {
		t.Fatalf("got %q %v", kw, err)
	}
	if !strings.Contains(req.Messages[0].Content, "We need Go engineers") {
		t.Fatalf("job text missing from prompt")
	}
}

func TestClientErrorsArePermanentExceptRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusBadRequest, "")
	_, err := NewClient(srv.URL, "k", "").ExtractKeywords(context.Background(), "x")
	if !retry.IsPermanent(err) {
		t.Fatalf("400 should be permanent: %v", err)
	}

	srv2, _ := newTestServer(t, http.StatusTooManyRequests, "")
	_, err = NewClient(srv2.URL, "k", "").ExtractKeywords(context.Background(), "x")
	if err == nil || retry.IsPermanent(err) {
		t.Fatalf("429 should be retryable: %v", err)
	}

	srv3, _ := newTestServer(t, http.StatusBadGateway, "")
	_, err = NewClient(srv3.URL, "k", "").ExtractKeywords(context.Background(), "x")
	if err == nil || retry.IsPermanent(err) {
		t.Fatalf("502 should be retryable: %v", err)
	}
}

func TestStripMarkdownFence(t *testing.T) {
	cases := map[string]string{
		"plain":                 "plain",
		"```\n<b>x</b>\n```":    "<b>x</b>",
		"  ```html\n<i>y</i>```": "<i>y</i>",
	}
	for in, want := range cases {
		if got := StripMarkdownFence(in); got != want {
			t.Fatalf("StripMarkdownFence(%q) = %q want %q", in, got, want)
		}
	}
}

func TestRefinementPromptTiers(t *testing.T) {
	p := RefinementPrompt("go", "<p>cv</p>", 2)
	if !strings.Contains(p, "minimal edits") || !strings.Contains(p, "Intensity 2 of 10") {
		t.Fatalf("unexpected prompt: %s", p)
	}
	if !strings.Contains(RefinementPrompt("go", "cv", 9), "Rewrite freely") {
		t.Fatalf("aggressive tier missing")
	}
}
