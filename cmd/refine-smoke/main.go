package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"cv-optimizer/internal/adapter/repository"
	"cv-optimizer/internal/usecase"
	"cv-optimizer/pkg/ai"
	"cv-optimizer/pkg/diff"
	"cv-optimizer/pkg/infrastructure"
)

// Runs one refinement end to end against a mock model server and a mock
// job board, using the real fetcher, AI client, diff renderer and inline
// dispatcher.

const jobPage = `<html><body><h1>Senior Go Engineer</h1>
<p>We need Go, Kubernetes and PostgreSQL experience.</p>
<script>track()</script></body></html>`

const originalCV = `<h1>Test User</h1><p>Backend engineer building Python services and REST APIs.</p>`

func startMock(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(jobPage))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		out := "Go, Kubernetes, PostgreSQL"
		if strings.Contains(prompt, "CV:") {
			out = "```html\n<h1>Test User</h1><p>Backend engineer building Go services on Kubernetes and PostgreSQL.</p>\n```"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": out}}},
		})
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("smoke.mock.listen_failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("smoke.mock.failed", "error", err)
		}
	}()
	return srv
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8099", "mock server address")
	level := flag.Int("level", 6, "refinement level 1-10")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := startMock(*addr)
	defer srv.Shutdown(context.Background())
	base := "http://" + *addr

	ledger := repository.NewMemoryLedger(time.Hour)
	inline := usecase.NewInlineDispatcher(logger, usecase.WithRunTimeout(time.Minute))
	engine := ai.NewClient(base+"/v1", "test-key", "")
	engine.Logger = logger

	coord := usecase.NewCoordinator(usecase.Deps{
		Jobs:       repository.NewMemoryJobStore(),
		Credits:    ledger,
		Keys:       ledger,
		FreePasses: ledger,
		Dispatcher: inline,
		Fetcher:    infrastructure.NewHTTPPageFetcher(),
		Engine:     engine,
		Differ:     diff.NewRenderer(),
	}, usecase.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	job, err := coord.CreateJob(ctx, usecase.JobInput{
		JobURL:           base + "/job",
		OriginalDocument: originalCV,
		RefinementLevel:  *level,
	})
	if err != nil {
		fmt.Printf("create failed: %v\n", err)
		os.Exit(1)
	}
	res, err := coord.StartRefinement(ctx, job.ID, usecase.Trigger{Kind: usecase.TriggerDirect})
	if err != nil || res.Outcome != usecase.OutcomeStarted {
		fmt.Printf("start failed: %v (%s)\n", err, res.Outcome)
		os.Exit(1)
	}
	inline.Wait()

	view, err := coord.CheckStatus(ctx, job.ID, job.TabSessionID)
	if err != nil {
		fmt.Printf("status failed: %v\n", err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(b))
	if view.Status != "completed" {
		os.Exit(1)
	}
}
