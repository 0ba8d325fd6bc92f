package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cv-optimizer/internal/domain"
	"cv-optimizer/internal/infrastructure/migration"
	"cv-optimizer/internal/usecase"
)

func sampleJob(id string, version int64) *domain.Job {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Job{
		ID:               id,
		Status:           domain.StatusPending,
		JobURL:           "https://jobs.example.com/1",
		OriginalDocument: "<p>cv</p>",
		RefinementLevel:  5,
		TabSessionID:     "tab-a",
		Version:          version,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func exerciseJobStore(t *testing.T, s usecase.JobStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	j := sampleJob("job1", 1)
	if err := s.Put(ctx, j); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobURL != j.JobURL || got.TabSessionID != "tab-a" || got.Version != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := s.Put(ctx, sampleJob("job1", 1)); !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("same version should be stale, got %v", err)
	}

	got.Status = domain.StatusQueued
	got.Version = 2
	if err := s.Put(ctx, got); err != nil {
		t.Fatalf("newer put: %v", err)
	}
	again, _ := s.Get(ctx, "job1")
	if again.Status != domain.StatusQueued {
		t.Fatalf("status not persisted: %s", again.Status)
	}
}

func TestMemoryJobStore(t *testing.T) {
	exerciseJobStore(t, NewMemoryJobStore())
}

func TestFileJobStore(t *testing.T) {
	s, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseJobStore(t, s)

	if err := s.Put(context.Background(), sampleJob("../escape", 1)); err == nil {
		t.Fatalf("path traversal id must be rejected")
	}
}

func TestCachedJobStore(t *testing.T) {
	backend := NewMemoryJobStore()
	s := NewCachedJobStore(backend, nil)
	exerciseJobStore(t, s)

	// Another writer advances the backend. Non-terminal reads see it at
	// once and a write based on the old copy is rejected.
	ctx := context.Background()
	old, _ := s.Get(ctx, "job1")
	newer := sampleJob("job1", 5)
	newer.Status = domain.StatusProcessing
	if err := backend.Put(ctx, newer); err != nil {
		t.Fatalf("backend put: %v", err)
	}
	if got, err := s.Get(ctx, "job1"); err != nil || got.Status != domain.StatusProcessing {
		t.Fatalf("expected backend copy, got %+v %v", got, err)
	}
	old.Version++
	if err := s.Put(ctx, old); !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected stale write, got %v", err)
	}

	// Terminal jobs are served from memory.
	done := newer.Clone()
	if err := done.Complete("<p>refined</p>", "go", nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, done); err != nil {
		t.Fatalf("put completed: %v", err)
	}
	if err := backend.Put(ctx, sampleJob("job1", 99)); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, "job1"); got.Status != domain.StatusCompleted || got.Version != done.Version {
		t.Fatalf("terminal job should come from cache, got %s v%d", got.Status, got.Version)
	}
}

// Two instances share one file backend: the one answering polls must see
// what the one running the task wrote.
func TestCachedJobStoreSharedBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := NewCachedJobStore(backend, nil)
	b := NewCachedJobStore(backend, nil)

	if err := a.Put(ctx, sampleJob("job1", 1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := a.Get(ctx, "job1"); got.Status != domain.StatusPending {
		t.Fatalf("unexpected status %s", got.Status)
	}

	j, err := b.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("b get: %v", err)
	}
	now := time.Now()
	for _, next := range []domain.JobStatus{domain.StatusQueued, domain.StatusProcessing} {
		if err := j.Transition(next, now); err != nil {
			t.Fatal(err)
		}
		if err := b.Put(ctx, j); err != nil {
			t.Fatalf("b put %s: %v", next, err)
		}
		if got, _ := a.Get(ctx, "job1"); got.Status != next {
			t.Fatalf("instance a sees %s, b wrote %s", got.Status, next)
		}
	}
	if err := j.Complete("<p>refined</p>", "go", nil, now); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, j); err != nil {
		t.Fatalf("b put completed: %v", err)
	}
	got, err := a.Get(ctx, "job1")
	if err != nil || got.Status != domain.StatusCompleted || got.RefinedDocument == nil {
		t.Fatalf("instance a did not see completion: %+v %v", got, err)
	}
}

type ledger interface {
	usecase.CreditStore
	usecase.IdempotencyStore
	usecase.FreePassStore
}

func exerciseLedger(t *testing.T, l ledger) {
	t.Helper()
	ctx := context.Background()

	ok, err := l.Debit(ctx, "alice", "job1")
	if err != nil || ok {
		t.Fatalf("debit at zero must fail closed: ok=%v err=%v", ok, err)
	}
	bal, err := l.Credit(ctx, "alice", 2, domain.ReasonBundlePurchase, "order-1")
	if err != nil || bal != 2 {
		t.Fatalf("credit: bal=%d err=%v", bal, err)
	}
	for i := 0; i < 2; i++ {
		if ok, err := l.Debit(ctx, "alice", "job1"); err != nil || !ok {
			t.Fatalf("debit %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.Debit(ctx, "alice", "job1"); ok {
		t.Fatalf("balance must not go negative")
	}
	if bal, _ := l.Balance(ctx, "alice"); bal != 0 {
		t.Fatalf("balance: %d", bal)
	}

	if done, _ := l.HasProcessed(ctx, "webhook:1"); done {
		t.Fatalf("fresh key reported processed")
	}
	if err := l.MarkProcessed(ctx, "webhook:1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := l.MarkProcessed(ctx, "webhook:1"); err != nil {
		t.Fatalf("mark twice: %v", err)
	}
	if done, _ := l.HasProcessed(ctx, "webhook:1"); !done {
		t.Fatalf("key not recorded")
	}

	claim := domain.FreePassClaim{OwnerKey: "bob", FirstName: "B", LastName: "C", Email: "Bob@Example.com", JobID: "j1", ClaimedAt: time.Now()}
	if ok, err := l.Claim(ctx, claim); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := l.Claim(ctx, domain.FreePassClaim{OwnerKey: "carol", FirstName: "x", LastName: "y", Email: "bob@example.com", JobID: "j2", ClaimedAt: time.Now()}); ok {
		t.Fatalf("same email must not claim twice")
	}
	if ok, _ := l.Claim(ctx, domain.FreePassClaim{OwnerKey: "bob", FirstName: "x", LastName: "y", Email: "other@example.com", JobID: "j3", ClaimedAt: time.Now()}); ok {
		t.Fatalf("same owner must not claim twice")
	}
	if used, _ := l.HasUsed(ctx, "bob"); !used {
		t.Fatalf("owner should be marked used")
	}
	list, err := l.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if err := l.Release(ctx, "bob@example.com"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if used, _ := l.HasUsed(ctx, "bob"); used {
		t.Fatalf("release should free the owner")
	}
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger(time.Hour))
}

func TestMemoryLedgerKeyExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLedger(time.Hour)
	l.SetClock(func() time.Time { return now })
	ctx := context.Background()
	_ = l.MarkProcessed(ctx, "k")
	now = now.Add(2 * time.Hour)
	if done, _ := l.HasProcessed(ctx, "k"); done {
		t.Fatalf("key should have expired")
	}
}

func TestSQLiteLedger(t *testing.T) {
	db, err := OpenSQLite(t.TempDir() + "/ledger.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migration.RunSQLiteMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	exerciseLedger(t, NewSQLiteLedger(db))
}

func TestMemoryLedgerConcurrentDebit(t *testing.T) {
	l := NewMemoryLedger(0)
	ctx := context.Background()
	_, _ = l.Credit(ctx, "alice", 5, domain.ReasonBundlePurchase, "o")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Debit(ctx, "alice", "j"); ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 5 {
		t.Fatalf("expected exactly 5 debits, got %d", succeeded)
	}
}
