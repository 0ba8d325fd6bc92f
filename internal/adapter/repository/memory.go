package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cv-optimizer/internal/domain"
)

// checkVersion enforces optimistic concurrency: a write must carry a newer
// version than what is stored.
func checkVersion(stored, incoming *domain.Job) error {
	if stored != nil && incoming.Version <= stored.Version {
		return domain.ErrStaleWrite
	}
	return nil
}

type MemoryJobStore struct {
	jobs map[string]*domain.Job
	mu   sync.RWMutex
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*domain.Job)}
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryJobStore) Put(ctx context.Context, j *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkVersion(s.jobs[j.ID], j); err != nil {
		return err
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// set stores j without the version check.
func (s *MemoryJobStore) set(j *domain.Job) {
	s.mu.Lock()
	s.jobs[j.ID] = j.Clone()
	s.mu.Unlock()
}

func (s *MemoryJobStore) evict(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// MemoryLedger keeps credits, processed keys and free passes in process
// memory. Processed keys expire after ttl.
type MemoryLedger struct {
	mu           sync.Mutex
	credits      map[string]int
	transactions []domain.CreditTransaction
	processed    map[string]time.Time
	passesByMail map[string]domain.FreePassClaim
	passOwners   map[string]string
	ttl          time.Duration
	now          func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		credits:      make(map[string]int),
		processed:    make(map[string]time.Time),
		passesByMail: make(map[string]domain.FreePassClaim),
		passOwners:   make(map[string]string),
		ttl:          ttl,
		now:          time.Now,
	}
}

// SetClock replaces the time source used for key expiry.
func (l *MemoryLedger) SetClock(now func() time.Time) { l.now = now }

func (l *MemoryLedger) Balance(_ context.Context, owner string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[owner], nil
}

func (l *MemoryLedger) Debit(_ context.Context, owner, reference string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.credits[owner] <= 0 {
		return false, nil
	}
	l.credits[owner]--
	l.record(owner, -1, domain.ReasonRedeem, reference)
	return true, nil
}

func (l *MemoryLedger) Credit(_ context.Context, owner string, amount int, reason, reference string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits[owner] += amount
	l.record(owner, amount, reason, reference)
	return l.credits[owner], nil
}

func (l *MemoryLedger) record(owner string, amount int, reason, reference string) {
	l.transactions = append(l.transactions, domain.CreditTransaction{
		OwnerKey: owner, Amount: amount, Reason: reason, Reference: reference, CreatedAt: l.now(),
	})
}

// Transactions returns the audit trail for owner, oldest first.
func (l *MemoryLedger) Transactions(owner string) []domain.CreditTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.CreditTransaction
	for _, t := range l.transactions {
		if t.OwnerKey == owner {
			out = append(out, t)
		}
	}
	return out
}

func (l *MemoryLedger) HasProcessed(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.processed[key]
	if !ok {
		return false, nil
	}
	if l.ttl > 0 && l.now().Sub(at) > l.ttl {
		delete(l.processed, key)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) MarkProcessed(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[key] = l.now()
	return nil
}

func (l *MemoryLedger) HasUsed(_ context.Context, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.passOwners[owner]
	return ok, nil
}

func (l *MemoryLedger) Claim(_ context.Context, c domain.FreePassClaim) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	email := strings.ToLower(c.Email)
	if _, ok := l.passesByMail[email]; ok {
		return false, nil
	}
	if c.OwnerKey != "" {
		if _, ok := l.passOwners[c.OwnerKey]; ok {
			return false, nil
		}
		l.passOwners[c.OwnerKey] = email
	}
	c.Email = email
	l.passesByMail[email] = c
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	email = strings.ToLower(email)
	if c, ok := l.passesByMail[email]; ok {
		delete(l.passOwners, c.OwnerKey)
		delete(l.passesByMail, email)
	}
	return nil
}

func (l *MemoryLedger) List(_ context.Context) ([]domain.FreePassClaim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.FreePassClaim, 0, len(l.passesByMail))
	for _, c := range l.passesByMail {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(out[j].ClaimedAt) })
	return out, nil
}
