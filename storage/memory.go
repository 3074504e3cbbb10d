package storage

import (
	"sort"
	"sync"

	"flatbot/models"
)

// MemoryStore is an in-memory ListingStore with the same semantics as the
// Postgres store. Used by tests and dry runs.
type MemoryStore struct {
	mu          sync.Mutex
	listings    map[string]*models.Listing
	maxAttempts int
}

// NewMemoryStore creates an empty MemoryStore with the given failure bound.
func NewMemoryStore(maxAttempts int) *MemoryStore {
	return &MemoryStore{
		listings:    make(map[string]*models.Listing),
		maxAttempts: maxAttempts,
	}
}

func key(source, id string) string { return source + "/" + id }

func (ms *MemoryStore) Insert(l *models.Listing) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := key(l.Source, l.ID)
	if _, exists := ms.listings[k]; exists {
		return ErrAlreadyExists
	}
	cp := *l
	cp.Processed = false
	cp.Failures = 0
	ms.listings[k] = &cp
	return nil
}

func (ms *MemoryStore) Exists(source, id string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.listings[key(source, id)]
	return ok, nil
}

func (ms *MemoryStore) Get(source, id string) (*models.Listing, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	l, ok := ms.listings[key(source, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (ms *MemoryStore) Update(l *models.Listing) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cur, ok := ms.listings[key(l.Source, l.ID)]
	if !ok {
		return ErrNotFound
	}
	cp := *l
	// processed is monotonic; failures belong to IncrementFailures
	cp.Processed = cur.Processed || l.Processed
	cp.Failures = cur.Failures
	ms.listings[key(l.Source, l.ID)] = &cp
	return nil
}

func (ms *MemoryStore) MarkProcessed(source, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	l, ok := ms.listings[key(source, id)]
	if !ok {
		return ErrNotFound
	}
	l.Processed = true
	return nil
}

func (ms *MemoryStore) IncrementFailures(source, id string) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	l, ok := ms.listings[key(source, id)]
	if !ok {
		return 0, ErrNotFound
	}
	l.Failures++
	if l.Failures >= ms.maxAttempts {
		l.Processed = true
	}
	return l.Failures, nil
}

func (ms *MemoryStore) SelectEligible() ([]*models.Listing, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*models.Listing
	for _, l := range ms.listings {
		if !l.Processed && l.Failures < ms.maxAttempts {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (ms *MemoryStore) Stats() (Stats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	s := Stats{Total: len(ms.listings)}
	for _, l := range ms.listings {
		if l.Processed {
			s.Processed++
		} else if l.Failures < ms.maxAttempts {
			s.Eligible++
		}
	}
	return s, nil
}

func (ms *MemoryStore) Delete(source, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.listings[key(source, id)]; !ok {
		return ErrNotFound
	}
	delete(ms.listings, key(source, id))
	return nil
}

func (ms *MemoryStore) Close() error { return nil }
