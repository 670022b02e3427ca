package revision

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-revisions/internal/domain"
)

// MemoryStore is an in-process Store. Writes are staged per transaction and
// published on commit; the resource lock is a per-key semaphore.
type MemoryStore struct {
	mu     sync.RWMutex
	logs   map[Ref][]domain.Revision
	nextID uint64
	locks  *lockTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:  make(map[Ref][]domain.Revision),
		locks: newLockTable(),
	}
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{store: s, held: map[string]bool{}}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.staged)
}

func (s *MemoryStore) commit(staged []domain.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// re-check the unique indexes against whatever committed meanwhile
	for _, rev := range staged {
		ref := Ref{Kind: rev.ResourceKind, ID: rev.ResourceID}
		if err := checkAppend(s.logs[ref], rev); err != nil {
			return err
		}
		s.nextID++
		rev.ID = s.nextID
		s.logs[ref] = append(s.logs[ref], rev)
	}
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, ref Ref, number uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[ref]
	if number >= uint64(len(log)) {
		return ErrNotFound
	}
	if log[number].Snapshot == nil {
		log[number].Snapshot = append([]byte(nil), data...)
	}
	return nil
}

func (s *MemoryStore) view(ref Ref) []domain.Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Revision(nil), s.logs[ref]...)
}

func (s *MemoryStore) Latest(ctx context.Context, ref Ref) (*domain.Revision, error) {
	return latestAtOrBefore(s.view(ref), MaxNumber, false)
}

func (s *MemoryStore) LatestAtOrBefore(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	return latestAtOrBefore(s.view(ref), number, false)
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	return latestAtOrBefore(s.view(ref), number, true)
}

func (s *MemoryStore) ListRange(ctx context.Context, ref Ref, from, to uint64, limit int) ([]domain.Revision, error) {
	return listRange(s.view(ref), from, to, limit), nil
}

func (s *MemoryStore) FindBySubmission(ctx context.Context, ref Ref, authorID uint64, submissionID string) (*domain.Revision, error) {
	return findBySubmission(s.view(ref), authorID, submissionID)
}

type memoryTx struct {
	store  *MemoryStore
	staged []domain.Revision
	held   map[string]bool
	done   bool
}

func (t *memoryTx) release() {
	t.done = true
	for key := range t.held {
		t.store.locks.release(key)
	}
}

func (t *memoryTx) LockResource(ctx context.Context, ref Ref) error {
	if t.done {
		return ErrNoTransaction
	}
	key := ref.LockKey()
	if t.held[key] {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	return nil
}

func (t *memoryTx) Append(ctx context.Context, rev *domain.Revision) error {
	if t.done {
		return ErrNoTransaction
	}
	ref := Ref{Kind: rev.ResourceKind, ID: rev.ResourceID}
	if err := checkAppend(t.view(ref), *rev); err != nil {
		return err
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	staged := *rev
	staged.Operation = append([]byte(nil), rev.Operation...)
	if rev.Snapshot != nil {
		staged.Snapshot = append([]byte(nil), rev.Snapshot...)
	}
	t.staged = append(t.staged, staged)
	return nil
}

// view is the committed log plus this transaction's staged revisions.
func (t *memoryTx) view(ref Ref) []domain.Revision {
	log := t.store.view(ref)
	for _, rev := range t.staged {
		if rev.ResourceKind == ref.Kind && rev.ResourceID == ref.ID {
			log = append(log, rev)
		}
	}
	return log
}

func (t *memoryTx) Latest(ctx context.Context, ref Ref) (*domain.Revision, error) {
	return latestAtOrBefore(t.view(ref), MaxNumber, false)
}

func (t *memoryTx) LatestAtOrBefore(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	return latestAtOrBefore(t.view(ref), number, false)
}

func (t *memoryTx) LatestSnapshot(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	return latestAtOrBefore(t.view(ref), number, true)
}

func (t *memoryTx) ListRange(ctx context.Context, ref Ref, from, to uint64, limit int) ([]domain.Revision, error) {
	return listRange(t.view(ref), from, to, limit), nil
}

func (t *memoryTx) FindBySubmission(ctx context.Context, ref Ref, authorID uint64, submissionID string) (*domain.Revision, error) {
	return findBySubmission(t.view(ref), authorID, submissionID)
}

// checkAppend enforces the two unique indexes of the revisions table and
// keeps numbers contiguous.
func checkAppend(log []domain.Revision, rev domain.Revision) error {
	for _, existing := range log {
		if existing.AuthorID == rev.AuthorID && existing.SubmissionID == rev.SubmissionID {
			return ErrDuplicateSubmission
		}
	}
	if rev.Number != uint64(len(log)) {
		return ErrRevisionTaken
	}
	return nil
}

func latestAtOrBefore(log []domain.Revision, number uint64, withSnapshot bool) (*domain.Revision, error) {
	// log[i].Number == i
	i := sort.Search(len(log), func(i int) bool { return log[i].Number > number }) - 1
	for ; i >= 0; i-- {
		if !withSnapshot || log[i].Snapshot != nil {
			rev := log[i]
			return &rev, nil
		}
	}
	return nil, ErrNotFound
}

func listRange(log []domain.Revision, from, to uint64, limit int) []domain.Revision {
	out := []domain.Revision{}
	for _, rev := range log {
		if rev.Number < from || rev.Number > to {
			continue
		}
		rev.Snapshot = nil
		out = append(out, rev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func findBySubmission(log []domain.Revision, authorID uint64, submissionID string) (*domain.Revision, error) {
	for _, rev := range log {
		if rev.AuthorID == authorID && rev.SubmissionID == submissionID {
			rev.Snapshot = nil
			return &rev, nil
		}
	}
	return nil, ErrNotFound
}

// lockTable hands out one single-slot semaphore per key.
type lockTable struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{sems: make(map[string]chan struct{})}
}

func (l *lockTable) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	sem, ok := l.sems[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[key] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	sem := l.sems[key]
	l.mu.Unlock()
	<-sem
}
