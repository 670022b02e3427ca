// Package revision keeps the per-resource revision log, the snapshots attached
// to it and the reconstruction of content at any revision.
package revision

import (
	"context"
	"errors"
	"fmt"

	"collab-revisions/internal/domain"
)

var (
	ErrNotFound = errors.New("revision not found")
	// ErrDuplicateSubmission means the (resource, author, submission) key is
	// already in the log.
	ErrDuplicateSubmission = errors.New("submission already committed")
	// ErrRevisionTaken means another writer committed the same number first.
	ErrRevisionTaken = errors.New("revision number already taken")
	ErrNoTransaction = errors.New("operation requires a transaction")
)

// TailBatchSize bounds how many revisions are read per query while folding.
const TailBatchSize = 500

// Ref identifies the resource a revision log belongs to.
type Ref struct {
	Kind domain.ResourceKind
	ID   uint64
}

// LockKey is the advisory lock key of the resource, e.g. "document-12".
func (r Ref) LockKey() string {
	return fmt.Sprintf("%s-%d", r.Kind, r.ID)
}

func (r Ref) String() string { return r.LockKey() }

// Reader is the read side of the log. Readers never lock.
type Reader interface {
	Latest(ctx context.Context, ref Ref) (*domain.Revision, error)
	LatestAtOrBefore(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error)
	// LatestSnapshot returns the newest revision at or before number that
	// carries a snapshot.
	LatestSnapshot(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error)
	// ListRange returns revisions with from <= number <= to in ascending order.
	// A limit of 0 means no limit.
	ListRange(ctx context.Context, ref Ref, from, to uint64, limit int) ([]domain.Revision, error)
	FindBySubmission(ctx context.Context, ref Ref, authorID uint64, submissionID string) (*domain.Revision, error)
}

// Tx is an atomic scope over the log.
type Tx interface {
	Reader
	// LockResource blocks until the resource lock is held. The lock is
	// released when the transaction ends.
	LockResource(ctx context.Context, ref Ref) error
	Append(ctx context.Context, rev *domain.Revision) error
}

type Store interface {
	Reader
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	// SaveSnapshot attaches data to an existing revision. A revision that
	// already has a snapshot is left untouched.
	SaveSnapshot(ctx context.Context, ref Ref, number uint64, data []byte) error
}

// ListAfter pages through revisions newer than after.
func ListAfter(ctx context.Context, r Reader, ref Ref, after uint64, limit int) ([]domain.Revision, error) {
	if after == ^uint64(0) {
		return []domain.Revision{}, nil
	}
	return r.ListRange(ctx, ref, after+1, MaxNumber, limit)
}

// MaxNumber is the open upper bound for ListRange. Postgres bigint caps it.
const MaxNumber = uint64(1<<63 - 1)
