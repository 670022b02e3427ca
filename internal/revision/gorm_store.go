package revision

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"collab-revisions/internal/domain"
)

const (
	uniqueViolation = "23505"

	constraintSubmission = "idx_revision_submission"
	constraintNumber     = "idx_revision_number"
)

// GormStore keeps the log in the revisions table.
type GormStore struct {
	gormReader
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{gormReader{db: db}}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{gormReader{db: tx}})
	})
}

func (s *GormStore) SaveSnapshot(ctx context.Context, ref Ref, number uint64, data []byte) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Revision{}).
		Where("resource_kind = ? AND resource_id = ? AND number = ? AND snapshot IS NULL", ref.Kind, ref.ID, number).
		Update("snapshot", data)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// nothing updated: either the snapshot is already there or the revision is missing
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&domain.Revision{}).
		Where("resource_kind = ? AND resource_id = ? AND number = ?", ref.Kind, ref.ID, number).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

type gormTx struct {
	gormReader
}

func (t *gormTx) LockResource(ctx context.Context, ref Ref) error {
	return t.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", ref.LockKey()).Error
}

func (t *gormTx) Append(ctx context.Context, rev *domain.Revision) error {
	err := t.db.WithContext(ctx).Create(rev).Error
	return classifyInsertError(err)
}

// classifyInsertError maps unique violations on the revision indexes to
// sentinel errors.
func classifyInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case constraintSubmission:
			return ErrDuplicateSubmission
		case constraintNumber:
			return ErrRevisionTaken
		}
	}
	return err
}

type gormReader struct {
	db *gorm.DB
}

func (r gormReader) scoped(ctx context.Context, ref Ref) *gorm.DB {
	return r.db.WithContext(ctx).Where("resource_kind = ? AND resource_id = ?", ref.Kind, ref.ID)
}

func (r gormReader) Latest(ctx context.Context, ref Ref) (*domain.Revision, error) {
	var rev domain.Revision
	err := r.scoped(ctx, ref).Order("number DESC").First(&rev).Error
	return found(&rev, err)
}

func (r gormReader) LatestAtOrBefore(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	var rev domain.Revision
	err := r.scoped(ctx, ref).Where("number <= ?", number).Order("number DESC").First(&rev).Error
	return found(&rev, err)
}

func (r gormReader) LatestSnapshot(ctx context.Context, ref Ref, number uint64) (*domain.Revision, error) {
	var rev domain.Revision
	err := r.scoped(ctx, ref).
		Where("number <= ? AND snapshot IS NOT NULL", number).
		Order("number DESC").
		First(&rev).Error
	return found(&rev, err)
}

func (r gormReader) ListRange(ctx context.Context, ref Ref, from, to uint64, limit int) ([]domain.Revision, error) {
	revs := []domain.Revision{}
	query := r.scoped(ctx, ref).
		Omit("snapshot").
		Where("number >= ? AND number <= ?", from, to).
		Order("number ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&revs).Error
	return revs, err
}

func (r gormReader) FindBySubmission(ctx context.Context, ref Ref, authorID uint64, submissionID string) (*domain.Revision, error) {
	var rev domain.Revision
	err := r.scoped(ctx, ref).
		Omit("snapshot").
		Where("author_id = ? AND submission_id = ?", authorID, submissionID).
		First(&rev).Error
	return found(&rev, err)
}

func found(rev *domain.Revision, err error) (*domain.Revision, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rev, nil
}
