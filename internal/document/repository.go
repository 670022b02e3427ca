package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"collab-revisions/internal/domain"
)

// Bootstrap builds revision 0 for a resource once its id is known.
type Bootstrap func(id uint64) (*domain.Revision, error)

type DocumentRepository interface {
	Create(ctx context.Context, document *domain.Document, bootstrap Bootstrap) error
	CreatePane(ctx context.Context, pane *domain.Pane, bootstrap Bootstrap) error
	FindByID(ctx context.Context, id uint64) (*domain.Document, error)
	FindPane(ctx context.Context, docID, paneID uint64) (*domain.Pane, error)
	ListPanes(ctx context.Context, docID uint64) ([]domain.Pane, error)
	FindResource(ctx context.Context, kind domain.ResourceKind, id uint64) (*domain.Resource, error)
	GetUserRole(ctx context.Context, docID uint64, userID uint64) (string, error)
	ListDocumentByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]DocumentShowResponse, DocumentsMeta, error)
	Archive(ctx context.Context, docID uint64) error
	ArchivePane(ctx context.Context, docID, paneID uint64) error
	AddCollaborator(ctx context.Context, docID, userID uint64, role string) error
	ListDocumentCollaborators(ctx context.Context, docID uint64) ([]collaboratorRow, error)
}

type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create stores the document, its owner and revision 0 in one transaction.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, document *domain.Document, bootstrap Bootstrap) error {
	now := time.Now().UTC()
	document.CreatedAt = now
	document.UpdatedAt = now
	document.Collaborators = []domain.DocumentCollaborator{
		{
			UserID:  document.OwnerID,
			Role:    domain.RoleOwner,
			AddedAt: now,
		},
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(document).Error; err != nil {
			return err
		}
		return createInitialRevision(tx, document.ID, bootstrap)
	})
}

// CreatePane stores the pane and its revision 0 in one transaction.
func (r *DocumentRepositoryImpl) CreatePane(ctx context.Context, pane *domain.Pane, bootstrap Bootstrap) error {
	now := time.Now().UTC()
	pane.CreatedAt = now
	pane.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Document").Create(pane).Error; err != nil {
			return err
		}
		return createInitialRevision(tx, pane.ID, bootstrap)
	})
}

func createInitialRevision(tx *gorm.DB, id uint64, bootstrap Bootstrap) error {
	rev, err := bootstrap(id)
	if err != nil {
		return fmt.Errorf("build revision 0: %w", err)
	}
	return tx.Create(rev).Error
}

func (r *DocumentRepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.WithContext(ctx).First(&doc, id).Error
	return &doc, err
}

func (r *DocumentRepositoryImpl) FindPane(ctx context.Context, docID, paneID uint64) (*domain.Pane, error) {
	var pane domain.Pane
	err := r.db.WithContext(ctx).
		Where("id = ? AND document_id = ?", paneID, docID).
		First(&pane).Error
	return &pane, err
}

func (r *DocumentRepositoryImpl) ListPanes(ctx context.Context, docID uint64) ([]domain.Pane, error) {
	var panes []domain.Pane
	err := r.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("id ASC").
		Find(&panes).Error
	return panes, err
}

// FindResource resolves a document or pane for the submission path. A pane
// is archived when it or its document is.
func (r *DocumentRepositoryImpl) FindResource(ctx context.Context, kind domain.ResourceKind, id uint64) (*domain.Resource, error) {
	db := r.db.WithContext(ctx)
	switch kind {
	case domain.KindDocument:
		var doc domain.Document
		if err := db.First(&doc, id).Error; err != nil {
			return nil, notFound(err)
		}
		return &domain.Resource{
			Kind:       kind,
			ID:         doc.ID,
			DocumentID: doc.ID,
			TeamID:     doc.TeamID,
			OwnerID:    doc.OwnerID,
			Archived:   doc.ArchivedAt != nil,
		}, nil
	case domain.KindPane:
		var pane domain.Pane
		if err := db.Preload("Document").First(&pane, id).Error; err != nil {
			return nil, notFound(err)
		}
		res := &domain.Resource{
			Kind:       kind,
			ID:         pane.ID,
			DocumentID: pane.DocumentID,
			Archived:   pane.ArchivedAt != nil,
		}
		if pane.Document != nil {
			res.TeamID = pane.Document.TeamID
			res.OwnerID = pane.Document.OwnerID
			res.Archived = res.Archived || pane.Document.ArchivedAt != nil
		}
		return res, nil
	}
	return nil, domain.ErrResourceNotFound
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrResourceNotFound
	}
	return err
}

func (r *DocumentRepositoryImpl) GetUserRole(ctx context.Context, docID uint64, userID uint64) (string, error) {
	var role string
	err := r.db.WithContext(ctx).Model(&domain.DocumentCollaborator{}).
		Where("document_id = ? AND user_id = ?", docID, userID).
		Select("role").
		Scan(&role).Error
	if err != nil || role == "" {
		return domain.RoleNone, err
	}

	return role, nil
}

func (r *DocumentRepositoryImpl) ListDocumentByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]DocumentShowResponse, DocumentsMeta, error) {
	documents := []DocumentShowResponse{}
	var totalRecords int64

	base := r.db.WithContext(ctx).
		Table("documents").
		Joins("JOIN document_collaborators c ON c.document_id = documents.id").
		Where("c.user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Count(&totalRecords).Error; err != nil {
		return documents, DocumentsMeta{}, err
	}

	offset := (page - 1) * pageSize
	err := base.Session(&gorm.Session{}).
		Select("documents.id, documents.team_id, documents.title, documents.owner_id, documents.archived_at, documents.created_at, documents.updated_at, c.role").
		Order("documents.updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Scan(&documents).Error

	totalPages := int((totalRecords + int64(pageSize) - 1) / int64(pageSize))

	return documents, DocumentsMeta{
		Total:       totalRecords,
		PerPage:     pageSize,
		TotalPage:   totalPages,
		CurrentPage: page,
	}, err
}

// Archive is idempotent; it fails only when the document does not exist.
func (r *DocumentRepositoryImpl) Archive(ctx context.Context, docID uint64) error {
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()
	res := db.Model(&domain.Document{}).
		Where("id = ? AND archived_at IS NULL", docID).
		Updates(map[string]any{"archived_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := r.FindByID(ctx, docID)
		return err
	}
	return nil
}

func (r *DocumentRepositoryImpl) ArchivePane(ctx context.Context, docID, paneID uint64) error {
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()
	res := db.Model(&domain.Pane{}).
		Where("id = ? AND document_id = ? AND archived_at IS NULL", paneID, docID).
		Updates(map[string]any{"archived_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := r.FindPane(ctx, docID, paneID)
		return err
	}
	return nil
}

func (r *DocumentRepositoryImpl) AddCollaborator(ctx context.Context, docID, userID uint64, role string) error {
	return r.db.WithContext(ctx).Create(&domain.DocumentCollaborator{
		DocumentID: docID,
		UserID:     userID,
		Role:       role,
		AddedAt:    time.Now().UTC(),
	}).Error
}

func (r *DocumentRepositoryImpl) ListDocumentCollaborators(ctx context.Context, docID uint64) ([]collaboratorRow, error) {
	var rows []collaboratorRow
	err := r.db.WithContext(ctx).
		Table("document_collaborators c").
		Select("c.user_id, u.name, u.email, c.role").
		Joins("JOIN users u ON u.id = c.user_id").
		Where("c.document_id = ?", docID).
		Order("c.added_at ASC").
		Scan(&rows).Error
	return rows, err
}
