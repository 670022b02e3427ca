package document

import (
	"context"
	defError "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/errors"
	"collab-revisions/internal/sync"
	"collab-revisions/redis"
)

type Service interface {
	CreateDocument(ctx context.Context, userID uint64, document *domain.Document) error
	CreatePane(ctx context.Context, docID, userID uint64, pane *domain.Pane) error
	GetUserDocuments(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedDocuments, error)
	GetDocumentByID(ctx context.Context, docID uint64, userID uint64) (*DocumentShowResponse, error)
	FetchUserRole(ctx context.Context, docID, userID uint64) (string, error)
	ArchiveDocument(ctx context.Context, docID uint64, userID uint64) error
	ArchivePane(ctx context.Context, docID, paneID, userID uint64) error
	ListCollaborators(ctx context.Context, docID uint64, requesterID uint64) ([]DocumentCollaboratorDTO, error)
	AddCollaborator(ctx context.Context, docID uint64, requesterID uint64, targetUserID uint64, role string) (*DocumentCollaboratorDTO, error)
}

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

// Bootstrapper builds the revision 0 a new resource starts with.
type Bootstrapper interface {
	InitialRevision(kind domain.ResourceKind, id, authorID uint64) (*domain.Revision, error)
}

// RoleCache drops a cached role after a collaborator change.
type RoleCache interface {
	Forget(ctx context.Context, docID, userID uint64)
}

type DefaultService struct {
	repository   DocumentRepository
	syncClient   sync.Client
	userProvider UserProvider
	bootstrapper Bootstrapper
	roles        RoleCache
	cache        *redis.Cache
	logger       zerolog.Logger
}

func NewService(
	repository DocumentRepository,
	userProvider UserProvider,
	syncClient sync.Client,
	bootstrapper Bootstrapper,
	roles RoleCache,
	cache *redis.Cache,
	logger zerolog.Logger,
) *DefaultService {
	return &DefaultService{
		repository:   repository,
		syncClient:   syncClient,
		userProvider: userProvider,
		bootstrapper: bootstrapper,
		roles:        roles,
		cache:        cache,
		logger:       logger,
	}
}

func docsVersionKey(userID uint64) string {
	return fmt.Sprintf("user:%d:docs:version", userID)
}

func (s *DefaultService) CreateDocument(ctx context.Context, userID uint64, document *domain.Document) error {
	document.OwnerID = userID
	err := s.repository.Create(ctx, document, func(id uint64) (*domain.Revision, error) {
		return s.bootstrapper.InitialRevision(domain.KindDocument, id, userID)
	})
	if err != nil {
		return errors.Store("Unable to create document", err)
	}
	// increase cache key, so any new fetch will get new version
	s.cache.IncrementVersion(ctx, docsVersionKey(userID))
	return nil
}

func (s *DefaultService) CreatePane(ctx context.Context, docID, userID uint64, pane *domain.Pane) error {
	doc, err := s.findDocument(ctx, docID)
	if err != nil {
		return err
	}
	role, err := s.repository.GetUserRole(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner && role != domain.RoleEditor {
		return errors.Permission("Only owner or editor can add panes!", nil)
	}
	if doc.ArchivedAt != nil {
		return errors.Archived("Document is archived", nil)
	}

	pane.DocumentID = docID
	err = s.repository.CreatePane(ctx, pane, func(id uint64) (*domain.Revision, error) {
		return s.bootstrapper.InitialRevision(domain.KindPane, id, userID)
	})
	if err != nil {
		return errors.Store("Unable to create pane", err)
	}
	return nil
}

func (s *DefaultService) GetUserDocuments(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedDocuments, error) {
	// Get the current data version for this user's documents
	v := s.cache.GetVersion(ctx, docsVersionKey(userID))
	cacheKey := fmt.Sprintf("docs:u:%d:v:%d:p:%d:ps:%d", userID, v, page, pageSize)

	var result PaginatedDocuments
	// get data from cache
	found, _ := s.cache.Get(ctx, cacheKey, &result)
	if found {
		return &result, nil
	}

	documents, meta, err := s.repository.ListDocumentByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}
	result = PaginatedDocuments{Data: documents, Meta: meta}
	if err := s.cache.Set(ctx, cacheKey, result, 24*time.Hour); err != nil {
		s.logger.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache document list")
	}

	return &result, nil
}

func (s *DefaultService) GetDocumentByID(ctx context.Context, docID uint64, userID uint64) (*DocumentShowResponse, error) {
	doc, err := s.findDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	role, err := s.repository.GetUserRole(ctx, docID, userID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleNone {
		return nil, errors.Permission("You're not a collaborator", nil)
	}

	panes, err := s.repository.ListPanes(ctx, docID)
	if err != nil {
		return nil, err
	}
	paneResponses := make([]PaneResponse, 0, len(panes))
	for _, p := range panes {
		paneResponses = append(paneResponses, toPaneResponse(p))
	}

	return &DocumentShowResponse{
		ID:         doc.ID,
		TeamID:     doc.TeamID,
		Title:      doc.Title,
		Role:       role,
		OwnerID:    doc.OwnerID,
		ArchivedAt: doc.ArchivedAt,
		Panes:      paneResponses,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

func (s *DefaultService) FetchUserRole(ctx context.Context, docID, userID uint64) (string, error) {
	return s.repository.GetUserRole(ctx, docID, userID)
}

// ArchiveDocument soft-archives the document. Its panes are archived with it.
func (s *DefaultService) ArchiveDocument(ctx context.Context, docID uint64, userID uint64) error {
	role, err := s.repository.GetUserRole(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner {
		return errors.Permission("Only owner can archive document", nil)
	}

	if err := s.repository.Archive(ctx, docID); err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Document not found", err)
		}
		return err
	}
	// increase cache key, so any new fetch will get new version
	s.cache.IncrementVersion(ctx, docsVersionKey(userID))

	// close the live room
	go func(id uint64) {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.syncClient.RemoveDocument(bgCtx, id); err != nil {
			s.logger.Error().Err(err).Uint64("document_id", id).Msg("failed to notify sync server of archived document")
		}
	}(docID)

	return nil
}

func (s *DefaultService) ArchivePane(ctx context.Context, docID, paneID, userID uint64) error {
	role, err := s.repository.GetUserRole(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner && role != domain.RoleEditor {
		return errors.Permission("Only owner or editor can archive panes", nil)
	}

	if err := s.repository.ArchivePane(ctx, docID, paneID); err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Pane not found", err)
		}
		return err
	}
	return nil
}

func (s *DefaultService) ListCollaborators(ctx context.Context, docID uint64, requesterID uint64) ([]DocumentCollaboratorDTO, error) {
	role, err := s.FetchUserRole(ctx, docID, requesterID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleNone || role == domain.RoleViewer {
		return nil, errors.Permission("Viewer can't show collaborators", nil)
	}

	rows, err := s.repository.ListDocumentCollaborators(ctx, docID)
	if err != nil {
		return nil, err
	}

	result := make([]DocumentCollaboratorDTO, 0, len(rows))
	for _, r := range rows {
		result = append(result, DocumentCollaboratorDTO{
			User: UserDTO{
				ID:    r.UserID,
				Name:  r.Name,
				Email: r.Email,
			},
			Role: r.Role,
		})
	}

	return result, nil
}

func (s *DefaultService) AddCollaborator(
	ctx context.Context,
	docID uint64,
	requesterID uint64,
	targetUserID uint64,
	role string,
) (*DocumentCollaboratorDTO, error) {
	// only owner can add
	requesterRole, err := s.repository.GetUserRole(ctx, docID, requesterID)
	if err != nil {
		return nil, err
	}
	if requesterRole != domain.RoleOwner {
		return nil, errors.Permission("Only owner can add new collaborator!", nil)
	}

	// Prevent self-add
	if requesterID == targetUserID {
		return nil, errors.UnprocessableEntity("Can't add yourself!", nil)
	}

	// Ensure target user exists
	user, err := s.userProvider.GetUserByID(ctx, targetUserID)
	if err != nil {
		return nil, errors.UnprocessableEntity("Can't find user!", err)
	}

	if err := s.repository.AddCollaborator(ctx, docID, targetUserID, role); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Conflict("User already added!", err)
		}
		return nil, err
	}
	s.roles.Forget(ctx, docID, targetUserID)

	// send update to sync-server
	go func(dID, uID uint64, role string) {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.syncClient.UpdateUserPermission(bgCtx, dID, uID, role); err != nil {
			s.logger.Error().Err(err).
				Uint64("document_id", dID).
				Uint64("user_id", uID).
				Str("role", role).
				Msg("failed to notify sync server of role change")
		}
	}(docID, targetUserID, role)

	return &DocumentCollaboratorDTO{
		User: UserDTO{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Email,
		},
		Role: role,
	}, nil
}

func (s *DefaultService) findDocument(ctx context.Context, docID uint64) (*domain.Document, error) {
	doc, err := s.repository.FindByID(ctx, docID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Document not found", err)
		}
		return nil, err
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return defError.As(err, &pgErr) && pgErr.Code == "23505"
}
