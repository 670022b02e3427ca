package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/effects"
	apiError "collab-revisions/internal/errors"
	"collab-revisions/internal/ot"
	"collab-revisions/internal/ot/delta"
	"collab-revisions/internal/ot/tree"
	"collab-revisions/internal/policy"
	"collab-revisions/internal/revision"
)

const defaultRevisionPage = 100

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	ListRevisions(ctx context.Context, req RevisionQuery) ([]RevisionResponse, error)
	Content(ctx context.Context, req ContentQuery) (*ContentResponse, error)
	Snapshot(ctx context.Context, ref revision.Ref, number uint64) error
}

// ResourceFinder loads a document or pane. It returns
// domain.ErrResourceNotFound when there is none.
type ResourceFinder interface {
	FindResource(ctx context.Context, kind domain.ResourceKind, id uint64) (*domain.Resource, error)
}

type EffectDispatcher interface {
	Dispatch(effects ...effects.Effect)
}

// variant is an Engine with its type parameters erased.
type variant interface {
	OperationKind() string
	Submit(ctx context.Context, sub Submission, authorize Check) (*Outcome, error)
	Snapshot(ctx context.Context, ref revision.Ref, number uint64) error
	Content(ctx context.Context, ref revision.Ref, target *uint64) (uint64, json.RawMessage, error)
	InitialRevision(ref revision.Ref, authorID uint64) (*domain.Revision, error)
}

type SubmitRequest struct {
	Ref           revision.Ref
	DocumentID    uint64
	UserID        uint64
	BaseRevision  uint64
	SubmissionID  string
	OperationKind string
	Operation     json.RawMessage
	Revert        bool
}

// SubmitResult is empty for an acknowledged duplicate.
type SubmitResult struct {
	Duplicate      bool
	RevisionNumber uint64
	Operation      json.RawMessage
	SubmissionID   string
	Revert         bool
}

type RevisionQuery struct {
	Ref        revision.Ref
	DocumentID uint64
	UserID     uint64
	After      *uint64
	Limit      int
}

type RevisionResponse struct {
	Number       uint64          `json:"revisionNumber"`
	AuthorID     uint64          `json:"authorId"`
	SubmissionID string          `json:"submissionId"`
	Operation    json.RawMessage `json:"operation"`
	Revert       bool            `json:"revert"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type ContentQuery struct {
	Ref        revision.Ref
	DocumentID uint64
	UserID     uint64
	Revision   *uint64
}

type ContentResponse struct {
	Revision uint64          `json:"revisionNumber"`
	Content  json.RawMessage `json:"content"`
}

type ServiceConfig struct {
	SnapshotEveryDocument uint64
	SnapshotEveryPane     uint64
	CommitTimeout         time.Duration
}

type DefaultService struct {
	variants   map[domain.ResourceKind]variant
	store      revision.Store
	resources  ResourceFinder
	authorizer policy.Authorizer
	dispatcher EffectDispatcher
	logger     zerolog.Logger
}

// NewService wires rich text to documents and trees to panes.
func NewService(
	store revision.Store,
	cache revision.ContentCache,
	resources ResourceFinder,
	authorizer policy.Authorizer,
	dispatcher EffectDispatcher,
	cfg ServiceConfig,
	logger zerolog.Logger,
) *DefaultService {
	text := ot.Text{}
	trees := ot.Tree{}
	return &DefaultService{
		variants: map[domain.ResourceKind]variant{
			domain.KindDocument: NewEngine[delta.Delta, delta.Delta](
				text, store,
				revision.NewReconstructor[delta.Delta, delta.Delta](text, cache, logger),
				EngineConfig{
					SnapshotEvery:   cfg.SnapshotEveryDocument,
					CommitTimeout:   cfg.CommitTimeout,
					CheckComposable: true,
				},
				logger,
			),
			domain.KindPane: NewEngine[tree.Op, any](
				trees, store,
				revision.NewReconstructor[tree.Op, any](trees, cache, logger),
				EngineConfig{
					SnapshotEvery: cfg.SnapshotEveryPane,
					CommitTimeout: cfg.CommitTimeout,
				},
				logger,
			),
		},
		store:      store,
		resources:  resources,
		authorizer: authorizer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *DefaultService) variant(kind domain.ResourceKind) (variant, error) {
	v, ok := s.variants[kind]
	if !ok {
		return nil, apiError.NotFound(fmt.Sprintf("Unknown resource kind %q", kind), nil)
	}
	return v, nil
}

func (s *DefaultService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	v, err := s.variant(req.Ref.Kind)
	if err != nil {
		return nil, err
	}
	if req.OperationKind != v.OperationKind() {
		return nil, apiError.Validation(fmt.Sprintf(
			"A %s takes %s operations, got %q", req.Ref.Kind, v.OperationKind(), req.OperationKind), nil)
	}

	sub := Submission{
		Ref:          req.Ref,
		DocumentID:   req.DocumentID,
		BaseRevision: req.BaseRevision,
		Operation:    req.Operation,
		SubmissionID: req.SubmissionID,
		AuthorID:     req.UserID,
		Revert:       req.Revert,
	}
	authorize := func(ctx context.Context) error {
		resource, err := s.resource(ctx, req.Ref, req.DocumentID)
		if err != nil {
			return err
		}
		decision, err := s.authorizer.CanSubmitOperation(ctx, *resource, req.UserID)
		if err != nil {
			return apiError.Store("Unable to check permissions", err)
		}
		if !decision.Allowed {
			return apiError.Permission(denied("You don't have permission to edit this "+string(req.Ref.Kind), decision), nil)
		}
		if resource.Archived {
			return apiError.Archived("This "+string(req.Ref.Kind)+" is archived", nil)
		}
		return nil
	}

	outcome, err := v.Submit(ctx, sub, authorize)
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		return &SubmitResult{Duplicate: true}, nil
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(outcome.Effects...)
	}

	rev := outcome.Revision
	return &SubmitResult{
		RevisionNumber: rev.Number,
		Operation:      json.RawMessage(rev.Operation),
		SubmissionID:   rev.SubmissionID,
		Revert:         rev.Revert,
	}, nil
}

func (s *DefaultService) ListRevisions(ctx context.Context, req RevisionQuery) ([]RevisionResponse, error) {
	if _, err := s.variant(req.Ref.Kind); err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, req.Ref, req.DocumentID, req.UserID); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > revision.TailBatchSize {
		limit = defaultRevisionPage
	}
	var (
		revs []domain.Revision
		err  error
	)
	if req.After != nil {
		revs, err = revision.ListAfter(ctx, s.store, req.Ref, *req.After, limit)
	} else {
		revs, err = s.store.ListRange(ctx, req.Ref, 0, revision.MaxNumber, limit)
	}
	if err != nil {
		return nil, apiError.Store("Unable to read the revision log", err)
	}
	out := make([]RevisionResponse, 0, len(revs))
	for _, rev := range revs {
		out = append(out, RevisionResponse{
			Number:       rev.Number,
			AuthorID:     rev.AuthorID,
			SubmissionID: rev.SubmissionID,
			Operation:    json.RawMessage(rev.Operation),
			Revert:       rev.Revert,
			CreatedAt:    rev.CreatedAt,
		})
	}
	return out, nil
}

func (s *DefaultService) Content(ctx context.Context, req ContentQuery) (*ContentResponse, error) {
	v, err := s.variant(req.Ref.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, req.Ref, req.DocumentID, req.UserID); err != nil {
		return nil, err
	}

	number, content, err := v.Content(ctx, req.Ref, req.Revision)
	if err != nil {
		if errors.Is(err, revision.ErrNotFound) {
			return nil, apiError.NotFound("Revision not found", err)
		}
		return nil, apiError.Internal(err)
	}
	return &ContentResponse{Revision: number, Content: content}, nil
}

// Snapshot runs outside any request, for the effect dispatcher and the
// internal endpoint.
func (s *DefaultService) Snapshot(ctx context.Context, ref revision.Ref, number uint64) error {
	v, err := s.variant(ref.Kind)
	if err != nil {
		return err
	}
	return v.Snapshot(ctx, ref, number)
}

// InitialRevision builds revision 0 for a resource about to be created.
func (s *DefaultService) InitialRevision(kind domain.ResourceKind, id, authorID uint64) (*domain.Revision, error) {
	v, err := s.variant(kind)
	if err != nil {
		return nil, err
	}
	return v.InitialRevision(revision.Ref{Kind: kind, ID: id}, authorID)
}

// resource loads the target and makes sure a pane sits under the document
// named in the route.
func (s *DefaultService) resource(ctx context.Context, ref revision.Ref, documentID uint64) (*domain.Resource, error) {
	resource, err := s.resources.FindResource(ctx, ref.Kind, ref.ID)
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, apiError.NotFound(fmt.Sprintf("%s %d not found", ref.Kind, ref.ID), err)
		}
		return nil, apiError.Store("Unable to load "+string(ref.Kind), err)
	}
	if resource.DocumentID != documentID {
		return nil, apiError.NotFound(fmt.Sprintf("%s %d not found", ref.Kind, ref.ID), nil)
	}
	return resource, nil
}

func (s *DefaultService) authorizeRead(ctx context.Context, ref revision.Ref, documentID, userID uint64) error {
	resource, err := s.resource(ctx, ref, documentID)
	if err != nil {
		return err
	}
	decision, err := s.authorizer.CanRead(ctx, *resource, userID)
	if err != nil {
		return apiError.Store("Unable to check permissions", err)
	}
	if !decision.Allowed {
		return apiError.Permission(denied("You don't have access to this "+string(ref.Kind), decision), nil)
	}
	return nil
}

func denied(message string, decision policy.Decision) string {
	if decision.Reason == "" {
		return message
	}
	return message + ": " + decision.Reason
}
