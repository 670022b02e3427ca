package operation

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/errors"
	"collab-revisions/internal/revision"
	"collab-revisions/internal/utils"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// SubmitOperationRequest is the body of both operation endpoints. A missing
// baseRevision is rejected; 0 is a valid base.
type SubmitOperationRequest struct {
	BaseRevision  *uint64         `json:"baseRevision" binding:"required"`
	SubmissionID  string          `json:"submissionId" binding:"required,max=64"`
	OperationKind string          `json:"operationKind" binding:"required,oneof=text tree"`
	Operation     json.RawMessage `json:"operation" binding:"required"`
	Revert        bool            `json:"revert"`
}

type SubmitOperationResponse struct {
	RevisionNumber uint64          `json:"revisionNumber"`
	Operation      json.RawMessage `json:"operation"`
	SubmissionID   string          `json:"submissionId"`
	Revert         bool            `json:"revert"`
}

// target resolves the resource addressed by the route: the document itself,
// or one of its panes.
func target(c *gin.Context) (revision.Ref, uint64, error) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		return revision.Ref{}, 0, err
	}
	if c.Param("paneId") == "" {
		return revision.Ref{Kind: domain.KindDocument, ID: docID}, docID, nil
	}
	paneID, err := utils.ParseIDParam(c, "paneId")
	if err != nil {
		return revision.Ref{}, 0, err
	}
	return revision.Ref{Kind: domain.KindPane, ID: paneID}, docID, nil
}

func (h *Handler) SubmitOperation(c *gin.Context) {
	ref, docID, err := target(c)
	if err != nil {
		c.Error(err)
		return
	}

	var input SubmitOperationRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), SubmitRequest{
		Ref:           ref,
		DocumentID:    docID,
		UserID:        utils.UserID(c),
		BaseRevision:  *input.BaseRevision,
		SubmissionID:  input.SubmissionID,
		OperationKind: input.OperationKind,
		Operation:     input.Operation,
		Revert:        input.Revert,
	})
	if err != nil {
		c.Error(err)
		return
	}

	// duplicates are acknowledged with an empty body
	if result.Duplicate {
		c.Status(http.StatusOK)
		return
	}

	c.JSON(http.StatusOK, SubmitOperationResponse{
		RevisionNumber: result.RevisionNumber,
		Operation:      result.Operation,
		SubmissionID:   result.SubmissionID,
		Revert:         result.Revert,
	})
}

func (h *Handler) ListRevisions(c *gin.Context) {
	ref, docID, err := target(c)
	if err != nil {
		c.Error(err)
		return
	}
	after, err := utils.OptionalUintQuery(c, "after")
	if err != nil {
		c.Error(err)
		return
	}
	limitQuery, err := utils.OptionalUintQuery(c, "limit")
	if err != nil {
		c.Error(err)
		return
	}
	limit := 0
	if limitQuery != nil {
		limit = int(min(*limitQuery, uint64(revision.TailBatchSize)))
	}

	revs, err := h.service.ListRevisions(c.Request.Context(), RevisionQuery{
		Ref:        ref,
		DocumentID: docID,
		UserID:     utils.UserID(c),
		After:      after,
		Limit:      limit,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, revs)
}

// ShowContent renders the resource at ?revision, or at the latest revision.
func (h *Handler) ShowContent(c *gin.Context) {
	ref, docID, err := target(c)
	if err != nil {
		c.Error(err)
		return
	}
	at, err := utils.OptionalUintQuery(c, "revision")
	if err != nil {
		c.Error(err)
		return
	}

	content, err := h.service.Content(c.Request.Context(), ContentQuery{
		Ref:        ref,
		DocumentID: docID,
		UserID:     utils.UserID(c),
		Revision:   at,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, content)
}

// CreateSnapshot is the internal trigger for a snapshot at ?revision.
func (h *Handler) CreateSnapshot(c *gin.Context) {
	kind, err := domain.ParseResourceKind(c.Param("kind"))
	if err != nil {
		c.Error(errors.NotFound(err.Error(), err))
		return
	}
	id, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	at, err := utils.OptionalUintQuery(c, "revision")
	if err != nil {
		c.Error(err)
		return
	}
	if at == nil {
		c.Error(errors.Validation("revision is required", nil))
		return
	}

	ref := revision.Ref{Kind: kind, ID: id}
	if err := h.service.Snapshot(c.Request.Context(), ref, *at); err != nil {
		c.Error(errors.UnprocessableEntity("Unable to snapshot "+ref.String(), err))
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes mounts the user-facing endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/documents/:id/operations", h.SubmitOperation)
	r.GET("/documents/:id/revisions", h.ListRevisions)
	r.GET("/documents/:id/content", h.ShowContent)
	r.POST("/documents/:id/panes/:paneId/operations", h.SubmitOperation)
	r.GET("/documents/:id/panes/:paneId/revisions", h.ListRevisions)
	r.GET("/documents/:id/panes/:paneId/content", h.ShowContent)
}
