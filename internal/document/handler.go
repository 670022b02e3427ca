package document

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/errors"
	"collab-revisions/internal/utils"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreateDocumentRequest struct {
	Title  string `json:"title" binding:"required,min=1,max=255"`
	TeamID uint64 `json:"team_id"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateDocumentRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	doc := &domain.Document{
		Title:  form.Title,
		TeamID: form.TeamID,
	}

	if err := h.service.CreateDocument(c.Request.Context(), utils.UserID(c), doc); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

type CreatePaneRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255"`
}

func (h *Handler) CreatePane(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var form CreatePaneRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	pane := &domain.Pane{Title: form.Title}
	if err := h.service.CreatePane(c.Request.Context(), docID, utils.UserID(c), pane); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, toPaneResponse(*pane))
}

func (h *Handler) ShowUserDocuments(c *gin.Context) {
	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.GetUserDocuments(c.Request.Context(), utils.UserID(c), page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ShowDocument(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	doc, err := h.service.GetDocumentByID(c.Request.Context(), docID, utils.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) ArchiveDocument(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.ArchiveDocument(c.Request.Context(), docID, utils.UserID(c)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ArchivePane(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	paneID, err := utils.ParseIDParam(c, "paneId")
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.service.ArchivePane(c.Request.Context(), docID, paneID, utils.UserID(c)); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListCollaborators(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	result, err := h.service.ListCollaborators(c.Request.Context(), docID, utils.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type AddCollaboratorRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=editor viewer"`
}

func (h *Handler) AddCollaborator(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	var req AddCollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	result, err := h.service.AddCollaborator(
		c.Request.Context(),
		docID,
		utils.UserID(c),
		req.UserID,
		req.Role,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ShowUserRole is called by the sync server before it admits a socket.
func (h *Handler) ShowUserRole(c *gin.Context) {
	docID, err := utils.ParseIDParam(c, "id")
	if err != nil {
		c.Error(err)
		return
	}

	userID, err := strconv.ParseUint(c.Query("user_id"), 10, 64)
	if err != nil {
		c.Error(errors.BadRequest("Invalid user_id", err))
		return
	}

	role, err := h.service.FetchUserRole(c.Request.Context(), docID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": role})
}
