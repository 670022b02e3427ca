package document

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/errors"
	"collab-revisions/internal/middleware"
)

// mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateDocument(ctx context.Context, userID uint64, document *domain.Document) error {
	args := m.Called(ctx, userID, document)
	return args.Error(0)
}

func (m *MockService) CreatePane(ctx context.Context, docID, userID uint64, pane *domain.Pane) error {
	args := m.Called(ctx, docID, userID, pane)
	return args.Error(0)
}

func (m *MockService) GetUserDocuments(ctx context.Context, userID uint64, page, pageSize int) (*PaginatedDocuments, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PaginatedDocuments), args.Error(1)
}

func (m *MockService) GetDocumentByID(ctx context.Context, docID uint64, userID uint64) (*DocumentShowResponse, error) {
	args := m.Called(ctx, docID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentShowResponse), args.Error(1)
}

func (m *MockService) FetchUserRole(ctx context.Context, docID, userID uint64) (string, error) {
	args := m.Called(ctx, docID, userID)
	return args.String(0), args.Error(1)
}

func (m *MockService) ArchiveDocument(ctx context.Context, docID uint64, userID uint64) error {
	args := m.Called(ctx, docID, userID)
	return args.Error(0)
}

func (m *MockService) ArchivePane(ctx context.Context, docID, paneID, userID uint64) error {
	args := m.Called(ctx, docID, paneID, userID)
	return args.Error(0)
}

func (m *MockService) ListCollaborators(ctx context.Context, docID uint64, requesterID uint64) ([]DocumentCollaboratorDTO, error) {
	args := m.Called(ctx, docID, requesterID)
	if args.Get(0) == nil {
		return []DocumentCollaboratorDTO{}, args.Error(1)
	}
	return args.Get(0).([]DocumentCollaboratorDTO), args.Error(1)
}

func (m *MockService) AddCollaborator(ctx context.Context, docID uint64, requesterID uint64, targetUserID uint64, role string) (*DocumentCollaboratorDTO, error) {
	args := m.Called(ctx, docID, requesterID, targetUserID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DocumentCollaboratorDTO), args.Error(1)
}

func setupRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler(zerolog.Nop()))
	return router
}

func withUser(id uint64, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", id)
		h(c)
	}
}

// TestCreateDocument_Success tests successful document creation
func TestCreateDocument_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("CreateDocument", mock.Anything, uint64(1), mock.MatchedBy(func(doc *domain.Document) bool {
		return doc.Title == "Test Document" && doc.TeamID == 3
	})).Return(nil).Run(func(args mock.Arguments) {
		doc := args.Get(2).(*domain.Document)
		doc.ID = 1
	})

	router.POST("/documents", withUser(1, handler.Create))

	body, _ := json.Marshal(CreateDocumentRequest{Title: "Test Document", TeamID: 3})
	req := httptest.NewRequest("POST", "/documents", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var response domain.Document
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, uint64(1), response.ID)
	mockService.AssertExpectations(t)
}

// TestCreateDocument_InvalidInput tests document creation with invalid input
func TestCreateDocument_InvalidInput(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	router.POST("/documents", withUser(1, handler.Create))

	body, _ := json.Marshal(struct{}{})
	req := httptest.NewRequest("POST", "/documents", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// 422 for validation errors (missing title)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	mockService.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePane_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("CreatePane", mock.Anything, uint64(4), uint64(1), mock.AnythingOfType("*domain.Pane")).
		Return(nil).Run(func(args mock.Arguments) {
		pane := args.Get(3).(*domain.Pane)
		pane.ID = 9
		pane.DocumentID = 4
	})

	router.POST("/documents/:id/panes", withUser(1, handler.CreatePane))

	req := httptest.NewRequest("POST", "/documents/4/panes", bytes.NewBufferString(`{"title":"Budget"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":9`)
	assert.Contains(t, w.Body.String(), `"document_id":4`)
	mockService.AssertExpectations(t)
}

func TestCreatePane_ArchivedDocument(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("CreatePane", mock.Anything, uint64(4), uint64(1), mock.Anything).
		Return(errors.Archived("Document is archived", nil))

	router.POST("/documents/:id/panes", withUser(1, handler.CreatePane))

	req := httptest.NewRequest("POST", "/documents/4/panes", bytes.NewBufferString(`{"title":"Budget"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusLocked, w.Code)
}

// TestShowUserDocuments_WithPagination tests user documents with pagination
func TestShowUserDocuments_WithPagination(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)
	result := &PaginatedDocuments{
		Data: []DocumentShowResponse{{ID: 1, Title: "Doc 1"}},
		Meta: DocumentsMeta{CurrentPage: 2, TotalPage: 3, Total: 25, PerPage: 15},
	}

	mockService.On("GetUserDocuments", mock.Anything, uint64(1), 2, 15).Return(result, nil)

	router.GET("/documents", withUser(1, handler.ShowUserDocuments))

	req := httptest.NewRequest("GET", "/documents?page=2&per_page=15", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response PaginatedDocuments
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, 3, response.Meta.TotalPage)
	mockService.AssertExpectations(t)
}

// TestShowDocument_Success tests retrieving a single document
func TestShowDocument_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	doc := &DocumentShowResponse{
		ID:        1,
		Title:     "Test Doc",
		Role:      "editor",
		Panes:     []PaneResponse{{ID: 2, DocumentID: 1, Title: "Pane"}},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mockService.On("GetDocumentByID", mock.Anything, uint64(1), uint64(1)).Return(doc, nil)

	router.GET("/documents/:id", withUser(1, handler.ShowDocument))

	req := httptest.NewRequest("GET", "/documents/1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response DocumentShowResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, uint64(1), response.ID)
	assert.Len(t, response.Panes, 1)
	mockService.AssertExpectations(t)
}

// TestShowDocument_InvalidID tests retrieving document with invalid ID
func TestShowDocument_InvalidID(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	router.GET("/documents/:id", withUser(1, handler.ShowDocument))

	req := httptest.NewRequest("GET", "/documents/invalid", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchiveDocument(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("ArchiveDocument", mock.Anything, uint64(5), uint64(1)).Return(nil)
	mockService.On("ArchiveDocument", mock.Anything, uint64(5), uint64(2)).
		Return(errors.Permission("Only owner can archive document", nil))

	router.POST("/documents/:id/archive", func(c *gin.Context) {
		id := uint64(1)
		if c.GetHeader("X-Test-User") == "2" {
			id = 2
		}
		withUser(id, handler.ArchiveDocument)(c)
	})

	req := httptest.NewRequest("POST", "/documents/5/archive", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest("POST", "/documents/5/archive", nil)
	req.Header.Set("X-Test-User", "2")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	mockService.AssertExpectations(t)
}

func TestArchivePane(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("ArchivePane", mock.Anything, uint64(5), uint64(8), uint64(1)).Return(nil)

	router.POST("/documents/:id/panes/:paneId/archive", withUser(1, handler.ArchivePane))

	req := httptest.NewRequest("POST", "/documents/5/panes/8/archive", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockService.AssertExpectations(t)
}

// TestShowUserRole_Success tests retrieving user role in document
func TestShowUserRole_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("FetchUserRole", mock.Anything, uint64(1), uint64(2)).Return("editor", nil)

	router.GET("/documents/:id/role", handler.ShowUserRole)

	req := httptest.NewRequest("GET", "/documents/1/role?user_id=2", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "editor", response["role"])
	mockService.AssertExpectations(t)
}

// TestShowUserRole_InvalidUserID tests user role without a user id
func TestShowUserRole_InvalidUserID(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	router.GET("/documents/:id/role", handler.ShowUserRole)

	req := httptest.NewRequest("GET", "/documents/1/role", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddCollaborator_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	dto := &DocumentCollaboratorDTO{User: UserDTO{ID: 2, Name: "Bob"}, Role: "viewer"}
	mockService.On("AddCollaborator", mock.Anything, uint64(1), uint64(1), uint64(2), "viewer").Return(dto, nil)

	router.POST("/documents/:id/collaborators", withUser(1, handler.AddCollaborator))

	req := httptest.NewRequest("POST", "/documents/1/collaborators", bytes.NewBufferString(`{"user_id":2,"role":"viewer"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockService.AssertExpectations(t)
}

func TestAddCollaborator_RejectsOwnerRole(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	router.POST("/documents/:id/collaborators", withUser(1, handler.AddCollaborator))

	req := httptest.NewRequest("POST", "/documents/1/collaborators", bytes.NewBufferString(`{"user_id":2,"role":"owner"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListCollaborators(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter(handler)

	mockService.On("ListCollaborators", mock.Anything, uint64(1), uint64(1)).Return([]DocumentCollaboratorDTO{
		{User: UserDTO{ID: 1}, Role: "owner"},
		{User: UserDTO{ID: 2}, Role: "editor"},
	}, nil)

	router.GET("/documents/:id/collaborators", withUser(1, handler.ListCollaborators))

	req := httptest.NewRequest("GET", "/documents/1/collaborators", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response []DocumentCollaboratorDTO
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Len(t, response, 2)
}
