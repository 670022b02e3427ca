package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-revisions/auth"
	"collab-revisions/internal/domain"
	apiError "collab-revisions/internal/errors"
)

type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandler(zerolog.Nop()))
	return router
}

func TestErrorHandler_RendersAPIError(t *testing.T) {
	router := setupRouter()
	router.GET("/x", func(c *gin.Context) {
		c.Error(apiError.ConflictRetry("Retry the submission", nil))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Retry the submission", body["error"])
	assert.Equal(t, true, body["retryable"])
}

func TestErrorHandler_RawErrorIsInternal(t *testing.T) {
	router := setupRouter()
	router.GET("/x", func(c *gin.Context) {
		c.Error(errors.New("secret detail"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}

func TestAuth_ValidToken(t *testing.T) {
	signer := auth.NewSigner("secret")
	users := new(MockUsers)
	users.On("GetUserByID", mock.Anything, uint64(3)).Return(&domain.User{ID: 3, TokenVersion: 1}, nil)
	m := &Auth{Signer: signer, UserService: users}

	router := setupRouter()
	router.GET("/me", m.AuthMiddleWare(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint64("user_id")})
	})
	token, err := signer.GenerateAccessToken(3, 1)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":3}`, w.Body.String())
}

func TestAuth_RevokedTokenVersion(t *testing.T) {
	signer := auth.NewSigner("secret")
	users := new(MockUsers)
	users.On("GetUserByID", mock.Anything, uint64(3)).Return(&domain.User{ID: 3, TokenVersion: 2}, nil)
	m := &Auth{Signer: signer, UserService: users}

	router := setupRouter()
	router.GET("/me", m.AuthMiddleWare(), func(c *gin.Context) { c.Status(http.StatusOK) })
	token, _ := signer.GenerateAccessToken(3, 1)

	req := httptest.NewRequest("GET", "/me?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_MissingHeader(t *testing.T) {
	m := &Auth{Signer: auth.NewSigner("secret"), UserService: new(MockUsers)}
	router := setupRouter()
	router.GET("/me", m.AuthMiddleWare(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalAuth(t *testing.T) {
	m := &Auth{InternalSecret: "internal"}
	router := setupRouter()
	router.POST("/internal", m.InternalAuthMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest("POST", "/internal", nil)
	req.Header.Set("Authorization", "Bearer internal")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest("POST", "/internal", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
