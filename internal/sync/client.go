package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the sync server that holds the live websocket rooms.
type Client interface {
	PublishRevision(ctx context.Context, msg RevisionMessage) error
	UpdateUserPermission(ctx context.Context, docID uint64, userID uint64, role string) error
	RemoveDocument(ctx context.Context, docID uint64) error
}

type SyncClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewSyncClient(baseURL, secret string) *SyncClient {
	return &SyncClient{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// RevisionMessage is pushed to every client connected to the document room.
type RevisionMessage struct {
	DocumentID     uint64          `json:"document_id"`
	ResourceKind   string          `json:"resource_kind"`
	ResourceID     uint64          `json:"resource_id"`
	RevisionNumber uint64          `json:"revision_number"`
	AuthorID       uint64          `json:"author_id"`
	SubmissionID   string          `json:"submission_id"`
	Revert         bool            `json:"revert"`
	Operation      json.RawMessage `json:"operation"`
}

// call sync server to broadcast a committed revision
func (s *SyncClient) PublishRevision(ctx context.Context, msg RevisionMessage) error {
	url := fmt.Sprintf(
		"%s/internal/documents/%d/revisions",
		s.baseURL,
		msg.DocumentID,
	)
	return s.send(ctx, http.MethodPost, url, msg)
}

type SyncPermissionRequest struct {
	UserID uint64 `json:"user_id"`
	Role   string `json:"role"`
}

func (s *SyncClient) UpdateUserPermission(
	ctx context.Context,
	docID uint64,
	userID uint64,
	role string,
) error {
	url := fmt.Sprintf(
		"%s/internal/documents/%d/permission",
		s.baseURL,
		docID,
	)
	return s.send(ctx, http.MethodPut, url, SyncPermissionRequest{
		UserID: userID,
		Role:   role,
	})
}

// RemoveDocument closes the room of an archived document.
func (s *SyncClient) RemoveDocument(ctx context.Context, docID uint64) error {
	url := fmt.Sprintf(
		"%s/internal/documents/%d",
		s.baseURL,
		docID,
	)
	return s.send(ctx, http.MethodDelete, url, nil)
}

func (s *SyncClient) send(ctx context.Context, method, url string, payload any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.secret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"sync server error: %s %s status=%d body=%s",
			method,
			url,
			resp.StatusCode,
			string(b),
		)
	}

	return nil
}
