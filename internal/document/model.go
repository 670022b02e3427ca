package document

import (
	"time"

	"collab-revisions/internal/domain"
)

type DocumentsMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

type DocumentShowResponse struct {
	ID         uint64         `json:"id"`
	TeamID     uint64         `json:"team_id"`
	Title      string         `json:"title"`
	Role       string         `json:"role"`
	OwnerID    uint64         `json:"owner_id"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
	Panes      []PaneResponse `json:"panes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type PaginatedDocuments struct {
	Data []DocumentShowResponse `json:"data"`
	Meta DocumentsMeta          `json:"meta"`
}

type PaneResponse struct {
	ID         uint64     `json:"id"`
	DocumentID uint64     `json:"document_id"`
	Title      string     `json:"title"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toPaneResponse(p domain.Pane) PaneResponse {
	return PaneResponse{
		ID:         p.ID,
		DocumentID: p.DocumentID,
		Title:      p.Title,
		ArchivedAt: p.ArchivedAt,
		CreatedAt:  p.CreatedAt,
	}
}

type UserDTO struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type DocumentCollaboratorDTO struct {
	User UserDTO `json:"user"`
	Role string  `json:"role"`
}

// collaboratorRow is a collaborator joined with its user.
type collaboratorRow struct {
	UserID uint64
	Name   string
	Email  string
	Role   string
}
