package domain

import "time"

const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
	RoleNone   = "none"
)

// Document is a linear rich-text resource.
type Document struct {
	ID            uint64                 `json:"id"`
	TeamID        uint64                 `json:"team_id" gorm:"index"`
	OwnerID       uint64                 `json:"owner_id" gorm:"index"`
	Title         string                 `json:"title"`
	ArchivedAt    *time.Time             `json:"archived_at,omitempty"`
	Collaborators []DocumentCollaborator `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type DocumentCollaborator struct {
	DocumentID uint64    `gorm:"primaryKey"`
	UserID     uint64    `gorm:"primaryKey"`
	Role       string    `gorm:"type:varchar(16);not null"`
	AddedAt    time.Time
}

// Pane is a tree-shaped resource that belongs to a document.
type Pane struct {
	ID         uint64     `json:"id"`
	DocumentID uint64     `json:"document_id" gorm:"index;not null"`
	Document   *Document  `json:"-"`
	Title      string     `json:"title"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
