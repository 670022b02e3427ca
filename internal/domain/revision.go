package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrResourceNotFound = errors.New("resource not found")

// ResourceKind tells which variant a resource is, and so which operation
// algebra its revisions use.
type ResourceKind string

const (
	KindDocument ResourceKind = "document"
	KindPane     ResourceKind = "pane"
)

func ParseResourceKind(s string) (ResourceKind, error) {
	switch ResourceKind(s) {
	case KindDocument, KindPane:
		return ResourceKind(s), nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Revision is one committed operation. Numbers are contiguous per resource and
// start at 0, the bootstrap revision written with the resource.
type Revision struct {
	ID           uint64       `gorm:"primaryKey"`
	ResourceKind ResourceKind `gorm:"type:varchar(16);not null;uniqueIndex:idx_revision_number,priority:1;uniqueIndex:idx_revision_submission,priority:1"`
	ResourceID   uint64       `gorm:"not null;uniqueIndex:idx_revision_number,priority:2;uniqueIndex:idx_revision_submission,priority:2"`
	Number       uint64       `gorm:"not null;uniqueIndex:idx_revision_number,priority:3"`
	Operation    []byte       `gorm:"type:jsonb;not null"`
	AuthorID     uint64       `gorm:"not null;uniqueIndex:idx_revision_submission,priority:3"`
	SubmissionID string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_revision_submission,priority:4"`
	Revert       bool         `gorm:"not null;default:false"`
	Snapshot     []byte       `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

func (r *Revision) HasSnapshot() bool {
	return r.Snapshot != nil
}

// Resource is the view of a document or pane that the submission path needs.
type Resource struct {
	Kind       ResourceKind
	ID         uint64
	DocumentID uint64 // the document itself, or the pane's parent
	TeamID     uint64
	OwnerID    uint64
	Archived   bool
}
