// Package effects runs the work that follows a commit: snapshots, change
// notifications and the real-time fan-out. Effects never touch the commit
// itself and are retried independently.
package effects

import (
	"encoding/json"
	"fmt"
	"time"

	"collab-revisions/internal/revision"
)

type Kind string

const (
	KindSnapshot     Kind = "snapshot"
	KindNotification Kind = "notification"
	KindFanout       Kind = "fanout"
)

// Effect describes one piece of post-commit work.
type Effect struct {
	Kind         Kind
	Ref          revision.Ref
	DocumentID   uint64 // the document itself, or a pane's parent
	Revision     uint64
	AuthorID     uint64
	SubmissionID string
	Operation    json.RawMessage
	Revert       bool
	CommittedAt  time.Time
}

func (e Effect) String() string {
	return fmt.Sprintf("%s %s@%d", e.Kind, e.Ref, e.Revision)
}
