package effects

import (
	"context"

	"collab-revisions/internal/revision"
	"collab-revisions/internal/sync"
)

// Snapshotter stores the content of a resource at a revision.
type Snapshotter interface {
	Snapshot(ctx context.Context, ref revision.Ref, number uint64) error
}

func SnapshotExecutor(s Snapshotter) Executor {
	return ExecutorFunc(func(ctx context.Context, e Effect) error {
		return s.Snapshot(ctx, e.Ref, e.Revision)
	})
}

type RevisionPublisher interface {
	PublishRevision(ctx context.Context, msg sync.RevisionMessage) error
}

// FanoutExecutor pushes the committed operation to the sync server room of
// the owning document.
func FanoutExecutor(p RevisionPublisher) Executor {
	return ExecutorFunc(func(ctx context.Context, e Effect) error {
		return p.PublishRevision(ctx, sync.RevisionMessage{
			DocumentID:     e.DocumentID,
			ResourceKind:   string(e.Ref.Kind),
			ResourceID:     e.Ref.ID,
			RevisionNumber: e.Revision,
			AuthorID:       e.AuthorID,
			SubmissionID:   e.SubmissionID,
			Revert:         e.Revert,
			Operation:      e.Operation,
		})
	})
}
