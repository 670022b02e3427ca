// Package operation is the submission pipeline: it rebases client operations
// onto the revision log and commits them one at a time per resource.
package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/effects"
	apiError "collab-revisions/internal/errors"
	"collab-revisions/internal/metrics"
	"collab-revisions/internal/ot"
	"collab-revisions/internal/revision"
)

const (
	bootstrapSubmission = "bootstrap"
	ledgerCheckTimeout  = 2 * time.Second
)

// Submission is one client operation anchored at the revision the client last saw.
type Submission struct {
	Ref          revision.Ref
	DocumentID   uint64
	BaseRevision uint64
	Operation    json.RawMessage
	SubmissionID string
	AuthorID     uint64
	Revert       bool
}

// Outcome of a submission. Duplicate submissions carry no revision and no effects.
type Outcome struct {
	Duplicate bool
	Revision  *domain.Revision
	Effects   []effects.Effect
}

// Check runs between the duplicate check and the lock. A non-nil error
// rejects the submission.
type Check func(ctx context.Context) error

type EngineConfig struct {
	// SnapshotEvery triggers a snapshot on every revision number that is a
	// multiple of it.
	SnapshotEvery uint64
	// CommitTimeout bounds the locked scope.
	CommitTimeout time.Duration
	// CheckComposable applies the rebased operation to the current content
	// before committing and warns when it does not fit.
	CheckComposable bool
}

// Engine runs the pipeline for one resource variant.
type Engine[Op any, State any] struct {
	algebra       ot.Algebra[Op, State]
	store         revision.Store
	reconstructor *revision.Reconstructor[Op, State]
	cfg           EngineConfig
	logger        zerolog.Logger
}

func NewEngine[Op any, State any](
	algebra ot.Algebra[Op, State],
	store revision.Store,
	reconstructor *revision.Reconstructor[Op, State],
	cfg EngineConfig,
	logger zerolog.Logger,
) *Engine[Op, State] {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	return &Engine[Op, State]{
		algebra:       algebra,
		store:         store,
		reconstructor: reconstructor,
		cfg:           cfg,
		logger:        logger.With().Str("component", "engine").Str("variant", algebra.Kind()).Logger(),
	}
}

func (e *Engine[Op, State]) OperationKind() string {
	return e.algebra.Kind()
}

// Submit validates, deduplicates, authorizes, rebases and commits sub.
func (e *Engine[Op, State]) Submit(ctx context.Context, sub Submission, authorize Check) (*Outcome, error) {
	op, err := e.decode(sub.Operation)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.FindBySubmission(ctx, sub.Ref, sub.AuthorID, sub.SubmissionID)
	switch {
	case err == nil:
		e.duplicate(sub, existing.Number)
		return &Outcome{Duplicate: true}, nil
	case !errors.Is(err, revision.ErrNotFound):
		return nil, apiError.Store("Unable to read the revision log", err)
	}

	rev, err := e.authorizeAndCommit(ctx, sub, op, authorize)
	if err != nil {
		return e.resolveFailure(ctx, sub, err)
	}

	metrics.CommitsTotal.WithLabelValues(string(sub.Ref.Kind)).Inc()
	e.logger.Debug().
		Str("resource", sub.Ref.String()).
		Uint64("revision", rev.Number).
		Uint64("base", sub.BaseRevision).
		Str("submission_id", sub.SubmissionID).
		Msg("revision committed")

	return &Outcome{Revision: rev, Effects: e.effectsFor(sub, rev)}, nil
}

func (e *Engine[Op, State]) decode(raw json.RawMessage) (Op, error) {
	var zero Op
	if len(raw) == 0 {
		return zero, apiError.Validation("Operation is required", nil)
	}
	op, err := e.algebra.DecodeOperation(raw)
	if err != nil {
		return zero, apiError.Validation(fmt.Sprintf("Malformed %s operation", e.algebra.Kind()), err)
	}
	if err := e.algebra.Validate(op); err != nil {
		return zero, apiError.Validation(fmt.Sprintf("Invalid %s operation: %v", e.algebra.Kind(), err), err)
	}
	return op, nil
}

func (e *Engine[Op, State]) authorizeAndCommit(ctx context.Context, sub Submission, op Op, authorize Check) (*domain.Revision, error) {
	if authorize != nil {
		if err := authorize(ctx); err != nil {
			return nil, err
		}
	}
	return e.commit(ctx, sub, op)
}

// commit runs the locked scope. It is detached from the caller's
// cancellation and bounded by CommitTimeout instead.
func (e *Engine[Op, State]) commit(ctx context.Context, sub Submission, op Op) (*domain.Revision, error) {
	scope, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.CommitDuration.WithLabelValues(string(sub.Ref.Kind)).Observe(time.Since(start).Seconds())
	}()

	var committed *domain.Revision
	err := e.store.Transaction(scope, func(tx revision.Tx) error {
		if err := tx.LockResource(scope, sub.Ref); err != nil {
			return err
		}

		latest, err := tx.Latest(scope, sub.Ref)
		if err != nil {
			return err
		}
		if sub.BaseRevision > latest.Number+1 {
			return apiError.Validation(fmt.Sprintf(
				"baseRevision %d is ahead of the latest revision %d", sub.BaseRevision, latest.Number), nil)
		}

		rebased, err := e.rebase(scope, tx, sub, op, latest.Number)
		if err != nil {
			return err
		}

		if e.cfg.CheckComposable {
			e.checkComposable(scope, tx, sub, rebased)
		}

		data, err := e.algebra.EncodeOperation(rebased)
		if err != nil {
			return err
		}
		rev := &domain.Revision{
			ResourceKind: sub.Ref.Kind,
			ResourceID:   sub.Ref.ID,
			Number:       latest.Number + 1,
			Operation:    data,
			AuthorID:     sub.AuthorID,
			SubmissionID: sub.SubmissionID,
			Revert:       sub.Revert,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.Append(scope, rev); err != nil {
			return err
		}
		committed = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// rebase transforms op through every revision committed after the base, in
// order. The committed side wins ties.
func (e *Engine[Op, State]) rebase(ctx context.Context, tx revision.Reader, sub Submission, op Op, latest uint64) (Op, error) {
	next := sub.BaseRevision + 1
	for next <= latest {
		batch, err := tx.ListRange(ctx, sub.Ref, next, latest, revision.TailBatchSize)
		if err != nil {
			return op, err
		}
		if len(batch) == 0 {
			return op, fmt.Errorf("revision log of %s has a gap at %d", sub.Ref, next)
		}
		for _, rev := range batch {
			if rev.Number != next {
				return op, fmt.Errorf("revision log of %s has a gap at %d", sub.Ref, next)
			}
			concurrent, err := e.algebra.DecodeOperation(rev.Operation)
			if err != nil {
				return op, fmt.Errorf("decode revision %s@%d: %w", sub.Ref, rev.Number, err)
			}
			op = e.algebra.Transform(op, concurrent, ot.IncomingYields)
			next++
		}
	}
	return op, nil
}

func (e *Engine[Op, State]) checkComposable(ctx context.Context, tx revision.Reader, sub Submission, op Op) {
	warn := func(err error) {
		metrics.ComposabilityWarnings.WithLabelValues(string(sub.Ref.Kind)).Inc()
		e.logger.Warn().Err(err).
			Str("resource", sub.Ref.String()).
			Uint64("base", sub.BaseRevision).
			Str("submission_id", sub.SubmissionID).
			Msg("rebased operation does not compose with current content")
	}

	content, err := e.reconstructor.ReconstructInScope(ctx, tx, sub.Ref)
	if err != nil {
		warn(err)
		return
	}
	if _, err := e.algebra.Apply(content.State, op); err != nil {
		warn(err)
	}
}

// resolveFailure maps a failed attempt to what the client sees. Every
// failure goes through the ledger first, denials included.
func (e *Engine[Op, State]) resolveFailure(ctx context.Context, sub Submission, err error) (*Outcome, error) {
	if errors.Is(err, revision.ErrDuplicateSubmission) {
		e.duplicate(sub, 0)
		return &Outcome{Duplicate: true}, nil
	}

	// another request with the same key may have won while this one failed
	check, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerCheckTimeout)
	defer cancel()
	if _, lookupErr := e.store.FindBySubmission(check, sub.Ref, sub.AuthorID, sub.SubmissionID); lookupErr == nil {
		metrics.ConflictsTotal.WithLabelValues(string(sub.Ref.Kind)).Inc()
		return nil, apiError.ConflictRetry("Submission was committed concurrently, retry to get the acknowledgement", err)
	}

	var apiErr *apiError.APIError
	if errors.As(err, &apiErr) {
		return nil, apiErr
	}
	if errors.Is(err, revision.ErrNotFound) {
		return nil, apiError.NotFound("Resource has no revision log", err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apiError.Store("Timed out waiting for the resource, retry later", err)
	case errors.Is(err, revision.ErrRevisionTaken):
		metrics.ConflictsTotal.WithLabelValues(string(sub.Ref.Kind)).Inc()
		return nil, apiError.ConflictRetry("Revision was taken by a concurrent commit, retry", err)
	}

	e.logger.Error().Err(err).Str("resource", sub.Ref.String()).Str("submission_id", sub.SubmissionID).Msg("commit failed")
	return nil, apiError.Internal(err)
}

func (e *Engine[Op, State]) duplicate(sub Submission, number uint64) {
	metrics.DuplicateSubmissions.WithLabelValues(string(sub.Ref.Kind)).Inc()
	e.logger.Info().
		Str("resource", sub.Ref.String()).
		Str("submission_id", sub.SubmissionID).
		Uint64("revision", number).
		Msg("duplicate submission acknowledged")
}

func (e *Engine[Op, State]) effectsFor(sub Submission, rev *domain.Revision) []effects.Effect {
	base := effects.Effect{
		Ref:          sub.Ref,
		DocumentID:   sub.DocumentID,
		Revision:     rev.Number,
		AuthorID:     rev.AuthorID,
		SubmissionID: rev.SubmissionID,
		Operation:    json.RawMessage(rev.Operation),
		Revert:       rev.Revert,
		CommittedAt:  rev.CreatedAt,
	}

	out := make([]effects.Effect, 0, 3)
	if e.cfg.SnapshotEvery > 0 && rev.Number > 0 && rev.Number%e.cfg.SnapshotEvery == 0 {
		snap := base
		snap.Kind = effects.KindSnapshot
		snap.Operation = nil
		out = append(out, snap)
	}
	for _, kind := range []effects.Kind{effects.KindNotification, effects.KindFanout} {
		eff := base
		eff.Kind = kind
		out = append(out, eff)
	}
	return out
}

// Snapshot stores the content at number on the revision row.
func (e *Engine[Op, State]) Snapshot(ctx context.Context, ref revision.Ref, number uint64) error {
	return e.reconstructor.Snapshot(ctx, e.store, ref, number)
}

// Content returns the encoded state at target, or at the latest revision.
func (e *Engine[Op, State]) Content(ctx context.Context, ref revision.Ref, target *uint64) (uint64, json.RawMessage, error) {
	content, err := e.reconstructor.Reconstruct(ctx, e.store, ref, target)
	if err != nil {
		return 0, nil, err
	}
	data, err := e.algebra.EncodeState(content.State)
	if err != nil {
		return 0, nil, err
	}
	return content.Revision, data, nil
}

// InitialRevision is revision 0 of a new resource: an empty operation and
// the empty state as its snapshot.
func (e *Engine[Op, State]) InitialRevision(ref revision.Ref, authorID uint64) (*domain.Revision, error) {
	op, err := e.algebra.EncodeOperation(e.algebra.EmptyOperation())
	if err != nil {
		return nil, err
	}
	state, err := e.algebra.EncodeState(e.algebra.Empty())
	if err != nil {
		return nil, err
	}
	return &domain.Revision{
		ResourceKind: ref.Kind,
		ResourceID:   ref.ID,
		Number:       0,
		Operation:    op,
		AuthorID:     authorID,
		SubmissionID: bootstrapSubmission,
		Snapshot:     state,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
