package revision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/metrics"
	"collab-revisions/internal/ot"
)

// ContentCache memoizes reconstructed states. Entries are keyed by resource
// and revision number, so they never go stale.
type ContentCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

const contentCacheTTL = 24 * time.Hour

// Content is the state of a resource at a revision.
type Content[State any] struct {
	Revision uint64
	State    State
}

// Reconstructor rebuilds content from the nearest snapshot plus the tail of
// revisions after it.
type Reconstructor[Op any, State any] struct {
	algebra ot.Algebra[Op, State]
	cache   ContentCache
	group   singleflight.Group
	logger  zerolog.Logger
}

func NewReconstructor[Op any, State any](algebra ot.Algebra[Op, State], cache ContentCache, logger zerolog.Logger) *Reconstructor[Op, State] {
	return &Reconstructor[Op, State]{
		algebra: algebra,
		cache:   cache,
		logger:  logger.With().Str("component", "reconstructor").Str("variant", algebra.Kind()).Logger(),
	}
}

// Reconstruct returns the content at target, or at the latest revision when
// target is nil. Identical concurrent reconstructions share one fold.
func (r *Reconstructor[Op, State]) Reconstruct(ctx context.Context, rd Reader, ref Ref, target *uint64) (*Content[State], error) {
	latest, err := r.resolve(ctx, rd, ref, target)
	if err != nil {
		return nil, err
	}

	key := contentKey(ref, latest.Number)
	if content, ok := r.cached(ctx, key, latest.Number); ok {
		return content, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		content, err := r.build(ctx, rd, ref, latest)
		if err != nil {
			return nil, err
		}
		r.remember(ctx, key, content.State)
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Content[State]), nil
}

// ReconstructInScope rebuilds the latest content through a transaction's
// reader. It runs under the resource lock, so it only talks to the store:
// the content cache is neither read nor written.
func (r *Reconstructor[Op, State]) ReconstructInScope(ctx context.Context, tx Reader, ref Ref) (*Content[State], error) {
	latest, err := r.resolve(ctx, tx, ref, nil)
	if err != nil {
		return nil, err
	}
	return r.build(ctx, tx, ref, latest)
}

// Snapshot stores the content at number on that revision. It is idempotent.
func (r *Reconstructor[Op, State]) Snapshot(ctx context.Context, store Store, ref Ref, number uint64) error {
	content, err := r.Reconstruct(ctx, store, ref, &number)
	if err != nil {
		return err
	}
	if content.Revision != number {
		return fmt.Errorf("snapshot %s@%d: %w", ref, number, ErrNotFound)
	}
	data, err := r.algebra.EncodeState(content.State)
	if err != nil {
		return fmt.Errorf("encode snapshot %s@%d: %w", ref, number, err)
	}
	if err := store.SaveSnapshot(ctx, ref, number, data); err != nil {
		return fmt.Errorf("save snapshot %s@%d: %w", ref, number, err)
	}
	r.logger.Debug().Str("resource", ref.String()).Uint64("revision", number).Msg("snapshot stored")
	return nil
}

func (r *Reconstructor[Op, State]) resolve(ctx context.Context, rd Reader, ref Ref, target *uint64) (*domain.Revision, error) {
	var (
		latest *domain.Revision
		err    error
	)
	if target == nil {
		latest, err = rd.Latest(ctx, ref)
	} else {
		latest, err = rd.LatestAtOrBefore(ctx, ref, *target)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return latest, nil
}

func (r *Reconstructor[Op, State]) build(ctx context.Context, rd Reader, ref Ref, latest *domain.Revision) (*Content[State], error) {
	if latest.HasSnapshot() {
		return r.decodeSnapshot(ref, latest)
	}

	state := r.algebra.Empty()
	next := uint64(0)

	base, err := rd.LatestSnapshot(ctx, ref, latest.Number)
	switch {
	case err == nil:
		content, err := r.decodeSnapshot(ref, base)
		if err != nil {
			return nil, err
		}
		state, next = content.State, base.Number+1
	case errors.Is(err, ErrNotFound):
		r.logger.Debug().Str("resource", ref.String()).Msg("no snapshot, replaying full log")
	default:
		return nil, fmt.Errorf("load snapshot %s: %w", ref, err)
	}

	folded := 0
	for next <= latest.Number {
		batch, err := rd.ListRange(ctx, ref, next, latest.Number, TailBatchSize)
		if err != nil {
			return nil, fmt.Errorf("load tail %s from %d: %w", ref, next, err)
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("revision log of %s has a gap at %d", ref, next)
		}
		for _, rev := range batch {
			if rev.Number != next {
				return nil, fmt.Errorf("revision log of %s has a gap at %d", ref, next)
			}
			op, err := r.algebra.DecodeOperation(rev.Operation)
			if err != nil {
				return nil, fmt.Errorf("decode revision %s@%d: %w", ref, rev.Number, err)
			}
			var dropped int
			if state, dropped = r.algebra.Replay(state, op); dropped > 0 {
				metrics.ReplayDropped.WithLabelValues(string(ref.Kind)).Inc()
				r.logger.Warn().
					Str("resource", ref.String()).
					Uint64("revision", rev.Number).
					Int("dropped", dropped).
					Msg("revision does not fit its content, replayed the part that does")
			}
			next++
			folded++
		}
	}
	metrics.RevisionsFolded.WithLabelValues(string(ref.Kind)).Add(float64(folded))

	return &Content[State]{Revision: latest.Number, State: state}, nil
}

func (r *Reconstructor[Op, State]) decodeSnapshot(ref Ref, rev *domain.Revision) (*Content[State], error) {
	state, err := r.algebra.DecodeState(rev.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s@%d: %w", ref, rev.Number, err)
	}
	return &Content[State]{Revision: rev.Number, State: state}, nil
}

func (r *Reconstructor[Op, State]) cached(ctx context.Context, key string, number uint64) (*Content[State], bool) {
	if r.cache == nil {
		return nil, false
	}
	var raw json.RawMessage
	found, err := r.cache.Get(ctx, key, &raw)
	if err != nil || !found {
		return nil, false
	}
	state, err := r.algebra.DecodeState(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("dropping unreadable cached content")
		return nil, false
	}
	metrics.ContentCacheHits.Inc()
	return &Content[State]{Revision: number, State: state}, true
}

func (r *Reconstructor[Op, State]) remember(ctx context.Context, key string, state State) {
	if r.cache == nil {
		return
	}
	data, err := r.algebra.EncodeState(state)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, json.RawMessage(data), contentCacheTTL); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to cache content")
	}
}

func contentKey(ref Ref, number uint64) string {
	return fmt.Sprintf("content:%s:%d", ref.LockKey(), number)
}
