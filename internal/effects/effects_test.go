package effects

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/revision"
	"collab-revisions/internal/sync"
	"collab-revisions/internal/worker"
)

var testRef = revision.Ref{Kind: domain.KindPane, ID: 9}

func fastOptions(maxRetry int) Options {
	return Options{MaxRetry: maxRetry, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	pool := worker.NewWorkerPool(2, zerolog.Nop())
	d := NewDispatcher(pool, fastOptions(3), zerolog.Nop())
	var calls atomic.Int32
	d.Register(KindSnapshot, ExecutorFunc(func(ctx context.Context, e Effect) error {
		if calls.Add(1) < 3 {
			return errors.New("db busy")
		}
		return nil
	}))

	d.Dispatch(Effect{Kind: KindSnapshot, Ref: testRef, Revision: 20})

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_GivesUpAfterMaxRetry(t *testing.T) {
	pool := worker.NewWorkerPool(1, zerolog.Nop())
	d := NewDispatcher(pool, fastOptions(2), zerolog.Nop())
	var calls atomic.Int32
	d.Register(KindFanout, ExecutorFunc(func(ctx context.Context, e Effect) error {
		calls.Add(1)
		return errors.New("sync server down")
	}))

	d.Dispatch(Effect{Kind: KindFanout, Ref: testRef, Revision: 1})

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_EffectsAreIndependent(t *testing.T) {
	pool := worker.NewWorkerPool(2, zerolog.Nop())
	d := NewDispatcher(pool, fastOptions(0), zerolog.Nop())
	var notified atomic.Bool
	d.Register(KindFanout, ExecutorFunc(func(ctx context.Context, e Effect) error {
		return errors.New("fails")
	}))
	d.Register(KindNotification, ExecutorFunc(func(ctx context.Context, e Effect) error {
		notified.Store(true)
		return nil
	}))

	d.Dispatch(
		Effect{Kind: KindFanout, Ref: testRef, Revision: 1},
		Effect{Kind: KindNotification, Ref: testRef, Revision: 1},
		Effect{Kind: KindSnapshot, Ref: testRef, Revision: 1}, // no executor
	)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, notified.Load())
}

func TestBackoff_IsCapped(t *testing.T) {
	d := NewDispatcher(nil, Options{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, zerolog.Nop())

	assert.Equal(t, 100*time.Millisecond, d.backoff(0))
	assert.Equal(t, 400*time.Millisecond, d.backoff(2))
	assert.Equal(t, time.Second, d.backoff(5))
}

func TestKafkaNotifier_PublishesEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var evt RevisionEvent
		if err := json.Unmarshal(val, &evt); err != nil {
			return err
		}
		if evt.Type != "revision.committed" || evt.ResourceKind != "pane" || evt.Revision != 4 || evt.ID == "" {
			return errors.New("unexpected event")
		}
		return nil
	})

	n := NewKafkaNotifier(producer, "revision-events")
	err := n.Execute(context.Background(), Effect{
		Kind:       KindNotification,
		Ref:        testRef,
		DocumentID: 2,
		Revision:   4,
		Operation:  json.RawMessage(`[]`),
	})

	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestKafkaNotifier_ReturnsProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewKafkaNotifier(producer, "revision-events").Execute(context.Background(), Effect{Ref: testRef})

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestFanoutExecutor_PostsToDocumentRoom(t *testing.T) {
	var got sync.RevisionMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/documents/2/revisions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	exec := FanoutExecutor(sync.NewSyncClient(server.URL, "secret"))
	err := exec.Execute(context.Background(), Effect{
		Kind:       KindFanout,
		Ref:        testRef,
		DocumentID: 2,
		Revision:   7,
		AuthorID:   3,
		Operation:  json.RawMessage(`[{"path":["a"],"kind":"object-insert","value":1}]`),
	})

	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.RevisionNumber)
	assert.Equal(t, "pane", got.ResourceKind)
}

type recordingSnapshotter struct {
	ref    revision.Ref
	number uint64
}

func (r *recordingSnapshotter) Snapshot(ctx context.Context, ref revision.Ref, number uint64) error {
	r.ref, r.number = ref, number
	return nil
}

func TestSnapshotExecutor(t *testing.T) {
	rec := &recordingSnapshotter{}

	require.NoError(t, SnapshotExecutor(rec).Execute(context.Background(), Effect{Ref: testRef, Revision: 40}))

	assert.Equal(t, testRef, rec.ref)
	assert.Equal(t, uint64(40), rec.number)
}
