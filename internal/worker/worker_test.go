package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	pubmem "github.com/JakeFAU/whale-sentinel/internal/publisher/memory"
	"github.com/JakeFAU/whale-sentinel/internal/queue/memory"
	blobmem "github.com/JakeFAU/whale-sentinel/internal/storage/memory"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

func init() {
	metrics.Init()
}

type stubParser struct {
	rec   *whale.CandidateRecord
	err   error
	panic bool
}

func (s *stubParser) ParseMessage(context.Context, whale.RawEvent) (*whale.CandidateRecord, error) {
	if s.panic {
		panic("parser exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	rec := *s.rec
	return &rec, nil
}

type stubResolver struct {
	fingerprint string
	err         error
}

func (s *stubResolver) Resolve(context.Context, whale.CandidateRecord) (string, error) {
	return s.fingerprint, s.err
}

type stubStore struct {
	mu       sync.Mutex
	inserted []whale.CandidateRecord
	err      error
}

func (s *stubStore) InsertAlert(_ context.Context, rec whale.CandidateRecord) (whale.PersistedAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return whale.PersistedAlert{}, s.err
	}
	s.inserted = append(s.inserted, rec)
	return whale.PersistedAlert{ID: "alert-1", Fingerprint: rec.Fingerprint, Symbol: rec.Symbol, AmountUSD: rec.AmountUSD}, nil
}

func (s *stubStore) GetAlertByFingerprint(context.Context, string) (*whale.PersistedAlert, error) {
	return nil, nil
}

func candidate() *whale.CandidateRecord {
	return &whale.CandidateRecord{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Symbol:    "BTC",
		Amount:    500,
		AmountUSD: 31000000,
	}
}

func queued(id string) whale.QueueItem {
	return whale.QueueItem{Event: whale.RawEvent{
		EventID:   id,
		Text:      "500 #BTC transferred",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
}

type fixture struct {
	queue     *memory.Queue
	parser    *stubParser
	resolver  *stubResolver
	store     *stubStore
	publisher *pubmem.Publisher
	archive   *blobmem.BlobStore
	worker    *Worker
}

func newFixture() *fixture {
	f := &fixture{
		queue:     memory.NewQueue(8),
		parser:    &stubParser{rec: candidate()},
		resolver:  &stubResolver{fingerprint: "fp-1"},
		store:     &stubStore{},
		publisher: pubmem.New(),
		archive:   blobmem.NewBlobStore(),
	}
	f.worker = New(f.queue, f.parser, f.resolver, f.store, f.publisher, f.archive, Config{}, zap.NewNop())
	return f
}

func (f *fixture) runOne(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.queue.TryEnqueue(queued(id)))
	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	f.worker.Process(context.Background(), item)
}

func requireIdle(t *testing.T, q *memory.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx), "item was not balanced with Done")
}

func TestWorkerPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.runOne(t, "1")

	require.Len(t, f.store.inserted, 1)
	require.Equal(t, "fp-1", f.store.inserted[0].Fingerprint)

	alerts := f.publisher.AlertsFor("whale-alerts")
	require.Len(t, alerts, 1)
	require.Equal(t, "fp-1", alerts[0].Fingerprint)

	require.Equal(t, []string{"events/2024/03/01/1.json"}, f.archive.Paths())
	raw, ok := f.archive.Get("events/2024/03/01/1.json")
	require.True(t, ok)
	require.Contains(t, string(raw), "500 #BTC transferred")
	requireIdle(t, f.queue)
}

func TestWorkerDropsEventOnParseFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.parser.err = whale.ErrPermanent
	f.runOne(t, "1")

	require.Empty(t, f.store.inserted)
	require.Empty(t, f.publisher.Notifications())
	requireIdle(t, f.queue)
}

func TestWorkerDropsEventOnFingerprintExhaustion(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.resolver.err = whale.ErrFingerprintExhausted
	f.runOne(t, "1")

	require.Empty(t, f.store.inserted)
	requireIdle(t, f.queue)
}

func TestWorkerTreatsDuplicateAsHandled(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.err = whale.ErrDuplicateAlert
	f.runOne(t, "1")

	require.Empty(t, f.publisher.Notifications(), "duplicates must not be re-announced")
	requireIdle(t, f.queue)
}

func TestWorkerContainsPanics(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.parser.panic = true
	require.NotPanics(t, func() { f.runOne(t, "1") })
	requireIdle(t, f.queue)
}

func TestWorkerToleratesPublishAndArchiveFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.publisher.FailWith(errors.New("pubsub unavailable"))
	f.archive.FailWith(errors.New("gcs unavailable"))
	f.runOne(t, "1")

	// The alert still lands: notification and archive are best effort.
	require.Len(t, f.store.inserted, 1)
	requireIdle(t, f.queue)
}

func TestWorkerRunsWithoutOptionalSinks(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.worker = New(f.queue, f.parser, f.resolver, f.store, nil, nil, Config{}, zap.NewNop())
	f.runOne(t, "1")

	require.Len(t, f.store.inserted, 1)
	requireIdle(t, f.queue)
}

func TestPoolDrainLetsInFlightWorkFinish(t *testing.T) {
	t.Parallel()

	f := newFixture()
	release := make(chan struct{})
	slowStore := &blockingStore{inner: f.store, release: release}
	w := New(f.queue, f.parser, f.resolver, slowStore, nil, nil, Config{}, zap.NewNop())
	pool := NewPool([]*Worker{w})

	require.NoError(t, f.queue.TryEnqueue(queued("1")))
	pool.Start(context.Background())

	// Wait for the worker to pick the item up, then stop intake.
	require.Eventually(t, func() bool { return slowStore.entered() }, time.Second, 5*time.Millisecond)
	pool.StopPulling()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.queue.WaitIdle(ctx))
	require.NoError(t, pool.Wait(ctx))
	require.Len(t, f.store.inserted, 1)
}

func TestPoolCancelProcessingStopsWorkers(t *testing.T) {
	t.Parallel()

	f := newFixture()
	pool := NewPool([]*Worker{f.worker})
	pool.Start(context.Background())
	pool.CancelProcessing()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))
}

type blockingStore struct {
	inner   *stubStore
	release chan struct{}
	mu      sync.Mutex
	active  bool
}

func (b *blockingStore) entered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *blockingStore) InsertAlert(ctx context.Context, rec whale.CandidateRecord) (whale.PersistedAlert, error) {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	<-b.release
	return b.inner.InsertAlert(ctx, rec)
}

func (b *blockingStore) GetAlertByFingerprint(ctx context.Context, fp string) (*whale.PersistedAlert, error) {
	return b.inner.GetAlertByFingerprint(ctx, fp)
}
