package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/fingerprint"
	"github.com/JakeFAU/whale-sentinel/internal/listener"
	"github.com/JakeFAU/whale-sentinel/internal/parser"
	pubmem "github.com/JakeFAU/whale-sentinel/internal/publisher/memory"
	"github.com/JakeFAU/whale-sentinel/internal/queue/memory"
	blobmem "github.com/JakeFAU/whale-sentinel/internal/storage/memory"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// memStore is an in-memory AlertStore honoring the fingerprint uniqueness
// contract, for end-to-end pipeline tests.
type memStore struct {
	mu     sync.Mutex
	byFP   map[string]whale.PersistedAlert
	nextID int
}

func newMemStore() *memStore {
	return &memStore{byFP: make(map[string]whale.PersistedAlert)}
}

func (s *memStore) InsertAlert(_ context.Context, rec whale.CandidateRecord) (whale.PersistedAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byFP[rec.Fingerprint]; ok {
		return whale.PersistedAlert{}, whale.ErrDuplicateAlert
	}
	s.nextID++
	alert := whale.PersistedAlert{
		ID:          fmt.Sprintf("alert-%d", s.nextID),
		Timestamp:   rec.Timestamp,
		Blockchain:  rec.Blockchain,
		Symbol:      rec.Symbol,
		Amount:      rec.Amount,
		AmountUSD:   rec.AmountUSD,
		Fingerprint: rec.Fingerprint,
		CreatedAt:   time.Now().UTC(),
	}
	s.byFP[rec.Fingerprint] = alert
	return alert, nil
}

func (s *memStore) GetAlertByFingerprint(_ context.Context, fp string) (*whale.PersistedAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert, ok := s.byFP[fp]; ok {
		return &alert, nil
	}
	return nil, nil
}

func (s *memStore) all() []whale.PersistedAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]whale.PersistedAlert, 0, len(s.byFP))
	for _, a := range s.byFP {
		out = append(out, a)
	}
	return out
}

// ethExtractor answers every request with the parsed form of
// "1,000 ETH ($1,800,000) transferred", hash unset so the resolver derives
// the fingerprint.
type ethExtractor struct{}

func (ethExtractor) Extract(_ context.Context, req whale.ExtractionRequest) (*whale.CandidateRecord, error) {
	return &whale.CandidateRecord{
		Blockchain:      "ethereum",
		Symbol:          "ETH",
		Amount:          1000,
		AmountUSD:       1800000,
		TransactionType: "transfer",
	}, nil
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	eventTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	q := memory.NewQueue(1000)
	store := newMemStore()

	retry := whale.NewRetryPolicy()
	retry.BaseDelay = time.Millisecond
	prs, err := parser.New(ethExtractor{}, retry, 0, zap.NewNop())
	require.NoError(t, err)

	resolver := fingerprint.NewResolver(store, zap.NewNop())
	notifier := pubmem.New()
	archive := blobmem.NewBlobStore()
	w := New(q, prs, resolver, store, notifier, archive, Config{}, zap.NewNop())

	l := listener.New(nil, q, "whale_alert", zap.NewNop())
	l.HandleEvent(whale.RawEvent{
		EventID:   "7001",
		Text:      "1,000 ETH ($1,800,000) transferred",
		Timestamp: eventTime,
	})

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	w.Process(context.Background(), item)

	alerts := store.all()
	require.Len(t, alerts, 1)
	alert := alerts[0]
	require.Equal(t, float64(1000), alert.Amount)
	require.Equal(t, float64(1800000), alert.AmountUSD)
	require.Equal(t, eventTime, alert.Timestamp, "parser must backfill the event timestamp")
	require.NotEmpty(t, alert.Fingerprint)
	require.LessOrEqual(t, len(alert.Fingerprint), whale.FingerprintMaxLen)
	require.False(t, alert.CreatedAt.Before(eventTime))

	// The same text again derives a fresh fingerprint (random salt), so two
	// submissions are two distinct observations.
	l.HandleEvent(whale.RawEvent{EventID: "7002", Text: "1,000 ETH ($1,800,000) transferred", Timestamp: eventTime})
	item, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	w.Process(context.Background(), item)

	require.Len(t, store.all(), 2)

	// Both alerts were announced and both raw events archived.
	require.Len(t, notifier.AlertsFor("whale-alerts"), 2)
	require.Equal(t, []string{
		"events/2024/03/01/7001.json",
		"events/2024/03/01/7002.json",
	}, archive.Paths())

	// Every admitted item was balanced with Done.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
}
