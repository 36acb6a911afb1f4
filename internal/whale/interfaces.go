package whale

import (
	"context"
	"time"
)

// Queue provides bounded FIFO transit between the listener and the workers.
// Producers must use the non-blocking TryEnqueue; consumers block on Dequeue.
// Every dequeued item must be balanced by exactly one Done call so WaitIdle
// can observe true completion during a drain.
type Queue interface {
	TryEnqueue(item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Done()
	WaitIdle(ctx context.Context) error
	Len() int
}

// ChannelTransport delivers RawEvents pushed by the upstream channel.
type ChannelTransport interface {
	JoinChannel(ctx context.Context, channel string) error
	Events() <-chan RawEvent
	Close() error
}

// ExtractionRequest is the contract with the extraction service: a fixed
// instruction prompt plus the normalized message input.
type ExtractionRequest struct {
	Instruction string
	Input       string
}

// Extractor turns unstructured text into a candidate record.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*CandidateRecord, error)
}

// Parser drives the full extraction pipeline for one event.
type Parser interface {
	ParseMessage(ctx context.Context, event RawEvent) (*CandidateRecord, error)
}

// FingerprintResolver guarantees a unique fingerprint before persistence.
type FingerprintResolver interface {
	Resolve(ctx context.Context, rec CandidateRecord) (string, error)
}

// AlertStore is the persistence gateway write path.
type AlertStore interface {
	InsertAlert(ctx context.Context, rec CandidateRecord) (PersistedAlert, error)
	GetAlertByFingerprint(ctx context.Context, fingerprint string) (*PersistedAlert, error)
}

// AlertReader is the read-side boundary consumed by the HTTP API.
type AlertReader interface {
	ListRecentAlerts(ctx context.Context, filter AlertFilter) ([]PersistedAlert, error)
	AlertStats(ctx context.Context, groupBy string, window time.Duration) ([]AlertStat, error)
}

// Publisher pushes persisted-alert notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
