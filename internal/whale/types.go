package whale

import (
	"fmt"
	"strings"
	"time"
)

// FingerprintMaxLen is the widest fingerprint the store accepts.
const FingerprintMaxLen = 64

// PlaceholderFingerprint is a sentinel the extraction model sometimes echoes
// back instead of a real transaction hash. Treated the same as no seed.
const PlaceholderFingerprint = "b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6"

// RawEvent is one inbound message from the channel transport.
type RawEvent struct {
	EventID   string
	Text      string
	Timestamp time.Time
}

// QueueItem wraps a RawEvent for transit through the work queue.
type QueueItem struct {
	Event RawEvent
}

// CandidateRecord is the parser's output. It is untrusted until Validate
// passes and the resolver has assigned a unique fingerprint.
type CandidateRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Blockchain      string    `json:"blockchain"`
	Symbol          string    `json:"symbol"`
	Amount          float64   `json:"amount"`
	AmountUSD       float64   `json:"amount_usd"`
	FromAddress     string    `json:"from_address"`
	ToAddress       string    `json:"to_address"`
	TransactionType string    `json:"transaction_type"`
	Fingerprint     string    `json:"hash"`
}

// ValidateExtracted checks the shape of a freshly extracted record. The
// fingerprint may still be empty or a placeholder at this stage; the
// resolver assigns the final one.
func (r CandidateRecord) ValidateExtracted() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("candidate record: symbol is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("candidate record: amount must be > 0, got %v", r.Amount)
	}
	if r.AmountUSD <= 0 {
		return fmt.Errorf("candidate record: amount_usd must be > 0, got %v", r.AmountUSD)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("candidate record: timestamp is required")
	}
	return nil
}

// Validate enforces the full shape a record needs before persistence,
// including a resolved fingerprint.
func (r CandidateRecord) Validate() error {
	if err := r.ValidateExtracted(); err != nil {
		return err
	}
	if r.Fingerprint == "" {
		return fmt.Errorf("candidate record: fingerprint is required")
	}
	if len(r.Fingerprint) > FingerprintMaxLen {
		return fmt.Errorf("candidate record: fingerprint exceeds %d chars", FingerprintMaxLen)
	}
	return nil
}

// PersistedAlert is the durable whale alert row. (Timestamp, ID) is the
// hypertable primary key; (Timestamp, Fingerprint) is unique.
type PersistedAlert struct {
	ID              string
	Timestamp       time.Time
	Blockchain      string
	Symbol          string
	Amount          float64
	AmountUSD       float64
	FromAddress     string
	ToAddress       string
	TransactionType string
	Fingerprint     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AlertFilter narrows read-side alert queries.
type AlertFilter struct {
	Symbol       string
	Blockchain   string
	MinAmountUSD float64
	Since        time.Time
	Limit        int
}

// AlertStat is one aggregate row grouped by symbol, blockchain, or
// transaction type.
type AlertStat struct {
	Group          string
	Count          int64
	TotalAmount    float64
	TotalAmountUSD float64
	AvgAmountUSD   float64
	MaxAmountUSD   float64
}
