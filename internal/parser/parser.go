// Package parser turns raw channel events into validated candidate records
// by normalizing the message, truncating it to the model's token budget, and
// driving the extraction service with bounded retries.
package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// DefaultTokenBudget caps the normalized input sent to the model.
const DefaultTokenBudget = 8000

const encodingName = "cl100k_base"

// instruction is the fixed system prompt sent with every extraction request.
const instruction = `You extract structured whale transaction data from alert messages.
The input line starts with the message timestamp, followed by the alert text.
Respond with a single JSON object with exactly these keys:
"timestamp" (RFC 3339), "blockchain", "symbol", "amount" (number),
"amount_usd" (number), "from_address", "to_address", "transaction_type",
"hash" (the transaction hash if present, otherwise an empty string).
Use "unknown" for string fields you cannot determine.`

// Parser implements whale.Parser on top of an Extractor.
type Parser struct {
	extractor   whale.Extractor
	retry       whale.RetryPolicy
	tokenBudget int
	encoder     *tiktoken.Tiktoken
	logger      *zap.Logger
}

// New constructs a parser. A tokenBudget of zero selects DefaultTokenBudget.
func New(extractor whale.Extractor, retry whale.RetryPolicy, tokenBudget int, logger *zap.Logger) (*Parser, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &Parser{
		extractor:   extractor,
		retry:       retry,
		tokenBudget: tokenBudget,
		encoder:     encoder,
		logger:      logger.With(zap.String("component", "parser")),
	}, nil
}

// Normalize produces the model input: the event timestamp and text on one
// line, truncated to the token budget. Truncation is logged, never an error.
func (p *Parser) Normalize(event whale.RawEvent) string {
	input := fmt.Sprintf("%s %s", event.Timestamp.UTC().Format("2006-01-02 15:04:05"), strings.TrimSpace(event.Text))

	tokens := p.encoder.Encode(input, nil, nil)
	if len(tokens) <= p.tokenBudget {
		return input
	}

	truncated := p.encoder.Decode(tokens[:p.tokenBudget])
	p.logger.Warn("truncated oversized message",
		zap.String("event_id", event.EventID),
		zap.Int("tokens", len(tokens)),
		zap.Int("token_budget", p.tokenBudget),
	)
	return truncated
}

// ParseMessage runs the extraction with retries and validates the result.
// The event timestamp backfills a missing or zero record timestamp before
// validation.
func (p *Parser) ParseMessage(ctx context.Context, event whale.RawEvent) (*whale.CandidateRecord, error) {
	input := p.Normalize(event)

	var rec *whale.CandidateRecord
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		out, err := p.extractor.Extract(ctx, whale.ExtractionRequest{
			Instruction: instruction,
			Input:       input,
		})
		if err != nil {
			if whale.IsRetryable(err) {
				metrics.ObserveParseAttempt("retryable")
			} else {
				metrics.ObserveParseAttempt("permanent")
			}
			return err
		}

		if out.Timestamp.IsZero() {
			out.Timestamp = event.Timestamp
		}
		if err := out.ValidateExtracted(); err != nil {
			metrics.ObserveParseAttempt("retryable")
			return fmt.Errorf("%w: %v", whale.ErrMalformedOutput, err)
		}

		metrics.ObserveParseAttempt("ok")
		rec = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse event %s: %w", event.EventID, err)
	}
	return rec, nil
}
