// Package fingerprint assigns each candidate record a unique fingerprint
// before it reaches the store.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/metrics"
	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

// DefaultMaxAttempts bounds the collision-resolution loop.
const DefaultMaxAttempts = 10

// FingerprintIndex is the read-side a resolver needs: fingerprint lookup only.
type FingerprintIndex interface {
	GetAlertByFingerprint(ctx context.Context, fingerprint string) (*whale.PersistedAlert, error)
}

// Resolver implements whale.FingerprintResolver against an alert index.
type Resolver struct {
	index       FingerprintIndex
	maxAttempts int
	newUUID     func() string
	logger      *zap.Logger
}

// NewResolver constructs a resolver with the default attempt cap.
func NewResolver(index FingerprintIndex, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		index:       index,
		maxAttempts: DefaultMaxAttempts,
		newUUID:     uuid.NewString,
		logger:      logger.With(zap.String("component", "fingerprint")),
	}
}

// Resolve returns a fingerprint not currently present in the index. A missing,
// empty, or placeholder seed is replaced by a derived one; a seed wider than
// the store's column is hashed down first. Collisions get a fresh random
// suffix per attempt. After the attempt cap it returns
// whale.ErrFingerprintExhausted.
func (r *Resolver) Resolve(ctx context.Context, rec whale.CandidateRecord) (string, error) {
	seed := rec.Fingerprint
	switch {
	case seed == "" || seed == whale.PlaceholderFingerprint:
		seed = r.derive(rec)
		r.logger.Info("derived fingerprint from record fields", zap.String("fingerprint", seed))
	case len(seed) > whale.FingerprintMaxLen:
		hashed := hashDown(seed)
		r.logger.Warn("oversized fingerprint hashed down",
			zap.Int("length", len(seed)),
			zap.String("fingerprint", hashed),
		)
		seed = hashed
	}

	candidate := seed
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		existing, err := r.index.GetAlertByFingerprint(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("fingerprint lookup: %w", err)
		}
		if existing == nil {
			return candidate, nil
		}

		metrics.ObserveFingerprintCollision()
		if attempt == r.maxAttempts-1 {
			break
		}

		next := r.rekey(seed, attempt)
		r.logger.Debug("fingerprint collision, rekeying",
			zap.String("collided", candidate),
			zap.String("next", next),
		)
		candidate = next
	}

	r.logger.Error("could not find a free fingerprint",
		zap.String("seed", seed),
		zap.Int("attempts", r.maxAttempts),
	)
	return "", fmt.Errorf("%w: seed %s", whale.ErrFingerprintExhausted, seed)
}

// derive builds a fingerprint from the record fields plus a random
// component, so two identical alerts still get distinct fingerprints.
func (r *Resolver) derive(rec whale.CandidateRecord) string {
	parts := []string{
		orUnknown(rec.Timestamp.UTC().Format("2006-01-02 15:04:05"), !rec.Timestamp.IsZero()),
		orUnknown(rec.Blockchain, rec.Blockchain != ""),
		orUnknown(rec.Symbol, rec.Symbol != ""),
		amountString(rec.Amount),
		orUnknown(rec.FromAddress, rec.FromAddress != ""),
		orUnknown(rec.ToAddress, rec.ToAddress != ""),
		r.newUUID(),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "_")))
	return hex.EncodeToString(sum[:])[:whale.FingerprintMaxLen]
}

// rekey appends a fresh 8-char suffix to the seed, hashing down when the
// result would not fit the store's column.
func (r *Resolver) rekey(seed string, attempt int) string {
	suffix := strings.ReplaceAll(r.newUUID(), "-", "")[:8]
	if len(seed)+len(suffix)+1 > whale.FingerprintMaxLen {
		return hashDown(fmt.Sprintf("%s_%s_%d", seed, suffix, attempt))
	}
	return seed + "_" + suffix
}

func hashDown(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:whale.FingerprintMaxLen]
}

func orUnknown(value string, ok bool) string {
	if !ok {
		return "unknown"
	}
	return value
}

func amountString(amount float64) string {
	if amount == 0 {
		return "0"
	}
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
