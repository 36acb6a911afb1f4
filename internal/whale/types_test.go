package whale

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validRecord() CandidateRecord {
	return CandidateRecord{
		Timestamp:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Blockchain:      "ethereum",
		Symbol:          "ETH",
		Amount:          1000,
		AmountUSD:       1800000,
		TransactionType: "transfer",
		Fingerprint:     "0xdeadbeef",
	}
}

func TestCandidateRecordValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validRecord().Validate())

	cases := []struct {
		name   string
		mutate func(*CandidateRecord)
	}{
		{"empty symbol", func(r *CandidateRecord) { r.Symbol = "  " }},
		{"zero amount", func(r *CandidateRecord) { r.Amount = 0 }},
		{"negative amount", func(r *CandidateRecord) { r.Amount = -5 }},
		{"zero usd", func(r *CandidateRecord) { r.AmountUSD = 0 }},
		{"missing fingerprint", func(r *CandidateRecord) { r.Fingerprint = "" }},
		{"oversized fingerprint", func(r *CandidateRecord) { r.Fingerprint = strings.Repeat("a", FingerprintMaxLen+1) }},
		{"zero timestamp", func(r *CandidateRecord) { r.Timestamp = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := validRecord()
			tc.mutate(&rec)
			require.Error(t, rec.Validate())
		})
	}
}

func TestCandidateRecordValidateExtracted(t *testing.T) {
	t.Parallel()

	// Extraction-stage validation tolerates a missing fingerprint; the
	// resolver assigns one later.
	rec := validRecord()
	rec.Fingerprint = ""
	require.NoError(t, rec.ValidateExtracted())

	rec.Symbol = ""
	require.Error(t, rec.ValidateExtracted())
}
