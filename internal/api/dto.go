package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

type alertDTO struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Blockchain      string    `json:"blockchain,omitempty"`
	Symbol          string    `json:"symbol"`
	Amount          float64   `json:"amount"`
	AmountUSD       float64   `json:"amount_usd"`
	FromAddress     string    `json:"from_address,omitempty"`
	ToAddress       string    `json:"to_address,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	Fingerprint     string    `json:"fingerprint"`
	CreatedAt       time.Time `json:"created_at"`
}

func toAlertDTOs(alerts []whale.PersistedAlert) []alertDTO {
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertDTO{
			ID:              a.ID,
			Timestamp:       a.Timestamp,
			Blockchain:      a.Blockchain,
			Symbol:          a.Symbol,
			Amount:          a.Amount,
			AmountUSD:       a.AmountUSD,
			FromAddress:     a.FromAddress,
			ToAddress:       a.ToAddress,
			TransactionType: a.TransactionType,
			Fingerprint:     a.Fingerprint,
			CreatedAt:       a.CreatedAt,
		})
	}
	return out
}

type statDTO struct {
	Group          string  `json:"group"`
	Count          int64   `json:"count"`
	TotalAmount    float64 `json:"total_amount"`
	TotalAmountUSD float64 `json:"total_amount_usd"`
	AvgAmountUSD   float64 `json:"avg_amount_usd"`
	MaxAmountUSD   float64 `json:"max_amount_usd"`
}

func toStatDTOs(stats []whale.AlertStat) []statDTO {
	out := make([]statDTO, 0, len(stats))
	for _, s := range stats {
		out = append(out, statDTO{
			Group:          s.Group,
			Count:          s.Count,
			TotalAmount:    s.TotalAmount,
			TotalAmountUSD: s.TotalAmountUSD,
			AvgAmountUSD:   s.AvgAmountUSD,
			MaxAmountUSD:   s.MaxAmountUSD,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
