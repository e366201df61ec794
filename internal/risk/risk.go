// Package risk derives the rolling risk score from the most recent alerts.
package risk

import (
	"math"

	"github.com/rewired-gh/idswatch/internal/danger"
	"github.com/rewired-gh/idswatch/internal/models"
)

// DefaultWindow is the number of most recent alerts considered.
const DefaultWindow = 20

type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Assessment is the aggregated risk of a buffer.
type Assessment struct {
	Score      int        `json:"risk_score"`
	Confidence Confidence `json:"confidence"`
	Considered int        `json:"considered"`
}

// Aggregate computes the assessment over the first window entries of a
// newest-first buffer. Alerts without a score do not contribute to the mean.
func Aggregate(alerts []models.Alert, window int) Assessment {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(alerts) > window {
		alerts = alerts[:window]
	}

	var sum, n int
	for _, a := range alerts {
		d := danger.ClassifyAlert(a)
		if !d.Known() {
			continue
		}
		sum += d.Level
		n++
	}

	score := 0
	if n > 0 {
		score = int(math.Round(float64(sum) / float64(n)))
	}
	return Assessment{
		Score:      score,
		Confidence: ConfidenceFor(score),
		Considered: len(alerts),
	}
}

// ConfidenceFor maps a risk score onto a confidence label.
func ConfidenceFor(score int) Confidence {
	switch {
	case score >= 8:
		return ConfidenceHigh
	case score >= 5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
