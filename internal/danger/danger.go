// Package danger maps anomaly scores onto discrete risk tiers.
package danger

import (
	"strconv"

	"github.com/rewired-gh/idswatch/internal/models"
)

// Tier is a discrete risk classification bucket.
type Tier int

const (
	Unknown Tier = iota
	Safe
	Low
	Medium
	High
	Critical
)

func (t Tier) String() string {
	switch t {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	case Low:
		return "LOW"
	case Safe:
		return "SAFE"
	default:
		return "UNKNOWN"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Danger is the display-ready classification of one score.
type Danger struct {
	Tier  Tier   `json:"tier"`
	Level int    `json:"level"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Known reports whether the classification came from a real score.
func (d Danger) Known() bool {
	return d.Tier != Unknown
}

// LevelString returns the risk level, or "?" when the score was absent.
func (d Danger) LevelString() string {
	if !d.Known() {
		return "?"
	}
	return strconv.Itoa(d.Level)
}

type band struct {
	below float64
	tier  Tier
	level int
	color string
}

// Evaluated in order; the first band whose upper bound exceeds the score wins.
var bands = []band{
	{0.05, Critical, 10, "#f43f5e"},
	{0.10, High, 8, "#ef4444"},
	{0.20, Medium, 6, "#f59e0b"},
	{0.30, Low, 4, "#eab308"},
}

var (
	safe    = Danger{Tier: Safe, Level: 2, Label: Safe.String(), Color: "#10b981"}
	unknown = Danger{Tier: Unknown, Label: "N/A", Color: "#94a3b8"}
)

// Classify maps a score onto its danger tier. A nil score is Unknown.
func Classify(score *float64) Danger {
	if score == nil {
		return unknown
	}
	for _, b := range bands {
		if *score < b.below {
			return Danger{Tier: b.tier, Level: b.level, Label: b.tier.String(), Color: b.color}
		}
	}
	return safe
}

// ClassifyAlert classifies an alert by its anomaly score.
func ClassifyAlert(a models.Alert) Danger {
	return Classify(a.AnomalyScore)
}

// AnyCritical reports whether at least one alert in batch is Critical.
func AnyCritical(batch []models.Alert) bool {
	for _, a := range batch {
		if ClassifyAlert(a).Tier == Critical {
			return true
		}
	}
	return false
}
