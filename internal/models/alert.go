// Package models defines the core domain entities: alerts, score points, and backend snapshots.
package models

import "strings"

// MissingField is the display placeholder for absent string fields.
const MissingField = "-"

// Alert is one anomalous network event reported by the detection backend.
// Alerts are treated as immutable once decoded.
type Alert struct {
	Time         string   `json:"time,omitempty"`
	SourceIP     string   `json:"src_ip,omitempty"`
	AnomalyScore *float64 `json:"anomaly_score"`
}

// NewAlert builds an alert with a known score.
func NewAlert(time, sourceIP string, score float64) Alert {
	return Alert{Time: time, SourceIP: sourceIP, AnomalyScore: &score}
}

// DisplayTime returns the timestamp or "-" when absent.
func (a Alert) DisplayTime() string {
	if a.Time == "" {
		return MissingField
	}
	return a.Time
}

// DisplaySource returns the source address or "-" when absent.
func (a Alert) DisplaySource() string {
	if a.SourceIP == "" {
		return MissingField
	}
	return a.SourceIP
}

// Score returns the anomaly score and whether it is present.
func (a Alert) Score() (float64, bool) {
	if a.AnomalyScore == nil {
		return 0, false
	}
	return *a.AnomalyScore, true
}

// ScorePoint is one entry of the backend's historical score series.
type ScorePoint struct {
	Time         string   `json:"time"`
	AnomalyScore *float64 `json:"anomaly_score"`
}

// ClockTime returns the time-of-day part of a "YYYY-MM-DD HH:MM:SS" timestamp,
// or "-" when the timestamp has no such part.
func ClockTime(ts string) string {
	_, clock, ok := strings.Cut(ts, " ")
	if !ok || clock == "" {
		return MissingField
	}
	return clock
}
