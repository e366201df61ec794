package models

import "time"

// StatusOffline is the local status used whenever the status read fails.
const StatusOffline = "offline"

type StatusResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	WS      string `json:"ws,omitempty"`
}

// Value returns status, falling back to backend, falling back to "ok".
func (s StatusResponse) Value() string {
	switch {
	case s.Status != "":
		return s.Status
	case s.Backend != "":
		return s.Backend
	default:
		return "ok"
	}
}

type Statistics struct {
	TotalAlerts         int     `json:"total_alerts"`
	AverageAnomalyScore float64 `json:"average_anomaly_score"`
	LastAlertTime       *string `json:"last_alert_time,omitempty"`
	Status              string  `json:"status,omitempty"`
}

type ModelInfo struct {
	Model         string   `json:"model"`
	Window        string   `json:"window"`
	Threshold     float64  `json:"threshold"`
	Features      []string `json:"features"`
	ExplainableAI string   `json:"explainable_ai,omitempty"`
}

// DefaultModelInfo is shown until the backend reports its own.
func DefaultModelInfo() ModelInfo {
	return ModelInfo{
		Model:     "Isolation Forest",
		Window:    "10s",
		Threshold: 0.10,
	}
}

// TimelineSample is one aggregate observation on the anomaly timeline.
type TimelineSample struct {
	Time  string   `json:"time"`
	Count int      `json:"count"`
	Score *float64 `json:"score"`
}

// SampleFromPoint maps a historical score point onto the timeline. Count is 1
// when the score falls below threshold.
func SampleFromPoint(p ScorePoint, threshold float64) TimelineSample {
	s := TimelineSample{Time: ClockTime(p.Time), Score: p.AnomalyScore}
	if p.AnomalyScore != nil && *p.AnomalyScore < threshold {
		s.Count = 1
	}
	return s
}

// SampleFromBatch summarizes a live batch: its size and its lowest score.
func SampleFromBatch(at time.Time, batch []Alert) TimelineSample {
	s := TimelineSample{Time: at.Format("15:04:05"), Count: len(batch)}
	for _, a := range batch {
		v, ok := a.Score()
		if !ok {
			continue
		}
		if s.Score == nil || v < *s.Score {
			lowest := v
			s.Score = &lowest
		}
	}
	return s
}
