package monitor

import (
	"time"

	"github.com/rewired-gh/idswatch/internal/danger"
	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/risk"
)

// AlertRow is an alert paired with its classification, ready for display.
type AlertRow struct {
	Time   string        `json:"time"`
	Source string        `json:"src_ip"`
	Score  *float64      `json:"anomaly_score"`
	Danger danger.Danger `json:"danger"`
}

// View is a read-only copy of the display state.
type View struct {
	Status       string                  `json:"status"`
	Risk         risk.Assessment         `json:"risk"`
	Alerts       []AlertRow              `json:"alerts"`
	Timeline     []models.TimelineSample `json:"timeline"`
	Statistics   *models.Statistics      `json:"statistics,omitempty"`
	ModelInfo    models.ModelInfo        `json:"model_info"`
	ExplainStamp time.Time               `json:"explain_stamp"`
}

func (m *Monitor) View() View {
	alerts := m.Alerts()
	rows := make([]AlertRow, len(alerts))
	for i, a := range alerts {
		rows[i] = AlertRow{
			Time:   a.DisplayTime(),
			Source: a.DisplaySource(),
			Score:  a.AnomalyScore,
			Danger: danger.ClassifyAlert(a),
		}
	}

	m.mu.RLock()
	v := View{
		Status:       m.status,
		Risk:         m.assessment,
		Alerts:       rows,
		ExplainStamp: m.explainStamp,
	}
	if m.statistics != nil {
		stats := *m.statistics
		v.Statistics = &stats
	}
	m.mu.RUnlock()

	v.ModelInfo = m.ModelInfo()
	v.Timeline = m.Timeline()
	if v.Timeline == nil {
		v.Timeline = []models.TimelineSample{}
	}
	return v
}
