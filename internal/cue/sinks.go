package cue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"

	"github.com/rewired-gh/idswatch/internal/danger"
	"github.com/rewired-gh/idswatch/internal/models"
)

var (
	tagFormat    = color.New(color.FgWhite, color.BgRed, color.Bold).SprintFunc()
	sourceFormat = color.New(color.FgHiWhite).SprintFunc()
	scoreFormat  = color.New(color.FgHiRed).SprintFunc()
	mutedFormat  = color.New(color.FgHiBlack).SprintFunc()
)

// Bell rings the terminal bell and prints a highlighted line per alert.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell writes to w, or to the color package's stdout when w is nil.
func NewBell(w io.Writer) *Bell {
	if w == nil {
		w = color.Output
	}
	return &Bell{w: w}
}

func (b *Bell) Name() string { return "bell" }

func (b *Bell) Send(_ context.Context, alerts []models.Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := io.WriteString(b.w, "\a"); err != nil {
		return err
	}
	for _, a := range alerts {
		score := "n/a"
		if v, ok := a.Score(); ok {
			score = fmt.Sprintf("%.3f", v)
		}
		_, err := fmt.Fprintf(b.w, "%s %s score=%s %s\n",
			tagFormat(" "+danger.Critical.String()+" "),
			sourceFormat(a.DisplaySource()),
			scoreFormat(score),
			mutedFormat(a.DisplayTime()))
		if err != nil {
			return err
		}
	}
	return nil
}

// Publisher publishes critical notifications to a NATS subject.
type Publisher struct {
	Conn    *nats.Conn
	Subject string
}

func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("idswatch"))
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn, Subject: subject}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Name() string { return "nats" }

func (p *Publisher) Send(_ context.Context, alerts []models.Alert) error {
	data, err := json.Marshal(newCriticalEvent(time.Now(), alerts))
	if err != nil {
		return err
	}
	return p.Conn.Publish(p.Subject, data)
}

// criticalEvent is the NATS message body.
type criticalEvent struct {
	SentAt time.Time        `json:"sent_at"`
	Alerts []criticalRecord `json:"alerts"`
}

type criticalRecord struct {
	Time         string   `json:"time"`
	SourceIP     string   `json:"src_ip"`
	AnomalyScore *float64 `json:"anomaly_score"`
	RiskLevel    int      `json:"risk_level"`
}

func newCriticalEvent(at time.Time, alerts []models.Alert) criticalEvent {
	ev := criticalEvent{SentAt: at.UTC(), Alerts: make([]criticalRecord, len(alerts))}
	for i, a := range alerts {
		ev.Alerts[i] = criticalRecord{
			Time:         a.Time,
			SourceIP:     a.SourceIP,
			AnomalyScore: a.AnomalyScore,
			RiskLevel:    danger.ClassifyAlert(a).Level,
		}
	}
	return ev
}
