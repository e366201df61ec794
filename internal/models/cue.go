package models

import (
	"errors"
	"time"
)

// CueRecord is one dispatched critical notification.
type CueRecord struct {
	ID        string
	Source    string
	Score     *float64
	AlertTime string
	SentAt    time.Time
	Sinks     []string
}

// Validate checks that the record can be journaled.
func (r *CueRecord) Validate() error {
	if r.Source == "" {
		return errors.New("source is required")
	}
	if r.SentAt.IsZero() {
		return errors.New("sent_at is required")
	}
	return nil
}
