package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rewired-gh/idswatch/internal/models"
)

var (
	// ErrEmptyBatch is returned for messages that decode to zero alerts.
	ErrEmptyBatch = errors.New("empty alert batch")
	// ErrMalformed wraps every other decode failure.
	ErrMalformed = errors.New("malformed alert message")
)

// Decode normalizes one push message, either a single alert object or an
// array of them, into a batch in delivery order. Field values are not range
// checked: negative scores are the most anomalous.
func Decode(data []byte) ([]models.Alert, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	var batch []models.Alert
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var a models.Alert
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		batch = []models.Alert{a}
	default:
		return nil, fmt.Errorf("%w: unexpected leading %q", ErrMalformed, trimmed[0])
	}

	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	return batch, nil
}
