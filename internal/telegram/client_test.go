package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/idswatch/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"10.0.0.1", "10\\.0\\.0\\.1"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"2024-05-01", "2024\\-05\\-01"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	alerts := []models.Alert{
		models.NewAlert("2024-05-01 10:00:00", "10.0.0.1", 0.03),
		{SourceIP: "", AnomalyScore: nil},
	}

	msg := formatMessage(alerts)

	wants := []string{
		"*Critical network anomaly*",
		"1\\. `10\\.0\\.0\\.1` CRITICAL",
		"score 0\\.030, risk 10/10, at 2024\\-05\\-01 10:00:00",
		"2\\. `\\-` N/A",
		"score n/a, risk ?/10, at \\-",
	}
	for _, want := range wants {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// Chat ID is parsed before the bot token is checked against the API.
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}
