package danmaku

import (
	"fmt"
	"strconv"
	"strings"
)

// Provider names accepted on the wire.
const (
	ProviderDanDanPlay = "dandanplay"
	ProviderBilibili   = "bilibili"
)

// Display modes. Fixed covers both top and bottom placement; the provider
// codes 4 and 5 map here, everything else scrolls.
const (
	ModeScroll = 0
	ModeFixed  = 1
)

// Item is one overlay comment as stored and served to the player.
type Item struct {
	Time       float64 `json:"time"`
	Text       string  `json:"text"`
	Color      string  `json:"color"`
	Mode       int     `json:"mode"`
	Imported   bool    `json:"imported,omitempty"`
	ImportTime int64   `json:"importTime,omitempty"`
	ServerTime int64   `json:"serverTime,omitempty"`
}

// EpisodeKey identifies one bucket of items. Episode is 0-based.
type EpisodeKey struct {
	Source  string
	ID      string
	Episode int
}

func (k EpisodeKey) Valid() bool {
	return strings.TrimSpace(k.Source) != "" && strings.TrimSpace(k.ID) != "" && k.Episode >= 0
}

// Outcome reasons returned by the orchestrator.
const (
	ReasonAlreadyExists = "already-exists"
	ReasonAuthRequired  = "auth-required"
	ReasonCidRequired   = "cid-required"
	ReasonNotFound      = "not-found"
	ReasonEmpty         = "empty"
	ReasonFetchFailed   = "fetch-failed"
	ReasonSaveFailed    = "save-failed"
	ReasonDisabled      = "disabled"
)

// Outcome is the structured result of every import entry point. Failures are
// reported here rather than as errors so the HTTP layer never sees a panic or
// an opaque 500 for an expected terminal state.
type Outcome struct {
	OK       bool   `json:"ok"`
	Imported bool   `json:"imported"`
	Count    int    `json:"count,omitempty"`
	Provider string `json:"provider,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

func successOutcome(provider string, count int) Outcome {
	return Outcome{OK: true, Imported: true, Count: count, Provider: provider}
}

func failureOutcome(reason string, message string) Outcome {
	return Outcome{OK: false, Reason: reason, Message: message}
}

const defaultColor = "#ffffff"

// FormatColor renders a provider's decimal color value as a lowercase
// "#rrggbb" string. Anything outside 0..0xffffff, and unparseable input,
// falls back to white.
func FormatColor(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultColor
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 || value > 0xffffff {
		return defaultColor
	}
	return fmt.Sprintf("#%06x", value)
}

// ModeFromDisplayCode maps a provider display-mode code onto scroll/fixed.
func ModeFromDisplayCode(code int) int {
	if code == 4 || code == 5 {
		return ModeFixed
	}
	return ModeScroll
}
