// Package trigger defines the Trigger entity: a persistent rule that fires
// events on a schedule, on external change, on an inbound webhook, on chain
// completion, or manually.
package trigger

import (
	"encoding/json"
	"time"

	"github.com/personacore/core/internal/cron"
	"github.com/personacore/core/internal/domain/corerr"
)

// Type enumerates the trigger kinds.
type Type string

const (
	TypeSchedule Type = "schedule"
	TypePolling  Type = "polling"
	TypeWebhook  Type = "webhook"
	TypeManual   Type = "manual"
	TypeChain    Type = "chain"
)

var validTypes = map[Type]bool{
	TypeSchedule: true,
	TypePolling:  true,
	TypeWebhook:  true,
	TypeManual:   true,
	TypeChain:    true,
}

// Trigger belongs to one persona.
type Trigger struct {
	ID        string          `json:"id"`
	PersonaID string          `json:"persona_id"`
	Type      Type            `json:"type"`
	Config    json.RawMessage `json:"config"`
	Enabled   bool            `json:"enabled"`

	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	NextTriggerAt   *time.Time `json:"next_trigger_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleConfig is the decoded config for a TypeSchedule trigger.
type ScheduleConfig struct {
	Cron      string `json:"cron"`
	EventType string `json:"event_type,omitempty"`
}

// PollingConfig is the decoded config for a TypePolling trigger.
type PollingConfig struct {
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	ContentHash     string            `json:"content_hash,omitempty"`
	IntervalSeconds int               `json:"interval_seconds"`
	EventType       string            `json:"event_type,omitempty"`
}

// WebhookConfig is the decoded config for a TypeWebhook trigger.
type WebhookConfig struct {
	WebhookSecret string `json:"webhook_secret,omitempty"`
	EventType     string `json:"event_type,omitempty"`
}

// ChainConfig is the decoded config for a TypeChain trigger.
type ChainConfig struct {
	SourcePersonaID string `json:"source_persona_id"`
	EventType       string `json:"event_type,omitempty"`
	Condition       string `json:"condition,omitempty"`  // "success" | "failure" | "any" | "jsonpath"
	JSONPath        string `json:"json_path,omitempty"`  // used when Condition == "jsonpath"
	Expected        string `json:"expected,omitempty"`   // used when Condition == "jsonpath"
	PayloadForward  bool   `json:"payload_forward,omitempty"`
}

// Validate checks the invariants from the data model: type in the
// enumerated set; for polling, interval_seconds >= 60; for schedule, cron
// parseable.
func (t *Trigger) Validate() error {
	if !validTypes[t.Type] {
		return corerr.Validation("trigger: unknown type " + string(t.Type))
	}
	if t.PersonaID == "" {
		return corerr.Validation("trigger: persona_id must not be empty")
	}

	switch t.Type {
	case TypeSchedule:
		var cfg ScheduleConfig
		if err := json.Unmarshal(t.Config, &cfg); err != nil {
			return corerr.Validation("trigger: schedule config is not valid JSON")
		}
		if !cron.Valid(cfg.Cron) {
			return corerr.Validation("trigger: schedule cron expression is not parseable")
		}
	case TypePolling:
		var cfg PollingConfig
		if err := json.Unmarshal(t.Config, &cfg); err != nil {
			return corerr.Validation("trigger: polling config is not valid JSON")
		}
		if cfg.IntervalSeconds < 60 {
			return corerr.Validation("trigger: polling interval_seconds must be >= 60")
		}
	}

	return nil
}
