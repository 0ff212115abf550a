// Package persona defines the Persona entity: a configured LLM agent with a
// system prompt, tool catalog, concurrency/budget limits, and notification
// preferences.
package persona

import (
	"time"

	"github.com/personacore/core/internal/domain/corerr"
)

// NotificationChannel is a bit in the persona's notification-channel bitmap.
type NotificationChannel uint8

const (
	NotifyUserMessage NotificationChannel = 1 << iota
	NotifyManualReview
	NotifyHealingIssue
	NotifyExecutionTerminal
)

// Has reports whether bitmap has the given channel enabled.
func (c NotificationChannel) Has(bitmap uint8) bool {
	return bitmap&uint8(c) != 0
}

// ModelProfile describes which LLM model and provider a persona runs under.
type ModelProfile struct {
	Provider string `json:"provider"` // "claude" | "codex" | "gemini"
	Model    string `json:"model"`
}

// Persona is a configured LLM agent: prompt, tools, limits.
type Persona struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	SystemPrompt string       `json:"system_prompt"`
	PromptMeta   PromptMeta   `json:"prompt_meta"`
	ModelProfile ModelProfile `json:"model_profile"`

	// MaxConcurrent <= 0 means unlimited.
	MaxConcurrent int `json:"max_concurrent"`
	TimeoutMS     int `json:"timeout_ms"`

	MaxBudgetUSD *float64 `json:"max_budget_usd,omitempty"`
	MaxTurns     *int     `json:"max_turns,omitempty"`

	NotificationChannels uint8 `json:"notification_channels"`

	ToolNames []string `json:"tool_names"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptMeta holds structured prompt metadata attached to a persona's system
// prompt (free-form key/value pairs the shell's draft pipeline produces;
// the core never interprets these beyond passing them through).
type PromptMeta struct {
	Tags        []string          `json:"tags,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Validate checks the invariants from the data model: name non-empty and
// a parseable model profile.
func (p *Persona) Validate() error {
	if p.Name == "" {
		return corerr.Validation("persona: name must not be empty")
	}
	if p.ModelProfile.Provider == "" || p.ModelProfile.Model == "" {
		return corerr.Validation("persona: model profile must specify provider and model")
	}
	switch p.ModelProfile.Provider {
	case "claude", "codex", "gemini":
	default:
		return corerr.Validation("persona: unknown model profile provider " + p.ModelProfile.Provider)
	}
	if p.MaxBudgetUSD != nil && *p.MaxBudgetUSD < 0 {
		return corerr.Validation("persona: max_budget_usd must be >= 0")
	}
	if p.MaxTurns != nil && *p.MaxTurns <= 0 {
		return corerr.Validation("persona: max_turns must be > 0")
	}
	return nil
}

// Unlimited reports whether MaxConcurrent imposes no limit (<= 0).
func (p *Persona) Unlimited() bool {
	return p.MaxConcurrent <= 0
}
