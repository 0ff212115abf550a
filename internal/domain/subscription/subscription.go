// Package subscription defines the Subscription entity: a per-persona filter
// mapping events to execution invitations.
package subscription

import (
	"strings"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
)

// Subscription is (persona_id, event_type, source_filter?). The source
// filter matches either exactly, or as a trailing "*" wildcard.
type Subscription struct {
	ID           string  `json:"id"`
	PersonaID    string  `json:"persona_id"`
	EventType    string  `json:"event_type"`
	SourceFilter *string `json:"source_filter,omitempty"`
	Enabled      bool    `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields.
func (s *Subscription) Validate() error {
	if s.PersonaID == "" {
		return corerr.Validation("subscription: persona_id must not be empty")
	}
	if s.EventType == "" {
		return corerr.Validation("subscription: event_type must not be empty")
	}
	return nil
}

// MatchesSource reports whether sourceID satisfies this subscription's
// source filter. An absent source_id on the event matches no non-empty
// filter. A nil filter always matches.
func (s *Subscription) MatchesSource(sourceID *string) bool {
	if s.SourceFilter == nil || *s.SourceFilter == "" {
		return true
	}
	if sourceID == nil {
		return false
	}
	filter := *s.SourceFilter
	if strings.HasSuffix(filter, "*") {
		prefix := strings.TrimSuffix(filter, "*")
		return strings.HasPrefix(*sourceID, prefix)
	}
	return *sourceID == filter
}
