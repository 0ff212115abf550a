// Package store defines the persistence port: typed CRUD for every entity
// in the data model, plus the two compound operations that avoid races in a
// shared SQL store without long-lived transactions.
package store

import (
	"context"
	"time"

	"github.com/personacore/core/internal/domain/audit"
	"github.com/personacore/core/internal/domain/credential"
	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/healing"
	"github.com/personacore/core/internal/domain/knowledge"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/domain/protocol"
	"github.com/personacore/core/internal/domain/subscription"
	"github.com/personacore/core/internal/domain/trace"
	"github.com/personacore/core/internal/domain/trigger"
)

// CASResult is the outcome of a compare-and-swap write.
type CASResult int

const (
	NotApplied CASResult = iota
	Applied
)

// Store is the persistence port consumed by the engine.
type Store interface {
	// Personas
	CreatePersona(ctx context.Context, p *persona.Persona) error
	GetPersona(ctx context.Context, id string) (*persona.Persona, error)
	UpdatePersona(ctx context.Context, p *persona.Persona) error
	DeletePersona(ctx context.Context, id string) error
	ListPersonas(ctx context.Context) ([]*persona.Persona, error)

	// Triggers
	CreateTrigger(ctx context.Context, t *trigger.Trigger) error
	GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error)
	UpdateTrigger(ctx context.Context, t *trigger.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	ListTriggersByPersona(ctx context.Context, personaID string) ([]*trigger.Trigger, error)
	ListEnabledChainTriggersBySource(ctx context.Context, sourcePersonaID string) ([]*trigger.Trigger, error)
	GetDueTriggers(ctx context.Context, typ trigger.Type, now time.Time) ([]*trigger.Trigger, error)

	// MarkTriggered advances last_triggered_at/next_trigger_at for a
	// non-content-sensitive trigger. Returns store.ErrRowMissing if the
	// trigger was deleted between GetDueTriggers and this call.
	MarkTriggered(ctx context.Context, triggerID string, triggeredAt time.Time, next *time.Time) error

	// MarkTriggeredWithHash is the compare-and-swap used by the polling
	// engine: it updates (content_hash, last_triggered_at, next_trigger_at)
	// only if the stored hash still equals expectedPrevHash.
	MarkTriggeredWithHash(ctx context.Context, triggerID, newHash, expectedPrevHash string, triggeredAt time.Time, next *time.Time) (CASResult, error)

	MarkTriggerFired(ctx context.Context, triggerID string, firedAt time.Time) error

	// Executions
	CreateExecution(ctx context.Context, e *execution.Execution) error
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)
	UpdateExecution(ctx context.Context, e *execution.Execution) error
	ListExecutionsByPersona(ctx context.Context, personaID string, limit int) ([]*execution.Execution, error)
	LatestAutoFixableFailure(ctx context.Context, personaID string) (*execution.Execution, error)

	// CreateRetry persists a new queued execution whose
	// retry_of_execution_id points at originalID.
	CreateRetry(ctx context.Context, personaID, originalID string, retryCount int, now time.Time) (*execution.Execution, error)

	// MonthlySpend sums cost_usd for statuses {completed, failed,
	// incomplete, cancelled} since the start of the month containing now.
	MonthlySpend(ctx context.Context, personaID string, now time.Time) (float64, error)

	// CreateCancelTombstone records that executionID was cancelled before
	// its cancel func was registered, so the imminent run() can detect it
	// instead of spawning. Idempotent: cancelling the same execution twice
	// before launch must not error.
	CreateCancelTombstone(ctx context.Context, executionID string, requestedAt time.Time) error

	// ConsumeCancelTombstone reports whether a tombstone exists for
	// executionID and deletes it, so run() observes a pre-emptive cancel
	// exactly once.
	ConsumeCancelTombstone(ctx context.Context, executionID string) (bool, error)

	// Events
	CreateEvent(ctx context.Context, e *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	UpdateEvent(ctx context.Context, e *event.Event) error
	ListPendingEvents(ctx context.Context, limit int) ([]*event.Event, error)
	DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]*subscription.Subscription, error)

	// Credentials and connectors
	CreateCredential(ctx context.Context, c *credential.Credential) error
	GetCredential(ctx context.Context, id string) (*credential.Credential, error)
	UpdateCredential(ctx context.Context, c *credential.Credential) error
	ListCredentials(ctx context.Context) ([]*credential.Credential, error)
	ListPlaintextCredentials(ctx context.Context) ([]*credential.Credential, error)

	GetConnector(ctx context.Context, name string) (*credential.Connector, error)
	ListConnectors(ctx context.Context) ([]*credential.Connector, error)
	UpsertConnector(ctx context.Context, c *credential.Connector) error
	ConnectorsForPersonaTools(ctx context.Context, toolNames []string) ([]*credential.Connector, error)

	// Audit
	AppendAudit(ctx context.Context, e *audit.Entry) error

	// Healing
	CreateHealingIssue(ctx context.Context, i *healing.Issue) error
	ResolveHealingIssue(ctx context.Context, id string, resolvedAt time.Time) error

	// Trace
	UpsertTrace(ctx context.Context, t *trace.Trace) error
	GetTrace(ctx context.Context, executionID string) (*trace.Trace, error)

	// Knowledge
	UpsertKnowledge(ctx context.Context, e *knowledge.Entry) error
	GetKnowledge(ctx context.Context, personaID string, typ knowledge.Type, patternKey string) (*knowledge.Entry, error)

	// Protocol messages routed by the dispatcher (§4.8)
	CreateUserMessage(ctx context.Context, m *protocol.UserMessage) error
	CreatePersonaAction(ctx context.Context, a *protocol.PersonaAction) error
	CreateAgentMemory(ctx context.Context, m *protocol.AgentMemory) error
	CreateManualReview(ctx context.Context, r *protocol.ManualReview) error
}
