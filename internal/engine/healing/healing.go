// Package healing implements the pure failure classifier and diagnosis
// rules for the healing engine. It performs no I/O so every rule is
// testable by unit example; scheduling the resulting retries is the
// caller's job (internal/engine/executor).
package healing

import (
	"math"
	"strings"
	"time"

	"github.com/personacore/core/internal/domain/healing"
)

// Classify maps (error_text, timed_out, session_limit) into a Category.
func Classify(errorText string, timedOut, sessionLimit bool) healing.Category {
	if timedOut {
		return healing.CategoryTimeout
	}
	if sessionLimit {
		return healing.CategorySessionLimit
	}

	lower := strings.ToLower(errorText)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return healing.CategoryRateLimit
	case strings.Contains(lower, "session limit") || strings.Contains(lower, "session_limit"):
		return healing.CategorySessionLimit
	case strings.Contains(lower, "executable file not found") || strings.Contains(lower, "no such file or directory") || strings.Contains(lower, "command not found"):
		return healing.CategoryCliNotFound
	case strings.Contains(lower, "credential") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return healing.CategoryCredentialError
	default:
		return healing.CategoryUnknown
	}
}

// ActionKind enumerates the diagnosis outcomes.
type ActionKind string

const (
	ActionRetryWithBackoff ActionKind = "retry_with_backoff"
	ActionRetryWithTimeout ActionKind = "retry_with_timeout"
	ActionCreateIssue      ActionKind = "create_issue"
)

// Action is the diagnosis result: either schedule a bounded retry, or
// create a healing issue for human attention.
type Action struct {
	Kind ActionKind

	// Set when Kind == ActionRetryWithBackoff.
	BackoffDelay time.Duration

	// Set when Kind == ActionRetryWithTimeout.
	NewTimeout time.Duration

	// Set when Kind == ActionCreateIssue.
	Severity healing.Severity
}

const maxTimeoutMS = 1_800_000 // 30 minutes

// Diagnose maps category plus the consecutive-failure count and retry
// count into an Action, per the component design:
//   - RateLimit: RetryWithBackoff(delay = min(30*2^consecutive, 300)s); at
//     retry_count == maxRetryCount, escalate to CreateIssue.
//   - Timeout: RetryWithTimeout(new = min(2*current, 1_800_000ms)); if
//     already retried once or at retry budget, CreateIssue.
//   - SessionLimit | CliNotFound | CredentialError | Unknown: CreateIssue.
func Diagnose(category healing.Category, consecutiveFailures, retryCount, maxRetryCount int, currentTimeoutMS int) Action {
	switch category {
	case healing.CategoryRateLimit:
		if retryCount >= maxRetryCount {
			return Action{Kind: ActionCreateIssue, Severity: severityForRetries(retryCount, maxRetryCount)}
		}
		delaySeconds := math.Min(30*math.Pow(2, float64(consecutiveFailures)), 300)
		return Action{Kind: ActionRetryWithBackoff, BackoffDelay: time.Duration(delaySeconds) * time.Second}

	case healing.CategoryTimeout:
		if retryCount >= 1 || retryCount >= maxRetryCount {
			return Action{Kind: ActionCreateIssue, Severity: severityForRetries(retryCount, maxRetryCount)}
		}
		newTimeout := currentTimeoutMS * 2
		if newTimeout > maxTimeoutMS {
			newTimeout = maxTimeoutMS
		}
		return Action{Kind: ActionRetryWithTimeout, NewTimeout: time.Duration(newTimeout) * time.Millisecond}

	default:
		return Action{Kind: ActionCreateIssue, Severity: severityForRetries(retryCount, maxRetryCount)}
	}
}

// severityForRetries escalates to high once the retry budget is exhausted;
// otherwise medium.
func severityForRetries(retryCount, maxRetryCount int) healing.Severity {
	if retryCount >= maxRetryCount {
		return healing.SeverityHigh
	}
	return healing.SeverityMedium
}
