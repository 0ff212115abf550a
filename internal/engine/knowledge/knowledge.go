// Package knowledge implements the knowledge extractor: after every
// execution it folds the outcome into a handful of running aggregate
// patterns (tool sequence, failure pattern, model performance, cost and
// quality) so later scheduling decisions can draw on persona history.
package knowledge

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/knowledge"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/port/clock"
	"github.com/personacore/core/internal/port/store"
)

// costQualityKey is the single pattern_key used for the cost/quality
// aggregate, which tracks overall spend-vs-success independent of model.
const costQualityKey = "overall"

// Extractor upserts the knowledge entries derived from one execution.
type Extractor struct {
	Store store.Store
	Clock clock.Clock
	NewID func() string
}

// Extract folds exec's outcome into every applicable aggregate pattern for
// its persona. modelProfile identifies the model the execution ran under.
func (x *Extractor) Extract(ctx context.Context, exec *execution.Execution, modelProfile persona.ModelProfile) error {
	success := exec.Status == execution.StatusCompleted
	now := x.Clock.Now()

	var errs []error

	if len(exec.ToolSteps) > 0 {
		names := make([]string, len(exec.ToolSteps))
		for i, step := range exec.ToolSteps {
			names[i] = step.ToolName
		}
		key := strings.Join(names, ",")
		if err := x.observe(ctx, exec, knowledge.TypeToolSequence, key, success, now); err != nil {
			errs = append(errs, err)
		}
	}

	if !success {
		key := exec.FailureReason
		if key == "" {
			key = "unknown"
		}
		if err := x.observe(ctx, exec, knowledge.TypeFailurePattern, key, success, now); err != nil {
			errs = append(errs, err)
		}
	}

	if modelProfile.Provider != "" && modelProfile.Model != "" {
		modelKey := modelProfile.Provider + ":" + modelProfile.Model
		if err := x.observe(ctx, exec, knowledge.TypeModelPerformance, modelKey, success, now); err != nil {
			errs = append(errs, err)
		}
	}

	if err := x.observe(ctx, exec, knowledge.TypeCostQuality, costQualityKey, success, now); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (x *Extractor) observe(ctx context.Context, exec *execution.Execution, typ knowledge.Type, patternKey string, success bool, now time.Time) error {
	entry, err := x.Store.GetKnowledge(ctx, exec.PersonaID, typ, patternKey)
	if err != nil && !corerr.Is(err, corerr.KindNotFound) {
		return err
	}
	if entry == nil {
		entry = &knowledge.Entry{
			ID:         x.NewID(),
			PersonaID:  exec.PersonaID,
			Type:       typ,
			PatternKey: patternKey,
		}
	}
	entry.Observe(success, exec.CostUSD, float64(exec.DurationMS), now)
	return x.Store.UpsertKnowledge(ctx, entry)
}
