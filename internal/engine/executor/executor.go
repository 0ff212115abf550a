// Package executor implements the execution engine: it spawns a persona's
// configured CLI agent as a child process, streams its output through the
// provider abstraction and protocol dispatcher, and persists the terminal
// outcome. It implements both eventbus.Launcher (fire-and-forget handoff
// from an already-admitted execution) and execport.Executor (admission
// owned by the caller, e.g. a manual trigger).
package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"

	"github.com/personacore/core/internal/adapter/vault"
	"github.com/personacore/core/internal/adapter/ws"
	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/domain/credential"
	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/execution"
	"github.com/personacore/core/internal/domain/healing"
	"github.com/personacore/core/internal/domain/persona"
	"github.com/personacore/core/internal/engine/chain"
	"github.com/personacore/core/internal/engine/concurrency"
	healingrules "github.com/personacore/core/internal/engine/healing"
	"github.com/personacore/core/internal/engine/knowledge"
	"github.com/personacore/core/internal/engine/providercli"
	"github.com/personacore/core/internal/engine/strategy"
	"github.com/personacore/core/internal/port/clock"
	portbus "github.com/personacore/core/internal/port/eventbus"
	"github.com/personacore/core/internal/port/execport"
	"github.com/personacore/core/internal/port/store"
)

// maxStderrBytes bounds the in-memory stderr capture per execution.
const maxStderrBytes = 64 * 1024

// dispatcher is the narrow slice of engine/dispatcher.Dispatcher the
// executor needs: recognize and route a protocol message, and hand back
// the accumulated execution-flow blob at completion.
type dispatcher interface {
	TryDispatch(ctx context.Context, exec *execution.Execution, p *persona.Persona, line string) bool
	FlushExecutionFlow(execID string) json.RawMessage
}

// Engine is the execution engine.
type Engine struct {
	Store      store.Store
	Tracker    *concurrency.Tracker
	Vault      *vault.Vault
	Strategy   *strategy.Registry
	Dispatcher dispatcher
	Chain      *chain.Evaluator
	Knowledge  *knowledge.Extractor
	Publisher  portbus.Publisher // optional, lossy UI mirror of display text
	Clock      clock.Clock
	NewID      func() string
	Logger     *slog.Logger

	mu         sync.Mutex
	pids       map[string]int
	cancels    map[string]context.CancelFunc
	timeoutOverrides map[string]time.Duration
}

func (e *Engine) init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pids == nil {
		e.pids = make(map[string]int)
		e.cancels = make(map[string]context.CancelFunc)
		e.timeoutOverrides = make(map[string]time.Duration)
	}
}

// Capacity reports whether personaID has room for one more concurrent
// execution under max.
func (e *Engine) Capacity(personaID string, max int) bool {
	return e.Tracker.HasCapacity(personaID, max)
}

// Start admits and launches a fresh execution owned by the caller (the
// webhook receiver, a manual trigger) rather than the event bus. It
// returns "no capacity" as a validation error when admission fails; the
// caller must not have already transitioned anything to running.
func (e *Engine) Start(ctx context.Context, p *persona.Persona, opts execport.StartOptions) (string, error) {
	e.init()
	now := e.Clock.Now()

	if p.MaxBudgetUSD != nil {
		spent, err := e.Store.MonthlySpend(ctx, p.ID, now)
		if err != nil {
			return "", err
		}
		if spent >= *p.MaxBudgetUSD {
			return "", corerr.Validation("executor: persona has exceeded max_budget_usd, no capacity")
		}
	}

	execID := e.NewID()
	if !e.Tracker.TryAddRunning(p.ID, execID, p.MaxConcurrent) {
		return "", corerr.Validation("executor: no capacity")
	}

	exec := &execution.Execution{
		ID:        execID,
		PersonaID: p.ID,
		TriggerID: opts.TriggerID,
		Status:    execution.StatusQueued,
		Input:     withChainContext(opts.Input, opts.Chain),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := exec.Validate(); err != nil {
		e.Tracker.RemoveRunning(p.ID, execID)
		return "", err
	}
	if err := e.Store.CreateExecution(ctx, exec); err != nil {
		e.Tracker.RemoveRunning(p.ID, execID)
		return "", err
	}
	if err := exec.TransitionTo(execution.StatusRunning, now); err != nil {
		e.Tracker.RemoveRunning(p.ID, execID)
		return "", err
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		e.Tracker.RemoveRunning(p.ID, execID)
		return "", err
	}

	e.Launch(ctx, exec)
	return execID, nil
}

// withChainContext folds an incoming chain hop's depth/visited/trace-id
// into input's JSON object so chainContextFrom can recover them once the
// execution completes.
func withChainContext(input json.RawMessage, chainCtx *execport.ChainContext) json.RawMessage {
	if chainCtx == nil {
		return input
	}
	raw := map[string]json.RawMessage{}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &raw)
	}
	if depth, err := json.Marshal(chainCtx.Depth); err == nil {
		raw[event.ChainDepthKey] = depth
	}
	if visited, err := json.Marshal(chainCtx.Visited); err == nil {
		raw[event.ChainVisitedKey] = visited
	}
	if chainCtx.TraceID != "" {
		if traceID, err := json.Marshal(chainCtx.TraceID); err == nil {
			raw[event.ChainTraceIDKey] = traceID
		}
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return input
	}
	return body
}

// Cancel terminates a running execution's child process. The run loop
// observes the cancellation and finishes the usual teardown.
//
// A cancel can arrive before run() has registered its cancel func -- the
// window between CreateExecution and that registration. When that happens,
// Cancel writes a tombstone row instead of doing nothing, so the imminent
// run() still detects the cancellation and never spawns the child.
// Cancelling a non-existent execution returns the store's lookup error;
// cancelling one already in a terminal state is a no-op.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.init()
	e.mu.Lock()
	cancel, ok := e.cancels[executionID]
	e.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	exec, err := e.Store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}
	return e.Store.CreateCancelTombstone(ctx, executionID, e.Clock.Now())
}

// Launch runs exec to completion in the background. exec must already be
// persisted as running and admitted in the concurrency tracker -- the
// caller (the event bus, or Start above) owns admission. Launch never
// blocks the caller beyond kicking off the goroutine.
func (e *Engine) Launch(ctx context.Context, exec *execution.Execution) {
	e.init()
	go e.run(exec)
}

func (e *Engine) run(exec *execution.Execution) {
	ctx := context.Background()

	p, err := e.Store.GetPersona(ctx, exec.PersonaID)
	if err != nil || p == nil {
		e.finishFailed(ctx, exec, nil, "persona lookup failed")
		return
	}

	provider := providercli.Lookup(p.ModelProfile.Provider)

	binary, binErr := e.resolveBinary(provider)
	if binErr != nil {
		e.finishFailed(ctx, exec, p, "cli not found: "+binErr.Error())
		return
	}

	credEnv, hints, credErr := e.resolveCredentialEnv(ctx, p)
	if credErr != nil {
		e.Logger.Warn("executor: credential resolution failed, continuing without credential env", "persona_id", p.ID, "error", credErr)
	}

	prompt := buildPrompt(p, hints)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, exec.ID)
		delete(e.pids, exec.ID)
		e.mu.Unlock()
		cancel()
	}()

	if tombstoned, err := e.Store.ConsumeCancelTombstone(ctx, exec.ID); err != nil {
		e.Logger.Warn("executor: failed to check cancel tombstone", "execution_id", exec.ID, "error", err)
	} else if tombstoned {
		e.finishCancelled(ctx, exec, p)
		return
	}

	var args []string
	if provider.PromptDelivery() == providercli.Stdin {
		args = provider.BuildExecutionArgs(p.ModelProfile)
	} else {
		args = provider.BuildExecutionArgsWithPrompt(p.ModelProfile, prompt)
	}

	cmd := osexec.CommandContext(runCtx, binary, args...)
	cmd.Env = buildEnv(provider, p.ModelProfile, credEnv)
	applyPlatformAttrs(cmd)

	stdin := provider.PromptDelivery() == providercli.Stdin
	var stdinPipe interface {
		Write([]byte) (int, error)
		Close() error
	}
	if stdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			e.finishFailed(ctx, exec, p, "failed to open stdin: "+err.Error())
			return
		}
		stdinPipe = w
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.finishFailed(ctx, exec, p, "failed to open stdout: "+err.Error())
		return
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &boundedWriter{buf: &stderrBuf, limit: maxStderrBytes}

	started := e.Clock.Now()
	if err := cmd.Start(); err != nil {
		e.finishFailed(ctx, exec, p, "failed to spawn: "+err.Error())
		return
	}

	e.mu.Lock()
	if cmd.Process != nil {
		e.pids[exec.ID] = cmd.Process.Pid
	}
	e.mu.Unlock()

	e.publishAGUI(ctx, exec.ID, ws.AGUIRunStarted, ws.AGUIRunStartedEvent{
		RunID:     exec.ID,
		AgentName: p.Name,
	})

	if stdin {
		_, _ = stdinPipe.Write([]byte(prompt))
		_ = stdinPipe.Close()
	}

	collected := &streamResult{}
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		e.streamStdout(runCtx, exec, p, provider, stdout, collected)
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timeoutMS := p.TimeoutMS
	if override, ok := e.timeoutOverride(exec.ID); ok {
		timeoutMS = int(override / time.Millisecond)
	}
	var timeoutCh <-chan time.Time
	if timeoutMS > 0 {
		timeoutCh = e.Clock.After(time.Duration(timeoutMS) * time.Millisecond)
	}

	var termStatus execution.Status
	var failureReason string

	select {
	case <-timeoutCh:
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
		termStatus = execution.StatusFailed
		failureReason = fmt.Sprintf("timed out after %d ms", timeoutMS)
	case <-runCtx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitErr
		termStatus = execution.StatusCancelled
	case err := <-waitErr:
		if collected.sawResult || len(collected.output) > 0 {
			termStatus = execution.StatusCompleted
		} else {
			termStatus = execution.StatusIncomplete
		}
		if err != nil && termStatus == execution.StatusIncomplete {
			failureReason = err.Error()
		}
	}
	<-scanDone

	now := e.Clock.Now()
	exec.DurationMS = now.Sub(started).Milliseconds()
	exec.CostUSD = collected.costUSD
	exec.InputTokens = collected.inputTokens
	exec.OutputTokens = collected.outputTokens
	if collected.sessionID != "" {
		exec.SessionID = collected.sessionID
	}
	exec.ToolSteps = collected.toolSteps
	if len(collected.output) > 0 {
		exec.Output = json.RawMessage(collected.output)
	}
	exec.FailureReason = failureReason
	if blob := e.Dispatcher.FlushExecutionFlow(exec.ID); blob != nil {
		exec.ExecutionFlow = blob
	}

	if err := exec.TransitionTo(termStatus, now); err != nil {
		e.Logger.Error("executor: failed to transition execution to terminal status", "execution_id", exec.ID, "error", err)
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		e.Logger.Error("executor: failed to persist terminal execution state", "execution_id", exec.ID, "error", err)
	}
	e.Tracker.RemoveRunning(p.ID, exec.ID)

	e.publishAGUI(ctx, exec.ID, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{
		RunID:  exec.ID,
		Status: string(termStatus),
	})

	e.postProcess(ctx, exec, p)
}

func (e *Engine) timeoutOverride(execID string) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.timeoutOverrides[execID]
	if ok {
		delete(e.timeoutOverrides, execID)
	}
	return d, ok
}

func (e *Engine) finishFailed(ctx context.Context, exec *execution.Execution, p *persona.Persona, reason string) {
	now := e.Clock.Now()
	exec.FailureReason = reason
	if err := exec.TransitionTo(execution.StatusFailed, now); err != nil {
		e.Logger.Error("executor: failed to transition to failed", "execution_id", exec.ID, "error", err)
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		e.Logger.Error("executor: failed to persist failed execution", "execution_id", exec.ID, "error", err)
	}
	e.Tracker.RemoveRunning(exec.PersonaID, exec.ID)
	e.mu.Lock()
	delete(e.pids, exec.ID)
	delete(e.cancels, exec.ID)
	e.mu.Unlock()

	e.publishAGUI(ctx, exec.ID, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{
		RunID:  exec.ID,
		Status: string(execution.StatusFailed),
	})

	if p != nil {
		e.postProcess(ctx, exec, p)
	}
}

// finishCancelled persists a pre-emptive cancellation caught via the
// tombstone before the child process was ever spawned. Unlike
// finishFailed, it relies on run()'s own deferred cleanup for the
// cancels/pids map entries, since it is only ever called from inside run().
func (e *Engine) finishCancelled(ctx context.Context, exec *execution.Execution, p *persona.Persona) {
	now := e.Clock.Now()
	if err := exec.TransitionTo(execution.StatusCancelled, now); err != nil {
		e.Logger.Error("executor: failed to transition to cancelled", "execution_id", exec.ID, "error", err)
	}
	if err := e.Store.UpdateExecution(ctx, exec); err != nil {
		e.Logger.Error("executor: failed to persist cancelled execution", "execution_id", exec.ID, "error", err)
	}
	e.Tracker.RemoveRunning(exec.PersonaID, exec.ID)

	e.publishAGUI(ctx, exec.ID, ws.AGUIRunFinished, ws.AGUIRunFinishedEvent{
		RunID:  exec.ID,
		Status: string(execution.StatusCancelled),
	})

	e.postProcess(ctx, exec, p)
}

type streamResult struct {
	toolSteps    []execution.ToolStep
	output       []byte
	sawResult    bool
	costUSD      float64
	inputTokens  int
	outputTokens int
	sessionID    string
}

func (e *Engine) streamStdout(ctx context.Context, exec *execution.Execution, p *persona.Persona, provider providercli.Provider, stdout interface{ Read([]byte) (int, error) }, out *streamResult) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastDisplay string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parsed := provider.ParseStreamLine(line)

		switch parsed.Kind {
		case providercli.Result:
			out.sawResult = true
			if parsed.TotalCostUSD != nil {
				out.costUSD = *parsed.TotalCostUSD
			}
			if parsed.InputTokens != nil {
				out.inputTokens = *parsed.InputTokens
			}
			if parsed.OutputTokens != nil {
				out.outputTokens = *parsed.OutputTokens
			}
			if parsed.SessionID != "" {
				out.sessionID = parsed.SessionID
			}
		case providercli.SystemInit:
			if parsed.SessionID != "" {
				out.sessionID = parsed.SessionID
			}
		case providercli.AssistantToolUse:
			callID := fmt.Sprintf("%s-%d", exec.ID, len(out.toolSteps))
			out.toolSteps = append(out.toolSteps, execution.ToolStep{
				ToolName:     parsed.ToolName,
				InputPreview: parsed.InputPreview,
				Success:      true,
				At:           e.Clock.Now(),
			})
			e.publishAGUI(ctx, exec.ID, ws.AGUIToolCall, ws.AGUIToolCallEvent{
				RunID:  exec.ID,
				CallID: callID,
				Name:   parsed.ToolName,
				Args:   parsed.InputPreview,
			})
		case providercli.ToolResult:
			if n := len(out.toolSteps); n > 0 {
				out.toolSteps[n-1].Output = parsed.ContentPreview
				e.publishAGUI(ctx, exec.ID, ws.AGUIToolResult, ws.AGUIToolResultEvent{
					RunID:  exec.ID,
					CallID: fmt.Sprintf("%s-%d", exec.ID, n-1),
					Result: parsed.ContentPreview,
				})
			}
		case providercli.AssistantText:
			lastDisplay = parsed.DisplayText
			if !e.Dispatcher.TryDispatch(ctx, exec, p, parsed.DisplayText) {
				e.publishDisplay(ctx, exec.ID, parsed.DisplayText)
			}
		}
	}
	if lastDisplay != "" {
		out.output = []byte(lastDisplay)
	}
}

func (e *Engine) publishDisplay(ctx context.Context, execID, text string) {
	if e.Publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{"execution_id": execID, "text": text})
	if err != nil {
		return
	}
	if err := e.Publisher.Publish(ctx, "execution.display", payload); err != nil {
		e.Logger.Debug("executor: UI publish dropped", "execution_id", execID, "error", err)
	}
	e.publishAGUI(ctx, execID, ws.AGUITextMessage, ws.AGUITextMessageEvent{
		RunID:   execID,
		Role:    "assistant",
		Content: text,
	})
}

// publishAGUI marshals payload and publishes it under eventType, mirroring
// publishDisplay's best-effort, nil-safe contract. These AG-UI events ride
// the same Publisher as the plain display text, so a client that doesn't
// speak AG-UI can still ignore the extra message types it doesn't expect.
func (e *Engine) publishAGUI(ctx context.Context, execID, eventType string, payload any) {
	if e.Publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.Publisher.Publish(ctx, eventType, data); err != nil {
		e.Logger.Debug("executor: AG-UI publish dropped", "execution_id", execID, "type", eventType, "error", err)
	}
}

func (e *Engine) resolveBinary(p providercli.Provider) (string, error) {
	var lastErr error
	for _, candidate := range p.BinaryCandidates() {
		if path, err := osexec.LookPath(candidate); err == nil {
			return path, nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = corerr.ProcessSpawn("no binary candidates configured", nil)
	}
	return "", lastErr
}

// resolveCredentialEnv joins the persona's tool catalog to its backing
// connectors, decrypts each connector's credential, and flattens fields
// into CONNECTOR_FIELD environment variables. It returns the env map plus
// the list of variable names as prompt hints. Values are never logged.
func (e *Engine) resolveCredentialEnv(ctx context.Context, p *persona.Persona) (map[string]string, []string, error) {
	if len(p.ToolNames) == 0 {
		return nil, nil, nil
	}
	connectors, err := e.Store.ConnectorsForPersonaTools(ctx, p.ToolNames)
	if err != nil {
		return nil, nil, err
	}
	if len(connectors) == 0 {
		return nil, nil, nil
	}

	creds, err := e.Store.ListCredentials(ctx)
	if err != nil {
		return nil, nil, err
	}
	byService := make(map[string][]*credential.Credential)
	for _, c := range creds {
		byService[c.ServiceType] = append(byService[c.ServiceType], c)
	}

	env := make(map[string]string)
	var hints []string
	for _, conn := range connectors {
		for _, c := range byService[conn.Name] {
			fields, err := e.Vault.Open(c)
			if err != nil {
				e.Logger.Warn("executor: credential decrypt failed, skipping", "credential_id", c.ID, "error", err)
				continue
			}
			for field, value := range fields {
				name := envVarName(conn.Name, field)
				env[name] = value
				hints = append(hints, name)
			}
		}
	}
	return env, hints, nil
}

func envVarName(connectorName, field string) string {
	norm := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	}
	return norm(connectorName) + "_" + norm(field)
}

func buildPrompt(p *persona.Persona, credentialHints []string) string {
	if len(credentialHints) == 0 {
		return p.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	b.WriteString("\n\nAvailable credential environment variables: ")
	b.WriteString(strings.Join(credentialHints, ", "))
	return b.String()
}

func buildEnv(provider providercli.Provider, profile persona.ModelProfile, credEnv map[string]string) []string {
	blacklist := make(map[string]bool, len(provider.EnvBlacklist()))
	for _, k := range provider.EnvBlacklist() {
		blacklist[k] = true
	}

	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || blacklist[parts[0]] {
			continue
		}
		merged[parts[0]] = parts[1]
	}
	for k, v := range credEnv {
		merged[k] = v
	}
	merged = provider.ApplyProviderEnv(merged, profile)

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// postProcess runs the chain evaluator and knowledge extractor after every
// terminal execution, then schedules a healing retry or creates an issue
// for an auto-fixable or unrecoverable failure respectively.
func (e *Engine) postProcess(ctx context.Context, exec *execution.Execution, p *persona.Persona) {
	depth, visited, traceID := chainContextFrom(exec.Input)
	if e.Chain != nil {
		if err := e.Chain.Evaluate(ctx, p.ID, exec.Status, exec.Output, depth, visited, traceID); err != nil {
			e.Logger.Error("executor: chain evaluation failed", "execution_id", exec.ID, "error", err)
		}
	}
	if e.Knowledge != nil {
		if err := e.Knowledge.Extract(ctx, exec, p.ModelProfile); err != nil {
			e.Logger.Error("executor: knowledge extraction failed", "execution_id", exec.ID, "error", err)
		}
	}

	if exec.Status == execution.StatusCompleted || exec.Status == execution.StatusCancelled {
		return
	}
	if exec.RetryCount >= execution.MaxRetryCount {
		return
	}
	e.heal(ctx, exec, p)
}

func (e *Engine) heal(ctx context.Context, exec *execution.Execution, p *persona.Persona) {
	timedOut := strings.HasPrefix(exec.FailureReason, "timed out after")
	category := healingrules.Classify(exec.FailureReason, timedOut, false)

	consecutive, err := e.consecutiveFailures(ctx, p.ID)
	if err != nil {
		e.Logger.Warn("executor: failed to count consecutive failures", "persona_id", p.ID, "error", err)
	}

	action := healingrules.Diagnose(category, consecutive, exec.RetryCount, execution.MaxRetryCount, p.TimeoutMS)

	now := e.Clock.Now()

	// Every classified failure gets a healing issue, whether or not it is
	// also auto-retried: a scheduled retry is an attempted fix, not proof
	// the fix worked, so the operator still gets a record of what failed.
	severity := action.Severity
	if severity == "" {
		severity = healing.SeverityMedium
	}
	issue := &healing.Issue{
		ID:           e.NewID(),
		ExecutionID:  exec.ID,
		Category:     category,
		Severity:     severity,
		SuggestedFix: suggestedFix(category),
		CreatedAt:    now,
	}
	if err := e.Store.CreateHealingIssue(ctx, issue); err != nil {
		e.Logger.Error("executor: failed to persist healing issue", "execution_id", exec.ID, "error", err)
	}

	switch action.Kind {
	case healingrules.ActionRetryWithBackoff, healingrules.ActionRetryWithTimeout:
		retry, err := e.Store.CreateRetry(ctx, p.ID, exec.ID, exec.RetryCount+1, now)
		if err != nil {
			e.Logger.Error("executor: failed to persist healing retry", "execution_id", exec.ID, "error", err)
			return
		}
		if action.Kind == healingrules.ActionRetryWithTimeout {
			e.mu.Lock()
			e.timeoutOverrides[retry.ID] = action.NewTimeout
			e.mu.Unlock()
		}
		delay := action.BackoffDelay
		go func() {
			if delay > 0 {
				e.Clock.Sleep(delay)
			}
			if !e.Tracker.TryAddRunning(p.ID, retry.ID, p.MaxConcurrent) {
				e.Logger.Info("executor: no capacity for scheduled healing retry", "persona_id", p.ID, "execution_id", retry.ID)
				return
			}
			if err := retry.TransitionTo(execution.StatusRunning, e.Clock.Now()); err != nil {
				e.Tracker.RemoveRunning(p.ID, retry.ID)
				return
			}
			if err := e.Store.UpdateExecution(ctx, retry); err != nil {
				e.Tracker.RemoveRunning(p.ID, retry.ID)
				return
			}
			e.Launch(ctx, retry)
		}()
	}
}

func suggestedFix(c healing.Category) string {
	switch c {
	case healing.CategoryRateLimit:
		return "wait for the provider's rate limit window to reset, or lower max_concurrent"
	case healing.CategorySessionLimit:
		return "start a new session; the provider's session budget was exhausted"
	case healing.CategoryCliNotFound:
		return "install or update the provider's CLI binary and confirm it is on PATH"
	case healing.CategoryCredentialError:
		return "re-save the affected credential; it may be expired or revoked"
	case healing.CategoryTimeout:
		return "increase the persona's timeout_ms or investigate the slow tool call"
	default:
		return "inspect the execution's captured output for the root cause"
	}
}

// consecutiveFailures counts the persona's most recent non-successful
// executions, stopping at the first completed one.
func (e *Engine) consecutiveFailures(ctx context.Context, personaID string) (int, error) {
	recent, err := e.Store.ListExecutionsByPersona(ctx, personaID, 20)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, r := range recent {
		if r.Status == execution.StatusCompleted {
			break
		}
		count++
	}
	return count, nil
}

func chainContextFrom(input json.RawMessage) (depth int, visited map[string]bool, traceID string) {
	visited = map[string]bool{}
	if len(input) == 0 {
		return 0, visited, ""
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(input, &raw); err != nil {
		return 0, visited, ""
	}
	if d, ok := raw[event.ChainDepthKey]; ok {
		var n int
		if err := json.Unmarshal(d, &n); err == nil {
			depth = n
		}
	}
	if v, ok := raw[event.ChainVisitedKey]; ok {
		var names []string
		if err := json.Unmarshal(v, &names); err == nil {
			for _, name := range names {
				visited[name] = true
			}
		}
	}
	if t, ok := raw[event.ChainTraceIDKey]; ok {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			traceID = s
		}
	}
	return depth, visited, traceID
}

// boundedWriter truncates writes once limit bytes have been captured,
// so a runaway stderr stream cannot exhaust memory.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() >= w.limit {
		return len(p), nil
	}
	remaining := w.limit - w.buf.Len()
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
	} else {
		w.buf.Write(p)
	}
	return len(p), nil
}
