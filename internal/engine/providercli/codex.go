package providercli

import (
	"encoding/json"
	"runtime"

	"github.com/personacore/core/internal/domain/persona"
)

// codexProvider drives the Codex CLI: prompt as a positional argument,
// event-typed stream output (thread.started, item.*, turn.completed,
// error).
type codexProvider struct{}

// NewCodexProvider returns the built-in Codex provider.
func NewCodexProvider() Provider { return codexProvider{} }

func (codexProvider) EngineName() string { return "codex" }

func (codexProvider) BinaryCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"codex.exe", "codex.cmd", "codex"}
	}
	return []string{"codex"}
}

func (codexProvider) SupportsSessionResume() bool    { return true }
func (codexProvider) PromptDelivery() PromptDelivery { return PositionalArg }

func (c codexProvider) BuildExecutionArgs(profile persona.ModelProfile) []string {
	args := []string{"exec", "--json"}
	if profile.Model != "" {
		args = append(args, "--model", profile.Model)
	}
	return args
}

func (c codexProvider) BuildExecutionArgsWithPrompt(profile persona.ModelProfile, prompt string) []string {
	return append(c.BuildExecutionArgs(profile), prompt)
}

func (codexProvider) BuildResumeArgs(sessionID string) []string {
	return []string{"exec", "--json", "resume", sessionID}
}

func (c codexProvider) BuildResumeArgsWithPrompt(sessionID, prompt string) []string {
	return append(c.BuildResumeArgs(sessionID), prompt)
}

func (codexProvider) EnvBlacklist() []string {
	return []string{"CODEX_SANDBOX"}
}

func (codexProvider) ApplyProviderEnv(env map[string]string, profile persona.ModelProfile) map[string]string {
	if profile.Model != "" {
		env["CODEX_MODEL"] = profile.Model
	}
	return env
}

type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`

	Item *struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
		Output json.RawMessage `json:"output"`
	} `json:"item"`

	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
	DurationMS   *int64   `json:"duration_ms"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

func (codexProvider) ParseStreamLine(line string) ParsedLine {
	var ev codexEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return ParsedLine{Kind: Unknown}
	}

	switch ev.Type {
	case "thread.started":
		return ParsedLine{Kind: SystemInit, SessionID: ev.ThreadID}
	case "item.completed":
		if ev.Item == nil {
			break
		}
		switch ev.Item.Type {
		case "agent_message":
			return ParsedLine{Kind: AssistantText, DisplayText: ev.Item.Text}
		case "tool_call", "command_execution":
			return ParsedLine{
				Kind:         AssistantToolUse,
				ToolName:     ev.Item.Name,
				InputPreview: truncate(string(ev.Item.Input), toolInputPreviewLimit),
			}
		case "tool_result":
			return ParsedLine{Kind: ToolResult, ContentPreview: truncate(string(ev.Item.Output), toolInputPreviewLimit)}
		}
	case "turn.completed":
		result := ParsedLine{Kind: Result, DurationMS: ev.DurationMS, TotalCostUSD: ev.TotalCostUSD}
		if ev.Usage != nil {
			result.InputTokens = ev.Usage.InputTokens
			result.OutputTokens = ev.Usage.OutputTokens
		}
		return result
	}
	return ParsedLine{Kind: Unknown}
}
