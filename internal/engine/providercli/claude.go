package providercli

import (
	"encoding/json"
	"runtime"

	"github.com/personacore/core/internal/domain/persona"
)

// claudeProvider drives the Claude Code CLI: prompt over stdin,
// stream-JSON output with system/assistant/user/result message types.
type claudeProvider struct{}

// NewClaudeProvider returns the built-in Claude provider.
func NewClaudeProvider() Provider { return claudeProvider{} }

func (claudeProvider) EngineName() string { return "claude" }

func (claudeProvider) BinaryCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"claude.exe", "claude.cmd", "claude"}
	}
	return []string{"claude"}
}

func (claudeProvider) SupportsSessionResume() bool  { return true }
func (claudeProvider) PromptDelivery() PromptDelivery { return Stdin }

func (c claudeProvider) BuildExecutionArgs(profile persona.ModelProfile) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if profile.Model != "" {
		args = append(args, "--model", profile.Model)
	}
	return args
}

func (c claudeProvider) BuildExecutionArgsWithPrompt(profile persona.ModelProfile, prompt string) []string {
	return c.BuildExecutionArgs(profile)
}

func (claudeProvider) BuildResumeArgs(sessionID string) []string {
	return []string{"--print", "--output-format", "stream-json", "--verbose", "--resume", sessionID}
}

func (c claudeProvider) BuildResumeArgsWithPrompt(sessionID, prompt string) []string {
	return c.BuildResumeArgs(sessionID)
}

func (claudeProvider) EnvBlacklist() []string {
	return []string{"CLAUDE_CODE_ENTRYPOINT"}
}

func (claudeProvider) ApplyProviderEnv(env map[string]string, profile persona.ModelProfile) map[string]string {
	if profile.Model != "" {
		env["ANTHROPIC_MODEL"] = profile.Model
	}
	return env
}

type claudeContentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

type claudeMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Model   string `json:"model"`

	SessionID string `json:"session_id"`

	Message *struct {
		Content []claudeContentBlock `json:"content"`
	} `json:"message"`

	DurationMS   *int64   `json:"duration_ms"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	Usage        *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
}

func (claudeProvider) ParseStreamLine(line string) ParsedLine {
	return parseClaudeLikeLine(line)
}

// parseClaudeLikeLine parses Claude's stream-JSON shape. Gemini's
// --output-format stream-json output reuses this exact shape.
func parseClaudeLikeLine(line string) ParsedLine {
	var msg claudeMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return ParsedLine{Kind: Unknown}
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			return ParsedLine{Kind: SystemInit, Model: msg.Model, SessionID: msg.SessionID}
		}
	case "assistant":
		if msg.Message == nil {
			break
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					return ParsedLine{Kind: AssistantText, DisplayText: block.Text}
				}
			case "tool_use":
				return ParsedLine{
					Kind:         AssistantToolUse,
					ToolName:     block.Name,
					InputPreview: truncate(string(block.Input), toolInputPreviewLimit),
				}
			}
		}
	case "user":
		if msg.Message == nil {
			break
		}
		for _, block := range msg.Message.Content {
			if block.Type == "tool_result" {
				return ParsedLine{Kind: ToolResult, ContentPreview: truncate(string(block.Content), toolInputPreviewLimit)}
			}
		}
	case "result":
		result := ParsedLine{Kind: Result, SessionID: msg.SessionID, DurationMS: msg.DurationMS, TotalCostUSD: msg.TotalCostUSD}
		if msg.Usage != nil {
			result.InputTokens = msg.Usage.InputTokens
			result.OutputTokens = msg.Usage.OutputTokens
		}
		return result
	}
	return ParsedLine{Kind: Unknown}
}
