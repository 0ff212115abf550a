package providercli

import (
	"runtime"

	"github.com/personacore/core/internal/domain/persona"
)

// geminiProvider drives the Gemini CLI: prompt via the -p flag,
// Claude-like stream-JSON output.
type geminiProvider struct{}

// NewGeminiProvider returns the built-in Gemini provider.
func NewGeminiProvider() Provider { return geminiProvider{} }

func (geminiProvider) EngineName() string { return "gemini" }

func (geminiProvider) BinaryCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"gemini.exe", "gemini.cmd", "gemini"}
	}
	return []string{"gemini"}
}

func (geminiProvider) SupportsSessionResume() bool    { return false }
func (geminiProvider) PromptDelivery() PromptDelivery { return Flag }

func (g geminiProvider) BuildExecutionArgs(profile persona.ModelProfile) []string {
	args := []string{"--output-format", "stream-json"}
	if profile.Model != "" {
		args = append(args, "--model", profile.Model)
	}
	return args
}

func (g geminiProvider) BuildExecutionArgsWithPrompt(profile persona.ModelProfile, prompt string) []string {
	return append(g.BuildExecutionArgs(profile), "-p", prompt)
}

// BuildResumeArgs is never called: SupportsSessionResume is false.
func (geminiProvider) BuildResumeArgs(sessionID string) []string { return nil }

func (g geminiProvider) BuildResumeArgsWithPrompt(sessionID, prompt string) []string {
	return g.BuildExecutionArgsWithPrompt(persona.ModelProfile{}, prompt)
}

func (geminiProvider) EnvBlacklist() []string { return nil }

func (geminiProvider) ApplyProviderEnv(env map[string]string, profile persona.ModelProfile) map[string]string {
	if profile.Model != "" {
		env["GEMINI_MODEL"] = profile.Model
	}
	return env
}

func (geminiProvider) ParseStreamLine(line string) ParsedLine {
	return parseClaudeLikeLine(line)
}
