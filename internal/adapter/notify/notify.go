// Package notify implements notifier.Notifier for the desktop shell: a
// log-backed default that always works, plus a registry hook point for a
// real OS notification backend to attach to later.
package notify

import (
	"context"
	"log/slog"

	"github.com/personacore/core/internal/port/notifier"
)

const providerName = "desktop"

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		return NewLogNotifier(slog.Default()), nil
	})
}

// LogNotifier is the always-available fallback: it writes notifications to
// the application logger rather than surfacing an OS toast. It satisfies
// notifier.Notifier so a persona with no notification channel configured
// never has to special-case a nil notifier.
type LogNotifier struct {
	logger *slog.Logger
	show   func(title, body string) error
}

// NewLogNotifier returns a LogNotifier writing through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SetShowFunc attaches a best-effort OS notification hook (e.g. a Wails
// runtime.EventsEmit call or a libnotify binding). When set, Send calls it
// in addition to logging; a failure from show is logged but never returned,
// since a missed toast must not fail the dispatch it was emitted from.
func (n *LogNotifier) SetShowFunc(show func(title, body string) error) {
	n.show = show
}

func (n *LogNotifier) Name() string { return providerName }

func (n *LogNotifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: false, Threads: false}
}

func (n *LogNotifier) Send(_ context.Context, notification notifier.Notification) error {
	n.logger.Info("notification",
		"title", notification.Title,
		"message", notification.Message,
		"level", notification.Level,
		"source", notification.Source,
	)
	if n.show != nil {
		if err := n.show(notification.Title, notification.Message); err != nil {
			n.logger.Warn("notify: os notification failed", "error", err)
		}
	}
	return nil
}
