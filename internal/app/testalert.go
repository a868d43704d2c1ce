package app

import (
	"context"
	"errors"
	"time"

	"mev-sentinel/internal/alerting"
)

// TestAlert delivers a test notification through the configured channels so
// operators can verify alert routing before a real risk halt fires.
func (a *App) TestAlert(ctx context.Context, message string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	if message == "" {
		message = "test notification"
	}

	return notifier.Notify(ctx, alerting.Notification{
		Kind:     alerting.KindTest,
		Occurred: time.Now().UTC(),
		Message:  message,
		Channels: a.Config.Alerting.Channels,
	})
}
