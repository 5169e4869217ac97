package service

import (
	"context"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// Notification kinds published after a committed state change.
const (
	KindTrialUsed = "checkin.trial_used"
	KindCancelled = "checkin.cancelled"
)

// Notification is a fire-and-forget message for downstream sinks such as a
// CRM or a chat bot.
type Notification struct {
	Kind        string            `json:"kind"`
	UserID      string            `json:"user_id"`
	EventID     string            `json:"event_id"`
	CheckInID   string            `json:"check_in_id"`
	CheckInType model.CheckInType `json:"check_in_type"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications. Implementations may fail; callers log
// the error and carry on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
