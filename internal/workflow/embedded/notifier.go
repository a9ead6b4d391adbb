package embedded

import (
	"context"
	"log/slog"

	"procflow/internal/approval/ports"
	id "procflow/pkg/domain"
)

// Notification tells a requester how their process ended.
type Notification struct {
	ProcessInstanceID string
	RequestID         string
	RequesterID       id.UserID
	RequesterName     string
	Kind              string
	Title             string
	Outcome           ports.Outcome
	ApproverID        id.UserID
	Comment           string
}

// Notifier delivers decision notifications. Delivery failures never affect
// the process.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) {
	n.logger.InfoContext(ctx, "approval decision notification",
		"request_id", note.RequestID,
		"requester_id", note.RequesterID,
		"requester_name", note.RequesterName,
		"kind", note.Kind,
		"title", note.Title,
		"outcome", note.Outcome,
		"approver_id", note.ApproverID,
		"comment", note.Comment,
	)
}
