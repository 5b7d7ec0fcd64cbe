package noop

import (
	"context"

	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/notify"
	"finrep/internal/port"
)

type noopNotifier struct {
	dashboardURL string
}

// NewNoopNotifier creates a RunNotifier that only logs the rendered message.
func NewNoopNotifier(dashboardURL string) port.RunNotifier {
	return &noopNotifier{dashboardURL: dashboardURL}
}

func (n *noopNotifier) NotifyRunFailed(_ context.Context, result *domain.RunResult) error {
	msg := notify.Build(result, n.dashboardURL)
	zap.L().Info("noopNotifier.NotifyRunFailed: notification suppressed",
		zap.String("run_id", result.RunID.String()),
		zap.String("subject", msg.Subject))
	return nil
}
