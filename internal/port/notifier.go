package port

import (
	"context"

	"finrep/internal/domain"
)

// RunNotifier tells operators about documents that did not pass.
type RunNotifier interface {
	NotifyRunFailed(ctx context.Context, result *domain.RunResult) error
}
