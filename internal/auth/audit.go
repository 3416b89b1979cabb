package auth

import (
	"context"

	"github.com/google/uuid"

	"tournament-api/internal/observability"
)

// Auditor writes the security trail. A failed write is logged and swallowed.
type Auditor struct {
	repo   AuditRepository
	logger *observability.Logger
	clock  Clock
}

func NewAuditor(repo AuditRepository, logger *observability.Logger, clock Clock) *Auditor {
	if clock == nil {
		clock = SystemClock
	}
	return &Auditor{repo: repo, logger: logger, clock: clock}
}

func (a *Auditor) Record(ctx context.Context, accountID string, action AuditAction, client ClientInfo, metadata map[string]string) {
	id, err := uuid.NewV7()
	if err != nil {
		a.logger.Error("audit_id_failed", map[string]any{"action": string(action), "error": err.Error()})
		return
	}

	entry := AuditEntry{
		ID:        id.String(),
		AccountID: accountID,
		Action:    action,
		Metadata:  metadata,
		IP:        client.IP,
		UserAgent: truncate(client.UserAgent, 512),
		CreatedAt: a.clock(),
	}
	if err := a.repo.InsertAudit(ctx, entry); err != nil {
		a.logger.Error("audit_write_failed", map[string]any{
			"action":     string(action),
			"account_id": accountID,
			"error":      err.Error(),
		})
	}
}
