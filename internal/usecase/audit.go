package usecase

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
)

// SecurityAuditor appends records to the security event log. Append failures
// are logged and swallowed: an audit outage must never change an
// authentication decision.
type SecurityAuditor struct {
	events port.SecurityEventRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor constructs an auditor over the provided event log.
func NewSecurityAuditor(events port.SecurityEventRepository, logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{events: events, logger: logger, now: time.Now}
}

// WithClock overrides the clock, primarily for tests.
func (a *SecurityAuditor) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Record appends one security event.
func (a *SecurityAuditor) Record(ctx context.Context, kind domain.SecurityEventKind, accountID, ip, userAgent *string, metadata map[string]any) {
	if a == nil || a.events == nil {
		return
	}

	event := domain.SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: accountID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  metadataCopy(metadata),
		CreatedAt: a.now().UTC(),
	}

	if err := a.events.Append(ctx, event); err != nil {
		a.logger.Warn("append security event failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func metadataCopy(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
