package mailer

import (
	"context"

	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/logger"
)

// LoggingMailer records reset dispatches through structured logging instead
// of delivering them. The raw token is only surfaced in development mode.
type LoggingMailer struct {
	logger       *zap.Logger
	includeToken bool
}

var _ port.ResetMailer = (*LoggingMailer)(nil)

// NewLoggingMailer constructs a mailer backed by structured logging.
// includeToken must only be true outside production.
func NewLoggingMailer(log *zap.Logger, includeToken bool) *LoggingMailer {
	return &LoggingMailer{logger: log, includeToken: includeToken}
}

// SendPasswordReset logs the dispatch with the recipient masked.
func (m *LoggingMailer) SendPasswordReset(ctx context.Context, email, name, rawToken string) error {
	if m == nil || m.logger == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("recipient", logger.MaskEmail(email)),
		zap.String("name", name),
	}
	if m.includeToken {
		fields = append(fields, zap.String("dev_token", rawToken))
	}

	m.logger.Info("dispatch password reset", fields...)
	return nil
}
