package hooks

import (
	"context"

	"go.uber.org/zap"
)

// Auditor consumes audit records emitted by masking rules and guardrail
// classifiers. The default implementation just logs; a deployment wanting
// durable audit trails provides its own.
type Auditor interface {
	Log(ctx context.Context, record AuditRecord)
}

// LoggingAuditor is the default Auditor: it writes each record through the
// threaded zap logger at INFO.
type LoggingAuditor struct {
	logger *zap.Logger
}

// NewLoggingAuditor constructs a LoggingAuditor.
func NewLoggingAuditor(logger *zap.Logger) *LoggingAuditor {
	return &LoggingAuditor{logger: logger.With(zap.String("component", "auditor"))}
}

func (a *LoggingAuditor) Log(_ context.Context, record AuditRecord) {
	a.logger.Info("audit record",
		zap.String("audit_type", record.AuditType),
		zap.Any("payload", record.Payload),
	)
}
