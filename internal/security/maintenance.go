package security

import (
	"context"

	"go.uber.org/zap"
)

// MaintenanceReport summarizes one scheduled maintenance run. Errors
// carries per-task failure messages; a partial run is still useful.
type MaintenanceReport struct {
	RateLimitRecordsRemoved int      `json:"rate_limit_records_removed"`
	AuditLogsRemoved        int      `json:"audit_logs_removed"`
	KeysRotated             int      `json:"keys_rotated"`
	Errors                  []string `json:"errors,omitempty"`
}

// Maintenance runs the periodic housekeeping tasks: stale rate-limit
// eviction, audit retention cleanup, and rotation of encryption keys
// past their maximum age. Each task runs even if an earlier one fails.
func (m *Middleware) Maintenance(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport

	n, err := m.quota.Cleanup(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "rate limit cleanup: "+err.Error())
	} else {
		report.RateLimitRecordsRemoved = n
	}

	n, err = m.audit.CleanupOldLogs(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "audit cleanup: "+err.Error())
	} else {
		report.AuditLogsRemoved = n
	}

	n, err = m.vault.RotateExpired(ctx)
	if err != nil {
		report.Errors = append(report.Errors, "key rotation: "+err.Error())
	} else {
		report.KeysRotated = n
	}

	m.logger.Info("maintenance run complete",
		zap.Int("rate_limit_records_removed", report.RateLimitRecordsRemoved),
		zap.Int("audit_logs_removed", report.AuditLogsRemoved),
		zap.Int("keys_rotated", report.KeysRotated),
		zap.Strings("errors", report.Errors),
	)
	return report
}
