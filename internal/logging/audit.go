package logging

// AuditEvent records a wallet-initiated write or a gated action.
type AuditEvent struct {
	Operation string // e.g. "approval_submitted", "stake_submitted", "fund_application_sent"
	Actor     string // wallet address
	Target    string // contract address, room, or channel
	Result    string // "success", "failure", "rejected"
	Details   string
}

// Audit logs the event at info level tagged with audit=true so it can be
// filtered out of regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"details", event.Details,
	)
}
