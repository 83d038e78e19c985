package incident

// Action kind names shared with the response executor. Playbooks reference
// kinds by name; the executor maps each name to a concrete handler.
const (
	ActionLockAccount          = "lock_account"
	ActionNotifySecurityTeam   = "notify_security_team"
	ActionFlagUser             = "flag_user"
	ActionGenerateAccessReport = "generate_access_report"
	ActionRevokeSession        = "revoke_session"
	ActionPreserveEvidence     = "preserve_evidence"
	ActionManual               = "manual"
)

// playbooks maps the playbook name carried by a detection rule to its action
// template. CreateIncident deep-copies the template, so incidents never share
// action slices with the table or with each other.
var playbooks = map[string][]ResponseAction{
	"account_lockout": {
		{ID: "lock", Description: "Lock the account pending review", Kind: ActionLockAccount, Executor: ExecutorSystem},
		{ID: "revoke", Description: "Revoke all active sessions for the actor", Kind: ActionRevokeSession, Executor: ExecutorSystem},
		{ID: "notify", Description: "Notify the security team", Kind: ActionNotifySecurityTeam, Executor: ExecutorSystem},
	},
	"phi_export_response": {
		{ID: "report", Description: "Generate an access report for the export window", Kind: ActionGenerateAccessReport, Executor: ExecutorSystem},
		{ID: "preserve", Description: "Preserve audit evidence under legal hold", Kind: ActionPreserveEvidence, Executor: ExecutorSystem},
		{ID: "notify", Description: "Notify the security team", Kind: ActionNotifySecurityTeam, Executor: ExecutorSystem},
		{ID: "review", Description: "Review export legitimacy with the data owner", Kind: ActionManual, Executor: ExecutorHuman, RequiresApproval: true},
	},
	"privilege_escalation_response": {
		{ID: "revoke", Description: "Revoke all active sessions for the actor", Kind: ActionRevokeSession, Executor: ExecutorSystem},
		{ID: "lock", Description: "Lock the account pending review", Kind: ActionLockAccount, Executor: ExecutorSystem},
		{ID: "preserve", Description: "Preserve audit evidence under legal hold", Kind: ActionPreserveEvidence, Executor: ExecutorSystem},
		{ID: "notify", Description: "Notify the security team", Kind: ActionNotifySecurityTeam, Executor: ExecutorSystem},
	},
	"suspicious_access_review": {
		{ID: "flag", Description: "Flag the user for enhanced monitoring", Kind: ActionFlagUser, Executor: ExecutorSystem},
		{ID: "report", Description: "Generate an access report for the actor", Kind: ActionGenerateAccessReport, Executor: ExecutorSystem},
	},
	"system_compromise_response": {
		{ID: "notify", Description: "Notify the security team", Kind: ActionNotifySecurityTeam, Executor: ExecutorSystem},
		{ID: "preserve", Description: "Preserve audit evidence under legal hold", Kind: ActionPreserveEvidence, Executor: ExecutorSystem},
		{ID: "isolate", Description: "Assess whether affected services need isolation", Kind: ActionManual, Executor: ExecutorHuman, RequiresApproval: true},
	},
	"insider_threat_review": {
		{ID: "flag", Description: "Flag the user for enhanced monitoring", Kind: ActionFlagUser, Executor: ExecutorSystem},
		{ID: "report", Description: "Generate an access report for the actor", Kind: ActionGenerateAccessReport, Executor: ExecutorSystem},
		{ID: "review", Description: "Escalate to the compliance officer for review", Kind: ActionManual, Executor: ExecutorHuman, RequiresApproval: true},
	},
}

// fallbackPlaybook covers rules that name an unknown playbook: the security
// team still hears about the incident.
var fallbackPlaybook = []ResponseAction{
	{ID: "notify", Description: "Notify the security team", Kind: ActionNotifySecurityTeam, Executor: ExecutorSystem},
}

// PlaybookActions returns a fresh copy of the named playbook's actions, each
// starting in the pending state.
func PlaybookActions(name string) []ResponseAction {
	template, ok := playbooks[name]
	if !ok {
		template = fallbackPlaybook
	}
	actions := make([]ResponseAction, len(template))
	copy(actions, template)
	for i := range actions {
		actions[i].Status = ActionPending
	}
	return actions
}
