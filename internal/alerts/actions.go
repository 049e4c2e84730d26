package alerts

import (
	"strings"

	"github.com/ubaguard/ubaguard/internal/models"
)

// RecommendedActions builds the analyst playbook attached to an alert:
// severity-driven steps first, then event-type specifics.
func RecommendedActions(severity models.Severity, eventType models.EventType) []string {
	var actions []string

	switch severity {
	case models.SeverityHigh:
		actions = append(actions,
			"Immediately investigate user activity",
			"Consider temporarily suspending user access",
			"Notify security team and management",
		)
	case models.SeverityMedium:
		actions = append(actions,
			"Review user's recent activity",
			"Monitor user closely for additional anomalies",
			"Notify security analyst for review",
		)
	}

	et := strings.ToLower(string(eventType))
	switch {
	case strings.Contains(et, "login"):
		actions = append(actions,
			"Verify login location and device",
			"Check for concurrent sessions",
		)
	case strings.Contains(et, "file"):
		actions = append(actions,
			"Review file access patterns",
			"Check if files contain sensitive data",
		)
	case strings.Contains(et, "command"), strings.Contains(et, "process"):
		actions = append(actions,
			"Analyze command for malicious intent",
			"Check command execution context",
		)
	}
	return actions
}
