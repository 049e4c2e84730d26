package alerts

import (
	"testing"

	"github.com/ubaguard/ubaguard/internal/models"
)

func TestRecommendedActions(t *testing.T) {
	tests := []struct {
		name      string
		severity  models.Severity
		eventType models.EventType
		wantLen   int
		wantFirst string
	}{
		{
			name:      "high login",
			severity:  models.SeverityHigh,
			eventType: models.EventTypeLogin,
			wantLen:   5,
			wantFirst: "Immediately investigate user activity",
		},
		{
			name:      "medium file write",
			severity:  models.SeverityMedium,
			eventType: models.EventTypeFileWrite,
			wantLen:   5,
			wantFirst: "Review user's recent activity",
		},
		{
			name:      "high command",
			severity:  models.SeverityHigh,
			eventType: models.EventTypeCommand,
			wantLen:   5,
			wantFirst: "Immediately investigate user activity",
		},
		{
			name:      "high process",
			severity:  models.SeverityHigh,
			eventType: models.EventTypeProcess,
			wantLen:   5,
			wantFirst: "Immediately investigate user activity",
		},
		{
			name:      "unclassified event type",
			severity:  models.SeverityMedium,
			eventType: models.EventTypeAppUsage,
			wantLen:   3,
			wantFirst: "Review user's recent activity",
		},
		{
			name:      "low severity gets only event specifics",
			severity:  models.SeverityLow,
			eventType: models.EventTypeLogin,
			wantLen:   2,
			wantFirst: "Verify login location and device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RecommendedActions(tt.severity, tt.eventType)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d: %v", len(got), tt.wantLen, got)
			}
			if got[0] != tt.wantFirst {
				t.Errorf("first action = %q, want %q", got[0], tt.wantFirst)
			}
		})
	}
}

func TestRecommendedActionsFileVariants(t *testing.T) {
	for _, et := range []models.EventType{
		models.EventTypeFileAccess,
		models.EventTypeFileWrite,
		models.EventTypeFileDelete,
	} {
		got := RecommendedActions(models.SeverityHigh, et)
		found := false
		for _, a := range got {
			if a == "Review file access patterns" {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: file-specific action missing: %v", et, got)
		}
	}
}
