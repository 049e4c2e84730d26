package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ubaguard/ubaguard/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewSQLiteStorage(dbPath)
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

func testAlert(id string, severity models.Severity, status models.AlertStatus, ts time.Time) *models.Alert {
	return &models.Alert{
		ID:           id,
		Timestamp:    ts,
		Severity:     severity,
		Status:       status,
		AnomalyScore: 0.8,
		Event: &models.Event{
			ID:        id + "-event",
			UserID:    "jdoe",
			EventType: models.EventTypeLogin,
			Timestamp: ts,
			RiskScore: 0.4,
		},
		DetectionDetails: models.DetectionDetails{
			Detectors: []models.DetectorContribution{
				{Detector: "isolation_forest", Weight: 0.6, Score: 0.9},
			},
			CombinedScore: 0.8,
			Threshold:     0.7,
		},
		UserContext:        models.UserContext{UserID: "jdoe"},
		RecommendedActions: []string{"Review user's recent activity"},
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
}

func TestAlertCreateAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	alert := testAlert("a1", models.SeverityHigh, models.StatusOpen, time.Now().UTC())
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	got, err := store.Alerts().GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if got == nil {
		t.Fatal("alert should exist")
	}
	if got.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", got.Severity)
	}
	if got.Event == nil || got.Event.UserID != "jdoe" {
		t.Errorf("event not round-tripped: %+v", got.Event)
	}
	if len(got.DetectionDetails.Detectors) != 1 {
		t.Errorf("detectors = %d, want 1", len(got.DetectionDetails.Detectors))
	}
	if len(got.RecommendedActions) != 1 {
		t.Errorf("recommended actions = %d, want 1", len(got.RecommendedActions))
	}
}

func TestAlertCreateDuplicate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	alert := testAlert("dup", models.SeverityMedium, models.StatusOpen, time.Now().UTC())
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := store.Alerts().Create(ctx, alert)
	if !errors.Is(err, ErrDuplicateAlert) {
		t.Errorf("second create err = %v, want ErrDuplicateAlert", err)
	}
}

func TestAlertGetMissing(t *testing.T) {
	store := setupTestDB(t)

	got, err := store.Alerts().GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}

func TestAlertStateMachine(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := testAlert("sm1", models.SeverityHigh, models.StatusOpen, now)
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}

	// open -> acknowledged
	ok, err := store.Alerts().Acknowledge(ctx, "sm1", "analyst", "looking", now)
	if err != nil || !ok {
		t.Fatalf("acknowledge = (%v, %v), want (true, nil)", ok, err)
	}
	got, _ := store.Alerts().GetByID(ctx, "sm1")
	if got.Status != models.StatusAcknowledged {
		t.Errorf("status = %s, want acknowledged", got.Status)
	}
	if got.AcknowledgedBy != "analyst" {
		t.Errorf("acknowledged_by = %q, want analyst", got.AcknowledgedBy)
	}
	if got.AcknowledgedAt == nil {
		t.Error("acknowledged_at should be set")
	}

	// acknowledged -> closed
	ok, err = store.Alerts().Close(ctx, "sm1", "analyst", "benign", now)
	if err != nil || !ok {
		t.Fatalf("close = (%v, %v), want (true, nil)", ok, err)
	}

	// closed is terminal: no transition back
	ok, err = store.Alerts().Acknowledge(ctx, "sm1", "analyst", "", now)
	if err != nil {
		t.Fatalf("acknowledge closed: %v", err)
	}
	if ok {
		t.Error("acknowledge on closed alert should return false")
	}
	ok, err = store.Alerts().Close(ctx, "sm1", "analyst", "", now)
	if err != nil {
		t.Fatalf("close closed: %v", err)
	}
	if ok {
		t.Error("close on closed alert should return false")
	}

	// unknown id
	ok, err = store.Alerts().Acknowledge(ctx, "missing", "analyst", "", now)
	if err != nil {
		t.Fatalf("acknowledge missing: %v", err)
	}
	if ok {
		t.Error("acknowledge on missing alert should return false")
	}
}

func TestAlertCloseDirectlyFromOpen(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := testAlert("sm2", models.SeverityMedium, models.StatusOpen, now)
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := store.Alerts().Close(ctx, "sm2", "analyst", "", now)
	if err != nil || !ok {
		t.Fatalf("close from open = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestAlertList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, tc := range []struct {
		id       string
		severity models.Severity
		status   models.AlertStatus
	}{
		{"l1", models.SeverityHigh, models.StatusOpen},
		{"l2", models.SeverityMedium, models.StatusOpen},
		{"l3", models.SeverityHigh, models.StatusClosed},
	} {
		a := testAlert(tc.id, tc.severity, tc.status, base.Add(time.Duration(i)*time.Minute))
		if err := store.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}

	all, err := store.Alerts().List(ctx, models.AlertFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list all = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "l3" {
		t.Errorf("first = %s, want l3", all[0].ID)
	}

	high, err := store.Alerts().List(ctx, models.AlertFilter{Severity: models.SeverityHigh})
	if err != nil {
		t.Fatalf("list high: %v", err)
	}
	if len(high) != 2 {
		t.Errorf("high = %d, want 2", len(high))
	}

	open, err := store.Alerts().List(ctx, models.AlertFilter{Status: models.StatusOpen})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("open = %d, want 2", len(open))
	}

	limited, err := store.Alerts().List(ctx, models.AlertFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "l2" {
		t.Errorf("limited = %+v, want [l2]", limited)
	}
}

func TestAlertStatistics(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		a := testAlert(string(rune('x'+i)), models.SeverityHigh, models.StatusOpen, now)
		if err := store.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("create open: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		a := testAlert(string(rune('p'+i)), models.SeverityMedium, models.StatusClosed, now)
		if err := store.Alerts().Create(ctx, a); err != nil {
			t.Fatalf("create closed: %v", err)
		}
	}

	stats, err := store.Alerts().Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("total = %d, want 5", stats.Total)
	}
	if stats.Active != 3 {
		t.Errorf("active = %d, want 3", stats.Active)
	}
	// Severity counts cover active alerts only.
	if stats.HighSeverityCount != 3 {
		t.Errorf("high = %d, want 3", stats.HighSeverityCount)
	}
	if stats.MediumSeverityCount != 0 {
		t.Errorf("medium = %d, want 0", stats.MediumSeverityCount)
	}
	if stats.OpenCount != 3 {
		t.Errorf("open = %d, want 3", stats.OpenCount)
	}
	if stats.ClosedCount != 2 {
		t.Errorf("closed = %d, want 2", stats.ClosedCount)
	}
	if stats.Last24h != 5 {
		t.Errorf("last24h = %d, want 5", stats.Last24h)
	}
}

func TestAlertRetention(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	closed := testAlert("old-closed", models.SeverityMedium, models.StatusClosed, old)
	if err := store.Alerts().Create(ctx, closed); err != nil {
		t.Fatalf("create closed: %v", err)
	}
	open := testAlert("old-open", models.SeverityHigh, models.StatusOpen, old)
	if err := store.Alerts().Create(ctx, open); err != nil {
		t.Fatalf("create open: %v", err)
	}

	rec := &models.NotificationRecord{
		AlertID:   "old-closed",
		Channel:   "email",
		Recipient: "sec@example.com",
		SentAt:    old,
		Status:    models.NotificationSent,
	}
	if err := store.Notifications().Create(ctx, rec); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	// Cutoff now removes every closed alert, never open ones.
	removed, err := store.Alerts().DeleteClosedBefore(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("delete closed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if got, _ := store.Alerts().GetByID(ctx, "old-closed"); got != nil {
		t.Error("closed alert should be removed")
	}
	if got, _ := store.Alerts().GetByID(ctx, "old-open"); got == nil {
		t.Error("open alert must survive retention")
	}

	recs, err := store.Notifications().ListByAlert(ctx, "old-closed")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("notifications = %d, want 0 after cascade", len(recs))
	}
}

func TestAlertRetentionSameSecondClose(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	cutoff := time.Now().UTC()

	// Closed a hair before the cutoff, inside the same wall-clock second.
	justClosed := testAlert("just-closed", models.SeverityMedium, models.StatusClosed, cutoff)
	justClosed.UpdatedAt = cutoff.Add(-500 * time.Microsecond)
	if err := store.Alerts().Create(ctx, justClosed); err != nil {
		t.Fatalf("create just-closed: %v", err)
	}

	later := testAlert("closed-later", models.SeverityMedium, models.StatusClosed, cutoff)
	later.UpdatedAt = cutoff.Add(500 * time.Microsecond)
	if err := store.Alerts().Create(ctx, later); err != nil {
		t.Fatalf("create closed-later: %v", err)
	}

	removed, err := store.Alerts().DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete closed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got, _ := store.Alerts().GetByID(ctx, "just-closed"); got != nil {
		t.Error("alert closed before the cutoff should be removed")
	}
	if got, _ := store.Alerts().GetByID(ctx, "closed-later"); got == nil {
		t.Error("alert closed after the cutoff must survive")
	}
}

func TestNotificationAuditTrail(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := testAlert("n1", models.SeverityHigh, models.StatusOpen, now)
	if err := store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	records := []*models.NotificationRecord{
		{AlertID: "n1", Channel: "email", Recipient: "a@example.com", SentAt: now, Status: models.NotificationSent},
		{AlertID: "n1", Channel: "webhook", Recipient: "https://hook", SentAt: now, Status: models.NotificationFailed, ErrorMessage: "timeout"},
	}
	for _, rec := range records {
		if err := store.Notifications().Create(ctx, rec); err != nil {
			t.Fatalf("create record: %v", err)
		}
		if rec.ID == 0 {
			t.Error("record id should be assigned")
		}
	}

	got, err := store.Notifications().ListByAlert(ctx, "n1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	var failed *models.NotificationRecord
	for _, rec := range got {
		if rec.Status == models.NotificationFailed {
			failed = rec
		}
	}
	if failed == nil || failed.ErrorMessage != "timeout" {
		t.Errorf("failed record not round-tripped: %+v", failed)
	}
}

func TestEventTrail(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	events := []*models.Event{
		{ID: "e1", UserID: "jdoe", EventType: models.EventTypeLogin, Timestamp: now.Add(-2 * time.Hour), RiskScore: 0.1},
		{ID: "e2", UserID: "jdoe", EventType: models.EventTypeCommand, Timestamp: now, RiskScore: 0.8,
			Payload: map[string]interface{}{"command": "scp /data remote:"}},
	}
	if err := store.Events().InsertBatch(ctx, events); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	recent, err := store.Events().ListSince(ctx, now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "e2" {
		t.Fatalf("recent = %+v, want [e2]", recent)
	}
	if recent[0].Payload["command"] != "scp /data remote:" {
		t.Errorf("payload not round-tripped: %+v", recent[0].Payload)
	}

	removed, err := store.Events().DeleteBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestBaselineUpsert(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	b := &models.UserBaseline{
		UserID:        "jdoe",
		EventCount:    10,
		MeanRiskScore: 0.2,
		MaxRiskScore:  0.8,
		OffHoursRatio: 0.1,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.Baselines().Upsert(ctx, b); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	b.EventCount = 25
	b.MeanRiskScore = 0.3
	if err := store.Baselines().Upsert(ctx, b); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.Baselines().Get(ctx, "jdoe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.EventCount != 25 {
		t.Errorf("baseline = %+v, want event_count 25", got)
	}

	all, err := store.Baselines().List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("baselines = %d, want 1", len(all))
	}

	missing, err := store.Baselines().Get(ctx, "ghost")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing = %+v, want nil", missing)
	}
}
