package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ubaguard/ubaguard/internal/models"
)

type sqliteBaselineRepo struct {
	db *sql.DB
}

func (r *sqliteBaselineRepo) Upsert(ctx context.Context, b *models.UserBaseline) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_baselines
			(user_id, event_count, mean_risk_score, max_risk_score, off_hours_ratio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			event_count = excluded.event_count,
			mean_risk_score = excluded.mean_risk_score,
			max_risk_score = excluded.max_risk_score,
			off_hours_ratio = excluded.off_hours_ratio,
			updated_at = excluded.updated_at
	`, b.UserID, b.EventCount, b.MeanRiskScore, b.MaxRiskScore, b.OffHoursRatio, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}

func (r *sqliteBaselineRepo) Get(ctx context.Context, userID string) (*models.UserBaseline, error) {
	b := &models.UserBaseline{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, event_count, mean_risk_score, max_risk_score, off_hours_ratio, updated_at
		FROM user_baselines WHERE user_id = ?
	`, userID).Scan(&b.UserID, &b.EventCount, &b.MeanRiskScore, &b.MaxRiskScore,
		&b.OffHoursRatio, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline: %w", err)
	}
	return b, nil
}

func (r *sqliteBaselineRepo) List(ctx context.Context) ([]*models.UserBaseline, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, event_count, mean_risk_score, max_risk_score, off_hours_ratio, updated_at
		FROM user_baselines ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query baselines: %w", err)
	}
	defer rows.Close()

	var baselines []*models.UserBaseline
	for rows.Next() {
		b := &models.UserBaseline{}
		err := rows.Scan(&b.UserID, &b.EventCount, &b.MeanRiskScore,
			&b.MaxRiskScore, &b.OffHoursRatio, &b.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}
