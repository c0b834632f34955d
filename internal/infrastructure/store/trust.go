package store

import (
	"context"
	"fmt"

	"github.com/doeshing/hostq/internal/domain"
)

// LoadTrust implements ports.TrustRepository.
func (s *SQLiteStore) LoadTrust(ctx context.Context) ([]domain.TrustRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT actor, score, xp, good_streak, bad_streak, updated_at FROM trust ORDER BY actor")
	if err != nil {
		return nil, fmt.Errorf("query trust: %w", err)
	}
	defer rows.Close()

	var records []domain.TrustRecord
	for rows.Next() {
		var (
			rec     domain.TrustRecord
			actor   string
			updated int64
		)
		if err := rows.Scan(&actor, &rec.Score, &rec.XP, &rec.GoodStreak, &rec.BadStreak, &updated); err != nil {
			s.skip("trust", err)
			continue
		}
		rec.Actor = domain.Actor(actor)
		rec.UpdatedAt = fromUnixMilli(updated)
		records = append(records, rec.Normalize())
	}
	return records, rows.Err()
}

// SaveTrust implements ports.TrustRepository.
func (s *SQLiteStore) SaveTrust(ctx context.Context, records []domain.TrustRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trust flush: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trust (actor, score, xp, good_streak, bad_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor) DO UPDATE SET
			score = excluded.score,
			xp = excluded.xp,
			good_streak = excluded.good_streak,
			bad_streak = excluded.bad_streak,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare trust upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, string(rec.Actor), rec.Score, rec.XP, rec.GoodStreak, rec.BadStreak, unixMilli(rec.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert trust %s: %w", rec.Actor, err)
		}
	}
	return tx.Commit()
}
