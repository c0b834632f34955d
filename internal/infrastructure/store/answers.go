package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/doeshing/hostq/internal/domain"
)

// SaveAnswer implements ports.HistoryRepository.
func (s *SQLiteStore) SaveAnswer(ctx context.Context, record domain.AnswerRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO answers
		(id, asked_at, intent, origin, label, reliability, elapsed_ms, text, question)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.QuestionID,
		unixMilli(record.AskedAt),
		string(record.Intent),
		string(record.Origin),
		string(record.Label),
		record.Reliability,
		record.Elapsed.Milliseconds(),
		record.Text,
		record.Question,
	)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

// Answers returns history entries newest first (limit/search optional).
func (s *SQLiteStore) Answers(ctx context.Context, limit int, search string) ([]domain.AnswerRecord, error) {
	builder := strings.Builder{}
	builder.WriteString("SELECT id, asked_at, intent, origin, label, reliability, elapsed_ms, text, question FROM answers")
	var args []interface{}
	if search != "" {
		builder.WriteString(" WHERE question LIKE ? OR text LIKE ?")
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	builder.WriteString(" ORDER BY asked_at DESC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var records []domain.AnswerRecord
	for rows.Next() {
		var (
			rec                   domain.AnswerRecord
			intent, origin, label string
			asked, elapsed        int64
		)
		if err := rows.Scan(&rec.QuestionID, &asked, &intent, &origin, &label, &rec.Reliability, &elapsed, &rec.Text, &rec.Question); err != nil {
			s.skip("answers", err)
			continue
		}
		rec.AskedAt = fromUnixMilli(asked)
		rec.Intent = domain.ParseIntent(intent)
		rec.Origin = domain.Origin(origin)
		rec.Label = domain.Label(label)
		rec.Elapsed = time.Duration(elapsed) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ClearAnswers deletes all history entries.
func (s *SQLiteStore) ClearAnswers(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM answers"); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return nil
}

// PruneAnswers removes entries asked before the cutoff.
func (s *SQLiteStore) PruneAnswers(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM answers WHERE asked_at < ?", unixMilli(before))
	if err != nil {
		return 0, fmt.Errorf("prune answers: %w", err)
	}
	return res.RowsAffected()
}

// ExportJSONL writes the answer table as JSON lines, oldest first.
func (s *SQLiteStore) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	records, err := s.Answers(ctx, 0, "")
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	for i := len(records) - 1; i >= 0; i-- {
		if err := enc.Encode(records[i]); err != nil {
			return len(records) - 1 - i, err
		}
	}
	return len(records), nil
}
