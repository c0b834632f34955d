package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doeshing/hostq/internal/domain"
)

// LoadRecipes implements ports.RecipeRepository.
func (s *SQLiteStore) LoadRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, intent, tokens, probes, template, reliability, usage, created_at, last_used_at
		FROM recipes ORDER BY intent, created_at`)
	if err != nil {
		return nil, fmt.Errorf("query recipes: %w", err)
	}
	defer rows.Close()

	var recipes []domain.Recipe
	for rows.Next() {
		var (
			r                 domain.Recipe
			intent            string
			tokens, probes    string
			created, lastUsed int64
		)
		if err := rows.Scan(&r.ID, &intent, &tokens, &probes, &r.Template, &r.Reliability, &r.Usage, &created, &lastUsed); err != nil {
			s.skip("recipes", err)
			continue
		}
		if err := json.Unmarshal([]byte(tokens), &r.Tokens); err != nil {
			s.skip("recipes", fmt.Errorf("recipe %s tokens: %w", r.ID, err))
			continue
		}
		if err := json.Unmarshal([]byte(probes), &r.Probes); err != nil {
			s.skip("recipes", fmt.Errorf("recipe %s probes: %w", r.ID, err))
			continue
		}
		r.Intent = domain.ParseIntent(intent)
		r.CreatedAt = fromUnixMilli(created)
		r.LastUsedAt = fromUnixMilli(lastUsed)
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// ReplaceIntent implements ports.RecipeRepository. The intent's rows are
// swapped in one transaction.
func (s *SQLiteStore) ReplaceIntent(ctx context.Context, intent domain.Intent, recipes []domain.Recipe) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recipe flush: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM recipes WHERE intent = ?", string(intent)); err != nil {
		return fmt.Errorf("delete recipes for %s: %w", intent, err)
	}
	for _, r := range recipes {
		tokens, err := json.Marshal(r.Tokens)
		if err != nil {
			return err
		}
		probes, err := json.Marshal(r.Probes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO recipes
			(id, intent, tokens, probes, template, reliability, usage, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, string(intent), string(tokens), string(probes), r.Template, r.Reliability, r.Usage,
			unixMilli(r.CreatedAt), unixMilli(r.LastUsedAt))
		if err != nil {
			return fmt.Errorf("insert recipe %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ClearRecipes implements ports.RecipeRepository.
func (s *SQLiteStore) ClearRecipes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM recipes"); err != nil {
		return fmt.Errorf("clear recipes: %w", err)
	}
	return nil
}
