package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"creative-matrix/internal/models"
)

// Store wraps pgxpool for Postgres persistence. The in-memory collection is
// the source of truth while the process runs; the store mirrors it so the
// matrix survives restarts.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Insert persists a newly created combination.
func (s *Store) Insert(ctx context.Context, c *models.Combination) error {
	assetsJSON, err := json.Marshal(c.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO combinations (id, seq, assets, status, progress, preview_url, engagement_score, favourite, fail_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Seq, assetsJSON, c.Status, c.Progress, emptyToNil(c.PreviewURL), c.EngagementScore, c.Favourite, emptyToNil(c.FailReason), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert combination: %w", err)
	}
	return nil
}

// SaveLifecycle mirrors a status/progress/preview transition.
func (s *Store) SaveLifecycle(ctx context.Context, id, status string, progress float64, previewURL, failReason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE combinations
		SET status = $2, progress = $3, preview_url = $4, fail_reason = $5, updated_at = NOW()
		WHERE id = $1
	`, id, status, progress, emptyToNil(previewURL), emptyToNil(failReason))
	return err
}

// SetFavourite mirrors a favourite toggle.
func (s *Store) SetFavourite(ctx context.Context, id string, favourite bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE combinations SET favourite = $2, updated_at = NOW() WHERE id = $1
	`, id, favourite)
	return err
}

// SetScore mirrors an engagement score attachment.
func (s *Store) SetScore(ctx context.Context, id string, score float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE combinations SET engagement_score = $2, updated_at = NOW() WHERE id = $1
	`, id, score)
	return err
}

// Get fetches one combination by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Combination, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, seq, assets, status, progress, preview_url, engagement_score, favourite, fail_reason, created_at, updated_at
		FROM combinations WHERE id = $1
	`, id)
	combo, err := scanCombination(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("combination not found: %w", err)
		}
		return nil, err
	}
	return combo, nil
}

// List returns every combination in creation order, used to warm the
// in-memory collection at boot.
func (s *Store) List(ctx context.Context) ([]*models.Combination, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, assets, status, progress, preview_url, engagement_score, favourite, fail_reason, created_at, updated_at
		FROM combinations ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("list combinations: %w", err)
	}
	defer rows.Close()

	var out []*models.Combination
	for rows.Next() {
		combo, err := scanCombination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, combo)
	}
	return out, rows.Err()
}

// AppendEvent adds a lifecycle audit row.
func (s *Store) AppendEvent(ctx context.Context, id, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO render_events (combination_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, id, event, detail)
	return err
}

// Events returns the audit trail for one combination, newest first.
func (s *Store) Events(ctx context.Context, id string, limit int) ([]models.RenderEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT combination_id, event, detail, ts
		FROM render_events WHERE combination_id = $1
		ORDER BY ts DESC LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.RenderEvent
	for rows.Next() {
		var ev models.RenderEvent
		if err := rows.Scan(&ev.CombinationID, &ev.Event, &ev.Detail, &ev.Recorded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanCombination(row pgx.Row) (*models.Combination, error) {
	var c models.Combination
	var assetsJSON []byte
	var preview, failReason pgtype.Text
	var score pgtype.Float8

	if err := row.Scan(&c.ID, &c.Seq, &assetsJSON, &c.Status, &c.Progress, &preview, &score, &c.Favourite, &failReason, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(assetsJSON, &c.Assets); err != nil {
		return nil, fmt.Errorf("unmarshal assets: %w", err)
	}
	if preview.Valid {
		c.PreviewURL = preview.String
	}
	if failReason.Valid {
		c.FailReason = failReason.String
	}
	if score.Valid {
		v := score.Float64
		c.EngagementScore = &v
	}
	return &c, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
