package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
)

type VerificationRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewVerificationRepository(sqlDB *sql.DB, logger zerolog.Logger) *VerificationRepository {
	return &VerificationRepository{
		db:     sqlDB,
		logger: logger,
	}
}

// Get returns the user's current verification record, or nil when the user
// has never been verified.
func (r *VerificationRepository) Get(ctx context.Context, userID string) (*domain.VerificationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, rank_name, level_detected, role_id_assigned, verified_at, updated_at
		FROM verification_records
		WHERE user_id = ?`, userID)

	var rec domain.VerificationRecord
	err := row.Scan(&rec.UserID, &rec.RankName, &rec.LevelDetected, &rec.RoleIDAssigned, &rec.VerifiedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("failed to get verification record")
		return nil, fmt.Errorf("get verification record: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

// Upsert writes the record, keeping the original verified_at when the user
// already has one and stamping updated_at.
func (r *VerificationRepository) Upsert(ctx context.Context, rec *domain.VerificationRecord) (*domain.VerificationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	now := time.Now().UTC()
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_records (user_id, rank_name, level_detected, role_id_assigned, verified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			rank_name = excluded.rank_name,
			level_detected = excluded.level_detected,
			role_id_assigned = excluded.role_id_assigned,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.RankName, rec.LevelDetected, rec.RoleIDAssigned, rec.VerifiedAt, rec.UpdatedAt)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", rec.UserID).Msg("failed to upsert verification record")
		return nil, fmt.Errorf("upsert verification record: %w: %w", domain.ErrStoreUnavailable, err)
	}

	r.logger.Debug().
		Str("user_id", rec.UserID).
		Str("rank_name", rec.RankName).
		Int("level_detected", rec.LevelDetected).
		Msg("verification record upserted")

	return rec, nil
}

// PurgeAll removes every verification record and returns how many were
// deleted. Administrative operation; history rows are kept.
func (r *VerificationRepository) PurgeAll(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_records`)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to purge verification records")
		return 0, fmt.Errorf("purge verification records: %w: %w", domain.ErrStoreUnavailable, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge verification records: %w: %w", domain.ErrStoreUnavailable, err)
	}

	r.logger.Info().Int64("count", count).Msg("verification records purged")
	return count, nil
}

// AppendHistory records one accepted verification in the audit log.
func (r *VerificationRepository) AppendHistory(ctx context.Context, ev *domain.VerificationEvent) error {
	id := ev.ID
	if id == "" {
		var err error
		id, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_history (id, user_id, rank_name, level_detected, role_id, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, ev.UserID, ev.RankName, ev.LevelDetected, ev.RoleID, ev.Confidence, ev.CreatedAt)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", ev.UserID).Msg("failed to append verification history")
		return fmt.Errorf("append verification history: %w: %w", domain.ErrStoreUnavailable, err)
	}
	ev.ID = id
	return nil
}

// HistoryFor returns the user's most recent verification events, newest
// first.
func (r *VerificationRepository) HistoryFor(ctx context.Context, userID string, limit int) ([]domain.VerificationEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, rank_name, level_detected, role_id, confidence, created_at
		FROM verification_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query verification history: %w: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var events []domain.VerificationEvent
	for rows.Next() {
		var ev domain.VerificationEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.RankName, &ev.LevelDetected, &ev.RoleID, &ev.Confidence, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verification history: %w: %w", domain.ErrStoreUnavailable, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification history: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return events, nil
}
