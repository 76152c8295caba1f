package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pongarena/tournament-engine/models"
)

type MatchRecordRepository interface {
	Create(ctx context.Context, exec SQLExecutor, record *models.MatchRecord) error
	ListByUser(ctx context.Context, userID int, limit int) ([]models.MatchRecord, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.MatchRecord, error)
}

type postgresMatchRecordRepository struct {
	db *sql.DB
}

func NewPostgresMatchRecordRepository(db *sql.DB) MatchRecordRepository {
	return &postgresMatchRecordRepository{db: db}
}

func (r *postgresMatchRecordRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchRecordColumns = `
	id, user_id, opponent_id, user_score, opponent_score, winner_id,
	round, tournament_id, match_type, forfeit, played_at`

func (r *postgresMatchRecordRepository) Create(ctx context.Context, exec SQLExecutor, rec *models.MatchRecord) error {
	if rec.MatchType == "" {
		rec.MatchType = models.MatchTypeTournament
	}
	query := `
		INSERT INTO match_history (
			user_id, opponent_id, user_score, opponent_score, winner_id,
			round, tournament_id, match_type, forfeit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, played_at`
	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		rec.UserID, rec.OpponentID, rec.UserScore, rec.OpponentScore, rec.WinnerID,
		rec.Round, rec.TournamentID, rec.MatchType, rec.Forfeit,
	).Scan(&rec.ID, &rec.PlayedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match record for user %d: %w", rec.UserID, err)
	}
	return nil
}

func (r *postgresMatchRecordRepository) query(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]models.MatchRecord, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.MatchRecord, 0)
	for rows.Next() {
		var rec models.MatchRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.OpponentID, &rec.UserScore, &rec.OpponentScore, &rec.WinnerID,
			&rec.Round, &rec.TournamentID, &rec.MatchType, &rec.Forfeit, &rec.PlayedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *postgresMatchRecordRepository) ListByUser(ctx context.Context, userID int, limit int) ([]models.MatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT` + matchRecordColumns + ` FROM match_history WHERE user_id = $1 ORDER BY played_at DESC, id DESC LIMIT $2`
	records, err := r.query(ctx, nil, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list match history of user %d: %w", userID, err)
	}
	return records, nil
}

func (r *postgresMatchRecordRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.MatchRecord, error) {
	q := `SELECT` + matchRecordColumns + ` FROM match_history WHERE tournament_id = $1 ORDER BY id`
	records, err := r.query(ctx, exec, q, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list match history of tournament %d: %w", tournamentID, err)
	}
	return records, nil
}
