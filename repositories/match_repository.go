package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pongarena/tournament-engine/db"
	"github.com/pongarena/tournament-engine/models"
)

var (
	ErrMatchNotFound         = errors.New("match not found")
	ErrMatchStatusConflict   = errors.New("match status changed concurrently")
	ErrMatchSlotOccupied     = errors.New("match slot already occupied")
	ErrMatchConsumerConflict = errors.New("match already has a downstream consumer")
	ErrMatchDuplicatePos     = errors.New("match position already taken in round")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Match, error)
	ListByRound(ctx context.Context, exec SQLExecutor, tournamentID, round int) ([]models.Match, error)
	// FindBetween returns matches of the tournament between the two players, in either slot order.
	FindBetween(ctx context.Context, exec SQLExecutor, tournamentID, a, b int, status models.MatchStatus) ([]models.Match, error)
	// FindConsumers returns every match whose prev-match pointer references matchID.
	FindConsumers(ctx context.Context, exec SQLExecutor, matchID int) ([]models.Match, error)
	Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error
	FillSlot(ctx context.Context, exec SQLExecutor, id int, slot int, userID int) error
	Open(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `
	id, tournament_id, round, match_number, player_one_id, player_two_id,
	player_one_prev_match, player_two_prev_match, status, winner_id, created_at, completed_at`

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.ID, &m.TournamentID, &m.Round, &m.MatchNumber, &m.PlayerOneID, &m.PlayerTwoID,
		&m.PlayerOnePrevMatch, &m.PlayerTwoPrevMatch, &m.Status, &m.WinnerID, &m.CreatedAt, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if !m.Status.Valid() {
		return nil, fmt.Errorf("match %d has unknown status %q", m.ID, m.Status)
	}
	return m, nil
}

func (r *postgresMatchRepository) queryMatches(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]models.Match, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		m, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match: %w", scanErr)
		}
		matches = append(matches, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, m *models.Match) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO matches (
			tournament_id, round, match_number, player_one_id, player_two_id,
			player_one_prev_match, player_two_prev_match, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		m.TournamentID, m.Round, m.MatchNumber, m.PlayerOneID, m.PlayerTwoID,
		m.PlayerOnePrevMatch, m.PlayerTwoPrevMatch, m.Status,
	).Scan(&m.ID, &m.CreatedAt)
	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 ORDER BY round, match_number`
	matches, err := r.queryMatches(ctx, exec, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches of tournament %d: %w", tournamentID, err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) ListByRound(ctx context.Context, exec SQLExecutor, tournamentID, round int) ([]models.Match, error) {
	query := `SELECT` + matchColumns + ` FROM matches WHERE tournament_id = $1 AND round = $2 ORDER BY match_number`
	matches, err := r.queryMatches(ctx, exec, query, tournamentID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list round %d of tournament %d: %w", round, tournamentID, err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) FindBetween(ctx context.Context, exec SQLExecutor, tournamentID, a, b int, status models.MatchStatus) ([]models.Match, error) {
	query := `SELECT` + matchColumns + `
		FROM matches
		WHERE tournament_id = $1 AND status = $2
		AND ((player_one_id = $3 AND player_two_id = $4) OR (player_one_id = $4 AND player_two_id = $3))
		ORDER BY round, match_number`
	matches, err := r.queryMatches(ctx, exec, query, tournamentID, status, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s match between %d and %d: %w", status, a, b, err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) FindConsumers(ctx context.Context, exec SQLExecutor, matchID int) ([]models.Match, error) {
	query := `SELECT` + matchColumns + `
		FROM matches
		WHERE player_one_prev_match = $1 OR player_two_prev_match = $1`
	matches, err := r.queryMatches(ctx, exec, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to find consumers of match %d: %w", matchID, err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error {
	query := `
		UPDATE matches SET status = $1, winner_id = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		models.MatchStatusCompleted, winnerID, id, models.MatchStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchStatusConflict)
}

// FillSlot writes userID into slot 1 or 2, only if that slot is still empty.
func (r *postgresMatchRepository) FillSlot(ctx context.Context, exec SQLExecutor, id int, slot int, userID int) error {
	var query string
	switch slot {
	case 1:
		query = `UPDATE matches SET player_one_id = $1 WHERE id = $2 AND player_one_id IS NULL AND status = $3`
	case 2:
		query = `UPDATE matches SET player_two_id = $1 WHERE id = $2 AND player_two_id IS NULL AND status = $3`
	default:
		return fmt.Errorf("invalid slot %d", slot)
	}
	result, err := r.getExecutor(exec).ExecContext(ctx, query, userID, id, models.MatchStatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to fill slot %d of match %d: %w", slot, id, err)
	}
	return checkAffectedRows(result, ErrMatchSlotOccupied)
}

// Open moves a fully seeded waiting match to in_progress.
func (r *postgresMatchRepository) Open(ctx context.Context, exec SQLExecutor, id int) error {
	query := `
		UPDATE matches SET status = $1
		WHERE id = $2 AND status = $3 AND player_one_id IS NOT NULL AND player_two_id IS NOT NULL`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, models.MatchStatusInProgress, id, models.MatchStatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to open match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchStatusConflict)
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok && pqErr.Code == pqUniqueViolation {
		switch pqErr.Constraint {
		case db.ConstraintPlayerOneConsumerKey, db.ConstraintPlayerTwoConsumerKey:
			return ErrMatchConsumerConflict
		case db.ConstraintMatchSlotUnique:
			return ErrMatchDuplicatePos
		}
	}
	return err
}
