package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pongarena/tournament-engine/db"
	"github.com/pongarena/tournament-engine/models"
)

var (
	ErrTournamentNotFound         = errors.New("tournament not found")
	ErrCreatorHasActiveTournament = errors.New("creator already has an active tournament")
	ErrTournamentStatusConflict   = errors.New("tournament status changed concurrently")
	ErrTournamentInvalidSize      = errors.New("tournament size violates constraint")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	// LockForUpdate reads the row with SELECT ... FOR UPDATE. exec must be a transaction.
	LockForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	ListByStatus(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error)
	ListOpenReadyWindows(ctx context.Context) ([]models.Tournament, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, from, to models.TournamentStatus) error
	AdjustPlayerAmount(ctx context.Context, exec SQLExecutor, id int, delta int) (int, error)
	OpenReadyWindow(ctx context.Context, exec SQLExecutor, id int, round int, deadline *time.Time) error
	CloseReadyWindow(ctx context.Context, exec SQLExecutor, id int) error
	Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const tournamentColumns = `
	id, name, creator_id, size, status, player_amount, winner_id,
	current_round, ready_deadline, created_at, completed_at`

func scanTournament(row rowScanner) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := row.Scan(
		&t.ID, &t.Name, &t.CreatorID, &t.Size, &t.Status, &t.PlayerAmount, &t.WinnerID,
		&t.CurrentRound, &t.ReadyDeadline, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("tournament %d has unknown status %q", t.ID, t.Status)
	}
	return t, nil
}

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO tournaments (name, creator_id, size, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, player_amount, current_round, created_at`

	if t.Status == "" {
		t.Status = models.TournamentStatusCreated
	}
	err := executor.QueryRowContext(ctx, query, t.Name, t.CreatorID, t.Size, t.Status).
		Scan(&t.ID, &t.PlayerAmount, &t.CurrentRound, &t.CreatedAt)
	return r.handleTournamentError(err)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	executor := r.getExecutor(exec)
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`

	t, err := scanTournament(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) LockForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	if exec == nil {
		return nil, errors.New("LockForUpdate requires a transaction")
	}
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1 FOR UPDATE`

	t, err := scanTournament(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to lock tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Tournament, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		t, scanErr := scanTournament(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) ListByStatus(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE status = $1 ORDER BY created_at DESC, id DESC`
	tournaments, err := r.list(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments with status %s: %w", status, err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) ListOpenReadyWindows(ctx context.Context) ([]models.Tournament, error) {
	query := `SELECT` + tournamentColumns + `
		FROM tournaments
		WHERE status = $1 AND ready_deadline IS NOT NULL
		ORDER BY ready_deadline`
	tournaments, err := r.list(ctx, query, models.TournamentStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to list open ready windows: %w", err)
	}
	return tournaments, nil
}

// UpdateStatus moves the tournament from one status to the next. The WHERE
// clause on the current status makes a lost race visible as ErrTournamentStatusConflict.
func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, from, to models.TournamentStatus) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET status = $1 WHERE id = $2 AND status = $3`
	result, err := executor.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStatusConflict)
}

// AdjustPlayerAmount adds delta and floors the result at zero.
func (r *postgresTournamentRepository) AdjustPlayerAmount(ctx context.Context, exec SQLExecutor, id int, delta int) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		UPDATE tournaments SET player_amount = GREATEST(player_amount + $1, 0)
		WHERE id = $2
		RETURNING player_amount`

	var amount int
	err := executor.QueryRowContext(ctx, query, delta, id).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTournamentNotFound
		}
		return 0, fmt.Errorf("failed to adjust player amount for tournament %d: %w", id, err)
	}
	return amount, nil
}

// OpenReadyWindow records the round being readied. A nil deadline means the
// round opened without a window.
func (r *postgresTournamentRepository) OpenReadyWindow(ctx context.Context, exec SQLExecutor, id int, round int, deadline *time.Time) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET current_round = $1, ready_deadline = $2 WHERE id = $3`
	result, err := executor.ExecContext(ctx, query, round, deadline, id)
	if err != nil {
		return fmt.Errorf("failed to open ready window for tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) CloseReadyWindow(ctx context.Context, exec SQLExecutor, id int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournaments SET ready_deadline = NULL WHERE id = $1`
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to close ready window for tournament %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) Complete(ctx context.Context, exec SQLExecutor, id int, winnerID int) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE tournaments SET
			status = $1,
			winner_id = $2,
			player_amount = 0,
			ready_deadline = NULL,
			completed_at = NOW()
		WHERE id = $3 AND status = $4`
	result, err := executor.ExecContext(ctx, query,
		models.TournamentStatusCompleted, winnerID, id, models.TournamentStatusInProgress)
	if err != nil {
		return r.handleTournamentError(err)
	}
	return checkAffectedRows(result, ErrTournamentStatusConflict)
}

func (r *postgresTournamentRepository) handleTournamentError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := asPQError(err); ok {
		switch pqErr.Code {
		case pqUniqueViolation:
			if pqErr.Constraint == db.ConstraintCreatorActiveUnique {
				return ErrCreatorHasActiveTournament
			}
		case pqCheckViolation:
			if pqErr.Constraint == "tournaments_size_check" {
				return ErrTournamentInvalidSize
			}
		}
	}
	return err
}
