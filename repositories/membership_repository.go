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
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrUserAlreadyMember covers both a duplicate row and a live membership
	// in another tournament; the user_id unique constraint rejects either.
	ErrUserAlreadyMember = errors.New("user already holds a live membership")
)

type MembershipRepository interface {
	Add(ctx context.Context, exec SQLExecutor, tournamentID, userID int) (*models.Membership, error)
	Get(ctx context.Context, exec SQLExecutor, tournamentID, userID int) (*models.Membership, error)
	FindByUser(ctx context.Context, exec SQLExecutor, userID int) (*models.Membership, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Membership, error)
	Count(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error)
	SetReadyState(ctx context.Context, exec SQLExecutor, tournamentID, userID int, state models.ReadyState, justAdvanced bool) error
	Remove(ctx context.Context, exec SQLExecutor, tournamentID, userID int) error
	RemoveAll(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error)
}

type postgresMembershipRepository struct {
	db *sql.DB
}

func NewPostgresMembershipRepository(db *sql.DB) MembershipRepository {
	return &postgresMembershipRepository{db: db}
}

func (r *postgresMembershipRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const membershipColumns = `tournament_id, user_id, ready_state, just_advanced, joined_at`

func scanMembership(row rowScanner) (*models.Membership, error) {
	m := &models.Membership{}
	if err := row.Scan(&m.TournamentID, &m.UserID, &m.ReadyState, &m.JustAdvanced, &m.JoinedAt); err != nil {
		return nil, err
	}
	if !m.ReadyState.Valid() {
		return nil, fmt.Errorf("member %d has unknown ready state %q", m.UserID, m.ReadyState)
	}
	return m, nil
}

func (r *postgresMembershipRepository) Add(ctx context.Context, exec SQLExecutor, tournamentID, userID int) (*models.Membership, error) {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO tournament_members (tournament_id, user_id)
		VALUES ($1, $2)
		RETURNING ` + membershipColumns

	m, err := scanMembership(executor.QueryRowContext(ctx, query, tournamentID, userID))
	if err != nil {
		if isConstraintViolation(err, pqUniqueViolation, db.ConstraintMemberUserUnique) ||
			isConstraintViolation(err, pqUniqueViolation, db.ConstraintMemberPK) {
			return nil, ErrUserAlreadyMember
		}
		if pqErr, ok := asPQError(err); ok && pqErr.Code == pqForeignKeyViolation {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to add member %d to tournament %d: %w", userID, tournamentID, err)
	}
	return m, nil
}

func (r *postgresMembershipRepository) Get(ctx context.Context, exec SQLExecutor, tournamentID, userID int) (*models.Membership, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + membershipColumns + ` FROM tournament_members WHERE tournament_id = $1 AND user_id = $2`

	m, err := scanMembership(executor.QueryRowContext(ctx, query, tournamentID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (r *postgresMembershipRepository) FindByUser(ctx context.Context, exec SQLExecutor, userID int) (*models.Membership, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + membershipColumns + ` FROM tournament_members WHERE user_id = $1`

	m, err := scanMembership(executor.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to find membership of user %d: %w", userID, err)
	}
	return m, nil
}

func (r *postgresMembershipRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]models.Membership, error) {
	executor := r.getExecutor(exec)
	query := `SELECT ` + membershipColumns + ` FROM tournament_members WHERE tournament_id = $1 ORDER BY joined_at, user_id`

	rows, err := executor.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	members := make([]models.Membership, 0)
	for rows.Next() {
		m, scanErr := scanMembership(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", scanErr)
		}
		members = append(members, *m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return members, nil
}

func (r *postgresMembershipRepository) Count(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error) {
	executor := r.getExecutor(exec)
	var n int
	err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM tournament_members WHERE tournament_id = $1`, tournamentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members of tournament %d: %w", tournamentID, err)
	}
	return n, nil
}

func (r *postgresMembershipRepository) SetReadyState(ctx context.Context, exec SQLExecutor, tournamentID, userID int, state models.ReadyState, justAdvanced bool) error {
	executor := r.getExecutor(exec)
	query := `UPDATE tournament_members SET ready_state = $1, just_advanced = $2 WHERE tournament_id = $3 AND user_id = $4`
	result, err := executor.ExecContext(ctx, query, state, justAdvanced, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to set ready state of member %d: %w", userID, err)
	}
	return checkAffectedRows(result, ErrMembershipNotFound)
}

func (r *postgresMembershipRepository) Remove(ctx context.Context, exec SQLExecutor, tournamentID, userID int) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx,
		`DELETE FROM tournament_members WHERE tournament_id = $1 AND user_id = $2`, tournamentID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member %d from tournament %d: %w", userID, tournamentID, err)
	}
	return checkAffectedRows(result, ErrMembershipNotFound)
}

func (r *postgresMembershipRepository) RemoveAll(ctx context.Context, exec SQLExecutor, tournamentID int) (int64, error) {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `DELETE FROM tournament_members WHERE tournament_id = $1`, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge members of tournament %d: %w", tournamentID, err)
	}
	return result.RowsAffected()
}
