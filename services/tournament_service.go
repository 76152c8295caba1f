package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
)

type CreateTournamentInput struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	CreatorID int    `json:"-"`
}

type TournamentService interface {
	Create(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error)
	Get(ctx context.Context, id int) (*models.Tournament, error)
	ListJoinable(ctx context.Context) ([]models.Tournament, error)
	PlayerAmount(ctx context.Context, id int) (int, error)
	Bracket(ctx context.Context, id int) (*BracketView, error)
	// IsParticipant reports whether userID is a live member of an in-progress tournament.
	IsParticipant(ctx context.Context, tournamentID, userID int) (bool, error)
	// RecoverReadyWindows re-arms timers for windows left open by a previous process.
	RecoverReadyWindows(ctx context.Context) (int, error)
}

type tournamentService struct {
	db          *sql.DB
	tournaments repositories.TournamentRepository
	members     repositories.MembershipRepository
	brackets    BracketService
	dispatcher  *effectDispatcher
	scheduler   WindowScheduler
	logger      *slog.Logger
}

func (s *tournamentService) Create(ctx context.Context, input CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrTournamentNameRequired
	}
	if !models.ValidTournamentSize(input.Size) {
		return nil, ErrInvalidSize
	}
	if input.CreatorID <= 0 {
		return nil, ErrInvalidUserID
	}

	t := &models.Tournament{
		Name:      name,
		CreatorID: input.CreatorID,
		Size:      input.Size,
		Status:    models.TournamentStatusCreated,
	}
	if err := s.tournaments.Create(ctx, nil, t); err != nil {
		switch {
		case errors.Is(err, repositories.ErrCreatorHasActiveTournament):
			return nil, ErrAlreadyHasActiveTournament
		case errors.Is(err, repositories.ErrTournamentInvalidSize):
			return nil, ErrInvalidSize
		}
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}

	fx := newEffects()
	fx.count(func(m *metrics.Metrics) { m.TournamentsCreated.Inc() })
	s.dispatcher.apply(ctx, fx)

	s.logger.InfoContext(ctx, "tournament created",
		slog.Int("tournament_id", t.ID), slog.Int("creator_id", t.CreatorID), slog.Int("size", t.Size))
	return t, nil
}

func (s *tournamentService) Get(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.tournaments.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *tournamentService) ListJoinable(ctx context.Context) ([]models.Tournament, error) {
	return s.tournaments.ListByStatus(ctx, models.TournamentStatusCreated)
}

func (s *tournamentService) PlayerAmount(ctx context.Context, id int) (int, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return t.PlayerAmount, nil
}

func (s *tournamentService) Bracket(ctx context.Context, id int) (*BracketView, error) {
	return s.brackets.Bracket(ctx, id)
}

func (s *tournamentService) IsParticipant(ctx context.Context, tournamentID, userID int) (bool, error) {
	t, err := s.Get(ctx, tournamentID)
	if err != nil {
		return false, err
	}
	if t.Status != models.TournamentStatusInProgress {
		return false, nil
	}
	if _, err := s.members.Get(ctx, nil, tournamentID, userID); err != nil {
		if errors.Is(err, repositories.ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *tournamentService) RecoverReadyWindows(ctx context.Context) (int, error) {
	open, err := s.tournaments.ListOpenReadyWindows(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, t := range open {
		key := WindowKey{TournamentID: t.ID, Round: t.CurrentRound}
		if err := s.scheduler.Schedule(key, *t.ReadyDeadline); err != nil {
			s.logger.ErrorContext(ctx, "failed to recover ready-up window",
				slog.Int("tournament_id", t.ID), slog.Int("round", t.CurrentRound), slog.Any("error", err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.InfoContext(ctx, "ready-up windows recovered", slog.Int("count", recovered))
	}
	return recovered, nil
}

// transitionTournament applies one lifecycle step under the row lock held by tx.
func transitionTournament(ctx context.Context, repo repositories.TournamentRepository, tx *sql.Tx, t *models.Tournament, next models.TournamentStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, next)
	}
	if err := repo.UpdateStatus(ctx, tx, t.ID, t.Status, next); err != nil {
		if errors.Is(err, repositories.ErrTournamentStatusConflict) {
			return fmt.Errorf("%w: tournament %d is no longer %s", ErrInvalidStatusTransition, t.ID, t.Status)
		}
		return err
	}
	t.Status = next
	return nil
}
