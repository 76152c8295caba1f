package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
)

// Join statuses reported back to the joining player.
const (
	JoinStatusWaiting    = "waiting"
	JoinStatusInProgress = "in_progress"
)

type JoinResult struct {
	TournamentID int    `json:"tournament_id"`
	Status       string `json:"status"`
	PlayerAmount int    `json:"playerAmount"`
	Size         int    `json:"size"`
}

type MembershipService interface {
	Join(ctx context.Context, tournamentID, userID int) (*JoinResult, error)
	Leave(ctx context.Context, tournamentID, userID int) error
	MarkReady(ctx context.Context, tournamentID, userID int) (*ReadinessSnapshot, error)
}

type membershipService struct {
	db          *sql.DB
	tournaments repositories.TournamentRepository
	members     repositories.MembershipRepository
	brackets    BracketService
	gate        *readyGate
	dispatcher  *effectDispatcher
	logger      *slog.Logger
}

func lockTournament(ctx context.Context, repo repositories.TournamentRepository, tx *sql.Tx, id int) (*models.Tournament, error) {
	t, err := repo.LockForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *membershipService) Join(ctx context.Context, tournamentID, userID int) (*JoinResult, error) {
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}

	fx := newEffects()
	var result *JoinResult

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		t, err := lockTournament(ctx, s.tournaments, tx, tournamentID)
		if err != nil {
			return err
		}

		if _, err := s.members.FindByUser(ctx, tx, userID); err == nil {
			return ErrAlreadyInTournament
		} else if !errors.Is(err, repositories.ErrMembershipNotFound) {
			return err
		}
		if t.Status != models.TournamentStatusCreated || t.Full() {
			return ErrTournamentNotJoinable
		}

		if _, err := s.members.Add(ctx, tx, t.ID, userID); err != nil {
			if errors.Is(err, repositories.ErrUserAlreadyMember) {
				return ErrAlreadyInTournament
			}
			return err
		}
		amount, err := s.tournaments.AdjustPlayerAmount(ctx, tx, t.ID, 1)
		if err != nil {
			return err
		}
		t.PlayerAmount = amount

		result = &JoinResult{TournamentID: t.ID, Status: JoinStatusWaiting, PlayerAmount: amount, Size: t.Size}
		if amount < t.Size {
			return nil
		}

		if err := s.start(ctx, tx, t, fx); err != nil {
			return err
		}
		result.Status = JoinStatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.apply(ctx, fx)
	s.logger.InfoContext(ctx, "player joined",
		slog.Int("tournament_id", tournamentID),
		slog.Int("user_id", userID),
		slog.Int("player_amount", result.PlayerAmount),
		slog.String("status", result.Status))
	return result, nil
}

// start runs once, in the transaction of the join that filled the tournament.
func (s *membershipService) start(ctx context.Context, tx *sql.Tx, t *models.Tournament, fx *effects) error {
	if err := transitionTournament(ctx, s.tournaments, tx, t, models.TournamentStatusReady); err != nil {
		return err
	}

	members, err := s.members.ListByTournament(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if len(members) != t.Size {
		return fmt.Errorf("%w: %d members for size %d", ErrBracketInvariant, len(members), t.Size)
	}
	roster := make([]int, len(members))
	for i, m := range members {
		roster[i] = m.UserID
	}

	if _, err := s.brackets.Build(ctx, tx, t, roster); err != nil {
		return err
	}
	if err := transitionTournament(ctx, s.tournaments, tx, t, models.TournamentStatusInProgress); err != nil {
		return err
	}
	if err := s.gate.openRound(ctx, tx, t, 1, fx); err != nil {
		return err
	}

	fx.count(func(m *metrics.Metrics) { m.BracketsBuilt.Inc() })
	for _, userID := range roster {
		fx.notify(userID, EventTournamentStarted, TournamentEventPayload{TournamentID: t.ID, Name: t.Name})
	}
	return nil
}

func (s *membershipService) Leave(ctx context.Context, tournamentID, userID int) error {
	fx := newEffects()
	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		t, err := lockTournament(ctx, s.tournaments, tx, tournamentID)
		if err != nil {
			return err
		}
		if _, err := s.members.Get(ctx, tx, t.ID, userID); err != nil {
			if errors.Is(err, repositories.ErrMembershipNotFound) {
				return ErrNotAMember
			}
			return err
		}
		if t.Status != models.TournamentStatusCreated {
			return fmt.Errorf("%w: tournament is %s", ErrNotAMember, t.Status)
		}
		if err := s.members.Remove(ctx, tx, t.ID, userID); err != nil {
			return err
		}
		if _, err := s.tournaments.AdjustPlayerAmount(ctx, tx, t.ID, -1); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.dispatcher.apply(ctx, fx)
	s.logger.InfoContext(ctx, "player left", slog.Int("tournament_id", tournamentID), slog.Int("user_id", userID))
	return nil
}

func (s *membershipService) MarkReady(ctx context.Context, tournamentID, userID int) (*ReadinessSnapshot, error) {
	fx := newEffects()
	var snap *ReadinessSnapshot

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		t, err := lockTournament(ctx, s.tournaments, tx, tournamentID)
		if err != nil {
			return err
		}
		if _, err := s.members.Get(ctx, tx, t.ID, userID); err != nil {
			if errors.Is(err, repositories.ErrMembershipNotFound) {
				return ErrNotAMember
			}
			return err
		}
		if err := s.members.SetReadyState(ctx, tx, t.ID, userID, models.ReadyStateReady, false); err != nil {
			return err
		}

		opened := false
		if t.Status == models.TournamentStatusInProgress && t.ReadyWindowOpen() {
			members, err := s.members.ListByTournament(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if _, pending := splitReadiness(members); len(pending) == 0 {
				if err := s.gate.openRound(ctx, tx, t, t.CurrentRound, fx); err != nil {
					return err
				}
				opened = true
			}
		}

		snap, err = s.gate.snapshot(ctx, tx, t, opened)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.apply(ctx, fx)
	s.logger.InfoContext(ctx, "player ready",
		slog.Int("tournament_id", tournamentID),
		slog.Int("user_id", userID),
		slog.Int("round", snap.Round),
		slog.Bool("round_opened", snap.Opened))
	return snap, nil
}
