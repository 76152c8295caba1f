package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
)

// ResultInput is a finished match as reported by the gameplay service.
type ResultInput struct {
	WinnerID    int `json:"winner_id"`
	LoserID     int `json:"loser_id"`
	WinnerScore int `json:"winner_score"`
	LoserScore  int `json:"loser_score"`
}

func (in ResultInput) validate() error {
	if in.WinnerID <= 0 || in.LoserID <= 0 {
		return fmt.Errorf("%w: player ids must be positive", ErrInvalidResult)
	}
	if in.WinnerID == in.LoserID {
		return fmt.Errorf("%w: winner and loser are the same player", ErrInvalidResult)
	}
	if in.WinnerScore < 0 || in.LoserScore < 0 {
		return fmt.Errorf("%w: scores must not be negative", ErrInvalidResult)
	}
	// Ids and scores are stored in INTEGER columns.
	for _, v := range []int{in.WinnerID, in.LoserID, in.WinnerScore, in.LoserScore} {
		if v > math.MaxInt32 {
			return fmt.Errorf("%w: value %d out of range", ErrInvalidResult, v)
		}
	}
	return nil
}

type ResolveResult struct {
	TournamentID        int  `json:"tournament_id"`
	MatchID             int  `json:"match_id"`
	Round               int  `json:"round"`
	WinnerID            int  `json:"winner_id"`
	LoserID             int  `json:"loser_id"`
	Forfeit             bool `json:"forfeit"`
	NextMatchID         *int `json:"next_match_id,omitempty"`
	TournamentCompleted bool `json:"tournament_completed"`
}

type MatchService interface {
	Resolve(ctx context.Context, tournamentID int, input ResultInput) (*ResolveResult, error)
	// ExpireReadyWindow applies the deadline of (tournamentID, round). Stale keys are no-ops.
	ExpireReadyWindow(ctx context.Context, tournamentID, round int) error
	MatchHistory(ctx context.Context, userID int, limit int) ([]models.MatchRecord, error)
}

type matchService struct {
	db          *sql.DB
	tournaments repositories.TournamentRepository
	members     repositories.MembershipRepository
	matches     repositories.MatchRepository
	records     repositories.MatchRecordRepository
	gate        *readyGate
	dispatcher  *effectDispatcher
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func isConsistencyError(err error) bool {
	return errors.Is(err, ErrNoActiveMatch) || errors.Is(err, ErrMatchAlreadyCompleted)
}

func (s *matchService) Resolve(ctx context.Context, tournamentID int, input ResultInput) (*ResolveResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	fx := newEffects()
	var result *ResolveResult

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		t, err := lockTournament(ctx, s.tournaments, tx, tournamentID)
		if err != nil {
			return err
		}
		m, err := s.findActiveMatch(ctx, tx, t, input.WinnerID, input.LoserID)
		if err != nil {
			return err
		}
		result, err = s.advance(ctx, tx, t, m, input, false, fx)
		return err
	})
	if err != nil {
		if isConsistencyError(err) {
			s.logger.WarnContext(ctx, "match result rejected",
				slog.Int("tournament_id", tournamentID),
				slog.Int("winner_id", input.WinnerID),
				slog.Int("loser_id", input.LoserID),
				slog.Any("error", err))
			if s.metrics != nil {
				reason := "no_active_match"
				if errors.Is(err, ErrMatchAlreadyCompleted) {
					reason = "already_completed"
				}
				s.metrics.RejectedResults.WithLabelValues(reason).Inc()
			}
		}
		return nil, err
	}

	s.dispatcher.apply(ctx, fx)
	s.logger.InfoContext(ctx, "match resolved",
		slog.Int("tournament_id", tournamentID),
		slog.Int("match_id", result.MatchID),
		slog.Int("round", result.Round),
		slog.Int("winner_id", result.WinnerID),
		slog.Bool("tournament_completed", result.TournamentCompleted))
	return result, nil
}

func (s *matchService) findActiveMatch(ctx context.Context, tx *sql.Tx, t *models.Tournament, winnerID, loserID int) (*models.Match, error) {
	active, err := s.matches.FindBetween(ctx, tx, t.ID, winnerID, loserID, models.MatchStatusInProgress)
	if err != nil {
		return nil, err
	}
	switch len(active) {
	case 0:
		done, err := s.matches.FindBetween(ctx, tx, t.ID, winnerID, loserID, models.MatchStatusCompleted)
		if err != nil {
			return nil, err
		}
		if len(done) > 0 {
			return nil, ErrMatchAlreadyCompleted
		}
		return nil, ErrNoActiveMatch
	case 1:
		if t.Status != models.TournamentStatusInProgress {
			return nil, fmt.Errorf("%w: active match %d in %s tournament", ErrBracketInvariant, active[0].ID, t.Status)
		}
		return &active[0], nil
	default:
		return nil, fmt.Errorf("%w: %d active matches between %d and %d", ErrBracketInvariant, len(active), winnerID, loserID)
	}
}

// advance completes m and moves the winner downstream. m must be in_progress.
func (s *matchService) advance(ctx context.Context, tx *sql.Tx, t *models.Tournament, m *models.Match, in ResultInput, forfeit bool, fx *effects) (*ResolveResult, error) {
	if !m.Status.CanTransitionTo(models.MatchStatusCompleted) {
		return nil, fmt.Errorf("%w: match %d is %s", ErrBracketInvariant, m.ID, m.Status)
	}
	if err := s.matches.Complete(ctx, tx, m.ID, in.WinnerID); err != nil {
		if errors.Is(err, repositories.ErrMatchStatusConflict) {
			return nil, fmt.Errorf("%w: match %d was not in progress", ErrBracketInvariant, m.ID)
		}
		return nil, err
	}
	m.Status = models.MatchStatusCompleted
	m.WinnerID = &in.WinnerID

	for _, rec := range []models.MatchRecord{
		{UserID: in.WinnerID, OpponentID: in.LoserID, UserScore: in.WinnerScore, OpponentScore: in.LoserScore},
		{UserID: in.LoserID, OpponentID: in.WinnerID, UserScore: in.LoserScore, OpponentScore: in.WinnerScore},
	} {
		rec.WinnerID = in.WinnerID
		rec.Round = m.Round
		rec.TournamentID = t.ID
		rec.MatchType = models.MatchTypeTournament
		rec.Forfeit = forfeit
		if err := s.records.Create(ctx, tx, &rec); err != nil {
			return nil, err
		}
	}

	if err := s.members.Remove(ctx, tx, t.ID, in.LoserID); err != nil {
		if errors.Is(err, repositories.ErrMembershipNotFound) {
			return nil, fmt.Errorf("%w: loser %d is not a live member", ErrBracketInvariant, in.LoserID)
		}
		return nil, err
	}
	amount, err := s.tournaments.AdjustPlayerAmount(ctx, tx, t.ID, -1)
	if err != nil {
		return nil, err
	}
	t.PlayerAmount = amount

	outcome := metrics.OutcomePlayed
	if forfeit {
		outcome = metrics.OutcomeForfeit
	}
	fx.count(func(mt *metrics.Metrics) { mt.MatchesResolved.WithLabelValues(outcome).Inc() })
	fx.broadcastBracket(t.ID)

	result := &ResolveResult{
		TournamentID: t.ID,
		MatchID:      m.ID,
		Round:        m.Round,
		WinnerID:     in.WinnerID,
		LoserID:      in.LoserID,
		Forfeit:      forfeit,
	}

	consumers, err := s.matches.FindConsumers(ctx, tx, m.ID)
	if err != nil {
		return nil, err
	}
	switch len(consumers) {
	case 0:
		if m.Round != t.Rounds() {
			return nil, fmt.Errorf("%w: match %d in round %d has no downstream match", ErrBracketInvariant, m.ID, m.Round)
		}
		if err := s.complete(ctx, tx, t, in.WinnerID, fx); err != nil {
			return nil, err
		}
		result.TournamentCompleted = true
		return result, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: match %d feeds %d matches", ErrBracketInvariant, m.ID, len(consumers))
	}

	next := consumers[0]
	slot := next.FedBy(m.ID)
	if slot == 0 {
		return nil, fmt.Errorf("%w: match %d does not reference match %d", ErrBracketInvariant, next.ID, m.ID)
	}
	if err := s.matches.FillSlot(ctx, tx, next.ID, slot, in.WinnerID); err != nil {
		if errors.Is(err, repositories.ErrMatchSlotOccupied) {
			return nil, fmt.Errorf("%w: slot %d of match %d already occupied", ErrBracketInvariant, slot, next.ID)
		}
		return nil, err
	}
	if err := s.members.SetReadyState(ctx, tx, t.ID, in.WinnerID, models.ReadyStateNotReady, true); err != nil {
		if errors.Is(err, repositories.ErrMembershipNotFound) {
			return nil, fmt.Errorf("%w: winner %d is not a live member", ErrBracketInvariant, in.WinnerID)
		}
		return nil, err
	}
	nextID := next.ID
	result.NextMatchID = &nextID

	roundMatches, err := s.matches.ListByRound(ctx, tx, t.ID, m.Round)
	if err != nil {
		return nil, err
	}
	for _, rm := range roundMatches {
		if rm.Status != models.MatchStatusCompleted {
			return result, nil
		}
	}
	if err := s.gate.openWindow(ctx, tx, t, m.Round+1, fx); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *matchService) complete(ctx context.Context, tx *sql.Tx, t *models.Tournament, winnerID int, fx *effects) error {
	if !t.Status.CanTransitionTo(models.TournamentStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, models.TournamentStatusCompleted)
	}
	if err := s.tournaments.Complete(ctx, tx, t.ID, winnerID); err != nil {
		if errors.Is(err, repositories.ErrTournamentStatusConflict) {
			return fmt.Errorf("%w: tournament %d left in_progress concurrently", ErrBracketInvariant, t.ID)
		}
		return err
	}
	if _, err := s.members.RemoveAll(ctx, tx, t.ID); err != nil {
		return err
	}
	if t.ReadyDeadline != nil {
		fx.cancelWindow(WindowKey{TournamentID: t.ID, Round: t.CurrentRound})
	}

	t.Status = models.TournamentStatusCompleted
	t.WinnerID = &winnerID
	t.PlayerAmount = 0
	t.ReadyDeadline = nil

	fx.count(func(m *metrics.Metrics) { m.TournamentsCompleted.Inc() })
	fx.notify(winnerID, EventTournamentWon, TournamentEventPayload{TournamentID: t.ID, Name: t.Name, WinnerID: &winnerID})
	fx.archiveTournament(t.ID)
	return nil
}

func (s *matchService) ExpireReadyWindow(ctx context.Context, tournamentID, round int) error {
	fx := newEffects()
	expired := false
	forfeited := 0

	err := runInTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		t, err := lockTournament(ctx, s.tournaments, tx, tournamentID)
		if err != nil {
			if errors.Is(err, ErrTournamentNotFound) {
				return nil
			}
			return err
		}
		if t.Status != models.TournamentStatusInProgress || t.CurrentRound != round || !t.ReadyWindowOpen() {
			s.logger.DebugContext(ctx, "stale ready-up expiry ignored",
				slog.Int("tournament_id", tournamentID),
				slog.Int("round", round),
				slog.Int("current_round", t.CurrentRound),
				slog.String("status", string(t.Status)))
			return nil
		}
		expired = true

		if err := s.tournaments.CloseReadyWindow(ctx, tx, t.ID); err != nil {
			return err
		}
		t.ReadyDeadline = nil

		members, err := s.members.ListByTournament(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		ready := make(map[int]bool, len(members))
		for _, m := range members {
			ready[m.UserID] = m.Ready()
		}

		matches, err := s.matches.ListByRound(ctx, tx, t.ID, round)
		if err != nil {
			return err
		}
		for i := range matches {
			m := &matches[i]
			if m.Status != models.MatchStatusWaiting {
				continue
			}
			if !m.Ready() {
				return fmt.Errorf("%w: match %d reached its window with an empty slot", ErrBracketInvariant, m.ID)
			}
			p1, p2 := *m.PlayerOneID, *m.PlayerTwoID
			p1Ready, p2Ready := ready[p1], ready[p2]

			if p1Ready && p2Ready {
				if err := s.gate.openMatch(ctx, tx, t, m, fx); err != nil {
					return err
				}
				continue
			}

			for _, uid := range []int{p1, p2} {
				if ready[uid] {
					continue
				}
				if err := s.members.SetReadyState(ctx, tx, t.ID, uid, models.ReadyStateForfeited, false); err != nil {
					return err
				}
				forfeited++
			}

			// With no ready player the player-one slot advances.
			winner, loser := p1, p2
			if !p1Ready && p2Ready {
				winner, loser = p2, p1
			}

			if err := s.matches.Open(ctx, tx, m.ID); err != nil {
				return fmt.Errorf("%w: %v", ErrBracketInvariant, err)
			}
			m.Status = models.MatchStatusInProgress

			res, err := s.advance(ctx, tx, t, m, ResultInput{WinnerID: winner, LoserID: loser, WinnerScore: 1, LoserScore: 0}, true, fx)
			if err != nil {
				return err
			}
			if ready[winner] {
				fx.notify(winner, EventForfeitWin, ForfeitWinPayload{
					TournamentID: t.ID, MatchID: res.MatchID, Round: res.Round, OpponentID: loser,
				})
			}
			if res.TournamentCompleted {
				break
			}
		}

		n := forfeited
		fx.count(func(m *metrics.Metrics) {
			m.ReadyWindowsExpired.Inc()
			m.Forfeits.Add(float64(n))
		})
		fx.broadcastBracket(t.ID)
		return nil
	})
	if err != nil {
		return err
	}

	s.dispatcher.apply(ctx, fx)
	if expired {
		s.logger.InfoContext(ctx, "ready-up window expired",
			slog.Int("tournament_id", tournamentID),
			slog.Int("round", round),
			slog.Int("forfeited", forfeited))
	}
	return nil
}

func (s *matchService) MatchHistory(ctx context.Context, userID int, limit int) ([]models.MatchRecord, error) {
	if userID <= 0 {
		return nil, ErrInvalidUserID
	}
	return s.records.ListByUser(ctx, userID, limit)
}
