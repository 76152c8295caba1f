package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
)

var ErrTournamentRequiresTransaction = errors.New("database transaction is required for this operation")

// BracketView is the bracket as shown to players and spectators.
type BracketView struct {
	Tournament *models.Tournament `json:"tournament"`
	Rounds     int                `json:"rounds"`
	Matches    []models.Match     `json:"matches"`
}

type BracketService interface {
	// Build persists a fresh bracket for roster inside tx. Every match is
	// created waiting; opening round 1 is the caller's job.
	Build(ctx context.Context, tx *sql.Tx, tournament *models.Tournament, roster []int) ([]models.Match, error)
	Bracket(ctx context.Context, tournamentID int) (*BracketView, error)
}

type bracketService struct {
	generator   brackets.BracketGenerator
	tournaments repositories.TournamentRepository
	matches     repositories.MatchRepository
	logger      *slog.Logger
}

func NewBracketService(
	generator brackets.BracketGenerator,
	tournaments repositories.TournamentRepository,
	matches repositories.MatchRepository,
	logger *slog.Logger,
) BracketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &bracketService{
		generator:   generator,
		tournaments: tournaments,
		matches:     matches,
		logger:      logger,
	}
}

func (s *bracketService) Build(ctx context.Context, tx *sql.Tx, t *models.Tournament, roster []int) ([]models.Match, error) {
	if tx == nil {
		return nil, ErrTournamentRequiresTransaction
	}

	planned, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{Size: t.Size, Roster: roster})
	if err != nil {
		return nil, fmt.Errorf("failed to generate bracket for tournament %d: %w", t.ID, err)
	}
	if len(planned) != t.Size-1 {
		return nil, fmt.Errorf("%w: planned %d matches for size %d", ErrBracketInvariant, len(planned), t.Size)
	}

	uidToID := make(map[string]int, len(planned))
	created := make([]models.Match, 0, len(planned))

	// planned is ordered by round, so every source match exists before its consumer.
	for _, bm := range planned {
		m := models.Match{
			TournamentID: t.ID,
			Round:        bm.Round,
			MatchNumber:  bm.OrderInRound + 1,
			PlayerOneID:  bm.Participant1ID,
			PlayerTwoID:  bm.Participant2ID,
			Status:       models.MatchStatusWaiting,
		}
		if m.PlayerOnePrevMatch, err = resolveSource(uidToID, bm.SourceMatch1UID); err != nil {
			return nil, err
		}
		if m.PlayerTwoPrevMatch, err = resolveSource(uidToID, bm.SourceMatch2UID); err != nil {
			return nil, err
		}

		if err := s.matches.Create(ctx, tx, &m); err != nil {
			if errors.Is(err, repositories.ErrMatchConsumerConflict) || errors.Is(err, repositories.ErrMatchDuplicatePos) {
				return nil, fmt.Errorf("%w: %v", ErrBracketInvariant, err)
			}
			return nil, fmt.Errorf("failed to create match %s: %w", bm.UID, err)
		}
		uidToID[bm.UID] = m.ID
		created = append(created, m)
	}

	s.logger.InfoContext(ctx, "bracket persisted",
		slog.Int("tournament_id", t.ID),
		slog.Int("size", t.Size),
		slog.Int("matches", len(created)),
		slog.String("generator", s.generator.GetName()))

	return created, nil
}

func resolveSource(uidToID map[string]int, uid *string) (*int, error) {
	if uid == nil {
		return nil, nil
	}
	id, ok := uidToID[*uid]
	if !ok {
		return nil, fmt.Errorf("%w: source match %s not persisted", ErrBracketInvariant, *uid)
	}
	return &id, nil
}

// Bracket loads the tournament and its matches, ordered by round then match number.
func (s *bracketService) Bracket(ctx context.Context, tournamentID int) (*BracketView, error) {
	view := &BracketView{}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.tournaments.GetByID(gCtx, nil, tournamentID)
		if err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return ErrTournamentNotFound
			}
			return err
		}
		view.Tournament = t
		view.Rounds = t.Rounds()
		return nil
	})
	g.Go(func() error {
		matches, err := s.matches.ListByTournament(gCtx, nil, tournamentID)
		if err != nil {
			return err
		}
		view.Matches = matches
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}
