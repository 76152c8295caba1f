package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
	"github.com/pongarena/tournament-engine/storage"
)

// BracketArchive is the document uploaded once a tournament completes.
type BracketArchive struct {
	Tournament *models.Tournament   `json:"tournament"`
	Matches    []models.Match       `json:"matches"`
	History    []models.MatchRecord `json:"history"`
	ArchivedAt time.Time            `json:"archived_at"`
}

func ArchiveKey(tournamentID int) string {
	return fmt.Sprintf("tournaments/%d/bracket.json", tournamentID)
}

type bracketArchiver struct {
	store       storage.ObjectStore
	tournaments repositories.TournamentRepository
	matches     repositories.MatchRepository
	records     repositories.MatchRecordRepository
	logger      *slog.Logger
}

func NewBracketArchiver(
	store storage.ObjectStore,
	tournaments repositories.TournamentRepository,
	matches repositories.MatchRepository,
	records repositories.MatchRecordRepository,
	logger *slog.Logger,
) Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &bracketArchiver{store: store, tournaments: tournaments, matches: matches, records: records, logger: logger}
}

func (a *bracketArchiver) ArchiveTournament(ctx context.Context, tournamentID int) error {
	t, err := a.tournaments.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return err
	}
	if t.Status != models.TournamentStatusCompleted {
		return fmt.Errorf("tournament %d is %s, only completed tournaments are archived", tournamentID, t.Status)
	}
	matches, err := a.matches.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return err
	}
	history, err := a.records.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(BracketArchive{
		Tournament: t,
		Matches:    matches,
		History:    history,
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode archive of tournament %d: %w", tournamentID, err)
	}

	res, err := a.store.Put(ctx, ArchiveKey(tournamentID), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "tournament archived",
		slog.Int("tournament_id", tournamentID),
		slog.String("key", res.Key),
		slog.String("location", res.Location))
	return nil
}
