package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
)

// readyGate holds the transactional side of ready-up windows. Callers must
// hold the tournament row lock.
type readyGate struct {
	tournaments repositories.TournamentRepository
	members     repositories.MembershipRepository
	matches     repositories.MatchRepository
	window      time.Duration
	now         func() time.Time
}

// ReadinessSnapshot describes who still has to ready up for the current round.
type ReadinessSnapshot struct {
	TournamentID int                     `json:"tournament_id"`
	Status       models.TournamentStatus `json:"status"`
	Round        int                     `json:"round"`
	Ready        []int                   `json:"ready"`
	Pending      []int                   `json:"pending"`
	Deadline     *time.Time              `json:"deadline,omitempty"`
	Opened       bool                    `json:"opened"`
}

func splitReadiness(members []models.Membership) (ready, pending []int) {
	ready, pending = make([]int, 0, len(members)), make([]int, 0, len(members))
	for _, m := range members {
		if m.Ready() {
			ready = append(ready, m.UserID)
		} else {
			pending = append(pending, m.UserID)
		}
	}
	return ready, pending
}

// openWindow starts the ready-up phase for round. When every survivor is
// already ready the round opens at once and no timer is armed.
func (g *readyGate) openWindow(ctx context.Context, tx *sql.Tx, t *models.Tournament, round int, fx *effects) error {
	members, err := g.members.ListByTournament(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	_, pending := splitReadiness(members)
	if len(pending) == 0 {
		return g.openRound(ctx, tx, t, round, fx)
	}

	deadline := g.now().Add(g.window).UTC().Truncate(time.Microsecond)
	if err := g.tournaments.OpenReadyWindow(ctx, tx, t.ID, round, &deadline); err != nil {
		return err
	}
	t.CurrentRound = round
	t.ReadyDeadline = &deadline

	fx.scheduleWindow(WindowKey{TournamentID: t.ID, Round: round}, deadline)
	fx.count(func(m *metrics.Metrics) { m.ReadyWindowsOpened.Inc() })
	for _, userID := range pending {
		fx.notify(userID, EventReadyUp, ReadyUpPayload{TournamentID: t.ID, Round: round, Deadline: deadline})
	}
	fx.broadcastBracket(t.ID)
	return nil
}

// openRound moves every waiting match of round to in_progress and closes
// the window, cancelling its timer if one was armed.
func (g *readyGate) openRound(ctx context.Context, tx *sql.Tx, t *models.Tournament, round int, fx *effects) error {
	matches, err := g.matches.ListByRound(ctx, tx, t.ID, round)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("%w: round %d of tournament %d has no matches", ErrBracketInvariant, round, t.ID)
	}
	for i := range matches {
		if err := g.openMatch(ctx, tx, t, &matches[i], fx); err != nil {
			return err
		}
	}

	hadTimer := t.ReadyDeadline != nil
	if err := g.tournaments.OpenReadyWindow(ctx, tx, t.ID, round, nil); err != nil {
		return err
	}
	if hadTimer {
		fx.cancelWindow(WindowKey{TournamentID: t.ID, Round: t.CurrentRound})
	}
	t.CurrentRound = round
	t.ReadyDeadline = nil
	fx.broadcastBracket(t.ID)
	return nil
}

// openMatch opens one waiting match and tells both players who they face.
// Matches already past waiting are left alone.
func (g *readyGate) openMatch(ctx context.Context, tx *sql.Tx, t *models.Tournament, m *models.Match, fx *effects) error {
	if !m.Status.CanTransitionTo(models.MatchStatusInProgress) {
		return nil
	}
	if !m.Ready() {
		return fmt.Errorf("%w: match %d opened with an empty slot", ErrBracketInvariant, m.ID)
	}
	if err := g.matches.Open(ctx, tx, m.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrBracketInvariant, err)
	}
	m.Status = models.MatchStatusInProgress

	p1, p2 := *m.PlayerOneID, *m.PlayerTwoID
	fx.notify(p1, EventMatchReady, MatchReadyPayload{TournamentID: t.ID, MatchID: m.ID, Round: m.Round, OpponentID: p2})
	fx.notify(p2, EventMatchReady, MatchReadyPayload{TournamentID: t.ID, MatchID: m.ID, Round: m.Round, OpponentID: p1})
	return nil
}

func (g *readyGate) snapshot(ctx context.Context, tx *sql.Tx, t *models.Tournament, opened bool) (*ReadinessSnapshot, error) {
	members, err := g.members.ListByTournament(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	ready, pending := splitReadiness(members)
	return &ReadinessSnapshot{
		TournamentID: t.ID,
		Status:       t.Status,
		Round:        t.CurrentRound,
		Ready:        ready,
		Pending:      pending,
		Deadline:     t.ReadyDeadline,
		Opened:       opened,
	}, nil
}
