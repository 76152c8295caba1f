package models

import "time"

type MatchStatus string

const (
	MatchStatusWaiting    MatchStatus = "waiting"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
)

var matchTransitions = map[MatchStatus]MatchStatus{
	MatchStatusWaiting:    MatchStatusInProgress,
	MatchStatusInProgress: MatchStatusCompleted,
}

func (s MatchStatus) Valid() bool {
	switch s {
	case MatchStatusWaiting, MatchStatusInProgress, MatchStatusCompleted:
		return true
	}
	return false
}

func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	allowed, ok := matchTransitions[s]
	return ok && allowed == next
}

// Match is one slot of the bracket tree. Round-1 matches carry players from
// the start; later rounds are filled through the prev-match pointers.
type Match struct {
	ID                 int         `json:"id" db:"id"`
	TournamentID       int         `json:"tournament_id" db:"tournament_id"`
	Round              int         `json:"round" db:"round"`
	MatchNumber        int         `json:"match_number" db:"match_number"`
	PlayerOneID        *int        `json:"player_one_id" db:"player_one_id"`
	PlayerTwoID        *int        `json:"player_two_id" db:"player_two_id"`
	PlayerOnePrevMatch *int        `json:"player_one_prev_match" db:"player_one_prev_match"`
	PlayerTwoPrevMatch *int        `json:"player_two_prev_match" db:"player_two_prev_match"`
	Status             MatchStatus `json:"status" db:"status"`
	WinnerID           *int        `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Ready reports whether both slots are filled.
func (m *Match) Ready() bool {
	return m.PlayerOneID != nil && m.PlayerTwoID != nil
}

// FedBy returns the slot (1 or 2) of m filled by the winner of prevMatchID, or 0.
func (m *Match) FedBy(prevMatchID int) int {
	if m.PlayerOnePrevMatch != nil && *m.PlayerOnePrevMatch == prevMatchID {
		return 1
	}
	if m.PlayerTwoPrevMatch != nil && *m.PlayerTwoPrevMatch == prevMatchID {
		return 2
	}
	return 0
}
