package models

import "time"

// TournamentStatus mirrors the CHECK constraint on tournaments.status.
type TournamentStatus string

const (
	TournamentStatusCreated    TournamentStatus = "created"
	TournamentStatusReady      TournamentStatus = "ready"
	TournamentStatusInProgress TournamentStatus = "in_progress"
	TournamentStatusCompleted  TournamentStatus = "completed"
)

var tournamentTransitions = map[TournamentStatus][]TournamentStatus{
	TournamentStatusCreated:    {TournamentStatusReady},
	TournamentStatusReady:      {TournamentStatusInProgress},
	TournamentStatusInProgress: {TournamentStatusCompleted},
	TournamentStatusCompleted:  {},
}

func (s TournamentStatus) Valid() bool {
	_, ok := tournamentTransitions[s]
	return ok
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The lifecycle only moves forward; completed is terminal.
func (s TournamentStatus) CanTransitionTo(next TournamentStatus) bool {
	for _, allowed := range tournamentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Supported bracket sizes.
var tournamentSizes = map[int]int{4: 2, 8: 3, 16: 4}

// ValidTournamentSize reports whether size is one of 4, 8 or 16.
func ValidTournamentSize(size int) bool {
	_, ok := tournamentSizes[size]
	return ok
}

// RoundsForSize returns log2(size) for supported sizes and 0 otherwise.
func RoundsForSize(size int) int {
	return tournamentSizes[size]
}

type Tournament struct {
	ID            int              `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	CreatorID     int              `json:"created_by" db:"creator_id"`
	Size          int              `json:"size" db:"size"`
	Status        TournamentStatus `json:"status" db:"status"`
	PlayerAmount  int              `json:"playerAmount" db:"player_amount"`
	WinnerID      *int             `json:"winner_id,omitempty" db:"winner_id"`
	CurrentRound  int              `json:"current_round" db:"current_round"`
	ReadyDeadline *time.Time       `json:"ready_deadline,omitempty" db:"ready_deadline"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// Rounds is the bracket depth.
func (t *Tournament) Rounds() int {
	return RoundsForSize(t.Size)
}

// Full reports whether membership reached capacity.
func (t *Tournament) Full() bool {
	return t.PlayerAmount >= t.Size
}

// ReadyWindowOpen reports whether survivors are currently being asked to ready up.
func (t *Tournament) ReadyWindowOpen() bool {
	return t.ReadyDeadline != nil
}
