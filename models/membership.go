package models

import "time"

type ReadyState string

const (
	ReadyStateNotReady  ReadyState = "not_ready"
	ReadyStateReady     ReadyState = "ready"
	ReadyStateForfeited ReadyState = "forfeited"
)

func (s ReadyState) Valid() bool {
	switch s {
	case ReadyStateNotReady, ReadyStateReady, ReadyStateForfeited:
		return true
	}
	return false
}

// Membership is a live participant of a tournament. Rows are deleted when the
// player is eliminated or the tournament completes.
type Membership struct {
	TournamentID int        `json:"tournament_id" db:"tournament_id"`
	UserID       int        `json:"user_id" db:"user_id"`
	ReadyState   ReadyState `json:"ready_state" db:"ready_state"`
	JustAdvanced bool       `json:"just_advanced" db:"just_advanced"`
	JoinedAt     time.Time  `json:"joined_at" db:"joined_at"`
}

func (m *Membership) Ready() bool {
	return m.ReadyState == ReadyStateReady
}
