package models

import "time"

const MatchTypeTournament = "tournament"

// MatchRecord is one participant's view of a completed match. Append-only.
type MatchRecord struct {
	ID            int       `json:"id" db:"id"`
	UserID        int       `json:"user_id" db:"user_id"`
	OpponentID    int       `json:"opponent_id" db:"opponent_id"`
	UserScore     int       `json:"user_score" db:"user_score"`
	OpponentScore int       `json:"opponent_score" db:"opponent_score"`
	WinnerID      int       `json:"winner_id" db:"winner_id"`
	Round         int       `json:"round" db:"round"`
	TournamentID  int       `json:"tournament_id" db:"tournament_id"`
	MatchType     string    `json:"match_type" db:"match_type"`
	Forfeit       bool      `json:"forfeit" db:"forfeit"`
	PlayedAt      time.Time `json:"date" db:"played_at"`
}
