package services

import (
	"errors"

	"github.com/pongarena/tournament-engine/brackets"
)

// Admission errors: the caller can correct the request.
var (
	ErrTournamentNotFound         = errors.New("tournament not found")
	ErrTournamentNameRequired     = errors.New("tournament name is required")
	ErrInvalidSize                = errors.New("tournament size must be 4, 8 or 16")
	ErrAlreadyHasActiveTournament = errors.New("creator already has an active tournament")
	ErrAlreadyInTournament        = errors.New("user already participates in a tournament")
	ErrTournamentNotJoinable      = errors.New("tournament is not accepting players")
	ErrNotAMember                 = errors.New("user is not a member of this tournament")
	ErrInvalidResult              = errors.New("invalid match result")
	ErrInvalidUserID              = errors.New("user id must be positive")
)

// Consistency errors: the report conflicts with current state and is rejected without mutation.
var (
	ErrNoActiveMatch           = errors.New("no active match between these players")
	ErrMatchAlreadyCompleted   = errors.New("match between these players is already completed")
	ErrInvalidStatusTransition = errors.New("invalid tournament status transition")
)

// Invariant violations abort the transaction.
var (
	ErrBracketInvariant   = errors.New("bracket invariant violated")
	ErrInvalidBracketSize = brackets.ErrInvalidBracketSize
)
