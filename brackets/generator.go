package brackets

import (
	"context"
	"errors"
)

var ErrInvalidBracketSize = errors.New("bracket size must be a power of two between 4 and 16 and match the roster")

type GenerateBracketParams struct {
	Size int
	// Roster holds exactly Size user ids. The generator shuffles its own copy.
	Roster []int
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error)

	GetName() string
}
