package brackets

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
)

// BracketMatch is one planned match. Round-1 matches carry both participants;
// later rounds only reference the two matches that feed them.
type BracketMatch struct {
	UID          string
	Round        int
	OrderInRound int

	Participant1ID *int
	Participant2ID *int

	SourceMatch1UID *string
	SourceMatch2UID *string
}

// IsPlaceholder reports whether the match waits on earlier results.
func (m *BracketMatch) IsPlaceholder() bool {
	return m.SourceMatch1UID != nil || m.SourceMatch2UID != nil
}

func matchUID(round, order int) string {
	return fmt.Sprintf("R%dM%d", round, order+1)
}

type SingleEliminationGenerator struct {
	shuffler Shuffler
	logger   *slog.Logger
}

func NewSingleEliminationGenerator(shuffler Shuffler, logger *slog.Logger) *SingleEliminationGenerator {
	if shuffler == nil {
		shuffler = NewRandomShuffler()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SingleEliminationGenerator{shuffler: shuffler, logger: logger}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// Rounds returns log2(size) for valid sizes.
func Rounds(size int) (int, error) {
	if size < 4 || size > 16 || size&(size-1) != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidBracketSize, size)
	}
	return bits.TrailingZeros(uint(size)), nil
}

// GenerateBracket returns size-1 matches ordered by round then position.
// Match k of round 1 gets shuffled positions 2k and 2k+1; match k of round
// r>1 is fed by matches 2k and 2k+1 of round r-1.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	numRounds, err := Rounds(params.Size)
	if err != nil {
		return nil, err
	}
	if len(params.Roster) != params.Size {
		return nil, fmt.Errorf("%w: roster has %d players for size %d", ErrInvalidBracketSize, len(params.Roster), params.Size)
	}
	seen := make(map[int]struct{}, len(params.Roster))
	for _, id := range params.Roster {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: player %d appears twice", ErrInvalidBracketSize, id)
		}
		seen[id] = struct{}{}
	}

	order := make([]int, len(params.Roster))
	copy(order, params.Roster)
	g.shuffler.Shuffle(order)

	all := make([]*BracketMatch, 0, params.Size-1)

	for k := 0; k < params.Size/2; k++ {
		p1, p2 := order[2*k], order[2*k+1]
		all = append(all, &BracketMatch{
			UID:            matchUID(1, k),
			Round:          1,
			OrderInRound:   k,
			Participant1ID: &p1,
			Participant2ID: &p2,
		})
	}

	for r := 2; r <= numRounds; r++ {
		matchesInRound := params.Size >> r
		for k := 0; k < matchesInRound; k++ {
			src1, src2 := matchUID(r-1, 2*k), matchUID(r-1, 2*k+1)
			all = append(all, &BracketMatch{
				UID:             matchUID(r, k),
				Round:           r,
				OrderInRound:    k,
				SourceMatch1UID: &src1,
				SourceMatch2UID: &src2,
			})
		}
	}

	g.logger.DebugContext(ctx, "bracket generated",
		slog.Int("size", params.Size),
		slog.Int("rounds", numRounds),
		slog.Int("matches", len(all)))

	return all, nil
}
