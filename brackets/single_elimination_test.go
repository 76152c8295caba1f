package brackets

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roster(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = 100 + i
	}
	return ids
}

func TestRounds(t *testing.T) {
	for size, want := range map[int]int{4: 2, 8: 3, 16: 4} {
		got, err := Rounds(size)
		require.NoError(t, err)
		assert.Equal(t, want, got, "size %d", size)
	}
	for _, size := range []int{0, 2, 6, 12, 32} {
		_, err := Rounds(size)
		assert.ErrorIs(t, err, ErrInvalidBracketSize, "size %d", size)
	}
}

func TestGenerateBracketStructure(t *testing.T) {
	for _, size := range []int{4, 8, 16} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			g := NewSingleEliminationGenerator(NewSeededShuffler(uint64(size)), nil)
			planned, err := g.GenerateBracket(context.Background(), GenerateBracketParams{Size: size, Roster: roster(size)})
			require.NoError(t, err)
			require.Len(t, planned, size-1)

			numRounds, _ := Rounds(size)
			byUID := make(map[string]*BracketMatch, len(planned))
			consumers := make(map[string]int)
			var seated []int

			for i, m := range planned {
				if i > 0 {
					prev := planned[i-1]
					assert.True(t, prev.Round < m.Round || (prev.Round == m.Round && prev.OrderInRound < m.OrderInRound),
						"matches must be ordered by round then position")
				}
				byUID[m.UID] = m

				if m.Round == 1 {
					require.NotNil(t, m.Participant1ID)
					require.NotNil(t, m.Participant2ID)
					assert.False(t, m.IsPlaceholder())
					seated = append(seated, *m.Participant1ID, *m.Participant2ID)
					continue
				}
				assert.Nil(t, m.Participant1ID)
				assert.Nil(t, m.Participant2ID)
				require.True(t, m.IsPlaceholder())
				for _, src := range []*string{m.SourceMatch1UID, m.SourceMatch2UID} {
					require.NotNil(t, src)
					feeder, ok := byUID[*src]
					require.True(t, ok, "source %s must precede its consumer", *src)
					assert.Equal(t, m.Round-1, feeder.Round)
					consumers[*src]++
				}
			}

			sort.Ints(seated)
			assert.Equal(t, roster(size), seated, "every player is seated exactly once in round 1")

			for _, m := range planned {
				if m.Round == numRounds {
					assert.Zero(t, consumers[m.UID], "final has no consumer")
					continue
				}
				assert.Equal(t, 1, consumers[m.UID], "%s must feed exactly one match", m.UID)
			}
		})
	}
}

func TestGenerateBracketPairsAdjacentSources(t *testing.T) {
	g := NewSingleEliminationGenerator(FixedOrder{}, nil)
	planned, err := g.GenerateBracket(context.Background(), GenerateBracketParams{Size: 8, Roster: roster(8)})
	require.NoError(t, err)

	assert.Equal(t, 100, *planned[0].Participant1ID)
	assert.Equal(t, 101, *planned[0].Participant2ID)
	assert.Equal(t, 107, *planned[3].Participant2ID)

	semi := planned[5]
	assert.Equal(t, "R2M2", semi.UID)
	assert.Equal(t, "R1M3", *semi.SourceMatch1UID)
	assert.Equal(t, "R1M4", *semi.SourceMatch2UID)

	final := planned[6]
	assert.Equal(t, "R3M1", final.UID)
	assert.Equal(t, "R2M1", *final.SourceMatch1UID)
	assert.Equal(t, "R2M2", *final.SourceMatch2UID)
}

func TestGenerateBracketRejectsBadRoster(t *testing.T) {
	g := NewSingleEliminationGenerator(FixedOrder{}, nil)
	ctx := context.Background()

	_, err := g.GenerateBracket(ctx, GenerateBracketParams{Size: 6, Roster: roster(6)})
	assert.ErrorIs(t, err, ErrInvalidBracketSize)

	_, err = g.GenerateBracket(ctx, GenerateBracketParams{Size: 8, Roster: roster(7)})
	assert.ErrorIs(t, err, ErrInvalidBracketSize)

	dup := roster(4)
	dup[3] = dup[0]
	_, err = g.GenerateBracket(ctx, GenerateBracketParams{Size: 4, Roster: dup})
	assert.ErrorIs(t, err, ErrInvalidBracketSize)
}

func TestGenerateBracketDoesNotMutateRoster(t *testing.T) {
	in := roster(16)
	g := NewSingleEliminationGenerator(NewSeededShuffler(7), nil)
	_, err := g.GenerateBracket(context.Background(), GenerateBracketParams{Size: 16, Roster: in})
	require.NoError(t, err)
	assert.Equal(t, roster(16), in)
}

// Every player should land on each of the four seats of a 4-bracket about
// equally often.
func TestShuffleIsUniform(t *testing.T) {
	const trials = 40000
	g := NewSingleEliminationGenerator(NewSeededShuffler(42), nil)
	ids := roster(4)

	counts := make(map[[2]int]int)
	for i := 0; i < trials; i++ {
		planned, err := g.GenerateBracket(context.Background(), GenerateBracketParams{Size: 4, Roster: ids})
		require.NoError(t, err)
		seats := []int{*planned[0].Participant1ID, *planned[0].Participant2ID, *planned[1].Participant1ID, *planned[1].Participant2ID}
		for seat, id := range seats {
			counts[[2]int{id, seat}]++
		}
	}

	expected := float64(trials) / 4
	for key, n := range counts {
		assert.InDelta(t, expected, float64(n), expected*0.05, "player %d seat %d", key[0], key[1])
	}
	assert.Len(t, counts, 16)
}

func TestSeededShufflerIsDeterministic(t *testing.T) {
	a, b := roster(16), roster(16)
	NewSeededShuffler(9).Shuffle(a)
	NewSeededShuffler(9).Shuffle(b)
	assert.Equal(t, a, b)
}
