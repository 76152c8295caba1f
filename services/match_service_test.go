package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
)

// Players of the four-player scenarios, seated as C, A, D, B.
const (
	playerA = 1
	playerB = 2
	playerC = 3
	playerD = 4
)

func startCADB(t *testing.T, h *harness) *models.Tournament {
	t.Helper()
	tour := h.create(t, 4, 50)
	h.fill(t, tour.ID, playerA, playerB, playerC, playerD)

	r1 := h.round(t, tour.ID, 1)
	require.Len(t, r1, 2)
	require.Equal(t, []int{playerC, playerA}, []int{*r1[0].PlayerOneID, *r1[0].PlayerTwoID})
	require.Equal(t, []int{playerD, playerB}, []int{*r1[1].PlayerOneID, *r1[1].PlayerTwoID})
	return tour
}

func TestScenarioPlayedToCompletion(t *testing.T) {
	h := newHarness(t, withShuffler(scriptedOrder{playerC, playerA, playerD, playerB}))
	ctx := context.Background()
	tour := startCADB(t, h)
	final := h.round(t, tour.ID, 2)[0]

	res := h.resolve(t, tour.ID, playerC, playerA, 5, 2)
	assert.False(t, res.TournamentCompleted)
	require.NotNil(t, res.NextMatchID)
	assert.Equal(t, final.ID, *res.NextMatchID)
	assert.Equal(t, 3, h.tournament(t, tour.ID).PlayerAmount)
	_, stillMember := h.memberState(t, tour.ID, playerA)
	assert.False(t, stillMember)

	h.resolve(t, tour.ID, playerB, playerD, 3, 1)

	final = h.round(t, tour.ID, 2)[0]
	assert.Equal(t, playerC, *final.PlayerOneID)
	assert.Equal(t, playerB, *final.PlayerTwoID)
	assert.Equal(t, models.MatchStatusWaiting, final.Status)

	got := h.tournament(t, tour.ID)
	assert.Equal(t, 2, got.CurrentRound)
	require.NotNil(t, got.ReadyDeadline)
	key := WindowKey{TournamentID: tour.ID, Round: 2}
	assert.True(t, h.fake().isArmed(key))
	assert.Contains(t, h.notifier.events(playerC), EventReadyUp)
	assert.Contains(t, h.notifier.events(playerB), EventReadyUp)

	_, err := h.engine.Matches.Resolve(ctx, tour.ID, ResultInput{WinnerID: playerC, LoserID: playerB, WinnerScore: 1})
	assert.ErrorIs(t, err, ErrNoActiveMatch, "the final is not playable before both finalists are ready")

	snap := h.ready(t, tour.ID, playerC)
	assert.False(t, snap.Opened)
	assert.Equal(t, []int{playerB}, snap.Pending)

	snap = h.ready(t, tour.ID, playerB)
	assert.True(t, snap.Opened)
	assert.Nil(t, snap.Deadline)
	assert.False(t, h.fake().isArmed(key))
	assert.Equal(t, models.MatchStatusInProgress, h.round(t, tour.ID, 2)[0].Status)

	res = h.resolve(t, tour.ID, playerC, playerB, 7, 6)
	assert.True(t, res.TournamentCompleted)
	assert.Nil(t, res.NextMatchID)

	got = h.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, playerC, *got.WinnerID)
	assert.Zero(t, got.PlayerAmount)
	assert.NotNil(t, got.CompletedAt)
	n, err := h.members.Count(ctx, nil, tour.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, h.notifier.events(playerC), EventTournamentWon)
	assert.Positive(t, h.broadcaster.sentTo(brackets.TournamentRoom(tour.ID)))

	history, err := h.engine.Matches.MatchHistory(ctx, playerC, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, rec := range history {
		assert.Equal(t, playerC, rec.UserID)
		assert.Equal(t, playerC, rec.WinnerID)
		assert.False(t, rec.Forfeit)
		assert.Equal(t, models.MatchTypeTournament, rec.MatchType)
	}

	_, err = h.engine.Matches.Resolve(ctx, tour.ID, ResultInput{WinnerID: playerC, LoserID: playerB, WinnerScore: 7, LoserScore: 6})
	assert.ErrorIs(t, err, ErrMatchAlreadyCompleted)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RejectedResults.WithLabelValues("already_completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomePlayed)))

	h.engine.Wait()
	assert.Equal(t, []string{ArchiveKey(tour.ID)}, h.store.Keys())
	raw, err := h.store.Get(ArchiveKey(tour.ID))
	require.NoError(t, err)
	var archive BracketArchive
	require.NoError(t, json.Unmarshal(raw, &archive))
	assert.Equal(t, models.TournamentStatusCompleted, archive.Tournament.Status)
	assert.Len(t, archive.Matches, 3)
	assert.Len(t, archive.History, 6)

	// Completion frees the creator for a new tournament and the players for a new join.
	next := h.create(t, 4, 50)
	h.fill(t, next.ID, playerC)
}

func TestScenarioFinalWonByForfeit(t *testing.T) {
	h := newHarness(t, withShuffler(scriptedOrder{playerC, playerA, playerD, playerB}))
	ctx := context.Background()
	tour := startCADB(t, h)

	h.resolve(t, tour.ID, playerC, playerA, 5, 2)
	h.resolve(t, tour.ID, playerB, playerD, 3, 1)
	h.ready(t, tour.ID, playerC)

	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 2))

	got := h.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, playerC, *got.WinnerID)
	assert.Zero(t, got.PlayerAmount)

	final := h.round(t, tour.ID, 2)[0]
	assert.Equal(t, models.MatchStatusCompleted, final.Status)
	assert.Equal(t, playerC, *final.WinnerID)

	assert.Contains(t, h.notifier.events(playerC), EventForfeitWin)
	assert.NotContains(t, h.notifier.events(playerB), EventForfeitWin)

	history, err := h.engine.Matches.MatchHistory(ctx, playerB, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[0]
	assert.True(t, last.Forfeit)
	assert.Equal(t, 0, last.UserScore)
	assert.Equal(t, 1, last.OpponentScore)
	assert.Equal(t, playerC, last.WinnerID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Forfeits))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReadyWindowsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomeForfeit)))
}

func TestExpiryForfeitsOnlyUnreadyPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.create(t, 8, 50)
	h.fill(t, tour.ID, 1, 2, 3, 4, 5, 6, 7, 8)

	for _, p := range [][2]int{{1, 2}, {3, 4}, {5, 6}, {7, 8}} {
		h.resolve(t, tour.ID, p[0], p[1], 2, 1)
	}
	require.True(t, h.fake().isArmed(WindowKey{TournamentID: tour.ID, Round: 2}))
	h.ready(t, tour.ID, 1, 3, 5)

	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 2))

	semis := h.round(t, tour.ID, 2)
	assert.Equal(t, models.MatchStatusInProgress, semis[0].Status, "both players ready, the match opens")
	assert.Equal(t, models.MatchStatusCompleted, semis[1].Status)
	assert.Equal(t, 5, *semis[1].WinnerID)

	final := h.round(t, tour.ID, 3)[0]
	assert.Nil(t, final.PlayerOneID)
	require.NotNil(t, final.PlayerTwoID)
	assert.Equal(t, 5, *final.PlayerTwoID)

	_, stillMember := h.memberState(t, tour.ID, 7)
	assert.False(t, stillMember)
	m5, ok := h.memberState(t, tour.ID, 5)
	require.True(t, ok)
	assert.Equal(t, models.ReadyStateNotReady, m5.ReadyState)
	assert.True(t, m5.JustAdvanced)

	got := h.tournament(t, tour.ID)
	assert.Nil(t, got.ReadyDeadline)
	assert.Equal(t, 2, got.CurrentRound)
	assert.Equal(t, 3, got.PlayerAmount)
	assert.Contains(t, h.notifier.events(5), EventForfeitWin)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Forfeits))

	// Finishing the open semi completes round 2 and opens the final's window.
	h.resolve(t, tour.ID, 1, 3, 2, 0)
	got = h.tournament(t, tour.ID)
	assert.Equal(t, 3, got.CurrentRound)
	require.NotNil(t, got.ReadyDeadline)
	require.True(t, h.fake().isArmed(WindowKey{TournamentID: tour.ID, Round: 3}))

	// Nobody readies up: both finalists forfeit and the player-one slot advances.
	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 3))

	got = h.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, 1, *got.WinnerID)
	assert.NotContains(t, h.notifier.events(1), EventForfeitWin)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Forfeits))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ReadyWindowsExpired))
}

func TestExpireStaleWindowIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.create(t, 4, 50)
	h.fill(t, tour.ID, 1, 2, 3, 4)

	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 1), "round 1 has no window")
	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 2), "round 2 is not current")
	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID+10, 1), "unknown tournament")

	for _, m := range h.round(t, tour.ID, 1) {
		assert.Equal(t, models.MatchStatusInProgress, m.Status)
	}
	assert.Zero(t, testutil.ToFloat64(h.metrics.ReadyWindowsExpired))

	h.resolve(t, tour.ID, 1, 2, 1, 0)
	h.resolve(t, tour.ID, 3, 4, 1, 0)
	h.ready(t, tour.ID, 1, 3)

	// The window closed when everyone readied up, so a late timer does nothing.
	require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, 2))
	assert.Equal(t, models.MatchStatusInProgress, h.round(t, tour.ID, 2)[0].Status)
	assert.Zero(t, testutil.ToFloat64(h.metrics.Forfeits))
}

func TestResultInputValidate(t *testing.T) {
	tests := []struct {
		name  string
		input ResultInput
		ok    bool
	}{
		{"valid", ResultInput{WinnerID: 1, LoserID: 2, WinnerScore: 11, LoserScore: 9}, true},
		{"max int32 score", ResultInput{WinnerID: 1, LoserID: 2, WinnerScore: math.MaxInt32}, true},
		{"score above int32", ResultInput{WinnerID: 1, LoserID: 2, WinnerScore: 3000000000}, false},
		{"loser score above int32", ResultInput{WinnerID: 1, LoserID: 2, LoserScore: math.MaxInt32 + 1}, false},
		{"winner id above int32", ResultInput{WinnerID: math.MaxInt32 + 1, LoserID: 2}, false},
		{"loser id above int32", ResultInput{WinnerID: 1, LoserID: math.MaxInt32 + 1}, false},
		{"same player", ResultInput{WinnerID: 4, LoserID: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidResult)
		})
	}
}

func TestResolveRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.create(t, 4, 50)
	h.fill(t, tour.ID, 1, 2, 3, 4)

	tests := []struct {
		name  string
		tID   int
		input ResultInput
		want  error
	}{
		{"same player", tour.ID, ResultInput{WinnerID: 1, LoserID: 1}, ErrInvalidResult},
		{"negative score", tour.ID, ResultInput{WinnerID: 1, LoserID: 2, LoserScore: -1}, ErrInvalidResult},
		{"missing player", tour.ID, ResultInput{WinnerID: 1}, ErrInvalidResult},
		{"players not paired", tour.ID, ResultInput{WinnerID: 1, LoserID: 3, WinnerScore: 1}, ErrNoActiveMatch},
		{"unknown tournament", tour.ID + 5, ResultInput{WinnerID: 1, LoserID: 2, WinnerScore: 1}, ErrTournamentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Matches.Resolve(ctx, tt.tID, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Reported in either order, the pairing is found.
	res := h.resolve(t, tour.ID, 2, 1, 11, 9)
	assert.Equal(t, 2, res.WinnerID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RejectedResults.WithLabelValues("no_active_match")))

	_, err := h.engine.Matches.MatchHistory(ctx, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidUserID)
	history, err := h.engine.Matches.MatchHistory(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].WinnerID)
	assert.Equal(t, 9, history[0].UserScore)
}

func TestConcurrentDuplicateResolve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.create(t, 4, 50)
	h.fill(t, tour.ID, 1, 2, 3, 4)

	const reporters = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		start    = make(chan struct{})
		accepted int
		failures []error
	)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.Matches.Resolve(ctx, tour.ID, ResultInput{WinnerID: 1, LoserID: 2, WinnerScore: 3, LoserScore: 1})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			accepted++
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, accepted)
	require.Len(t, failures, reporters-1)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrMatchAlreadyCompleted)
	}

	for _, uid := range []int{1, 2} {
		history, err := h.engine.Matches.MatchHistory(ctx, uid, 0)
		require.NoError(t, err)
		assert.Len(t, history, 1, "user %d", uid)
	}
	assert.Equal(t, 3, h.tournament(t, tour.ID).PlayerAmount)

	final := h.round(t, tour.ID, 2)[0]
	require.NotNil(t, final.PlayerOneID)
	assert.Equal(t, 1, *final.PlayerOneID)
	assert.Nil(t, final.PlayerTwoID)
	assert.Equal(t, models.MatchStatusWaiting, final.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomePlayed)))
	assert.Equal(t, float64(reporters-1), testutil.ToFloat64(h.metrics.RejectedResults.WithLabelValues("already_completed")))
}

// playRoundOne reports every first-round match, player one winning. With the
// roster kept in join order the survivors are the odd ids.
func playRoundOne(t *testing.T, h *harness, tournamentID, size int) {
	t.Helper()
	for p := 1; p < size; p += 2 {
		h.resolve(t, tournamentID, p, p+1, 2, 1)
	}
}

func TestNoShowsExhaustBracket(t *testing.T) {
	for _, size := range []int{8, 16} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			tour := h.create(t, size, 500)
			players := make([]int, size)
			for i := range players {
				players[i] = i + 1
			}
			h.fill(t, tour.ID, players...)
			playRoundOne(t, h, tour.ID, size)

			rounds := tour.Rounds()
			alive := size / 2
			forfeits := 0
			for r := 2; r <= rounds; r++ {
				require.True(t, h.fake().isArmed(WindowKey{TournamentID: tour.ID, Round: r}), "round %d armed", r)
				got := h.tournament(t, tour.ID)
				require.Equal(t, r, got.CurrentRound)
				require.Equal(t, alive, got.PlayerAmount)

				require.NoError(t, h.engine.Matches.ExpireReadyWindow(ctx, tour.ID, r))
				forfeits += alive
				alive /= 2

				for _, m := range h.round(t, tour.ID, r) {
					assert.Equal(t, models.MatchStatusCompleted, m.Status)
					assert.Equal(t, *m.PlayerOneID, *m.WinnerID, "player one advances on a double no-show")
				}
				if r < rounds {
					// The expiry finished round r, so round r+1 is waiting on a fresh window.
					got = h.tournament(t, tour.ID)
					assert.Equal(t, models.TournamentStatusInProgress, got.Status)
					assert.Equal(t, r+1, got.CurrentRound)
					assert.NotNil(t, got.ReadyDeadline)
					assert.True(t, h.fake().isArmed(WindowKey{TournamentID: tour.ID, Round: r + 1}))
					for _, m := range h.round(t, tour.ID, r+1) {
						assert.Equal(t, models.MatchStatusWaiting, m.Status)
						assert.True(t, m.Ready())
					}
				}
			}

			got := h.tournament(t, tour.ID)
			assert.Equal(t, models.TournamentStatusCompleted, got.Status)
			assert.Zero(t, got.PlayerAmount)
			require.NotNil(t, got.WinnerID)
			assert.Equal(t, 1, *got.WinnerID)
			n, err := h.members.Count(ctx, nil, tour.ID)
			require.NoError(t, err)
			assert.Zero(t, n)

			assert.Equal(t, float64(forfeits), testutil.ToFloat64(h.metrics.Forfeits))
			assert.Equal(t, float64(rounds-1), testutil.ToFloat64(h.metrics.ReadyWindowsExpired))
			assert.Equal(t, float64(size/2), testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomePlayed)))
			assert.Equal(t, float64(size/2-1), testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomeForfeit)))
		})
	}
}

func TestPlayedEightPlayerBracket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tour := h.create(t, 8, 500)
	h.fill(t, tour.ID, 1, 2, 3, 4, 5, 6, 7, 8)
	playRoundOne(t, h, tour.ID, 8)
	require.Equal(t, 4, h.tournament(t, tour.ID).PlayerAmount)

	snap := h.ready(t, tour.ID, 1, 3, 5, 7)
	assert.True(t, snap.Opened)
	for _, m := range h.round(t, tour.ID, 2) {
		assert.Equal(t, models.MatchStatusInProgress, m.Status)
	}
	h.resolve(t, tour.ID, 3, 1, 4, 2)
	h.resolve(t, tour.ID, 5, 7, 4, 0)
	require.Equal(t, 2, h.tournament(t, tour.ID).PlayerAmount)
	require.True(t, h.fake().isArmed(WindowKey{TournamentID: tour.ID, Round: 3}))

	snap = h.ready(t, tour.ID, 3, 5)
	assert.True(t, snap.Opened)
	res := h.resolve(t, tour.ID, 5, 3, 6, 5)
	assert.True(t, res.TournamentCompleted)

	got := h.tournament(t, tour.ID)
	assert.Equal(t, models.TournamentStatusCompleted, got.Status)
	assert.Zero(t, got.PlayerAmount)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, 5, *got.WinnerID)
	assert.Equal(t, 7.0, testutil.ToFloat64(h.metrics.MatchesResolved.WithLabelValues(metrics.OutcomePlayed)))
	assert.Zero(t, testutil.ToFloat64(h.metrics.Forfeits))

	history, err := h.engine.Matches.MatchHistory(ctx, 5, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	h.engine.Wait()
	raw, err := h.store.Get(ArchiveKey(tour.ID))
	require.NoError(t, err)
	var archive BracketArchive
	require.NoError(t, json.Unmarshal(raw, &archive))
	assert.Len(t, archive.Matches, 7)
	assert.Len(t, archive.History, 14)
}
