package services

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/repositories"
)

const DefaultReadyUpWindow = 60 * time.Second

type Deps struct {
	DB           *sql.DB
	Tournaments  repositories.TournamentRepository
	Memberships  repositories.MembershipRepository
	Matches      repositories.MatchRepository
	MatchRecords repositories.MatchRecordRepository
	Generator    brackets.BracketGenerator

	Notifier    Notifier
	Broadcaster RoomBroadcaster
	Scheduler   WindowScheduler
	Archiver    Archiver
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	ReadyUpWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine wires the services that share one transaction discipline and one
// post-commit dispatcher.
type Engine struct {
	Tournaments TournamentService
	Memberships MembershipService
	Matches     MatchService
	Brackets    BracketService

	dispatcher *effectDispatcher
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := deps.ReadyUpWindow
	if window <= 0 {
		window = DefaultReadyUpWindow
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	generator := deps.Generator
	if generator == nil {
		generator = brackets.NewSingleEliminationGenerator(nil, logger)
	}

	bracketSvc := NewBracketService(generator, deps.Tournaments, deps.Matches, logger)
	dispatcher := newEffectDispatcher(DispatcherDeps{
		Notifier:    deps.Notifier,
		Broadcaster: deps.Broadcaster,
		Scheduler:   deps.Scheduler,
		Archiver:    deps.Archiver,
		Metrics:     deps.Metrics,
		Logger:      logger,
	}, bracketSvc)

	gate := &readyGate{
		tournaments: deps.Tournaments,
		members:     deps.Memberships,
		matches:     deps.Matches,
		window:      window,
		now:         now,
	}

	return &Engine{
		Brackets: bracketSvc,
		Tournaments: &tournamentService{
			db:          deps.DB,
			tournaments: deps.Tournaments,
			members:     deps.Memberships,
			brackets:    bracketSvc,
			dispatcher:  dispatcher,
			scheduler:   deps.Scheduler,
			logger:      logger,
		},
		Memberships: &membershipService{
			db:          deps.DB,
			tournaments: deps.Tournaments,
			members:     deps.Memberships,
			brackets:    bracketSvc,
			gate:        gate,
			dispatcher:  dispatcher,
			logger:      logger,
		},
		Matches: &matchService{
			db:          deps.DB,
			tournaments: deps.Tournaments,
			members:     deps.Memberships,
			matches:     deps.Matches,
			records:     deps.MatchRecords,
			gate:        gate,
			dispatcher:  dispatcher,
			metrics:     deps.Metrics,
			logger:      logger,
		},
		dispatcher: dispatcher,
	}
}

// Wait blocks until background side effects, such as archive uploads, finish.
func (e *Engine) Wait() {
	e.dispatcher.wait()
}
