package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/metrics"
)

// Events pushed to individual users.
const (
	EventReadyUp           = "ready-up"
	EventForfeitWin        = "forfeit-win"
	EventMatchReady        = "match-ready"
	EventTournamentStarted = "tournament-started"
	EventTournamentWon     = "tournament-won"
)

// EventBracketUpdated is broadcast to spectators of a tournament room.
const EventBracketUpdated = "BRACKET_UPDATED"

// Notifier pushes an event to the client of a user, if connected.
type Notifier interface {
	Notify(ctx context.Context, userID int, event string, payload interface{}) error
}

// RoomBroadcaster fans a message out to every client of a room.
type RoomBroadcaster interface {
	BroadcastToRoom(room string, message interface{}) int
}

// WindowScheduler owns the ready-up timers.
type WindowScheduler interface {
	Schedule(key WindowKey, deadline time.Time) error
	Cancel(key WindowKey)
}

// Archiver stores the final state of a completed tournament.
type Archiver interface {
	ArchiveTournament(ctx context.Context, tournamentID int) error
}

type ReadyUpPayload struct {
	TournamentID int       `json:"tournament_id"`
	Round        int       `json:"round"`
	Deadline     time.Time `json:"deadline"`
}

type MatchReadyPayload struct {
	TournamentID int `json:"tournament_id"`
	MatchID      int `json:"match_id"`
	Round        int `json:"round"`
	OpponentID   int `json:"opponent_id"`
}

type ForfeitWinPayload struct {
	TournamentID int `json:"tournament_id"`
	MatchID      int `json:"match_id"`
	Round        int `json:"round"`
	OpponentID   int `json:"opponent_id"`
}

type TournamentEventPayload struct {
	TournamentID int    `json:"tournament_id"`
	Name         string `json:"name,omitempty"`
	WinnerID     *int   `json:"winner_id,omitempty"`
}

type notification struct {
	userID  int
	event   string
	payload interface{}
}

// effects collects side effects inside a transaction. They are applied only
// after a successful commit and dropped on rollback.
type effects struct {
	notifications []notification
	schedule      map[WindowKey]time.Time
	cancel        map[WindowKey]struct{}
	broadcast     map[int]struct{}
	archive       map[int]struct{}
	counters      []func(*metrics.Metrics)
}

func newEffects() *effects {
	return &effects{
		schedule:  make(map[WindowKey]time.Time),
		cancel:    make(map[WindowKey]struct{}),
		broadcast: make(map[int]struct{}),
		archive:   make(map[int]struct{}),
	}
}

func (fx *effects) notify(userID int, event string, payload interface{}) {
	fx.notifications = append(fx.notifications, notification{userID: userID, event: event, payload: payload})
}

func (fx *effects) scheduleWindow(key WindowKey, deadline time.Time) {
	delete(fx.cancel, key)
	fx.schedule[key] = deadline
}

func (fx *effects) cancelWindow(key WindowKey) {
	delete(fx.schedule, key)
	fx.cancel[key] = struct{}{}
}

func (fx *effects) broadcastBracket(tournamentID int) {
	fx.broadcast[tournamentID] = struct{}{}
}

func (fx *effects) archiveTournament(tournamentID int) {
	fx.archive[tournamentID] = struct{}{}
}

func (fx *effects) count(f func(*metrics.Metrics)) {
	fx.counters = append(fx.counters, f)
}

type bracketLoader interface {
	Bracket(ctx context.Context, tournamentID int) (*BracketView, error)
}

// effectDispatcher applies committed effects. Every step is best effort.
type effectDispatcher struct {
	notifier    Notifier
	broadcaster RoomBroadcaster
	scheduler   WindowScheduler
	archiver    Archiver
	brackets    bracketLoader
	metrics     *metrics.Metrics
	logger      *slog.Logger

	archiveTimeout time.Duration
	wg             sync.WaitGroup
}

type DispatcherDeps struct {
	Notifier    Notifier
	Broadcaster RoomBroadcaster
	Scheduler   WindowScheduler
	Archiver    Archiver
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func newEffectDispatcher(deps DispatcherDeps, loader bracketLoader) *effectDispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &effectDispatcher{
		notifier:       deps.Notifier,
		broadcaster:    deps.Broadcaster,
		scheduler:      deps.Scheduler,
		archiver:       deps.Archiver,
		brackets:       loader,
		metrics:        deps.Metrics,
		logger:         logger,
		archiveTimeout: 30 * time.Second,
	}
}

func (d *effectDispatcher) apply(ctx context.Context, fx *effects) {
	if fx == nil {
		return
	}

	if d.metrics != nil {
		for _, f := range fx.counters {
			f(d.metrics)
		}
	}

	if d.scheduler != nil {
		for key := range fx.cancel {
			d.scheduler.Cancel(key)
		}
		for key, deadline := range fx.schedule {
			if err := d.scheduler.Schedule(key, deadline); err != nil {
				d.logger.ErrorContext(ctx, "failed to schedule ready-up window",
					slog.Int("tournament_id", key.TournamentID),
					slog.Int("round", key.Round),
					slog.Any("error", err))
			}
		}
	}

	for _, n := range fx.notifications {
		d.deliver(ctx, n)
	}

	if d.broadcaster != nil && d.brackets != nil {
		for tournamentID := range fx.broadcast {
			view, err := d.brackets.Bracket(ctx, tournamentID)
			if err != nil {
				d.logger.WarnContext(ctx, "failed to load bracket for broadcast",
					slog.Int("tournament_id", tournamentID), slog.Any("error", err))
				continue
			}
			room := brackets.TournamentRoom(tournamentID)
			d.broadcaster.BroadcastToRoom(room, brackets.WebSocketMessage{
				Type:    EventBracketUpdated,
				Payload: view,
				RoomID:  room,
			})
		}
	}

	if d.archiver != nil {
		for tournamentID := range fx.archive {
			d.wg.Add(1)
			go func(id int) {
				defer d.wg.Done()
				actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.archiveTimeout)
				defer cancel()
				if err := d.archiver.ArchiveTournament(actx, id); err != nil {
					d.logger.Error("failed to archive tournament", slog.Int("tournament_id", id), slog.Any("error", err))
				}
			}(tournamentID)
		}
	}
}

func (d *effectDispatcher) deliver(ctx context.Context, n notification) {
	if d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, n.userID, n.event, n.payload)
	if err == nil {
		return
	}
	if d.metrics != nil {
		d.metrics.NotificationFailures.WithLabelValues(n.event).Inc()
	}
	if errors.Is(err, brackets.ErrNotConnected) {
		d.logger.DebugContext(ctx, "notification skipped, user offline",
			slog.Int("user_id", n.userID), slog.String("event", n.event))
		return
	}
	if errors.Is(err, brackets.ErrSendBufferFull) {
		d.logger.WarnContext(ctx, "notification dropped, send buffer full",
			slog.Int("user_id", n.userID), slog.String("event", n.event))
		return
	}
	d.logger.WarnContext(ctx, "notification failed",
		slog.Int("user_id", n.userID), slog.String("event", n.event), slog.Any("error", err))
}

// wait blocks until background archive uploads finish.
func (d *effectDispatcher) wait() {
	d.wg.Wait()
}
