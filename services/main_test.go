package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/pongarena/tournament-engine/brackets"
	"github.com/pongarena/tournament-engine/db"
	"github.com/pongarena/tournament-engine/metrics"
	"github.com/pongarena/tournament-engine/models"
	"github.com/pongarena/tournament-engine/repositories"
	"github.com/pongarena/tournament-engine/storage"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		container, connStr, err := startPostgres(ctx)
		if err != nil {
			log.Printf("postgres unavailable, database tests will be skipped: %v", err)
			return m.Run()
		}
		defer func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				log.Printf("failed to terminate postgres container: %v", err)
			}
		}()
		dsn = connStr
	}

	conn, err := db.Connect(dsn, 10*time.Second)
	if err != nil {
		log.Printf("failed to connect to test database: %v", err)
		return 1
	}
	defer conn.Close()
	if err := db.CreateSchema(ctx, conn); err != nil {
		log.Printf("failed to create schema: %v", err)
		return 1
	}
	testDB = conn
	return m.Run()
}

func startPostgres(ctx context.Context) (container *postgres.PostgresContainer, connStr string, err error) {
	// Without a docker daemon some provider lookups panic instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("testcontainers: %v", r)
		}
	}()

	container, err = postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tournaments"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		if container != nil {
			_ = testcontainers.TerminateContainer(container)
		}
		return nil, "", err
	}
	connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, "", err
	}
	return container, connStr, nil
}

type sentNotification struct {
	UserID  int
	Event   string
	Payload interface{}
}

// recordingNotifier pretends every user is online unless listed in offline.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentNotification
	offline map[int]bool
}

func (n *recordingNotifier) Notify(_ context.Context, userID int, event string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline[userID] {
		return brackets.ErrNotConnected
	}
	n.sent = append(n.sent, sentNotification{UserID: userID, Event: event, Payload: payload})
	return nil
}

func (n *recordingNotifier) events(userID int) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Event)
		}
	}
	return out
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Event == event {
			c++
		}
	}
	return c
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	rooms map[string]int
}

func (b *recordingBroadcaster) BroadcastToRoom(room string, _ interface{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms == nil {
		b.rooms = make(map[string]int)
	}
	b.rooms[room]++
	return 1
}

func (b *recordingBroadcaster) sentTo(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[room]
}

// fakeScheduler keeps armed windows in memory without firing them.
type fakeScheduler struct {
	mu        sync.Mutex
	armed     map[WindowKey]time.Time
	cancelled []WindowKey
}

func (s *fakeScheduler) Schedule(key WindowKey, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		s.armed = make(map[WindowKey]time.Time)
	}
	s.armed[key] = deadline
	return nil
}

func (s *fakeScheduler) Cancel(key WindowKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, key)
	s.cancelled = append(s.cancelled, key)
}

func (s *fakeScheduler) isArmed(key WindowKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[key]
	return ok
}

// scriptedOrder replaces the roster with a fixed seating.
type scriptedOrder []int

func (s scriptedOrder) Shuffle(ids []int) { copy(ids, s) }

type harness struct {
	engine      *Engine
	tournaments repositories.TournamentRepository
	members     repositories.MembershipRepository
	matches     repositories.MatchRepository
	records     repositories.MatchRecordRepository
	notifier    *recordingNotifier
	broadcaster *recordingBroadcaster
	scheduler   WindowScheduler
	store       *storage.MemoryStore
	metrics     *metrics.Metrics
}

type harnessOption func(*Deps)

func withShuffler(s brackets.Shuffler) harnessOption {
	return func(d *Deps) { d.Generator = brackets.NewSingleEliminationGenerator(s, d.Logger) }
}

func withScheduler(s WindowScheduler) harnessOption {
	return func(d *Deps) { d.Scheduler = s }
}

func withReadyUpWindow(w time.Duration) harnessOption {
	return func(d *Deps) { d.ReadyUpWindow = w }
}

// newHarness wipes the database and wires an engine with recording
// collaborators. Roster order is kept unless a shuffler is supplied.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	if testDB == nil {
		t.Skip("no test database; set TEST_DATABASE_URL or run with docker available")
	}
	require.NoError(t, db.Truncate(context.Background(), testDB))

	logger := slog.New(slog.DiscardHandler)
	h := &harness{
		tournaments: repositories.NewPostgresTournamentRepository(testDB),
		members:     repositories.NewPostgresMembershipRepository(testDB),
		matches:     repositories.NewPostgresMatchRepository(testDB),
		records:     repositories.NewPostgresMatchRecordRepository(testDB),
		notifier:    &recordingNotifier{},
		broadcaster: &recordingBroadcaster{},
		store:       storage.NewMemoryStore("https://cdn.example.com"),
		metrics:     metrics.New(),
	}

	deps := Deps{
		DB:           testDB,
		Tournaments:  h.tournaments,
		Memberships:  h.members,
		Matches:      h.matches,
		MatchRecords: h.records,
		Generator:    brackets.NewSingleEliminationGenerator(brackets.FixedOrder{}, logger),
		Notifier:     h.notifier,
		Broadcaster:  h.broadcaster,
		Scheduler:    &fakeScheduler{},
		Metrics:      h.metrics,
		Logger:       logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	deps.Archiver = NewBracketArchiver(h.store, h.tournaments, h.matches, h.records, logger)
	h.scheduler = deps.Scheduler
	h.engine = NewEngine(deps)
	t.Cleanup(h.engine.Wait)
	return h
}

func (h *harness) fake() *fakeScheduler {
	return h.scheduler.(*fakeScheduler)
}

func (h *harness) create(t *testing.T, size, creatorID int) *models.Tournament {
	t.Helper()
	tour, err := h.engine.Tournaments.Create(context.Background(), CreateTournamentInput{Name: "cup", Size: size, CreatorID: creatorID})
	require.NoError(t, err)
	return tour
}

// fill joins users one by one, in order.
func (h *harness) fill(t *testing.T, tournamentID int, users ...int) {
	t.Helper()
	for _, u := range users {
		_, err := h.engine.Memberships.Join(context.Background(), tournamentID, u)
		require.NoError(t, err, "join user %d", u)
	}
}

func (h *harness) tournament(t *testing.T, id int) *models.Tournament {
	t.Helper()
	tour, err := h.tournaments.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return tour
}

func (h *harness) round(t *testing.T, tournamentID, round int) []models.Match {
	t.Helper()
	ms, err := h.matches.ListByRound(context.Background(), nil, tournamentID, round)
	require.NoError(t, err)
	return ms
}

func (h *harness) resolve(t *testing.T, tournamentID, winner, loser, ws, ls int) *ResolveResult {
	t.Helper()
	res, err := h.engine.Matches.Resolve(context.Background(), tournamentID, ResultInput{
		WinnerID: winner, LoserID: loser, WinnerScore: ws, LoserScore: ls,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) ready(t *testing.T, tournamentID int, users ...int) *ReadinessSnapshot {
	t.Helper()
	var snap *ReadinessSnapshot
	for _, u := range users {
		var err error
		snap, err = h.engine.Memberships.MarkReady(context.Background(), tournamentID, u)
		require.NoError(t, err, "ready user %d", u)
	}
	return snap
}

func (h *harness) memberState(t *testing.T, tournamentID, userID int) (*models.Membership, bool) {
	t.Helper()
	m, err := h.members.Get(context.Background(), nil, tournamentID, userID)
	if err != nil {
		require.ErrorIs(t, err, repositories.ErrMembershipNotFound)
		return nil, false
	}
	return m, true
}
