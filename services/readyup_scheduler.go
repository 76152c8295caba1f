package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/pongarena/tournament-engine/metrics"
)

// WindowKey identifies one ready-up window.
type WindowKey struct {
	TournamentID int
	Round        int
}

func (k WindowKey) Tag() string {
	return fmt.Sprintf("ready-up:%d:%d", k.TournamentID, k.Round)
}

// WindowRegistry maps open windows to their timer job.
type WindowRegistry struct {
	mu   sync.Mutex
	jobs map[WindowKey]uuid.UUID
}

func NewWindowRegistry() *WindowRegistry {
	return &WindowRegistry{jobs: make(map[WindowKey]uuid.UUID)}
}

// Put stores id for key and returns the job it replaced, if any.
func (r *WindowRegistry) Put(key WindowKey, id uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.jobs[key]
	r.jobs[key] = id
	return prev, ok
}

// Take removes key and returns its job id.
func (r *WindowRegistry) Take(key WindowKey) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.jobs[key]
	if ok {
		delete(r.jobs, key)
	}
	return id, ok
}

// TakeIf removes key only while it still maps to id.
func (r *WindowRegistry) TakeIf(key WindowKey, id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[key]; ok && cur == id {
		delete(r.jobs, key)
		return true
	}
	return false
}

func (r *WindowRegistry) Get(key WindowKey) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.jobs[key]
	return id, ok
}

func (r *WindowRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// ExpiryHandler is invoked when a window reaches its deadline.
type ExpiryHandler func(ctx context.Context, tournamentID, round int) error

// ReadyUpScheduler runs one-time gocron jobs at window deadlines.
type ReadyUpScheduler struct {
	sched    gocron.Scheduler
	registry *WindowRegistry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.RWMutex
	handler ExpiryHandler
}

func NewReadyUpScheduler(registry *WindowRegistry, m *metrics.Metrics, logger *slog.Logger) (*ReadyUpScheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if registry == nil {
		registry = NewWindowRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadyUpScheduler{
		sched:    sched,
		registry: registry,
		metrics:  m,
		logger:   logger,
		timeout:  30 * time.Second,
	}, nil
}

// SetExpiryHandler must be called before Start.
func (s *ReadyUpScheduler) SetExpiryHandler(h ExpiryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *ReadyUpScheduler) Start() {
	s.sched.Start()
}

func (s *ReadyUpScheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *ReadyUpScheduler) Registry() *WindowRegistry {
	return s.registry
}

// Schedule arms the timer for key. A deadline in the past fires immediately.
// Scheduling an already armed key replaces its timer.
func (s *ReadyUpScheduler) Schedule(key WindowKey, deadline time.Time) error {
	start := gocron.OneTimeJobStartImmediately()
	if time.Until(deadline) > 0 {
		start = gocron.OneTimeJobStartDateTime(deadline)
	}

	// jobID is only known after NewJob returns; the task waits for it.
	var jobID uuid.UUID
	idReady := make(chan struct{})

	job, err := s.sched.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() {
			<-idReady
			s.fire(key, jobID)
		}),
		gocron.WithName(key.Tag()),
		gocron.WithTags(key.Tag()),
	)
	if err != nil {
		close(idReady)
		return fmt.Errorf("failed to schedule ready-up window %s: %w", key.Tag(), err)
	}

	jobID = job.ID()
	if prev, replaced := s.registry.Put(key, job.ID()); replaced {
		s.removeJob(prev)
	}
	close(idReady)

	s.updatePending()
	s.logger.Debug("ready-up window scheduled",
		slog.Int("tournament_id", key.TournamentID),
		slog.Int("round", key.Round),
		slog.Time("deadline", deadline))
	return nil
}

// Cancel disarms the timer for key. Unknown keys are ignored.
func (s *ReadyUpScheduler) Cancel(key WindowKey) {
	id, ok := s.registry.Take(key)
	if !ok {
		return
	}
	s.removeJob(id)
	s.updatePending()
	s.logger.Debug("ready-up window cancelled",
		slog.Int("tournament_id", key.TournamentID), slog.Int("round", key.Round))
}

func (s *ReadyUpScheduler) removeJob(id uuid.UUID) {
	if err := s.sched.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		s.logger.Warn("failed to remove scheduler job", slog.String("job_id", id.String()), slog.Any("error", err))
	}
}

func (s *ReadyUpScheduler) fire(key WindowKey, id uuid.UUID) {
	if !s.registry.TakeIf(key, id) {
		// Cancelled or replaced after the job was already dispatched.
		return
	}
	s.updatePending()

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		s.logger.Error("ready-up window expired without handler", slog.String("window", key.Tag()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := handler(ctx, key.TournamentID, key.Round); err != nil {
		s.logger.Error("ready-up expiry failed",
			slog.Int("tournament_id", key.TournamentID),
			slog.Int("round", key.Round),
			slog.Any("error", err))
	}
}

func (s *ReadyUpScheduler) updatePending() {
	if s.metrics != nil {
		s.metrics.ReadyWindowsPending.Set(float64(s.registry.Len()))
	}
}
