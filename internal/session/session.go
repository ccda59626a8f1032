// Package session owns the lifecycle of the single active generation job:
// submission, fixed-interval polling, terminal resolution and interruption.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
)

// DefaultPollInterval is the fixed delay between status requests.
const DefaultPollInterval = time.Second

// State is the position of the session in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// API is the subset of the backend the session drives.
type API interface {
	StartJob(ctx context.Context, inputText string) (string, error)
	RetrieveJob(ctx context.Context, jobID string) (domain.Job, error)
	InterruptJob(ctx context.Context, jobID string) error
}

// StatusFunc receives every poll tick, including repeated identical ones.
type StatusFunc func(domain.StatusUpdate)

// Options configures a Session.
type Options struct {
	PollInterval time.Duration
	OnStatus     StatusFunc
	Logger       *infra.Logger
	Now          func() time.Time
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State      State
	JobID      string
	LastUpdate domain.StatusUpdate
	// Outcome is the terminal state of the most recent finished job.
	Outcome State
}

// Session tracks at most one in-flight job. It is safe for concurrent use;
// a second Submit while a job is live fails with domain.ErrSessionBusy.
type Session struct {
	api      API
	interval time.Duration
	onStatus StatusFunc
	logger   *infra.Logger
	now      func() time.Time

	mu      sync.Mutex
	state   State
	jobID   string
	abandon chan struct{}
	last    domain.StatusUpdate
	outcome State
}

// New constructs an idle session.
func New(api API, opts Options) *Session {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		api:      api,
		interval: interval,
		onStatus: opts.OnStatus,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		now:      now,
		state:    StateIdle,
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, JobID: s.jobID, LastUpdate: s.last, Outcome: s.outcome}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.Snapshot().State
}

// JobID returns the active job id, or "" when idle.
func (s *Session) JobID() string {
	return s.Snapshot().JobID
}

// LastUpdate returns the most recent status seen by the poll loop.
func (s *Session) LastUpdate() domain.StatusUpdate {
	return s.Snapshot().LastUpdate
}

// Run submits inputText and waits for the job to reach a terminal state.
func (s *Session) Run(ctx context.Context, inputText string) (domain.Job, error) {
	if _, err := s.Submit(ctx, inputText); err != nil {
		return domain.Job{}, err
	}
	return s.Wait(ctx)
}

// Submit validates inputText, starts a remote job and moves the session to
// polling. Empty input is rejected before any request is made.
func (s *Session) Submit(ctx context.Context, inputText string) (string, error) {
	text := norm.NFC.String(inputText)
	if len(text) < 1 {
		return "", domain.ErrValidation
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return "", domain.ErrSessionBusy
	}
	s.state = StateSubmitting
	s.last = domain.StatusUpdate{}
	s.mu.Unlock()

	jobID, err := s.api.StartJob(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		s.outcome = StateFailed
		s.logger.Error().Err(err).Msg("session: start job failed")
		return "", err
	}
	s.state = StatePolling
	s.jobID = jobID
	s.abandon = make(chan struct{})
	s.logger.Info().Str("job_id", jobID).Int("characters", len([]rune(text))).Msg("session: job started")
	return jobID, nil
}

// Wait polls the active job once immediately and then waits the poll
// interval after each response, until the job completes, fails or is
// cancelled. The final job is returned exactly once and the active context
// is always cleared on return.
func (s *Session) Wait(ctx context.Context) (domain.Job, error) {
	s.mu.Lock()
	if s.state != StatePolling {
		s.mu.Unlock()
		return domain.Job{}, domain.ErrNoActiveJob
	}
	jobID, abandon := s.jobID, s.abandon
	s.mu.Unlock()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		if !s.active(jobID) {
			return abandoned(jobID)
		}

		job, err := s.api.RetrieveJob(ctx, jobID)
		if !s.active(jobID) {
			// An unacknowledged interrupt dropped the job while the request
			// was in flight; its answer no longer counts.
			return abandoned(jobID)
		}
		if err != nil {
			if ctx.Err() != nil {
				s.finish(jobID, StateCancelled)
				return domain.Job{ID: jobID}, ctx.Err()
			}
			s.finish(jobID, StateFailed)
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("session: poll failed")
			return domain.Job{ID: jobID}, err
		}
		s.publish(jobID, job)

		switch job.Status {
		case domain.JobStatusWaiting, domain.JobStatusRunning:
		case domain.JobStatusCompleted:
			if job.Result == nil {
				s.finish(jobID, StateFailed)
				return job, fmt.Errorf("%w: completed job %s has no result", domain.ErrProtocol, jobID)
			}
			s.finish(jobID, StateCompleted)
			s.logger.Info().Str("job_id", jobID).Int("words", len(job.Result)).Msg("session: job completed")
			return job, nil
		case domain.JobStatusFailed:
			s.finish(jobID, StateFailed)
			s.logger.Warn().Str("job_id", jobID).Str("error_message", job.ErrorMessage).Msg("session: job failed")
			return job, fmt.Errorf("%w: %s", domain.ErrJobFailed, job.ErrorMessage)
		case domain.JobStatusCancelled:
			s.finish(jobID, StateCancelled)
			s.logger.Info().Str("job_id", jobID).Msg("session: job cancelled")
			return job, domain.ErrJobCancelled
		default:
			s.finish(jobID, StateFailed)
			return job, fmt.Errorf("%w: unknown job status %q", domain.ErrProtocol, job.Status)
		}

		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			s.finish(jobID, StateCancelled)
			return domain.Job{ID: jobID}, ctx.Err()
		case <-abandon:
			return abandoned(jobID)
		case <-timer.C:
		}
	}
}

func abandoned(jobID string) (domain.Job, error) {
	return domain.Job{ID: jobID, Status: domain.JobStatusCancelled}, fmt.Errorf("%w: interrupt was not acknowledged", domain.ErrJobCancelled)
}

// active reports whether jobID is still the session's live job.
func (s *Session) active(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePolling && s.jobID == jobID
}

// Interrupt asks the backend to cancel the active job. The poll loop exits
// once it observes the cancelled status, so latency is bounded by the poll
// interval. When the request itself fails the context is cleared anyway and
// the loop stops waiting for the job.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	jobID := s.jobID
	active := s.state == StatePolling && jobID != ""
	s.mu.Unlock()
	if !active {
		return domain.ErrNoActiveJob
	}

	s.logger.Info().Str("job_id", jobID).Msg("session: interrupting job")
	if err := s.api.InterruptJob(ctx, jobID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("session: interrupt failed, dropping job")
		s.mu.Lock()
		if s.jobID == jobID {
			close(s.abandon)
			s.clearLocked(StateCancelled)
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrInterrupt, err)
	}
	return nil
}

func (s *Session) finish(jobID string, outcome State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobID != jobID {
		return
	}
	s.clearLocked(outcome)
}

func (s *Session) clearLocked(outcome State) {
	s.state = StateIdle
	s.jobID = ""
	s.abandon = nil
	s.outcome = outcome
}

func (s *Session) publish(jobID string, job domain.Job) {
	update := domain.StatusUpdate{
		JobID:        jobID,
		Status:       job.Status,
		PlaceInQueue: job.PlaceInQueue,
		Message:      job.Message,
		SeenAt:       s.now(),
	}
	if job.Status == domain.JobStatusFailed {
		update.Message = job.ErrorMessage
	}
	s.mu.Lock()
	if s.jobID != jobID {
		s.mu.Unlock()
		return
	}
	s.last = update
	s.mu.Unlock()

	if s.onStatus == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("session: status callback panicked")
		}
	}()
	s.onStatus(update)
}
